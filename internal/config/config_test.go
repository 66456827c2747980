package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 300*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 50000, cfg.RMIPort)
	assert.Equal(t, "gpt-3.5-turbo", cfg.OpenAIModel)
	assert.Equal(t, "gemini-pro", cfg.GoogleModel)
	assert.Equal(t, []string{"openai", "google"}, cfg.ProviderPriority())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PERF_API_PORT", "9100")
	t.Setenv("TOOL_TIMEOUT", "2s")
	t.Setenv("AI_MODEL_PRIORITY", " Google, openai ,google,, deepseek")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.ToolTimeout)
	assert.Equal(t, []string{"google", "openai", "deepseek"}, cfg.ProviderPriority())
	assert.Equal(t, "g-key", cfg.GoogleKey())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("PERF_API_PORT", "0")
	_, err := Load(noEnvFile(t))
	assert.Error(t, err)
}

func TestDSNAndRabbitURL(t *testing.T) {
	cfg := &Config{
		MySQLUser: "u", MySQLPassword: "p", MySQLHost: "h", MySQLPort: "3306", MySQLDB: "d",
		RabbitUser: "ru", RabbitPass: "rp", RabbitHost: "rh", RabbitPort: "5672",
	}
	assert.Equal(t, "u:p@tcp(h:3306)/d?parseTime=true&loc=UTC&multiStatements=true", cfg.DSN())
	assert.Equal(t, "amqp://ru:rp@rh:5672/", cfg.RabbitURL())
}
