// Package config loads environment-based settings for perf-api.
package config

// File: internal/config/config.go
// Purpose: Centralized configuration parsing and derived helpers (DSN, Rabbit URL, provider order).

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/subosito/gotenv"
)

// DefaultProviderPriority is used when AI_MODEL_PRIORITY is unset.
var DefaultProviderPriority = []string{"openai", "google"}

// Config stores parsed environment configuration for perf-api.
type Config struct {
	Port int `env:"PERF_API_PORT,default=8000"`

	MySQLHost     string `env:"MYSQL_HOST,default=mysql"`
	MySQLPort     string `env:"MYSQL_PORT,default=3306"`
	MySQLUser     string `env:"MYSQL_USER,default=perf"`
	MySQLPassword string `env:"MYSQL_PASSWORD,default=perfpass"`
	MySQLDB       string `env:"MYSQL_DB,default=perf_tests"`

	EventsEnabled bool   `env:"EVENTS_ENABLED,default=false"`
	RabbitHost    string `env:"RABBITMQ_HOST,default=rabbitmq"`
	RabbitPort    string `env:"RABBITMQ_PORT,default=5672"`
	RabbitUser    string `env:"RABBITMQ_USER,default=perf"`
	RabbitPass    string `env:"RABBITMQ_PASS,default=perfpass"`
	ExchangeName  string `env:"PERF_EXCHANGE,default=perf.events"`

	JMeterHome   string        `env:"JMETER_HOME"`
	TemplatesDir string        `env:"TEMPLATES_DIR,default=templates"`
	ResultsDir   string        `env:"RESULTS_DIR,default=results"`
	UploadsDir   string        `env:"UPLOADS_DIR,default=uploads"`
	ToolTimeout  time.Duration `env:"TOOL_TIMEOUT,default=300s"`
	ToolGrace    time.Duration `env:"TOOL_GRACE,default=5s"`
	RMIPort      int           `env:"RMI_PORT,default=50000"`

	// Comma separated; envdecode splits slices on ';' so this stays a string.
	AIModelPriority string `env:"AI_MODEL_PRIORITY"`

	OpenAIAPIKey    string  `env:"OPENAI_API_KEY"`
	OpenAIModel     string  `env:"OPENAI_MODEL,default=gpt-3.5-turbo"`
	OpenAIBaseURL   string  `env:"OPENAI_BASE_URL"`
	GoogleAPIKey    string  `env:"GOOGLE_API_KEY"`
	GeminiAPIKey    string  `env:"GEMINI_API_KEY"`
	GoogleModel     string  `env:"GOOGLE_MODEL,default=gemini-pro"`
	DeepSeekAPIKey  string  `env:"DEEPSEEK_API_KEY"`
	DeepSeekModel   string  `env:"DEEPSEEK_MODEL,default=deepseek-chat"`
	AzureAPIKey     string  `env:"AZURE_OPENAI_API_KEY"`
	AzureEndpoint   string  `env:"AZURE_OPENAI_ENDPOINT"`
	AzureDeployment string  `env:"AZURE_OPENAI_DEPLOYMENT,default=gpt-35-turbo"`
	AzureAPIVersion string  `env:"AZURE_OPENAI_API_VERSION,default=2024-06-01"`
	LLMTemperature  float64 `env:"LLM_TEMPERATURE,default=0.2"`
	LLMStartupProbe bool    `env:"LLM_STARTUP_PROBE,default=false"`

	LLMRequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT,default=120s"`

	AnalysisTimeout       time.Duration `env:"ANALYSIS_TIMEOUT,default=10m"`
	AnalysisSweepInterval time.Duration `env:"ANALYSIS_SWEEP_INTERVAL,default=5m"`
	AnalysisSweepGrace    time.Duration `env:"ANALYSIS_SWEEP_GRACE,default=15m"`

	LogLevel      string `env:"LOG_LEVEL,default=info"`
	LogFormat     string `env:"LOG_FORMAT,default=console"`
	LogOutput     string `env:"LOG_OUTPUT,default=stdout"`
	LogFile       string `env:"LOG_FILE,default=logs/perf-api.log"`
	LogMaxSize    int    `env:"LOG_MAX_SIZE,default=100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS,default=5"`
	LogMaxAge     int    `env:"LOG_MAX_AGE,default=30"`
}

// Load reads .env files if present, decodes the environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// Missing .env files are normal outside local development.
	_ = gotenv.Load(envFiles...)

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PERF_API_PORT: %d", c.Port)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("invalid TOOL_TIMEOUT: %s", c.ToolTimeout)
	}
	if c.ToolGrace < 0 {
		return fmt.Errorf("invalid TOOL_GRACE: %s", c.ToolGrace)
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("invalid ANALYSIS_TIMEOUT: %s", c.AnalysisTimeout)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("invalid LLM_TEMPERATURE: %v", c.LLMTemperature)
	}
	return nil
}

// DSN returns a MySQL DSN string based on the config.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&multiStatements=true", c.MySQLUser, c.MySQLPassword, c.MySQLHost, c.MySQLPort, c.MySQLDB)
}

// RabbitURL returns the AMQP URL used by the publisher.
func (c *Config) RabbitURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RabbitUser, c.RabbitPass, c.RabbitHost, c.RabbitPort)
}

// ProviderPriority returns the ordered, de-duplicated provider names.
func (c *Config) ProviderPriority() []string {
	if strings.TrimSpace(c.AIModelPriority) == "" {
		return append([]string(nil), DefaultProviderPriority...)
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(c.AIModelPriority, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// GoogleKey returns GOOGLE_API_KEY, falling back to GEMINI_API_KEY.
func (c *Config) GoogleKey() string {
	if c.GoogleAPIKey != "" {
		return c.GoogleAPIKey
	}
	return c.GeminiAPIKey
}
