package llm

// File: internal/llm/provider.go
// Purpose: Build the registry from configuration using eino's OpenAI-compatible chat model.

import (
	"context"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"perf-api-go/internal/config"
)

// Default endpoints for providers that speak the OpenAI wire format.
const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	GoogleBaseURL   = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

const probeTimeout = 20 * time.Second

// ModelFactory constructs a chat model; tests replace it to avoid network access.
type ModelFactory func(ctx context.Context, cfg *openai.ChatModelConfig) (ChatModel, error)

// OpenAIFactory is the production ModelFactory.
func OpenAIFactory(ctx context.Context, cfg *openai.ChatModelConfig) (ChatModel, error) {
	return openai.NewChatModel(ctx, cfg)
}

// ProviderConfig returns the chat model config for name and whether its credentials are present.
func ProviderConfig(cfg *config.Config, name string) (*openai.ChatModelConfig, bool) {
	temp := float32(cfg.LLMTemperature)
	mc := &openai.ChatModelConfig{
		Temperature: &temp,
		Timeout:     cfg.LLMRequestTimeout,
	}
	switch name {
	case "openai":
		mc.APIKey = cfg.OpenAIAPIKey
		mc.Model = cfg.OpenAIModel
		mc.BaseURL = OpenAIBaseURL
		if cfg.OpenAIBaseURL != "" {
			mc.BaseURL = cfg.OpenAIBaseURL
		}
	case "google", "gemini":
		mc.APIKey = cfg.GoogleKey()
		mc.Model = cfg.GoogleModel
		mc.BaseURL = GoogleBaseURL
	case "deepseek":
		mc.APIKey = cfg.DeepSeekAPIKey
		mc.Model = cfg.DeepSeekModel
		mc.BaseURL = DeepSeekBaseURL
	case "azure":
		mc.APIKey = cfg.AzureAPIKey
		mc.Model = cfg.AzureDeployment
		mc.BaseURL = cfg.AzureEndpoint
		mc.ByAzure = true
		mc.APIVersion = cfg.AzureAPIVersion
		if cfg.AzureEndpoint == "" {
			return mc, false
		}
	default:
		return nil, false
	}
	return mc, mc.APIKey != ""
}

// NewRegistryFromConfig builds the registry in AI_MODEL_PRIORITY order. Providers
// without credentials, with unknown names, or whose client cannot be built are
// skipped. With LLM_STARTUP_PROBE set, a provider must also answer a tiny prompt.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config, factory ModelFactory, log *zap.Logger) *Registry {
	if factory == nil {
		factory = OpenAIFactory
	}
	if log == nil {
		log = zap.NewNop()
	}
	var providers []Provider
	for _, name := range cfg.ProviderPriority() {
		mc, ok := ProviderConfig(cfg, name)
		if mc == nil {
			log.Warn("unknown llm provider in priority list", zap.String("provider", name))
			continue
		}
		if !ok {
			log.Info("llm provider not configured", zap.String("provider", name))
			continue
		}
		chat, err := factory(ctx, mc)
		if err != nil {
			log.Warn("llm provider client init failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		if cfg.LLMStartupProbe {
			if err := probe(ctx, chat); err != nil {
				log.Warn("llm provider probe failed", zap.String("provider", name), zap.Error(err))
				continue
			}
		}
		providers = append(providers, Provider{Name: name, Model: mc.Model, Chat: chat})
		log.Info("llm provider registered", zap.String("provider", name), zap.String("model", mc.Model))
	}
	reg := NewRegistry(providers...)
	if reg.Len() == 0 {
		log.Warn("no llm providers available; analysis runs in degraded mode")
	}
	return reg
}

func probe(ctx context.Context, chat ChatModel) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := chat.Generate(ctx, []*schema.Message{schema.UserMessage("Reply with OK.")})
	return err
}
