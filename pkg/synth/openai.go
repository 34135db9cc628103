package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"seo-optimizer/pkg/logger"
)

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
	System      string  `mapstructure:"system_prompt"`
}

// OpenAIGenerator is a Generator backed by the chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *logger.Logger
}

func NewOpenAIGenerator(cfg OpenAIConfig, log *logger.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.System == "" {
		cfg.System = "You are an SEO copywriter for a marketing website."
	}
	if log == nil {
		log = logger.GetLogger()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	log.WithField("model", cfg.Model).Info("Initializing OpenAI generator")
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		log:    log.Component("openai"),
	}, nil
}

// Generate sends one chat completion. Request values override the
// configured defaults when set.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.cfg.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxCompletionTokens: g.cfg.MaxTokens,
		Temperature:         g.cfg.Temperature,
	}
	if req.MaxTokens > 0 {
		chat.MaxCompletionTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chat.Temperature = req.Temperature
	}

	resp, err := g.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	g.log.WithFields(map[string]interface{}{
		"finish_reason": string(resp.Choices[0].FinishReason),
		"tokens":        resp.Usage.TotalTokens,
	}).Debug("Received completion")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
