package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/provider"
)

// Config holds OpenAI provider configuration
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Model: "gpt-4o-mini",
	}
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithModel set model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// Client implements provider.Client for OpenAI
type Client struct {
	config *Config
	client openai.Client
}

// New creates a new OpenAI client using the official SDK
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Complete implements provider.Client
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, msg := range req.History {
		switch msg.Role {
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(msg.Content))
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(msg.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(req.Message))

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(c.config.Model),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(req.MaxTokens)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	out := &provider.Completion{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
	}
	if completion.Usage.TotalTokens > 0 {
		out.Usage = &provider.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
		}
	}
	return out, nil
}
