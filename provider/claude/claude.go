package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/provider"
)

// Config holds Claude provider configuration
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:    apiKey,
		BaseURL:   baseURL,
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 1024,
	}
}

// Client implements provider.Client for Claude
type Client struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude client using the official SDK
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig("", "")
	}
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Complete implements provider.Client
func (c *Client) Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}

	conversation := make([]anthropic.MessageParam, 0, len(req.History)+1)
	var systemParts []string
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}
	for _, msg := range req.History {
		switch msg.Role {
		case message.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case message.RoleUser:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			conversation = append(conversation,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)))

	maxTokens := c.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		Messages:  conversation,
		MaxTokens: maxTokens,
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemParts, "\n")},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	apiMessage, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var text strings.Builder
	for _, content := range apiMessage.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	out := &provider.Completion{
		Text:  text.String(),
		Model: string(apiMessage.Model),
	}
	if apiMessage.Usage.InputTokens > 0 || apiMessage.Usage.OutputTokens > 0 {
		out.Usage = &provider.Usage{
			PromptTokens:     int(apiMessage.Usage.InputTokens),
			CompletionTokens: int(apiMessage.Usage.OutputTokens),
		}
	}
	return out, nil
}
