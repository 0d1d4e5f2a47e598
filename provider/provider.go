package provider

import (
	"context"

	"github.com/lumenlms/tutorkit/message"
)

// Request bundles inputs for a completion call.
type Request struct {
	// Message is the learner's (mention-stripped) input for this turn.
	Message string
	// System carries the agent persona plus the behavioral contract.
	System string
	// History holds prior conversation turns, oldest first.
	History []*message.Message
	// Temperature is the agent's configured sampling temperature.
	Temperature float64
	// MaxTokens bounds the reply length; zero means backend default.
	MaxTokens int64
}

// Usage reports token accounting for a completion when the backend exposes it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion is the generated reply plus model metadata.
type Completion struct {
	Text  string
	Model string
	Usage *Usage
}

// Client is the completion capability consumed by the orchestration engine.
// Implementations wrap one external LLM service each.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
}
