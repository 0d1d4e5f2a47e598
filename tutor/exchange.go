package tutor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumenlms/tutorkit/activity"
	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/pkg/telemetry"
	"github.com/lumenlms/tutorkit/prompt"
	"github.com/lumenlms/tutorkit/provider"
	"github.com/lumenlms/tutorkit/registry"
	"github.com/lumenlms/tutorkit/session"
)

// exchange is the shared single-agent primitive behind the manual, router,
// and random modes: persist the user's message, replay recent context,
// invoke the agent, and persist the reply with full provenance.
func (e *Engine) exchange(ctx context.Context, sess *session.Session, ag *registry.Agent, text string, info *message.RoutingInfo) (result *SendResult, err error) {
	ctx, span := e.tracer.Start(ctx, "tutor.exchange",
		trace.WithAttributes(attribute.String("tutor.agent", ag.Name)))
	defer func() { telemetry.End(span, err) }()

	conv, err := e.sessions.Conversation(ctx, sess.ID, ag.ID)
	if err != nil {
		return nil, err
	}
	history, err := e.sessions.Recent(ctx, conv.ID, e.historyLimit)
	if err != nil {
		return nil, err
	}

	userMsg := message.New(message.RoleUser, text)
	userMsg.ConversationID = conv.ID
	if err := e.sessions.Append(ctx, conv.ID, userMsg); err != nil {
		return nil, err
	}

	system := prompt.BuildSystem(ag, e.replyBudget)

	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := e.client.Complete(callCtx, &provider.Request{
		Message:     text,
		System:      system,
		History:     history,
		Temperature: ag.Temperature,
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		// The one failure that is not absorbed: without a reply there is
		// nothing useful to return.
		e.logger.Error("completion failed",
			"user", sess.UserID, "agent", ag.Name, "error", err)
		e.record(&activity.Event{
			Type:           "completion_failed",
			UserID:         sess.UserID,
			SessionID:      sess.ID,
			ConversationID: conv.ID,
			AgentID:        ag.ID,
			Mode:           string(sess.Mode),
			LatencyMS:      latency,
			Detail:         map[string]any{"error": err.Error()},
		})
		return nil, fmt.Errorf("agent %s could not reply: %v: %w", ag.Name, err, tutorerrors.ErrUpstream)
	}

	assistant := message.New(message.RoleAssistant, completion.Text)
	assistant.ConversationID = conv.ID
	assistant.Provenance = &message.Provenance{
		Model:       completion.Model,
		LatencyMS:   latency,
		Temperature: ag.Temperature,
		Routing:     info,
	}
	e.fillUsage(assistant.Provenance, completion, system, text, history)

	if err := e.sessions.Append(ctx, conv.ID, assistant); err != nil {
		return nil, err
	}

	return &SendResult{
		Session:          sess,
		UserMessage:      userMsg,
		AssistantMessage: assistant,
		Routing:          info,
	}, nil
}

// fillUsage copies backend-reported token usage, or estimates it with the
// configured counter so provenance always carries token counts.
func (e *Engine) fillUsage(prov *message.Provenance, completion *provider.Completion, system, text string, history []*message.Message) {
	if completion.Usage != nil {
		prov.PromptTokens = completion.Usage.PromptTokens
		prov.CompletionTokens = completion.Usage.CompletionTokens
		return
	}
	if e.counter == nil {
		return
	}
	promptTokens := e.counter.Count(system) + e.counter.Count(text)
	for _, msg := range history {
		promptTokens += e.counter.Count(msg.Content)
	}
	prov.PromptTokens = promptTokens
	prov.CompletionTokens = e.counter.Count(completion.Text)
}
