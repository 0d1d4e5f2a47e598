package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumenlms/tutorkit/activity"
	"github.com/lumenlms/tutorkit/collab"
	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/pkg/logging"
	"github.com/lumenlms/tutorkit/pkg/telemetry"
	"github.com/lumenlms/tutorkit/pkg/tokens"
	"github.com/lumenlms/tutorkit/prompt"
	"github.com/lumenlms/tutorkit/provider"
	"github.com/lumenlms/tutorkit/registry"
	"github.com/lumenlms/tutorkit/routing"
	"github.com/lumenlms/tutorkit/session"
)

const (
	// DefaultHistoryLimit is how many prior messages feed multi-turn context.
	DefaultHistoryLimit = 10
	// DefaultCallTimeout bounds a single completion call.
	DefaultCallTimeout = 45 * time.Second
)

// Engine is the top-level entry point for tutor interactions. It loads the
// session, dispatches on the session's mode, and uniformly wraps the result.
type Engine struct {
	sessions *session.Manager
	agents   *registry.Registry
	client   provider.Client
	router   routing.Strategy
	collab   *collab.Orchestrator
	recorder *activity.Recorder
	counter  *tokens.Counter
	logger   *slog.Logger
	tracer   trace.Tracer

	historyLimit int
	replyBudget  int
	callTimeout  time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithRouter overrides the routing strategy (e.g. an AI strategy wrapped in
// a keyword fallback).
func WithRouter(r routing.Strategy) Option {
	return func(e *Engine) {
		if r != nil {
			e.router = r
		}
	}
}

// WithCollaborator overrides the collaboration orchestrator.
func WithCollaborator(o *collab.Orchestrator) Option {
	return func(e *Engine) {
		if o != nil {
			e.collab = o
		}
	}
}

// WithRecorder attaches a fire-and-forget activity recorder.
func WithRecorder(r *activity.Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithTokenCounter enables token estimation when a backend reports no usage.
func WithTokenCounter(c *tokens.Counter) Option {
	return func(e *Engine) {
		e.counter = c
	}
}

// WithHistoryLimit overrides the multi-turn context window.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// WithReplyBudget overrides the response-length budget.
func WithReplyBudget(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.replyBudget = n
		}
	}
}

// WithCallTimeout bounds each completion call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithRand injects the random source used by random mode; mainly for tests.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.rand = r
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a tutor engine.
func New(sessions *session.Manager, agents *registry.Registry, client provider.Client, opts ...Option) (*Engine, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}

	e := &Engine{
		sessions:     sessions,
		agents:       agents,
		client:       client,
		router:       routing.NewKeyword(),
		historyLimit: DefaultHistoryLimit,
		replyBudget:  prompt.DefaultReplyBudget,
		callTimeout:  DefaultCallTimeout,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		tracer:       otel.Tracer("tutorkit/tutor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("tutor_engine")
	}
	if e.collab == nil {
		e.collab = collab.New(client, collab.WithReplyBudget(e.replyBudget), collab.WithCallTimeout(e.callTimeout))
	}
	return e, nil
}

// SendRequest is one inbound learner message.
type SendRequest struct {
	UserID   string
	AgentID  string // optional explicit target, meaningful in manual mode
	Text     string
	Metadata map[string]any
	Collab   *collab.Settings
}

// SendResult uniformly wraps the outcome of a send across all modes.
type SendResult struct {
	Session          *session.Session
	UserMessage      *message.Message
	AssistantMessage *message.Message
	Routing          *message.RoutingInfo
	Collab           *collab.Result
}

// SendMessage dispatches a learner message according to the session's mode.
func (e *Engine) SendMessage(ctx context.Context, req *SendRequest) (result *SendResult, err error) {
	if req == nil || req.UserID == "" || req.Text == "" {
		return nil, fmt.Errorf("user id and text are required: %w", tutorerrors.ErrInvalidInput)
	}

	ctx, span := e.tracer.Start(ctx, "tutor.SendMessage",
		trace.WithAttributes(attribute.String("tutor.user_id", req.UserID)))
	defer func() { telemetry.End(span, err) }()

	sess, err := e.sessions.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tutor.mode", string(sess.Mode)))

	if req.AgentID != "" {
		if _, err := e.resolveActive(req.AgentID); err != nil {
			return nil, err
		}
	}

	switch sess.Mode {
	case session.ModeManual:
		result, err = e.sendManual(ctx, sess, req)
	case session.ModeRouter:
		result, err = e.sendRouted(ctx, sess, req)
	case session.ModeRandom:
		result, err = e.sendRandom(ctx, sess, req)
	case session.ModeCollaborative:
		result, err = e.sendCollaborative(ctx, sess, req)
	default:
		return nil, fmt.Errorf("session %s has unknown mode %q", sess.ID, sess.Mode)
	}
	if err != nil {
		return nil, err
	}

	e.recordSend(req, sess, result)
	return result, nil
}

func (e *Engine) sendManual(ctx context.Context, sess *session.Session, req *SendRequest) (*SendResult, error) {
	agentID := req.AgentID
	if agentID == "" {
		agentID = sess.ActiveAgentID
	}
	if agentID == "" {
		return nil, fmt.Errorf("session %s has no active agent: %w", sess.ID, tutorerrors.ErrNotFound)
	}
	ag, err := e.resolveActive(agentID)
	if err != nil {
		return nil, err
	}
	return e.exchange(ctx, sess, ag, req.Text, nil)
}

func (e *Engine) sendRouted(ctx context.Context, sess *session.Session, req *SendRequest) (*SendResult, error) {
	roster := e.agents.Active()
	if len(roster) == 0 {
		return nil, tutorerrors.ErrNoAgents
	}

	info, err := e.router.Route(ctx, req.Text, roster)
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}
	ag, err := e.agents.Get(info.AgentID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("message routed",
		"user", req.UserID, "agent", ag.Name,
		"confidence", info.Confidence, "reason", info.Reason)
	return e.exchange(ctx, sess, ag, req.Text, info)
}

func (e *Engine) sendRandom(ctx context.Context, sess *session.Session, req *SendRequest) (*SendResult, error) {
	roster := e.agents.Active()
	if len(roster) == 0 {
		return nil, tutorerrors.ErrNoAgents
	}

	e.randMu.Lock()
	ag := roster[e.rand.Intn(len(roster))]
	e.randMu.Unlock()

	info := &message.RoutingInfo{
		AgentID:    ag.ID,
		AgentName:  ag.Name,
		Reason:     "random selection",
		Confidence: 1.0,
	}
	return e.exchange(ctx, sess, ag, req.Text, info)
}

func (e *Engine) sendCollaborative(ctx context.Context, sess *session.Session, req *SendRequest) (*SendResult, error) {
	roster := e.agents.Active()
	if len(roster) == 0 {
		return nil, tutorerrors.ErrNoAgents
	}

	// All collaborative turns live in the first active agent's conversation
	// so the learner sees one continuous thread.
	team, err := e.agents.TeamAgent()
	if err != nil {
		return nil, err
	}
	conv, err := e.sessions.Conversation(ctx, sess.ID, team.ID)
	if err != nil {
		return nil, err
	}
	history, err := e.sessions.Recent(ctx, conv.ID, e.historyLimit)
	if err != nil {
		return nil, err
	}

	userMsg := message.New(message.RoleUser, req.Text)
	userMsg.ConversationID = conv.ID
	if err := e.sessions.Append(ctx, conv.ID, userMsg); err != nil {
		return nil, err
	}

	settings := collab.Settings{}
	if req.Collab != nil {
		settings = *req.Collab
	}
	result, err := e.collab.Collaborate(ctx, req.Text, roster, history, settings)
	if err != nil {
		return nil, err
	}

	assistant := message.New(message.RoleAssistant, result.DisplayText)
	assistant.ConversationID = conv.ID
	assistant.Provenance = &message.Provenance{
		Style:         string(result.Style),
		Contributions: result.Contributions,
	}
	if err := e.sessions.Append(ctx, conv.ID, assistant); err != nil {
		return nil, err
	}

	return &SendResult{
		Session:          sess,
		UserMessage:      userMsg,
		AssistantMessage: assistant,
		Collab:           result,
	}, nil
}

// SetMode switches the user's interaction mode.
func (e *Engine) SetMode(ctx context.Context, userID string, mode session.Mode) (*session.Session, error) {
	return e.sessions.SetMode(ctx, userID, mode)
}

// SetActiveAgent points the user's manual-mode session at an agent.
func (e *Engine) SetActiveAgent(ctx context.Context, userID, agentID string) (*session.Session, error) {
	if _, err := e.resolveActive(agentID); err != nil {
		return nil, err
	}
	return e.sessions.SetActiveAgent(ctx, userID, agentID)
}

// History returns up to limit recent messages of the user's conversation
// with the given agent.
func (e *Engine) History(ctx context.Context, userID, agentID string, limit int) ([]*message.Message, error) {
	sess, err := e.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	conv, err := e.sessions.Conversation(ctx, sess.ID, agentID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.historyLimit
	}
	return e.sessions.Recent(ctx, conv.ID, limit)
}

// ClearConversation wipes the user's conversation with the given agent and
// resets its counters. Clearing a conversation that was never created is
// errors.ErrNotFound.
func (e *Engine) ClearConversation(ctx context.Context, userID, agentID string) error {
	sess, err := e.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.sessions.Clear(ctx, sess.ID, agentID); err != nil {
		return err
	}
	e.record(&activity.Event{
		Type:      "conversation_cleared",
		UserID:    userID,
		SessionID: sess.ID,
		AgentID:   agentID,
	})
	return nil
}

func (e *Engine) resolveActive(agentID string) (*registry.Agent, error) {
	ag, err := e.agents.Get(agentID)
	if err != nil {
		return nil, err
	}
	if !ag.Active {
		return nil, fmt.Errorf("agent %s: %w", ag.Name, tutorerrors.ErrAgentInactive)
	}
	return ag, nil
}

func (e *Engine) recordSend(req *SendRequest, sess *session.Session, result *SendResult) {
	ev := &activity.Event{
		Type:      "message_sent",
		UserID:    req.UserID,
		SessionID: sess.ID,
		Mode:      string(sess.Mode),
		Excerpt:   activity.Excerpt(req.Text, 0),
		Detail:    req.Metadata,
	}
	if result.UserMessage != nil {
		ev.ConversationID = result.UserMessage.ConversationID
	}
	if result.Routing != nil {
		ev.AgentID = result.Routing.AgentID
		ev.Reason = result.Routing.Reason
		ev.Confidence = result.Routing.Confidence
	}
	if result.AssistantMessage != nil && result.AssistantMessage.Provenance != nil {
		ev.Style = result.AssistantMessage.Provenance.Style
		ev.LatencyMS = result.AssistantMessage.Provenance.LatencyMS
	}
	e.record(ev)
}

// record hands an event to the recorder. Logging failure must never abort
// the user-facing operation; the recorder itself guarantees that.
func (e *Engine) record(ev *activity.Event) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(ev)
}
