package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/pkg/logging"
)

// Manager wraps a Store with the session-level operations the engine needs:
// lazy get-or-create, mode and active-agent mutation, history reads, and
// conversation clearing.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a session manager backed by the given store.
func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session manager store is not configured")
	}
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("session_manager")
	}
	return m, nil
}

// GetOrCreate returns the user's session, creating one in manual mode on
// first access.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	sess, err := m.store.GetOrCreateSession(ctx, userID)
	if err != nil {
		m.logger.Error("get or create session failed", "user", userID, "error", err)
		return nil, fmt.Errorf("get or create session: %w", err)
	}
	return sess, nil
}

// SetMode switches the session's interaction mode.
func (m *Manager) SetMode(ctx context.Context, userID string, mode Mode) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	sess, err := m.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.Mode = mode
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		m.logger.Error("set mode failed", "user", userID, "mode", mode, "error", err)
		return nil, fmt.Errorf("set mode: %w", err)
	}
	m.logger.Info("session mode changed", "user", userID, "mode", mode)
	return sess, nil
}

// SetActiveAgent records the agent a manual-mode session talks to. Agent
// validation is the caller's responsibility; the manager only persists.
func (m *Manager) SetActiveAgent(ctx context.Context, userID, agentID string) (*Session, error) {
	sess, err := m.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.ActiveAgentID = agentID
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		m.logger.Error("set active agent failed", "user", userID, "agent", agentID, "error", err)
		return nil, fmt.Errorf("set active agent: %w", err)
	}
	m.logger.Info("session active agent changed", "user", userID, "agent", agentID)
	return sess, nil
}

// Conversation returns the (session, agent) conversation, creating it lazily.
func (m *Manager) Conversation(ctx context.Context, sessionID, agentID string) (*Conversation, error) {
	conv, err := m.store.GetOrCreateConversation(ctx, sessionID, agentID)
	if err != nil {
		m.logger.Error("get or create conversation failed", "session", sessionID, "agent", agentID, "error", err)
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	return conv, nil
}

// Append adds a message to a conversation and bumps its counters.
func (m *Manager) Append(ctx context.Context, conversationID string, msg *message.Message) error {
	if err := m.store.AppendMessage(ctx, conversationID, msg); err != nil {
		m.logger.Error("append message failed", "conversation", conversationID, "error", err)
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent messages in chronological order.
func (m *Manager) Recent(ctx context.Context, conversationID string, limit int) ([]*message.Message, error) {
	msgs, err := m.store.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		m.logger.Error("load history failed", "conversation", conversationID, "error", err)
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// Clear removes every message from the (session, agent) conversation and
// resets its counters. Clearing a conversation that was never created is
// errors.ErrNotFound; clearing an empty one is a no-op.
func (m *Manager) Clear(ctx context.Context, sessionID, agentID string) error {
	conv, err := m.store.FindConversation(ctx, sessionID, agentID)
	if err != nil {
		return err
	}
	if err := m.store.ClearConversation(ctx, conv.ID); err != nil {
		m.logger.Error("clear conversation failed", "conversation", conv.ID, "error", err)
		return fmt.Errorf("clear conversation: %w", err)
	}
	m.logger.Info("conversation cleared", "session", sessionID, "agent", agentID)
	return nil
}
