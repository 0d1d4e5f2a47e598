package session

import (
	"context"
	"time"

	"github.com/lumenlms/tutorkit/message"
)

// Mode determines how an incoming message is handled.
type Mode string

const (
	// ModeManual sends every message to the session's active agent.
	ModeManual Mode = "manual"
	// ModeRouter lets the routing engine pick the agent per message.
	ModeRouter Mode = "router"
	// ModeCollaborative lets several agents respond jointly.
	ModeCollaborative Mode = "collaborative"
	// ModeRandom picks an agent uniformly at random per message.
	ModeRandom Mode = "random"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeRouter, ModeCollaborative, ModeRandom:
		return true
	}
	return false
}

// Session is the per-user container for tutor state. Exactly one session
// exists per user; it is created lazily on first access and never deleted
// during normal operation.
type Session struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Mode          Mode      `json:"mode"`
	ActiveAgentID string    `json:"active_agent_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Conversation is the ordered message thread between a session and one
// agent. At most one conversation exists per (session, agent) pair.
type Conversation struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	AgentID       string    `json:"agent_id"`
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the durable record of sessions, conversations, and messages.
// Get-or-create operations must behave as single atomic upserts so that
// concurrent first access cannot create duplicates. AppendMessage must bump
// the conversation's message count and last-message time atomically with the
// insert.
type Store interface {
	// GetOrCreateSession returns the user's session, creating it lazily.
	GetOrCreateSession(ctx context.Context, userID string) (*Session, error)

	// UpdateSession persists mode and active-agent changes.
	UpdateSession(ctx context.Context, sess *Session) error

	// GetOrCreateConversation returns the (session, agent) conversation,
	// creating it lazily.
	GetOrCreateConversation(ctx context.Context, sessionID, agentID string) (*Conversation, error)

	// FindConversation returns the (session, agent) conversation or
	// errors.ErrNotFound if it was never created.
	FindConversation(ctx context.Context, sessionID, agentID string) (*Conversation, error)

	// AppendMessage appends msg to the conversation and updates its counters.
	AppendMessage(ctx context.Context, conversationID string, msg *message.Message) error

	// RecentMessages returns up to limit most recent messages in
	// chronological order.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*message.Message, error)

	// ClearConversation deletes all messages and resets the conversation's
	// counters. Clearing an already-empty conversation succeeds.
	ClearConversation(ctx context.Context, conversationID string) error
}
