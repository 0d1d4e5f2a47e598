package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/session"
)

// Store implements session.Store with in-process maps. It is the reference
// backend and the test double.
type Store struct {
	mu            sync.Mutex
	seq           int
	sessions      map[string]*session.Session      // by user id
	conversations map[string]*session.Conversation // by conversation id
	convByKey     map[string]string                // sessionID/agentID -> conversation id
	messages      map[string][]*message.Message    // by conversation id
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:      make(map[string]*session.Session),
		conversations: make(map[string]*session.Conversation),
		convByKey:     make(map[string]string),
		messages:      make(map[string][]*message.Message),
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func convKey(sessionID, agentID string) string {
	return sessionID + "/" + agentID
}

// GetOrCreateSession implements session.Store.
func (s *Store) GetOrCreateSession(_ context.Context, userID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		copied := *sess
		return &copied, nil
	}

	now := time.Now()
	sess := &session.Session{
		ID:        s.nextID("sess"),
		UserID:    userID,
		Mode:      session.ModeManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[userID] = sess
	copied := *sess
	return &copied, nil
}

// UpdateSession implements session.Store.
func (s *Store) UpdateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sess.UserID]
	if !ok {
		return fmt.Errorf("session for user %s: %w", sess.UserID, tutorerrors.ErrNotFound)
	}
	stored.Mode = sess.Mode
	stored.ActiveAgentID = sess.ActiveAgentID
	stored.UpdatedAt = time.Now()
	return nil
}

// GetOrCreateConversation implements session.Store.
func (s *Store) GetOrCreateConversation(_ context.Context, sessionID, agentID string) (*session.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := convKey(sessionID, agentID)
	if id, ok := s.convByKey[key]; ok {
		copied := *s.conversations[id]
		return &copied, nil
	}

	conv := &session.Conversation{
		ID:        s.nextID("conv"),
		SessionID: sessionID,
		AgentID:   agentID,
		CreatedAt: time.Now(),
	}
	s.conversations[conv.ID] = conv
	s.convByKey[key] = conv.ID
	copied := *conv
	return &copied, nil
}

// FindConversation implements session.Store.
func (s *Store) FindConversation(_ context.Context, sessionID, agentID string) (*session.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.convByKey[convKey(sessionID, agentID)]
	if !ok {
		return nil, fmt.Errorf("conversation for session %s agent %s: %w", sessionID, agentID, tutorerrors.ErrNotFound)
	}
	copied := *s.conversations[id]
	return &copied, nil
}

// AppendMessage implements session.Store.
func (s *Store) AppendMessage(_ context.Context, conversationID string, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, tutorerrors.ErrNotFound)
	}

	stored := message.Clone(msg)
	stored.ConversationID = conversationID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.messages[conversationID] = append(s.messages[conversationID], stored)
	conv.MessageCount++
	conv.LastMessageAt = stored.CreatedAt
	return nil
}

// RecentMessages implements session.Store.
func (s *Store) RecentMessages(_ context.Context, conversationID string, limit int) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, tutorerrors.ErrNotFound)
	}

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return message.CloneMessages(msgs), nil
}

// ClearConversation implements session.Store.
func (s *Store) ClearConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, tutorerrors.ErrNotFound)
	}
	delete(s.messages, conversationID)
	conv.MessageCount = 0
	conv.LastMessageAt = time.Time{}
	return nil
}
