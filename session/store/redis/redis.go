package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/session"
)

// Store implements session.Store using Redis. Sessions and conversations are
// JSON records; message history is a list per conversation.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Config holds Redis configuration
type Config struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for keys (0 means no expiration)
}

// New creates a Redis-backed session store.
func New(config *Config) *Store {
	if config == nil {
		config = &Config{
			Addr:   "localhost:6379",
			Prefix: "tutorkit:",
		}
	}
	if config.Prefix == "" {
		config.Prefix = "tutorkit:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Store{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) sessionKey(userID string) string {
	return s.prefix + "session:" + userID
}

func (s *Store) convKey(conversationID string) string {
	return s.prefix + "conv:" + conversationID
}

func (s *Store) convIndexKey(sessionID, agentID string) string {
	return s.prefix + "convidx:" + sessionID + ":" + agentID
}

func (s *Store) messagesKey(conversationID string) string {
	return s.prefix + "msgs:" + conversationID
}

// GetOrCreateSession implements session.Store. SETNX is the single guarded
// upsert that makes lazy creation race-free.
func (s *Store) GetOrCreateSession(ctx context.Context, userID string) (*session.Session, error) {
	now := time.Now()
	fresh := &session.Session{
		ID:        "sess:" + userID,
		UserID:    userID,
		Mode:      session.ModeManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.sessionKey(userID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created {
		return fresh, nil
	}

	raw, err := s.client.Get(ctx, s.sessionKey(userID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// UpdateSession implements session.Store.
func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	key := s.sessionKey(sess.UserID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("session for user %s: %w", sess.UserID, tutorerrors.ErrNotFound)
	}

	sess.UpdatedAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// GetOrCreateConversation implements session.Store.
func (s *Store) GetOrCreateConversation(ctx context.Context, sessionID, agentID string) (*session.Conversation, error) {
	id := "conv:" + sessionID + ":" + agentID
	conv := &session.Conversation{
		ID:        id,
		SessionID: sessionID,
		AgentID:   agentID,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.convKey(id), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if created {
		if err := s.client.Set(ctx, s.convIndexKey(sessionID, agentID), id, s.ttl).Err(); err != nil {
			return nil, fmt.Errorf("index conversation: %w", err)
		}
		return conv, nil
	}
	return s.loadConversation(ctx, id)
}

// FindConversation implements session.Store.
func (s *Store) FindConversation(ctx context.Context, sessionID, agentID string) (*session.Conversation, error) {
	id, err := s.client.Get(ctx, s.convIndexKey(sessionID, agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("conversation for session %s agent %s: %w", sessionID, agentID, tutorerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return s.loadConversation(ctx, id)
}

func (s *Store) loadConversation(ctx context.Context, conversationID string) (*session.Conversation, error) {
	raw, err := s.client.Get(ctx, s.convKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, tutorerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	var conv session.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage implements session.Store. The list push and the counter bump
// share one MULTI/EXEC pipeline.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg *message.Message) error {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	stored := message.Clone(msg)
	stored.ConversationID = conversationID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	msgData, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	conv.MessageCount++
	conv.LastMessageAt = stored.CreatedAt
	convData, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.messagesKey(conversationID), msgData)
	pipe.Set(ctx, s.convKey(conversationID), convData, s.ttl)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.messagesKey(conversationID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages implements session.Store.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*message.Message, error) {
	if _, err := s.loadConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.client.LRange(ctx, s.messagesKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]*message.Message, 0, len(raws))
	for _, raw := range raws {
		var msg message.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// ClearConversation implements session.Store.
func (s *Store) ClearConversation(ctx context.Context, conversationID string) error {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	conv.MessageCount = 0
	conv.LastMessageAt = time.Time{}
	convData, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.messagesKey(conversationID))
	pipe.Set(ctx, s.convKey(conversationID), convData, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}
