package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	tutorerrors "github.com/lumenlms/tutorkit/errors"
	"github.com/lumenlms/tutorkit/message"
	"github.com/lumenlms/tutorkit/session"
)

// Store implements session.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultConfig returns default PostgreSQL configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "tutorkit",
		SSLMode:  "disable",
	}
}

// New creates a PostgreSQL-backed session store, creating tables on first use.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &Store{db: db}
	if err := store.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS tutor_sessions (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL UNIQUE,
		mode VARCHAR(32) NOT NULL,
		active_agent_id VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tutor_conversations (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL REFERENCES tutor_sessions(id),
		agent_id VARCHAR(64) NOT NULL,
		message_count INT NOT NULL DEFAULT 0,
		last_message_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (session_id, agent_id)
	);
	CREATE TABLE IF NOT EXISTS tutor_messages (
		id VARCHAR(64) PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL REFERENCES tutor_conversations(id),
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		provenance JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tutor_messages_conversation ON tutor_messages(conversation_id, created_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// GetOrCreateSession implements session.Store. A single upsert guards lazy
// creation so concurrent first access cannot create duplicates.
func (s *Store) GetOrCreateSession(ctx context.Context, userID string) (*session.Session, error) {
	now := time.Now()
	id := fmt.Sprintf("sess:%s", userID)
	query := `
	INSERT INTO tutor_sessions (id, user_id, mode, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
	RETURNING id, user_id, mode, COALESCE(active_agent_id, ''), created_at, updated_at`

	var sess session.Session
	err := s.db.QueryRowContext(ctx, query, id, userID, session.ModeManual, now).Scan(
		&sess.ID, &sess.UserID, &sess.Mode, &sess.ActiveAgentID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}
	return &sess, nil
}

// UpdateSession implements session.Store.
func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	query := `
	UPDATE tutor_sessions
	SET mode = $1, active_agent_id = NULLIF($2, ''), updated_at = $3
	WHERE user_id = $4`

	res, err := s.db.ExecContext(ctx, query, sess.Mode, sess.ActiveAgentID, time.Now(), sess.UserID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session for user %s: %w", sess.UserID, tutorerrors.ErrNotFound)
	}
	return nil
}

// GetOrCreateConversation implements session.Store.
func (s *Store) GetOrCreateConversation(ctx context.Context, sessionID, agentID string) (*session.Conversation, error) {
	now := time.Now()
	id := fmt.Sprintf("conv:%s:%s", sessionID, agentID)
	query := `
	INSERT INTO tutor_conversations (id, session_id, agent_id, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (session_id, agent_id) DO UPDATE SET session_id = EXCLUDED.session_id
	RETURNING id, session_id, agent_id, message_count, COALESCE(last_message_at, 'epoch'::timestamptz), created_at`

	var conv session.Conversation
	err := s.db.QueryRowContext(ctx, query, id, sessionID, agentID, now).Scan(
		&conv.ID, &conv.SessionID, &conv.AgentID, &conv.MessageCount, &conv.LastMessageAt, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	if conv.LastMessageAt.Unix() == 0 {
		conv.LastMessageAt = time.Time{}
	}
	return &conv, nil
}

// FindConversation implements session.Store.
func (s *Store) FindConversation(ctx context.Context, sessionID, agentID string) (*session.Conversation, error) {
	query := `
	SELECT id, session_id, agent_id, message_count, COALESCE(last_message_at, 'epoch'::timestamptz), created_at
	FROM tutor_conversations
	WHERE session_id = $1 AND agent_id = $2`

	var conv session.Conversation
	err := s.db.QueryRowContext(ctx, query, sessionID, agentID).Scan(
		&conv.ID, &conv.SessionID, &conv.AgentID, &conv.MessageCount, &conv.LastMessageAt, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation for session %s agent %s: %w", sessionID, agentID, tutorerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if conv.LastMessageAt.Unix() == 0 {
		conv.LastMessageAt = time.Time{}
	}
	return &conv, nil
}

// AppendMessage implements session.Store. The insert and the counter bump
// share one transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg *message.Message) error {
	provenance, err := message.EncodeProvenance(msg.Provenance)
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO tutor_messages (id, conversation_id, role, content, provenance, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, conversationID, msg.Role, msg.Content, provenance, createdAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE tutor_conversations
	SET message_count = message_count + 1, last_message_at = $1
	WHERE id = $2`, createdAt, conversationID)
	if err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, tutorerrors.ErrNotFound)
	}
	return tx.Commit()
}

// RecentMessages implements session.Store.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*message.Message, error) {
	query := `
	SELECT id, role, content, provenance, created_at
	FROM (
		SELECT id, role, content, provenance, created_at
		FROM tutor_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	) recent
	ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var (
			msg  message.Message
			prov []byte
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &prov, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ConversationID = conversationID
		msg.Provenance, err = message.DecodeProvenance(prov)
		if err != nil {
			return nil, fmt.Errorf("decode provenance: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// ClearConversation implements session.Store.
func (s *Store) ClearConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tutor_messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE tutor_conversations
	SET message_count = 0, last_message_at = NULL
	WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, tutorerrors.ErrNotFound)
	}
	return tx.Commit()
}
