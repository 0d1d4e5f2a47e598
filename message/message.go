package message

import (
	"encoding/json"
	"time"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single message in a tutor conversation. Messages are
// append-only and totally ordered by CreatedAt within a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	Provenance     *Provenance `json:"provenance,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Provenance records how an assistant message was produced. It is attached to
// assistant messages only.
type Provenance struct {
	Model            string              `json:"model,omitempty"`
	PromptTokens     int                 `json:"prompt_tokens,omitempty"`
	CompletionTokens int                 `json:"completion_tokens,omitempty"`
	LatencyMS        int64               `json:"latency_ms,omitempty"`
	Temperature      float64             `json:"temperature,omitempty"`
	Routing          *RoutingInfo        `json:"routing,omitempty"`
	Style            string              `json:"style,omitempty"`
	Contributions    []AgentContribution `json:"contributions,omitempty"`
}

// RoutingInfo explains why a particular agent was selected for a message.
type RoutingInfo struct {
	AgentID      string       `json:"agent_id"`
	AgentName    string       `json:"agent_name"`
	Reason       string       `json:"reason"`
	Confidence   float64      `json:"confidence"`
	Alternatives []AgentScore `json:"alternatives,omitempty"`
}

// AgentScore is a ranked alternative produced during routing.
type AgentScore struct {
	AgentID   string  `json:"agent_id"`
	AgentName string  `json:"agent_name"`
	Score     float64 `json:"score"`
}

// AgentContribution is one agent's reply inside a collaborative turn.
type AgentContribution struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Text      string `json:"text"`
	LatencyMS int64  `json:"latency_ms"`
	Round     int    `json:"round,omitempty"`
}

// New creates a new message with the given role and content
func New(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if msg.Provenance != nil {
		prov := *msg.Provenance
		if msg.Provenance.Routing != nil {
			routing := *msg.Provenance.Routing
			routing.Alternatives = append([]AgentScore(nil), msg.Provenance.Routing.Alternatives...)
			prov.Routing = &routing
		}
		prov.Contributions = append([]AgentContribution(nil), msg.Provenance.Contributions...)
		cloned.Provenance = &prov
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}

// EncodeProvenance serializes provenance for storage backends that persist it
// as an opaque column.
func EncodeProvenance(p *Provenance) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// DecodeProvenance is the inverse of EncodeProvenance.
func DecodeProvenance(data []byte) (*Provenance, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p Provenance
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// generateID generates a unique message ID
func generateID() string {
	// Simple implementation using timestamp
	// In production, consider using UUID
	return time.Now().Format("20060102150405.000000000")
}
