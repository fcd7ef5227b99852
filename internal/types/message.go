package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageTypeUser MessageType = "user"
	MessageTypeAI   MessageType = "ai"
)

// AIDisplayName is the display name snapshot stored on every AI message.
const AIDisplayName = "AI Assistant"

// Message is the persisted row. Rows are append-only: (room_id, seq) orders a
// room's history and correlation_id is the id clients reference.
type Message struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	CorrelationID string         `gorm:"uniqueIndex;not null;size:64;column:correlation_id"`
	RoomID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_message_room_seq,unique,priority:1"`
	UserID        *uuid.UUID     `gorm:"type:uuid;index"`
	Seq           int64          `gorm:"not null;index:idx_message_room_seq,unique,priority:2"`
	Content       string         `gorm:"type:text;not null"`
	MessageType   MessageType    `gorm:"size:20;not null;column:message_type"`
	DisplayName   string         `gorm:"size:80;column:display_name"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	CreatedAt     time.Time      `gorm:"not null;index"`
}

func (Message) TableName() string {
	return "message"
}

// MessageBase holds the fields shared by both message variants.
type MessageBase struct {
	ID            uuid.UUID
	CorrelationID string
	RoomID        uuid.UUID
	Seq           int64
	Content       string
	DisplayName   string
	CreatedAt     time.Time
	Metadata      datatypes.JSON
}

// UserMessage always has an author.
type UserMessage struct {
	MessageBase
	AuthorID uuid.UUID
}

// AiMessage never has an author.
type AiMessage struct {
	MessageBase
}

var (
	ErrNotUserMessage = errors.New("message is not a user message")
	ErrNotAIMessage   = errors.New("message is not an ai message")
)

func (m *Message) base() MessageBase {
	return MessageBase{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		RoomID:        m.RoomID,
		Seq:           m.Seq,
		Content:       m.Content,
		DisplayName:   m.DisplayName,
		CreatedAt:     m.CreatedAt,
		Metadata:      m.Metadata,
	}
}

func (m *Message) AsUser() (UserMessage, error) {
	if m.MessageType != MessageTypeUser || m.UserID == nil || *m.UserID == uuid.Nil {
		return UserMessage{}, fmt.Errorf("%w: %s", ErrNotUserMessage, m.CorrelationID)
	}
	return UserMessage{MessageBase: m.base(), AuthorID: *m.UserID}, nil
}

func (m *Message) AsAI() (AiMessage, error) {
	if m.MessageType != MessageTypeAI || m.UserID != nil {
		return AiMessage{}, fmt.Errorf("%w: %s", ErrNotAIMessage, m.CorrelationID)
	}
	return AiMessage{MessageBase: m.base()}, nil
}

// AIMeta decodes the metadata of an AI message.
func (m *Message) AIMeta() (AIMetadata, error) {
	var meta AIMetadata
	if m.MessageType != MessageTypeAI {
		return meta, fmt.Errorf("%w: %s", ErrNotAIMessage, m.CorrelationID)
	}
	if len(m.Metadata) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		return meta, fmt.Errorf("decode ai metadata of %s: %w", m.CorrelationID, err)
	}
	return meta, nil
}

// MessageView is the wire shape of a message.
type MessageView struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Content       string          `json:"content"`
	UserID        *uuid.UUID      `json:"user_id"`
	RoomID        uuid.UUID       `json:"room_id"`
	MessageType   MessageType     `json:"message_type"`
	DisplayName   string          `json:"display_name"`
	Seq           int64           `json:"seq"`
	CreatedAt     time.Time       `json:"created_at"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

func (b MessageBase) view(t MessageType, author *uuid.UUID) MessageView {
	v := MessageView{
		ID:            b.ID,
		CorrelationID: b.CorrelationID,
		Content:       b.Content,
		UserID:        author,
		RoomID:        b.RoomID,
		MessageType:   t,
		DisplayName:   b.DisplayName,
		Seq:           b.Seq,
		CreatedAt:     b.CreatedAt,
	}
	if len(b.Metadata) > 0 {
		v.Metadata = json.RawMessage(b.Metadata)
	}
	return v
}

func (m UserMessage) View() MessageView {
	author := m.AuthorID
	return m.view(MessageTypeUser, &author)
}

func (m AiMessage) View() MessageView {
	return m.view(MessageTypeAI, nil)
}

func (m *Message) View() MessageView {
	return m.base().view(m.MessageType, m.UserID)
}

func Views(msgs []*Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.View())
	}
	return out
}

// AIMetadata is recorded on every AI message.
type AIMetadata struct {
	Model     string `json:"model,omitempty"`
	Fallback  bool   `json:"fallback"`
	Reason    string `json:"reason,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// MessageDraft is what callers hand to the message store; the store assigns
// identity, sequence and timestamp.
type MessageDraft struct {
	RoomID      uuid.UUID
	AuthorID    *uuid.UUID
	DisplayName string
	Content     string
	Type        MessageType
	Metadata    datatypes.JSON
}

func NewUserDraft(roomID uuid.UUID, author Identity, content string) MessageDraft {
	id := author.UserID
	return MessageDraft{
		RoomID:      roomID,
		AuthorID:    &id,
		DisplayName: author.Username,
		Content:     content,
		Type:        MessageTypeUser,
	}
}

func NewAIDraft(roomID uuid.UUID, content string, meta AIMetadata) (MessageDraft, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return MessageDraft{}, fmt.Errorf("marshal ai metadata: %w", err)
	}
	return MessageDraft{
		RoomID:      roomID,
		DisplayName: AIDisplayName,
		Content:     content,
		Type:        MessageTypeAI,
		Metadata:    datatypes.JSON(raw),
	}, nil
}

func (d MessageDraft) Validate() error {
	if d.RoomID == uuid.Nil {
		return errors.New("room id is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		return errors.New("content must not be empty")
	}
	switch d.Type {
	case MessageTypeUser:
		if d.AuthorID == nil || *d.AuthorID == uuid.Nil {
			return errors.New("user messages require an author")
		}
	case MessageTypeAI:
		if d.AuthorID != nil {
			return errors.New("ai messages must not have an author")
		}
	default:
		return fmt.Errorf("unknown message type %q", d.Type)
	}
	return nil
}
