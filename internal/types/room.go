package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Room struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string    `gorm:"not null;size:100;column:name" json:"name"`
	Description     string    `gorm:"type:text;column:description" json:"description"`
	CreatedBy       uuid.UUID `gorm:"type:uuid;index;not null;column:created_by" json:"created_by"`
	AvatarBucketKey string    `gorm:"column:avatar_bucket_key" json:"-"`
	AvatarURL       string    `gorm:"column:avatar_url" json:"avatar_url,omitempty"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`

	// Derived from COUNT(message); never persisted.
	MessageCount int64 `gorm:"-" json:"message_count"`
}

func (Room) TableName() string {
	return "room"
}

func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RoomWithMessages is a room plus its most recent messages, oldest first.
type RoomWithMessages struct {
	Room
	Messages []MessageView `json:"messages"`
}
