package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatSession is a live two-party conversation scope. It is created by the
// pairing client at the moment of match and deleted on any end condition;
// deletion cascades to all of its messages.
type ChatSession struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Mode      string    `gorm:"type:text;not null;index" json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
