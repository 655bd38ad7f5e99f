package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Feedback is the optional post-chat survey row. At most one row exists per
// session and participant role, enforced by the unique index.
type Feedback struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"type:text;not null;uniqueIndex:idx_feedback_session_role" json:"session_id"`
	Role      string    `gorm:"type:text;not null;uniqueIndex:idx_feedback_session_role" json:"role"`
	Gender    string    `gorm:"type:text" json:"gender,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Feedback) TableName() string { return "post_chat_feedback" }

func (f *Feedback) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}
