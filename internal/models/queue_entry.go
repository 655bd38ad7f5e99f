package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QueueEntry is a waiting client's reservation in the matchmaker. The row is
// the critical shared resource of the pairing protocol: it must be deleted
// exactly once, and the DELETE change event carries the final row image so a
// waiting client can read the stamped session id out of it.
type QueueEntry struct {
	ID       string    `gorm:"primaryKey" json:"id"`
	Mode     string    `gorm:"type:text;not null;index:idx_queue_mode_joined" json:"mode"`
	JoinedAt time.Time `gorm:"not null;index:idx_queue_mode_joined" json:"joined_at"`
	// SessionID is empty while the client waits. A matching peer stamps it
	// just before deleting the row.
	SessionID string `gorm:"type:text" json:"session_id,omitempty"`
}

func (QueueEntry) TableName() string { return "match_queue" }

// BeforeCreate fills in the opaque id and the join timestamp when the caller
// did not set them. Matchmakers pre-generate the id so they can subscribe to
// the row's DELETE event before the insert commits.
func (e *QueueEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = time.Now().UTC()
	}
	return nil
}
