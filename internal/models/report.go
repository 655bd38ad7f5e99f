package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Report is filed when a participant presses report. Unlike messages, reports
// outlive the session they refer to.
type Report struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"type:text;not null;index" json:"session_id"`
	Reason    string    `gorm:"type:text;not null" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (Report) TableName() string { return "reports" }

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
