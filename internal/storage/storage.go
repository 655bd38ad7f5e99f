// Package storage is the single synchronisation point between the two
// clients of a pair. It provides row-level atomic mutations over the chat
// schema (with zero-rows-affected reporting, which is how a matcher detects
// losing a race) and a publish/subscribe stream of change events.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"emberchat/backend/internal/config"
	"emberchat/backend/internal/models"
)

var (
	// ErrStoreUnavailable wraps database failures so callers can map them to
	// the user-visible offline behaviour.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMessageTooLong is returned for content over the 500-character cap.
	ErrMessageTooLong = errors.New("message content too long")
)

type Store interface {
	InsertQueueEntry(entry *models.QueueEntry) error
	PopOldestEntry(mode string) (*models.QueueEntry, error)
	StampSession(entryID, sessionID string) (int64, error)
	DeleteQueueEntry(entryID string) (bool, error)
	ClaimQueueEntry(entryID, sessionID string) (bool, error)

	InsertSession(mode string) (*models.ChatSession, error)
	DeleteSession(sessionID string) (bool, error)
	NewestSessionSince(mode string, since time.Time) (*models.ChatSession, error)
	NotifyTyping(sessionID, role string)

	InsertMessage(sessionID, sender, content string) (*models.Message, error)
	InsertReport(sessionID, reason string) error
	InsertFeedback(sessionID, role, gender string) error

	StaleQueueEntries(olderThan time.Time) ([]models.QueueEntry, error)
	OrphanSessions(olderThan time.Time) ([]models.ChatSession, error)
	RecentReports(limit int) ([]models.Report, error)
	RecentFeedback(limit int) ([]models.Feedback, error)

	Subscribe(table string, filter Filter, ops ...Op) *Subscription
}

// Service implements Store over GORM plus an EventBus.
type Service struct {
	DB  *gorm.DB
	Bus EventBus
}

func NewService(db *gorm.DB, bus EventBus) *Service {
	return &Service{DB: db, Bus: bus}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// --- queue ---

// InsertQueueEntry appends a new reservation. Callers may pre-set the ID to
// subscribe to the row's DELETE event before the insert becomes visible.
func (s *Service) InsertQueueEntry(entry *models.QueueEntry) error {
	if err := s.DB.Create(entry).Error; err != nil {
		log.Printf("ERROR: failed to insert queue entry for mode %s: %v", entry.Mode, err)
		return unavailable(err)
	}
	s.publishQueue(OpInsert, entry)
	return nil
}

// PopOldestEntry returns the oldest waiting entry for mode without deleting
// it; ties on joined_at break by lexicographically smaller id. An empty queue
// yields (nil, nil).
func (s *Service) PopOldestEntry(mode string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.DB.Where("mode = ?", mode).
		Order("joined_at asc, id asc").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &entry, nil
}

// StampSession writes the session id onto the entry so the subsequent DELETE
// event carries it to the waiting client. Returns the number of rows
// affected; zero means the row is already gone.
func (s *Service) StampSession(entryID, sessionID string) (int64, error) {
	res := s.DB.Model(&models.QueueEntry{}).
		Where("id = ?", entryID).
		Update("session_id", sessionID)
	if res.Error != nil {
		return 0, unavailable(res.Error)
	}
	if res.RowsAffected > 0 {
		var entry models.QueueEntry
		if err := s.DB.Where("id = ?", entryID).First(&entry).Error; err == nil {
			s.publishQueue(OpUpdate, &entry)
		}
	}
	return res.RowsAffected, nil
}

// DeleteQueueEntry removes the entry and publishes a DELETE event carrying
// the final row image. Deleting an absent row is a no-op reported as false.
func (s *Service) DeleteQueueEntry(entryID string) (bool, error) {
	var entry models.QueueEntry
	deleted := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", entryID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Where("id = ?", entryID).Delete(&models.QueueEntry{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, unavailable(err)
	}
	if deleted {
		s.publishQueue(OpDelete, &entry)
	}
	return deleted, nil
}

// ClaimQueueEntry stamps sessionID onto the entry and deletes it in one
// transaction. The subscribe stream still delivers the final row image, so
// the waiting client observes a single DELETE with the session id attached.
// Exactly one concurrent claimer of a given entry succeeds.
func (s *Service) ClaimQueueEntry(entryID, sessionID string) (bool, error) {
	var entry models.QueueEntry
	claimed := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueueEntry{}).
			Where("id = ?", entryID).
			Update("session_id", sessionID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Where("id = ?", entryID).First(&entry).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", entryID).Delete(&models.QueueEntry{}).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, unavailable(err)
	}
	if claimed {
		s.publishQueue(OpDelete, &entry)
	}
	return claimed, nil
}

// --- sessions ---

func (s *Service) InsertSession(mode string) (*models.ChatSession, error) {
	session := &models.ChatSession{Mode: mode}
	if err := s.DB.Create(session).Error; err != nil {
		log.Printf("ERROR: failed to insert session for mode %s: %v", mode, err)
		return nil, unavailable(err)
	}
	s.publishSession(OpInsert, session)
	return session, nil
}

// DeleteSession removes the session and all of its messages. The DELETE event
// on chat_sessions is what tells both participants the conversation is over.
func (s *Service) DeleteSession(sessionID string) (bool, error) {
	var session models.ChatSession
	deleted := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", sessionID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", sessionID).Delete(&models.ChatSession{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, unavailable(err)
	}
	if deleted {
		s.publishSession(OpDelete, &session)
	}
	return deleted, nil
}

// NewestSessionSince is the unstamped-handoff fallback: the most recent
// session of mode created after since, or nil if none exists.
func (s *Service) NewestSessionSince(mode string, since time.Time) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.DB.Where("mode = ? AND created_at > ?", mode, since).
		Order("created_at desc").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &session, nil
}

// NotifyTyping publishes an ephemeral UPDATE event on the session row without
// touching the database. The peer's session channel uses it to drive its
// typing flag; a lost or duplicated signal is harmless.
func (s *Service) NotifyTyping(sessionID, role string) {
	row, err := json.Marshal(struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}{ID: sessionID, Role: role})
	if err != nil {
		return
	}
	s.Bus.Publish(Event{Table: TableSessions, Op: OpUpdate, Key: sessionID, SessionID: sessionID, Row: row})
}

// --- messages, reports, feedback ---

func (s *Service) InsertMessage(sessionID, sender, content string) (*models.Message, error) {
	if utf8.RuneCountInString(content) > config.MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	msg := &models.Message{SessionID: sessionID, Sender: sender, Content: content}
	if err := s.DB.Create(msg).Error; err != nil {
		log.Printf("ERROR: failed to insert message for session %s: %v", sessionID, err)
		return nil, unavailable(err)
	}
	s.publishMessage(OpInsert, msg)
	return msg, nil
}

func (s *Service) InsertReport(sessionID, reason string) error {
	report := &models.Report{SessionID: sessionID, Reason: reason}
	if err := s.DB.Create(report).Error; err != nil {
		log.Printf("ERROR: failed to insert report for session %s: %v", sessionID, err)
		return unavailable(err)
	}
	return nil
}

// InsertFeedback records the post-chat survey answer at most once per
// session and role; repeated submissions are ignored.
func (s *Service) InsertFeedback(sessionID, role, gender string) error {
	feedback := models.Feedback{SessionID: sessionID, Role: role}
	res := s.DB.Where("session_id = ? AND role = ?", sessionID, role).
		Attrs(models.Feedback{Gender: gender}).
		FirstOrCreate(&feedback)
	if res.Error != nil {
		log.Printf("ERROR: failed to insert feedback for session %s: %v", sessionID, res.Error)
		return unavailable(res.Error)
	}
	return nil
}

// --- reaper and admin queries ---

func (s *Service) StaleQueueEntries(olderThan time.Time) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := s.DB.Where("joined_at < ?", olderThan).Find(&entries).Error; err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

// OrphanSessions lists sessions older than olderThan that never received a
// message, typically left behind by a matcher that crashed between creating
// its speculative session and losing the claim race.
func (s *Service) OrphanSessions(olderThan time.Time) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := s.DB.Where(
		"created_at < ? AND NOT EXISTS (SELECT 1 FROM messages WHERE messages.session_id = chat_sessions.id)",
		olderThan,
	).Find(&sessions).Error
	if err != nil {
		return nil, unavailable(err)
	}
	return sessions, nil
}

func (s *Service) RecentReports(limit int) ([]models.Report, error) {
	var reports []models.Report
	if err := s.DB.Order("created_at desc").Limit(limit).Find(&reports).Error; err != nil {
		return nil, unavailable(err)
	}
	return reports, nil
}

func (s *Service) RecentFeedback(limit int) ([]models.Feedback, error) {
	var feedback []models.Feedback
	if err := s.DB.Order("created_at desc").Limit(limit).Find(&feedback).Error; err != nil {
		return nil, unavailable(err)
	}
	return feedback, nil
}

// --- events ---

func (s *Service) Subscribe(table string, filter Filter, ops ...Op) *Subscription {
	return s.Bus.Subscribe(table, filter, ops...)
}

func (s *Service) publishQueue(op Op, entry *models.QueueEntry) {
	row, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: failed to encode queue entry %s: %v", entry.ID, err)
		return
	}
	s.Bus.Publish(Event{Table: TableQueue, Op: op, Key: entry.ID, Row: row})
}

func (s *Service) publishSession(op Op, session *models.ChatSession) {
	row, err := json.Marshal(session)
	if err != nil {
		log.Printf("ERROR: failed to encode session %s: %v", session.ID, err)
		return
	}
	s.Bus.Publish(Event{Table: TableSessions, Op: op, Key: session.ID, Row: row})
}

func (s *Service) publishMessage(op Op, msg *models.Message) {
	row, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ERROR: failed to encode message %s: %v", msg.ID, err)
		return
	}
	s.Bus.Publish(Event{Table: TableMessages, Op: op, Key: msg.ID, SessionID: msg.SessionID, Row: row})
}
