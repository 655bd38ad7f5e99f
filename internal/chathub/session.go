package chathub

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"emberchat/backend/internal/config"
	"emberchat/backend/internal/models"
	"emberchat/backend/internal/moderation"
	"emberchat/backend/internal/storage"
)

const (
	connectedNotice  = "You're now connected with a stranger. Be bold, be kind."
	disconnectNotice = "Stranger has disconnected."

	// Reports filed through the in-chat button all carry this reason.
	reportReason = "reported_by_user"
)

// UIMessage is one line of the participant's local chat log. Sender is a UI
// tag (you, stranger, system); store roles never leak into the log.
type UIMessage struct {
	ID        string
	Sender    string
	Text      string
	Timestamp time.Time
}

// SendResult describes what happened to one outbound message. Warning is the
// user-facing text when the message was rejected; Ended is set when the
// rejection also terminated the session.
type SendResult struct {
	Sent    bool
	Warning string
	Ended   bool
}

// SessionChannel is one participant's live attachment to a session: it
// accepts outbound sends (moderated and rate limited), streams inbound peer
// messages, and watches for the session-ended event.
type SessionChannel struct {
	store     storage.Store
	sessionID string
	role      string

	limiter        *rate.Limiter
	violationLimit int
	announceDelay  time.Duration
	notify         func(ClientEvent)

	msgSub *storage.Subscription
	endSub *storage.Subscription

	mu             sync.Mutex
	logEntries     []UIMessage
	violations     int
	strangerTyping bool
	localEnd       bool

	ended     chan struct{}
	endedOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

// Attach subscribes to the session's message and deletion events and seeds
// the local log with the connected notice. notify is invoked from the
// channel's goroutine for every UI-visible event and must not block.
func Attach(store storage.Store, sessionID, role string, opts Options, notify func(ClientEvent)) *SessionChannel {
	c := &SessionChannel{
		store:          store,
		sessionID:      sessionID,
		role:           role,
		violationLimit: opts.ViolationLimit,
		announceDelay:  opts.DisconnectAnnounceDelay,
		notify:         notify,
		ended:          make(chan struct{}),
		done:           make(chan struct{}),
	}
	if opts.SendMinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.SendMinInterval), 1)
	}

	c.msgSub = store.Subscribe(
		storage.TableMessages,
		storage.Filter{Column: "session_id", Value: sessionID},
		storage.OpInsert,
	)
	// No op filter: DELETE ends the session, UPDATE is the ephemeral typing
	// signal.
	c.endSub = store.Subscribe(
		storage.TableSessions,
		storage.Filter{Column: "id", Value: sessionID},
	)

	c.appendEntry(UIMessage{
		ID:        "sys-connected",
		Sender:    models.SenderSystem,
		Text:      connectedNotice,
		Timestamp: time.Now(),
	})
	c.notify(ClientEvent{Type: EventMessage, SessionID: sessionID, Sender: models.SenderSystem, Text: connectedNotice})

	go c.run()
	return c
}

func (c *SessionChannel) run() {
	msgC := c.msgSub.C
	endC := c.endSub.C

	for {
		select {
		case <-c.done:
			return

		case e, ok := <-msgC:
			if !ok {
				msgC = nil
				continue
			}
			c.handleMessageEvent(e)

		case e, ok := <-endC:
			if !ok {
				endC = nil
				continue
			}
			switch e.Op {
			case storage.OpUpdate:
				c.handleTypingEvent(e)
			case storage.OpDelete:
				c.handleSessionDeleted()
				return
			}
		}
	}
}

// handleMessageEvent appends inbound peer messages to the local log. Our own
// rows also come back on the stream; they are discarded by sender so a
// participant never observes its own messages twice.
func (c *SessionChannel) handleMessageEvent(e storage.Event) {
	var msg models.Message
	if err := json.Unmarshal(e.Row, &msg); err != nil {
		log.Printf("ERROR: failed to decode message event for session %s: %v", c.sessionID, err)
		return
	}
	if msg.Sender == c.role {
		return
	}

	c.mu.Lock()
	c.strangerTyping = false
	// Idempotency against at-least-once delivery: drop a row we already hold.
	for _, entry := range c.logEntries {
		if entry.ID == msg.ID {
			c.mu.Unlock()
			return
		}
	}
	c.logEntries = append(c.logEntries, UIMessage{
		ID:        msg.ID,
		Sender:    models.SenderStranger,
		Text:      msg.Content,
		Timestamp: msg.CreatedAt,
	})
	c.mu.Unlock()

	c.notify(ClientEvent{Type: EventMessage, SessionID: c.sessionID, Sender: models.SenderStranger, Text: msg.Content})
}

// handleTypingEvent raises the typing flag when the peer signals typing.
func (c *SessionChannel) handleTypingEvent(e storage.Event) {
	var signal struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(e.Row, &signal); err != nil || signal.Role == c.role {
		return
	}
	c.mu.Lock()
	c.strangerTyping = true
	c.mu.Unlock()
}

// Typing tells the peer this participant is composing a message.
func (c *SessionChannel) Typing() {
	c.store.NotifyTyping(c.sessionID, c.role)
}

// handleSessionDeleted reacts to the session row disappearing. A remote end
// gets the disconnect notice and a grace delay before the controller flips to
// ended; a locally initiated end skips both.
func (c *SessionChannel) handleSessionDeleted() {
	c.mu.Lock()
	local := c.localEnd
	c.mu.Unlock()

	if local {
		c.signalEnded()
		return
	}

	c.systemNotice(disconnectNotice)
	time.AfterFunc(c.announceDelay, c.signalEnded)
}

// Send runs the outbound path: trim, length cap, rate limit, moderation,
// optimistic local append, store insert. A store failure rolls the optimistic
// entry back and is returned to the caller.
func (c *SessionChannel) Send(text string) (SendResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return SendResult{}, nil
	}
	if utf8.RuneCountInString(trimmed) > config.MaxMessageLength {
		return SendResult{}, storage.ErrMessageTooLong
	}

	if c.limiter != nil && !c.limiter.Allow() {
		return c.rejected(moderation.ReasonSpam), nil
	}

	if res := moderation.Check(trimmed); !res.Allowed {
		if res.Reason == moderation.ReasonMinor {
			warning := moderation.Warning(res.Reason)
			c.warn(warning)
			c.End()
			return SendResult{Warning: warning, Ended: true}, nil
		}
		return c.rejected(res.Reason), nil
	}

	entry := UIMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderYou,
		Text:      trimmed,
		Timestamp: time.Now(),
	}
	c.appendEntry(entry)
	c.notify(ClientEvent{Type: EventMessage, SessionID: c.sessionID, Sender: models.SenderYou, Text: trimmed})

	if _, err := c.store.InsertMessage(c.sessionID, c.role, trimmed); err != nil {
		c.removeEntry(entry.ID)
		return SendResult{}, err
	}
	return SendResult{Sent: true}, nil
}

// rejected counts a violation, warns, and ends the session when the
// violation limit is reached. Violations are per session, never persistent.
func (c *SessionChannel) rejected(reason moderation.Reason) SendResult {
	c.mu.Lock()
	c.violations++
	count := c.violations
	c.mu.Unlock()

	if count >= c.violationLimit {
		c.warn(moderation.WarningTooManyViolations)
		c.End()
		return SendResult{Warning: moderation.WarningTooManyViolations, Ended: true}
	}

	warning := moderation.Warning(reason)
	c.warn(warning)
	return SendResult{Warning: warning}
}

// End terminates the session for both participants. Deleting the row is what
// notifies the peer; deleting an already-gone session is a no-op.
func (c *SessionChannel) End() {
	c.mu.Lock()
	c.localEnd = true
	c.mu.Unlock()

	if _, err := c.store.DeleteSession(c.sessionID); err != nil {
		log.Printf("ERROR: failed to delete session %s: %v", c.sessionID, err)
		// The peer cannot be notified; end locally regardless.
		c.signalEnded()
	}
}

// Report files a report against the session and ends it.
func (c *SessionChannel) Report() {
	if err := c.store.InsertReport(c.sessionID, reportReason); err != nil {
		log.Printf("ERROR: failed to file report for session %s: %v", c.sessionID, err)
	}
	c.End()
}

// Ended is closed once the session is over and any disconnect grace delay
// has elapsed.
func (c *SessionChannel) Ended() <-chan struct{} { return c.ended }

// Close tears the channel down without ending the session for the peer.
func (c *SessionChannel) Close() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.msgSub.Cancel()
		c.endSub.Cancel()
	})
}

// Log returns a snapshot of the local message log.
func (c *SessionChannel) Log() []UIMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UIMessage, len(c.logEntries))
	copy(out, c.logEntries)
	return out
}

// Violations returns the per-session violation count.
func (c *SessionChannel) Violations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}

// StrangerTyping reports the peer typing flag; it clears whenever a peer
// message arrives.
func (c *SessionChannel) StrangerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strangerTyping
}

func (c *SessionChannel) signalEnded() {
	c.endedOnce.Do(func() { close(c.ended) })
	c.Close()
}

func (c *SessionChannel) appendEntry(entry UIMessage) {
	c.mu.Lock()
	c.logEntries = append(c.logEntries, entry)
	c.mu.Unlock()
}

func (c *SessionChannel) removeEntry(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, entry := range c.logEntries {
		if entry.ID == id {
			c.logEntries = append(c.logEntries[:i], c.logEntries[i+1:]...)
			return
		}
	}
}

// systemNotice appends an informational system line (connected, disconnected).
func (c *SessionChannel) systemNotice(text string) {
	c.appendEntry(UIMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderSystem,
		Text:      text,
		Timestamp: time.Now(),
	})
	c.notify(ClientEvent{Type: EventMessage, SessionID: c.sessionID, Sender: models.SenderSystem, Text: text})
}

// warn appends a moderation warning to the log and raises a warning event.
func (c *SessionChannel) warn(text string) {
	c.appendEntry(UIMessage{
		ID:        uuid.New().String(),
		Sender:    models.SenderSystem,
		Text:      text,
		Timestamp: time.Now(),
	})
	c.notify(ClientEvent{Type: EventWarning, SessionID: c.sessionID, Sender: models.SenderSystem, Text: text})
}
