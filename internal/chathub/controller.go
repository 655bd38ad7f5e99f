package chathub

import (
	"context"
	"errors"
	"log"
	"sync"

	"emberchat/backend/internal/models"
	"emberchat/backend/internal/storage"
)

// Controller states, driven only by matchmaker results, user actions and the
// session-ended event.
type State string

const (
	StateLanding    State = "landing"
	StateModeSelect State = "mode_select"
	StateQueued     State = "queued"
	StateChatting   State = "chatting"
	StatePostChat   State = "post_chat"
)

// Controller is the per-connection state machine orchestrating the
// matchmaker and the session channel. Transports call its methods from their
// read side and receive ClientEvents on the send channel they provided.
type Controller struct {
	anonID  string
	store   storage.Store
	opts    Options
	matcher *Matchmaker
	send    chan<- ClientEvent

	mu            sync.Mutex
	state         State
	mode          string
	session       *SessionChannel
	sessionID     string
	role          string
	feedbackGiven bool
	cancelQueue   context.CancelFunc
	// queueDone closes when the current join attempt's goroutine has fully
	// unwound, including the deletion of its queue row.
	queueDone chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func NewController(anonID string, store storage.Store, opts Options, send chan<- ClientEvent) *Controller {
	return &Controller{
		anonID:  anonID,
		store:   store,
		opts:    opts,
		matcher: NewMatchmaker(store, opts),
		send:    send,
		state:   StateLanding,
		done:    make(chan struct{}),
	}
}

func (c *Controller) AnonID() string { return c.anonID }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartChat moves from the landing screen to mode selection.
func (c *Controller) StartChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLanding || c.state == StatePostChat {
		c.state = StateModeSelect
	}
}

// NewChat returns to mode selection after a finished chat.
func (c *Controller) NewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePostChat {
		c.state = StateModeSelect
	}
}

// JoinQueue enters the matchmaker for mode. A client already queued is
// cancelled first and its attempt waited out, so at most one queue entry per
// client ever exists and a client can never match against itself.
func (c *Controller) JoinQueue(mode string) {
	if !models.ValidMode(mode) {
		c.emit(ClientEvent{Type: EventError, Text: "unknown chat mode"})
		return
	}

	c.mu.Lock()
	if c.state == StateChatting {
		c.mu.Unlock()
		c.emit(ClientEvent{Type: EventError, Text: "already in a chat"})
		return
	}
	cancel := c.cancelQueue
	unwound := c.queueDone
	c.mu.Unlock()

	// A prior attempt must fully unwind before the new one starts: its queue
	// row is deleted inside its own goroutine, and a join that starts too
	// early would pop this client's still-present row and claim itself.
	if unwound != nil {
		if cancel != nil {
			cancel()
		}
		<-unwound
	}

	c.mu.Lock()
	if c.state == StateChatting {
		// The prior attempt matched while we were cancelling it.
		c.mu.Unlock()
		c.emit(ClientEvent{Type: EventError, Text: "already in a chat"})
		return
	}
	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancelQueue = cancelFn
	c.queueDone = done
	c.state = StateQueued
	c.mode = mode
	c.mu.Unlock()

	c.emit(ClientEvent{Type: EventQueued})

	go func() {
		defer close(done)
		result, err := c.matcher.JoinQueue(ctx, mode)
		switch {
		case errors.Is(err, ErrCancelled):
			// Cancel already moved the state machine.
		case errors.Is(err, ErrNotMatched):
			c.setState(StateModeSelect)
			c.emit(ClientEvent{Type: EventError, Text: "could not find a match, please try again"})
		case err != nil:
			log.Printf("ERROR: queue join failed for client %s: %v", c.anonID, err)
			c.setState(StateModeSelect)
			c.emit(ClientEvent{Type: EventError, Text: "matchmaking is unavailable right now"})
		default:
			c.attachSession(result)
		}
	}()
}

// Cancel leaves the queue before a match and returns to the landing screen.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateQueued {
		return
	}
	if c.cancelQueue != nil {
		c.cancelQueue()
		c.cancelQueue = nil
	}
	c.state = StateLanding
}

func (c *Controller) attachSession(result *MatchResult) {
	c.mu.Lock()
	if c.state != StateQueued {
		// Raced with a cancel or shutdown; the peer will see us as
		// disconnected once the orphan reaper or their own skip cleans up.
		c.mu.Unlock()
		if _, err := c.store.DeleteSession(result.SessionID); err != nil {
			log.Printf("WARNING: failed to delete session %s after late match: %v", result.SessionID, err)
		}
		return
	}
	c.state = StateChatting
	c.sessionID = result.SessionID
	c.role = result.Role
	c.feedbackGiven = false
	c.cancelQueue = nil
	c.mu.Unlock()

	c.emit(ClientEvent{Type: EventMatched, SessionID: result.SessionID, Role: result.Role})

	session := Attach(c.store, result.SessionID, result.Role, c.opts, c.emit)
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	go func() {
		select {
		case <-session.Ended():
			c.mu.Lock()
			if c.session == session {
				c.session = nil
				c.state = StatePostChat
			}
			c.mu.Unlock()
			c.emit(ClientEvent{Type: EventEnded, SessionID: result.SessionID})
		case <-c.done:
		}
	}()
}

// Send pushes one outbound message through the session channel. Store
// failures during an active chat degrade to a generic disconnect.
func (c *Controller) Send(text string) {
	c.mu.Lock()
	session := c.session
	sessionID := c.sessionID
	c.mu.Unlock()
	if session == nil {
		c.emit(ClientEvent{Type: EventError, Text: "not in a chat"})
		return
	}

	_, err := session.Send(text)
	if errors.Is(err, storage.ErrMessageTooLong) {
		c.emit(ClientEvent{Type: EventError, Text: "message is too long"})
		return
	}
	if err != nil {
		log.Printf("ERROR: send failed for session %s: %v", sessionID, err)
		session.End()
	}
}

// Typing forwards the composing signal to the peer; a no-op outside a chat.
func (c *Controller) Typing() {
	if session := c.currentSession(); session != nil {
		session.Typing()
	}
}

// Skip ends the current chat for both sides.
func (c *Controller) Skip() {
	if session := c.currentSession(); session != nil {
		session.End()
	}
}

// ReportPeer files a report against the current session and ends it.
func (c *Controller) ReportPeer() {
	if session := c.currentSession(); session != nil {
		session.Report()
	}
}

// SubmitFeedback records the optional post-chat survey answer, at most once,
// and returns to the landing screen.
func (c *Controller) SubmitFeedback(gender string) {
	c.mu.Lock()
	if c.state != StatePostChat || c.feedbackGiven || c.sessionID == "" {
		c.mu.Unlock()
		return
	}
	c.feedbackGiven = true
	sessionID, role := c.sessionID, c.role
	c.state = StateLanding
	c.mu.Unlock()

	if err := c.store.InsertFeedback(sessionID, role, gender); err != nil {
		log.Printf("WARNING: failed to store feedback for session %s: %v", sessionID, err)
	}
}

// Shutdown tears the controller down when the transport goes away. A queued
// client is cancelled; a chatting client ends the session, which the peer
// observes as a disconnect.
func (c *Controller) Shutdown() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		if c.cancelQueue != nil {
			c.cancelQueue()
			c.cancelQueue = nil
		}
		session := c.session
		c.session = nil
		c.mu.Unlock()

		if session != nil {
			session.End()
			session.Close()
		}
		close(c.done)
	})
}

func (c *Controller) currentSession() *SessionChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// emit delivers an event to the transport without ever blocking the
// protocol goroutines; a slow transport loses events rather than stalling
// the session.
func (c *Controller) emit(ev ClientEvent) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- ev:
	default:
		log.Printf("WARNING: client %s event buffer full, dropping %s", c.anonID, ev.Type)
	}
}
