// Package chathub contains the client-side pairing and session machinery:
// the matchmaker that rendezvous two waiting clients through the store, the
// session channel that streams messages between them, and the controller
// state machine a transport drives.
package chathub

import (
	"time"

	"emberchat/backend/internal/config"
)

// EventType enumerates what a transport can deliver to its user.
type EventType string

const (
	EventQueued  EventType = "queued"
	EventMatched EventType = "matched"
	EventMessage EventType = "message"
	EventWarning EventType = "warning"
	EventEnded   EventType = "ended"
	EventError   EventType = "error"
)

// ClientEvent is one UI-visible occurrence. Sender is one of the UI tags
// (you, stranger, system), never a store role.
type ClientEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Client is the interface for any type of connection (e.g. WebSocket,
// Telegram). It abstracts the underlying transport so the hub can manage
// different client types uniformly.
type Client interface {
	// AnonID returns the ephemeral identifier for this connection.
	AnonID() string
	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the client's connection and associated channels.
	Close()
}

// Options carries the session and matchmaking tunables into the hub types.
type Options struct {
	SendMinInterval         time.Duration
	ViolationLimit          int
	QueueStaleAfter         time.Duration
	DisconnectAnnounceDelay time.Duration
	MatchRetryLimit         int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SendMinInterval:         cfg.SendMinInterval,
		ViolationLimit:          cfg.ViolationLimit,
		QueueStaleAfter:         cfg.QueueStaleAfter,
		DisconnectAnnounceDelay: cfg.DisconnectAnnounceDelay,
		MatchRetryLimit:         cfg.MatchRetryLimit,
	}
}

// DefaultOptions returns the stock tunables from the config defaults.
func DefaultOptions() Options {
	return Options{
		SendMinInterval:         config.DefaultSendMinInterval,
		ViolationLimit:          config.DefaultViolationLimit,
		QueueStaleAfter:         config.DefaultQueueStaleAfter,
		DisconnectAnnounceDelay: config.DefaultDisconnectAnnounceDelay,
		MatchRetryLimit:         config.DefaultMatchRetryLimit,
	}
}
