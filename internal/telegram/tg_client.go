package telegram

import (
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"emberchat/backend/internal/chathub"
	"emberchat/backend/internal/models"
	"emberchat/backend/internal/storage"
)

// Client adapts one Telegram chat into a hub client. Controller events are
// rendered as plain bot messages.
type Client struct {
	chatID int64
	anonID string
	bot    *tgbotapi.BotAPI
	ctrl   *chathub.Controller

	events chan chathub.ClientEvent

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(chatID int64, bot *tgbotapi.BotAPI, store storage.Store, opts chathub.Options) *Client {
	c := &Client{
		chatID: chatID,
		anonID: uuid.New().String(),
		bot:    bot,
		events: make(chan chathub.ClientEvent, 64),
		done:   make(chan struct{}),
	}
	c.ctrl = chathub.NewController(c.anonID, store, opts, c.events)
	return c
}

func (c *Client) AnonID() string                  { return c.anonID }
func (c *Client) Controller() *chathub.Controller { return c.ctrl }

func (c *Client) Run() {
	go c.writeLoop()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.ctrl.Shutdown()
		close(c.done)
	})
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			if text := renderEvent(ev); text != "" {
				if _, err := c.bot.Send(tgbotapi.NewMessage(c.chatID, text)); err != nil {
					log.Printf("ERROR: failed to deliver event to Telegram chat %d: %v", c.chatID, err)
				}
			}
		}
	}
}

// renderEvent maps a controller event to bot text. Own messages are not
// echoed back; Telegram already shows them.
func renderEvent(ev chathub.ClientEvent) string {
	switch ev.Type {
	case chathub.EventQueued:
		return "Looking for a stranger..."
	case chathub.EventMessage:
		switch ev.Sender {
		case models.SenderStranger:
			return "Stranger: " + ev.Text
		case models.SenderSystem:
			return ev.Text
		}
		return ""
	case chathub.EventWarning:
		return ev.Text
	case chathub.EventEnded:
		return "Chat ended. Send /free, /spicy or /confession to find a new stranger."
	case chathub.EventError:
		return "Something went wrong: " + ev.Text
	default:
		return ""
	}
}
