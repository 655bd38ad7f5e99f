// Package telegram is the second client transport: it drives the same
// controller state machine as the websocket clients, so a Telegram user and
// a browser user can be paired with each other.
package telegram

import (
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"emberchat/backend/internal/chathub"
	"emberchat/backend/internal/models"
	"emberchat/backend/internal/storage"
)

const welcomeText = "Welcome to Emberchat. You are anonymous here.\n" +
	"Pick a mode to get paired with a stranger:\n" +
	"/confession — confess something\n" +
	"/spicy — flirty chat\n" +
	"/free — talk about anything\n\n" +
	"In a chat: /skip finds a new stranger, /report reports them, /stop leaves."

// BotService receives Telegram updates and routes them to per-chat
// controllers.
type BotService struct {
	BotAPI *tgbotapi.BotAPI
	Hub    *chathub.Hub
	Store  storage.Store
	Opts   chathub.Options

	clients map[int64]*Client
}

func NewBotService(token string, hub *chathub.Hub, store storage.Store, opts chathub.Options) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("Authorized on Telegram account %s", bot.Self.UserName)

	return &BotService{
		BotAPI:  bot,
		Hub:     hub,
		Store:   store,
		Opts:    opts,
		clients: make(map[int64]*Client),
	}, nil
}

// Run polls for updates until the channel closes.
func (s *BotService) Run() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	for update := range s.BotAPI.GetUpdatesChan(u) {
		if update.Message == nil {
			continue
		}
		s.handleMessage(update.Message)
	}
}

func (s *BotService) handleMessage(msg *tgbotapi.Message) {
	client := s.clientFor(msg.Chat.ID)
	ctrl := client.Controller()

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			s.reply(msg.Chat.ID, welcomeText)
		case "confession":
			ctrl.JoinQueue(models.ModeConfession)
		case "spicy":
			ctrl.JoinQueue(models.ModeSpicy)
		case "free":
			ctrl.JoinQueue(models.ModeFree)
		case "skip":
			ctrl.Skip()
		case "report":
			ctrl.ReportPeer()
			s.reply(msg.Chat.ID, "Thanks, the report has been filed.")
		case "stop":
			switch ctrl.State() {
			case chathub.StateQueued:
				ctrl.Cancel()
				s.reply(msg.Chat.ID, "Stopped searching.")
			case chathub.StateChatting:
				ctrl.Skip()
			default:
				s.reply(msg.Chat.ID, "Nothing to stop.")
			}
		default:
			s.reply(msg.Chat.ID, "Unknown command. Try /free, /spicy or /confession.")
		}
		return
	}

	if msg.Text != "" {
		ctrl.Send(msg.Text)
	}
}

// clientFor returns the live client for a Telegram chat, creating and
// registering it on first contact.
func (s *BotService) clientFor(chatID int64) *Client {
	if client, ok := s.clients[chatID]; ok {
		return client
	}
	client := NewClient(chatID, s.BotAPI, s.Store, s.Opts)
	s.clients[chatID] = client
	s.Hub.RegisterCh <- client
	client.Run()
	return client
}

func (s *BotService) reply(chatID int64, text string) {
	if _, err := s.BotAPI.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("ERROR: failed to send Telegram message to %d: %v", chatID, err)
	}
}
