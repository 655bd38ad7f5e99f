package handler

import (
	"emberchat/backend/internal/chathub"
	"emberchat/backend/internal/config"
	"emberchat/backend/internal/storage"
)

// Handler bundles the dependencies of the HTTP surface.
type Handler struct {
	Hub   *chathub.Hub
	Store storage.Store
	Cfg   *config.Config
}

func NewHandler(hub *chathub.Hub, store storage.Store, cfg *config.Config) *Handler {
	return &Handler{Hub: hub, Store: store, Cfg: cfg}
}
