package main

import (
	"github.com/rs/zerolog"

	"fitchat/config"
	"fitchat/internal/api"
	"fitchat/internal/bus"
	"fitchat/internal/database"
	"fitchat/internal/feed"
	"fitchat/internal/notify"
	"fitchat/internal/presence"
)

// App bundles the long-lived components main starts and stops.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *database.Database
	Bus      *bus.Bus
	Registry *presence.Registry
	Feed     *feed.Listener
	Notify   *notify.Service
	Server   *api.Server
}

func NewApp(
	cfg *config.Config,
	log zerolog.Logger,
	db *database.Database,
	b *bus.Bus,
	registry *presence.Registry,
	feedListener *feed.Listener,
	notifier *notify.Service,
	server *api.Server,
) *App {
	return &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Bus:      b,
		Registry: registry,
		Feed:     feedListener,
		Notify:   notifier,
		Server:   server,
	}
}
