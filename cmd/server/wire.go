//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"fitchat/config"
	"fitchat/internal/api"
	"fitchat/internal/bus"
	"fitchat/internal/channel"
	"fitchat/internal/database"
	"fitchat/internal/feed"
	"fitchat/internal/identity"
	"fitchat/internal/message"
	"fitchat/internal/notify"
	"fitchat/internal/presence"
)

var AppSet = wire.NewSet(
	database.Set,
	channel.Set,
	message.Set,
	identity.Set,
	bus.Set,
	presence.Set,
	feed.Set,
	notify.Set,
	api.Set,
	NewApp,
)

func InitializeApp(cfg *config.Config, log zerolog.Logger) (*App, error) {
	wire.Build(AppSet)

	return &App{}, nil
}
