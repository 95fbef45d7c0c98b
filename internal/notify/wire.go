package notify

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"fitchat/internal/bus"
	"fitchat/internal/channel"
	"fitchat/internal/presence"
)

// ProvideDispatcher is a Wire provider function for the default log
// dispatcher; a push subsystem replaces it at the injector.
func ProvideDispatcher(log zerolog.Logger) Dispatcher {
	return NewLogDispatcher(log)
}

// ProvideService is a Wire provider function that creates the emitter.
func ProvideService(b *bus.Bus, directory *channel.Directory, registry *presence.Registry, dispatcher Dispatcher, log zerolog.Logger) *Service {
	return NewService(b, directory, registry, dispatcher, log)
}

var Set = wire.NewSet(ProvideDispatcher, ProvideService)
