package bus

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"fitchat/internal/presence"
)

// ProvideBus is a Wire provider function that creates the event bus.
func ProvideBus(log zerolog.Logger) *Bus {
	return New(log)
}

// ProvideBroadcaster exposes the bus as the presence fan-out path.
func ProvideBroadcaster(b *Bus) presence.Broadcaster {
	return b
}

var Set = wire.NewSet(ProvideBus, ProvideBroadcaster)
