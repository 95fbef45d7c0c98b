package feed

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"fitchat/config"
	"fitchat/internal/bus"
)

// ProvideListener is a Wire provider function that creates the change
// feed listener on the configured database.
func ProvideListener(cfg *config.Config, b *bus.Bus, log zerolog.Logger) *Listener {
	return NewListener(cfg.DatabaseURL, b, log)
}

var Set = wire.NewSet(ProvideListener)
