package presence

import (
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"fitchat/config"
)

// ProvideOptions is a Wire provider function that maps config to the
// presence timing windows.
func ProvideOptions(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.AwayAfter = cfg.AwayAfter
	opts.StalenessCutoff = cfg.StalenessCutoff
	opts.TypingSilence = cfg.TypingSilence
	return opts
}

// ProvideRegistry is a Wire provider function that creates the Registry.
func ProvideRegistry(opts Options, sink Broadcaster, log zerolog.Logger) *Registry {
	return NewRegistry(opts, sink, log)
}

var Set = wire.NewSet(ProvideOptions, ProvideRegistry)
