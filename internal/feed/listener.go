package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"fitchat/internal/bus"
)

// NotifyChannel is the pg_notify channel the triggers publish to.
const NotifyChannel = "fitchat_changes"

const (
	minReconnectInterval = time.Second
	maxReconnectInterval = 30 * time.Second
	pingInterval         = 90 * time.Second
)

// Listener bridges the Postgres change feed into the event bus. Every
// row mutation on messages, reactions and read_receipts arrives here as
// a NOTIFY payload, regardless of which writer produced it, which is
// what keeps batch writers and the API path consistent.
type Listener struct {
	pql *pq.Listener
	bus *bus.Bus
	log zerolog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewListener(dsn string, b *bus.Bus, log zerolog.Logger) *Listener {
	l := &Listener{
		bus:  b,
		log:  log.With().Str("component", "change-feed").Logger(),
		done: make(chan struct{}),
	}
	l.pql = pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, l.onListenerEvent)
	return l
}

func (l *Listener) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.Warn().Err(err).Msg("change feed connection attempt failed")
	case pq.ListenerEventDisconnected:
		l.log.Warn().Err(err).Msg("change feed disconnected")
	case pq.ListenerEventReconnected:
		// Notifications sent while disconnected are gone; subscribers
		// re-fetch history since their newest message and dedup.
		l.log.Info().Msg("change feed reconnected")
		l.bus.NotifyDisruption(bus.CodeChannelError, fmt.Errorf("change feed reconnected, possible gap"))
	}
}

// Start begins listening and dispatching. Safe to call more than once.
func (l *Listener) Start() error {
	var startErr error
	l.startOnce.Do(func() {
		if err := l.pql.Listen(NotifyChannel); err != nil {
			startErr = fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
			return
		}
		l.wg.Add(1)
		go l.run()
		l.log.Info().Str("notify_channel", NotifyChannel).Msg("change feed started")
	})
	return startErr
}

// Stop shuts the listener down. Safe to call more than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		if err := l.pql.Close(); err != nil {
			l.log.Warn().Err(err).Msg("failed to close change feed listener")
		}
		l.wg.Wait()
		l.log.Info().Msg("change feed stopped")
	})
}

// run is the single dispatch goroutine; per-channel commit order is
// preserved because nothing else publishes durable events.
func (l *Listener) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case n := <-l.pql.Notify:
			if n == nil {
				// nil marks a reconnect; onListenerEvent already told
				// the bus.
				continue
			}
			l.dispatch([]byte(n.Extra))
		case <-time.After(pingInterval):
			go func() {
				if err := l.pql.Ping(); err != nil {
					l.log.Warn().Err(err).Msg("change feed ping failed")
				}
			}()
		}
	}
}

func (l *Listener) dispatch(payload []byte) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to decode change feed payload")
		return
	}
	l.bus.PublishChange(ev)
}
