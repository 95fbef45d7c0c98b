package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fitchat/internal/channel"
)

// Registry owns the ephemeral presence state behind a narrow interface.
// Mutations are last-write-wins: presence is advisory, so whichever
// session reports last is authoritative and no distributed lock is
// needed. Lost heartbeats age out to offline; there is no failure path.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	typing  map[string]map[string]time.Time

	opts Options
	sink Broadcaster
	log  zerolog.Logger
	now  func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewRegistry(opts Options, sink Broadcaster, log zerolog.Logger) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		typing:  make(map[string]map[string]time.Time),
		opts:    opts,
		sink:    sink,
		log:     log.With().Str("component", "presence-registry").Logger(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Start launches the background reaper. Safe to call more than once.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
		r.log.Info().Msg("presence reaper started")
	})
}

// Stop shuts the reaper down. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.log.Info().Msg("presence reaper stopped")
	})
}

func (r *Registry) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

type broadcastFn func()

// Report records a tracked activity: it resets the away timer, refreshes
// last_seen and moves the user's channel location.
func (r *Registry) Report(a Activity) {
	var emit []broadcastFn

	r.mu.Lock()
	rec := r.touch(a.UserID)
	rec.LastSeen = r.now()
	if a.Device != "" {
		rec.Device = a.Device
	}

	switch a.Type {
	case ActivityStatusChange:
		if a.Status != "" {
			rec.Status = a.Status
		}
	case ActivityJoinedChannel:
		if a.Channel != nil {
			loc := *a.Channel
			rec.Location = &loc
		}
		rec.Status = StatusOnline
	case ActivityLeftChannel:
		if a.Channel != nil && rec.Location != nil && *rec.Location == *a.Channel {
			rec.Location = nil
		}
		rec.Status = StatusOnline
	default:
		rec.Activity = a.Tag
		rec.Status = StatusOnline
	}

	if rec.Location != nil && r.sink != nil {
		ref, userID, status, lastSeen := *rec.Location, rec.UserID, rec.Status, rec.LastSeen
		emit = append(emit, func() { r.sink.BroadcastPresence(ref, userID, status, lastSeen) })
	}
	r.mu.Unlock()

	for _, fn := range emit {
		fn()
	}
}

// Heartbeat refreshes last_seen without changing status, keeping
// connected-but-idle clients from silently expiring. Sent every 30s by
// live transports while the user is online.
func (r *Registry) Heartbeat(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok || rec.Status != StatusOnline {
		return
	}
	rec.LastSeen = r.now()
}

// Disconnect marks a clean disconnect: explicit offline, location and
// typing cleared.
func (r *Registry) Disconnect(userID string) {
	var emit []broadcastFn

	r.mu.Lock()
	rec, ok := r.records[userID]
	if ok {
		if rec.Location != nil && r.sink != nil {
			ref, lastSeen := *rec.Location, rec.LastSeen
			emit = append(emit, func() { r.sink.BroadcastPresence(ref, userID, StatusOffline, lastSeen) })
		}
		rec.Status = StatusOffline
		rec.Typing = false
		rec.Location = nil
	}
	for key, users := range r.typing {
		if _, typing := users[userID]; typing {
			delete(users, userID)
			if ref, err := channel.ParseRef(key); err == nil && r.sink != nil {
				emit = append(emit, func() { r.sink.BroadcastTyping(ref, userID, false) })
			}
		}
	}
	r.mu.Unlock()

	for _, fn := range emit {
		fn()
	}
}

// OnlineUsers filters the global set to users located in ref whose
// status is online and whose last_seen is fresh.
func (r *Registry) OnlineUsers(ref channel.Ref) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var online []Record
	for _, rec := range r.records {
		if rec.Location == nil || *rec.Location != ref {
			continue
		}
		if r.effective(rec) != StatusOnline {
			continue
		}
		online = append(online, *rec)
	}
	return online
}

// IsUserOnline scans across all channels; a user can be present without
// a channel location.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[userID]
	return ok && r.effective(rec) == StatusOnline
}

// StartTyping marks the user typing in ref. Typing auto-expires after
// the silence window even without a stop.
func (r *Registry) StartTyping(userID string, ref channel.Ref) {
	r.mu.Lock()
	rec := r.touch(userID)
	rec.Typing = true
	rec.LastSeen = r.now()
	key := ref.String()
	if r.typing[key] == nil {
		r.typing[key] = make(map[string]time.Time)
	}
	r.typing[key][userID] = r.now().Add(r.opts.TypingSilence)
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.BroadcastTyping(ref, userID, true)
	}
}

// StopTyping clears the typing flag immediately.
func (r *Registry) StopTyping(userID string, ref channel.Ref) {
	r.mu.Lock()
	if rec, ok := r.records[userID]; ok {
		rec.Typing = false
	}
	removed := false
	if users, ok := r.typing[ref.String()]; ok {
		if _, typing := users[userID]; typing {
			delete(users, userID)
			removed = true
		}
	}
	r.mu.Unlock()

	if removed && r.sink != nil {
		r.sink.BroadcastTyping(ref, userID, false)
	}
}

// TypingUsers returns the unexpired typing set for ref.
func (r *Registry) TypingUsers(ref channel.Ref) []string {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []string
	for userID, expiry := range r.typing[ref.String()] {
		if expiry.After(now) {
			users = append(users, userID)
		}
	}
	return users
}

// Reap flips idle users to away and clears expired typing entries. The
// background loop calls this on every tick.
func (r *Registry) Reap() {
	now := r.now()
	var emit []broadcastFn

	r.mu.Lock()
	for _, rec := range r.records {
		if rec.Status == StatusOnline && now.Sub(rec.LastSeen) >= r.opts.AwayAfter {
			rec.Status = StatusAway
			if rec.Location != nil && r.sink != nil {
				ref, userID, lastSeen := *rec.Location, rec.UserID, rec.LastSeen
				emit = append(emit, func() { r.sink.BroadcastPresence(ref, userID, StatusAway, lastSeen) })
			}
		}
	}
	for key, users := range r.typing {
		for userID, expiry := range users {
			if !expiry.After(now) {
				delete(users, userID)
				if rec, ok := r.records[userID]; ok {
					rec.Typing = false
				}
				if ref, err := channel.ParseRef(key); err == nil && r.sink != nil {
					uid := userID
					emit = append(emit, func() { r.sink.BroadcastTyping(ref, uid, false) })
				}
			}
		}
		if len(users) == 0 {
			delete(r.typing, key)
		}
	}
	r.mu.Unlock()

	for _, fn := range emit {
		fn()
	}
}

// touch returns the record for userID, creating it if needed. Caller
// holds the write lock.
func (r *Registry) touch(userID string) *Record {
	rec, ok := r.records[userID]
	if !ok {
		rec = &Record{UserID: userID, Status: StatusOnline}
		r.records[userID] = rec
	}
	return rec
}

// effective applies the staleness cutoff. Caller holds at least the read
// lock.
func (r *Registry) effective(rec *Record) Status {
	if r.now().Sub(rec.LastSeen) > r.opts.StalenessCutoff {
		return StatusOffline
	}
	return rec.Status
}
