// Package policy implements the access decision pipeline: dedup gate →
// user/blocklist resolution → blocked-first decision → entry/exit gate →
// privacy gate → record. It is a pure function of injected clock,
// user/blocklist snapshots and in-memory dedup/tracker state, so it
// needs no I/O to unit test.
package policy

import (
	"sync"
	"time"

	"github.com/ocx/accessd/internal/model"
)

// Users resolves a card to its user record, if any.
type Users interface {
	Get(card string) (model.User, bool)
}

// Blocklist reports whether a card is blocked.
type Blocklist interface {
	IsBlocked(card string) bool
}

// Relays actuates a relay for an allowed scan. Actuation never blocks the
// caller and never depends on logging/upload succeeding.
type Relays interface {
	Pulse(relay int, duration time.Duration) error
}

// Recorder receives a completed Transaction. The engine calls it after the
// privacy gate, so a privacy-protected user never reaches a Recorder.
type Recorder interface {
	Record(tx model.Transaction)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ConfigProvider returns the live runtime config snapshot (scan delay,
// entry/exit tracking), consulted on every scan so a hot-reloaded config
// takes effect immediately without recreating the Engine.
type ConfigProvider interface {
	Get() model.Config
}

// Engine is the access policy engine.
type Engine struct {
	users     Users
	blocklist Blocklist
	relays    Relays
	recorder  Recorder
	config    ConfigProvider
	clock     Clock

	mu      sync.Mutex
	dedup   map[string]time.Time
	tracker map[string]time.Time
}

// New builds an Engine. clock may be nil to use the real wall clock.
func New(users Users, blocklist Blocklist, relays Relays, recorder Recorder, config ConfigProvider, clock Clock) *Engine {
	if clock == nil {
		clock = realClock{}
	}
	return &Engine{
		users:     users,
		blocklist: blocklist,
		relays:    relays,
		recorder:  recorder,
		config:    config,
		clock:     clock,
		dedup:     make(map[string]time.Time),
		tracker:   make(map[string]time.Time),
	}
}

// HandleScan runs the full decision pipeline for one (card, reader) event
// delivered by a Wiegand decoder.
func (e *Engine) HandleScan(card string, reader int) {
	now := e.clock.Now()
	cfg := e.config.Get()

	// 1. Dedup gate.
	e.mu.Lock()
	if last, ok := e.dedup[card]; ok && now.Sub(last) < time.Duration(cfg.ScanDelaySeconds)*time.Second {
		e.mu.Unlock()
		return
	}
	e.dedup[card] = now
	e.mu.Unlock()

	// 2. Resolve user / blocklist.
	user, found := e.users.Get(card)
	blocked := e.blocklist.IsBlocked(card)

	// 3. Decision — blocked strictly precedes actuation.
	var name string
	var status model.Status
	var privacy bool

	switch {
	case blocked:
		status, name, privacy = model.StatusBlocked, "Blocked", false
	case found:
		status, name, privacy = model.StatusGranted, user.Name, user.PrivacyProtected
		e.relays.Pulse(reader, 0) //nolint:errcheck // actuation failure is logged by the relay driver, never escalated here
	default:
		status, name, privacy = model.StatusDenied, "Unknown", false
	}

	// 4. Entry/exit gate. The tracker only advances on the first scan and
	// on an accepted (>= gap) scan; a scan suppressed for being inside the
	// gap must not move the reference point, or a card presented
	// repeatedly within the gap would never accumulate enough elapsed time
	// to be accepted.
	if cfg.EntryExit.Enabled {
		e.mu.Lock()
		last, seen := e.tracker[card]
		e.mu.Unlock()

		if !seen {
			e.mu.Lock()
			e.tracker[card] = now
			e.mu.Unlock()
			return
		}
		gap := time.Duration(cfg.EntryExit.MinGapSeconds) * time.Second
		if now.Sub(last) < gap {
			return
		}
		e.mu.Lock()
		e.tracker[card] = now
		e.mu.Unlock()
	}

	// 5. Privacy gate — a privacy-protected user produces zero records.
	if privacy {
		return
	}

	// 6. Record.
	e.recorder.Record(model.Transaction{
		Name:      name,
		Card:      card,
		Reader:    reader,
		Status:    status,
		Timestamp: now.Unix(),
	})
}
