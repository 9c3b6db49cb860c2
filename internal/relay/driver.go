// Package relay drives the door-strike relays. Each relay is a tiny state
// machine — Idle, HeldOpen, HeldClosed — so a manual admin override can
// never be re-armed by an ordinary access scan.
package relay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Pin is the minimal surface this package needs from a GPIO output line.
type Pin interface {
	Out(l gpio.Level) error
}

const DefaultPulseDuration = 1 * time.Second

type state struct {
	mu   sync.Mutex
	pin  Pin
	mode string // model.RelayState value, kept as a plain string to avoid an import cycle
}

// Driver owns every relay's pin and state machine behind a single
// process-wide GPIO lock.
type Driver struct {
	gpioLock sync.Mutex
	relays   map[int]*state
}

// New builds a Driver over the given reader/relay-id → pin mapping.
func New(pins map[int]Pin) *Driver {
	d := &Driver{relays: make(map[int]*state, len(pins))}
	for id, p := range pins {
		d.relays[id] = &state{pin: p, mode: "Idle"}
	}
	return d
}

func (d *Driver) get(relay int) (*state, error) {
	s, ok := d.relays[relay]
	if !ok {
		return nil, fmt.Errorf("relay: unknown relay %d", relay)
	}
	return s, nil
}

// State returns the current mode of a relay.
func (d *Driver) State(relay int) (string, error) {
	s, err := d.get(relay)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

func (d *Driver) drive(s *state, level gpio.Level) error {
	d.gpioLock.Lock()
	defer d.gpioLock.Unlock()
	return s.pin.Out(level)
}

// Pulse drives the relay active for duration then releases it, unless the
// relay is currently held open or closed by a manual override — in which
// case the pulse is ignored and logged. Runs on its own goroutine so the
// caller (the access policy engine's hot path) never blocks on relay timing.
func (d *Driver) Pulse(relay int, duration time.Duration) error {
	s, err := d.get(relay)
	if err != nil {
		return err
	}
	if duration <= 0 {
		duration = DefaultPulseDuration
	}

	s.mu.Lock()
	if s.mode != "Idle" {
		mode := s.mode
		s.mu.Unlock()
		slog.Info("automatic pulse ignored: relay held", "relay", relay, "mode", mode)
		return nil
	}
	s.mu.Unlock()

	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Re-check under lock: a hold may have landed between the check
		// above and this goroutine's scheduling.
		if s.mode != "Idle" {
			slog.Info("automatic pulse ignored: relay held", "relay", relay, "mode", s.mode)
			return
		}
		if err := d.drive(s, gpio.High); err != nil {
			slog.Warn("relay drive failed", "relay", relay, "error", err)
			return
		}
		time.Sleep(duration)
		if err := d.drive(s, gpio.Low); err != nil {
			slog.Warn("relay release failed", "relay", relay, "error", err)
		}
	}()
	return nil
}

// HoldOpen drives the relay active and latches it open until Normalize.
func (d *Driver) HoldOpen(relay int) error {
	s, err := d.get(relay)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.drive(s, gpio.High); err != nil {
		return err
	}
	s.mode = "HeldOpen"
	return nil
}

// HoldClosed drives the relay inactive and latches it closed until Normalize.
func (d *Driver) HoldClosed(relay int) error {
	s, err := d.get(relay)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.drive(s, gpio.Low); err != nil {
		return err
	}
	s.mode = "HeldClosed"
	return nil
}

// Normalize releases the relay and returns it to Idle, re-arming automatic
// pulses. This is the only transition out of a held state.
func (d *Driver) Normalize(relay int) error {
	s, err := d.get(relay)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.drive(s, gpio.Low); err != nil {
		return err
	}
	s.mode = "Idle"
	return nil
}
