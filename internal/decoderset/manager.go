// Package decoderset owns the live set of per-reader Wiegand decoders
// and implements config.Reinitializer so a runtime config change can
// safely tear down and recreate them with new bit widths/timeouts.
package decoderset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/accessd/internal/model"
	"github.com/ocx/accessd/internal/wiegand"
)

// Pins is the pair of GPIO input lines for one reader.
type Pins struct {
	D0, D1 wiegand.Pin
}

// Set manages one Decoder per reader, recreating all of them on
// Reinitialize. Pin objects are supplied once at construction and
// reused across restarts; only the bit width/timeout are reconfigured.
type Set struct {
	mu        sync.Mutex
	ctx       context.Context
	pins      map[int]Pins
	onEvent   func(wiegand.Event)
	onDiscard func(reason string)
	decoders  map[int]*wiegand.Decoder
}

// New builds and starts a decoder for every entry in pins, using the
// bit widths/timeout from the initial cfg. onDiscard may be nil; it is
// forwarded to every decoder's OnDiscard hook for decode-failure counting.
func New(parent context.Context, pins map[int]Pins, cfg model.Config, onEvent func(wiegand.Event), onDiscard func(reason string)) (*Set, error) {
	s := &Set{
		ctx:       parent,
		pins:      pins,
		onEvent:   onEvent,
		onDiscard: onDiscard,
		decoders:  make(map[int]*wiegand.Decoder, len(pins)),
	}
	if err := s.start(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) start(cfg model.Config) error {
	timeout := time.Duration(cfg.WiegandTimeoutMs) * time.Millisecond
	for reader, p := range s.pins {
		bits := cfg.WiegandBits[reader]
		dec, err := wiegand.New(s.ctx, wiegand.Config{
			ReaderID:  reader,
			D0:        p.D0,
			D1:        p.D1,
			Bits:      bits,
			Timeout:   timeout,
			OnEvent:   s.onEvent,
			OnDiscard: s.onDiscard,
		})
		if err != nil {
			// Roll back any decoders already started this pass.
			for _, started := range s.decoders {
				started.Close()
			}
			s.decoders = make(map[int]*wiegand.Decoder, len(s.pins))
			return fmt.Errorf("decoderset: start reader %d: %w", reader, err)
		}
		s.decoders[reader] = dec
	}
	return nil
}

// Reinitialize implements config.Reinitializer: every decoder is closed
// (discarding in-flight partial frames) and a fresh set is started with
// the new config. Never returns a partial success: either all decoders
// come up or the previous set is left closed and the error is returned
// for the caller to log as a warning.
func (s *Set) Reinitialize(cfg model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for reader, dec := range s.decoders {
		dec.Close()
		slog.Info("wiegand decoder stopped for restart", "reader", reader)
	}
	s.decoders = make(map[int]*wiegand.Decoder, len(s.pins))

	return s.start(cfg)
}

// Close stops every decoder.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dec := range s.decoders {
		dec.Close()
	}
}
