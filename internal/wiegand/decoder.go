// Package wiegand decodes Wiegand D0/D1 bitstreams from RFID readers into
// validated card numbers. One Decoder runs per physical reader.
//
// Grounded on the periph.io GPIO edge-watch pattern used by reference
// Wiegand readers: a goroutine per line blocks on WaitForEdge and appends
// a bit to a per-reader buffer; a second goroutine finalizes a frame once
// the configured bit count is reached or the inter-bit gap times out.
package wiegand

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Event is delivered once per completed, parity-valid frame.
type Event struct {
	ReaderID int
	Bits     int
	Card     string
}

// Pin is the minimal surface this package needs from a GPIO input line.
// periph.io/x/conn/v3/gpio.PinIO satisfies this structurally, and tests use
// a lightweight fake instead of real hardware.
type Pin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// Config configures one reader's decoder.
type Config struct {
	ReaderID  int
	D0, D1    Pin
	Bits      int           // 26 or 34
	Timeout   time.Duration // inter-bit gap before a partial frame is discarded
	OnEvent   func(Event)
	OnDiscard func(reason string) // optional, for tests/metrics
}

var validBits = map[int]bool{26: true, 34: true}

// Decoder watches one reader's D0/D1 lines and emits validated card events.
type Decoder struct {
	cfg Config

	mu          sync.Mutex
	bits        []byte
	lastBitTime time.Time

	pulse  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and starts the watcher goroutines. The returned Decoder
// must be stopped with Close before the owning process discards it —
// a config hot-reload calls Close on every decoder before recreating them.
func New(parent context.Context, cfg Config) (*Decoder, error) {
	if !validBits[cfg.Bits] {
		return nil, fmt.Errorf("wiegand: invalid bit count %d (must be 26 or 34)", cfg.Bits)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Millisecond
	}
	if cfg.D0 == nil || cfg.D1 == nil {
		return nil, fmt.Errorf("wiegand: reader %d missing D0/D1 pins", cfg.ReaderID)
	}
	if cfg.OnEvent == nil {
		return nil, fmt.Errorf("wiegand: reader %d missing OnEvent callback", cfg.ReaderID)
	}

	if err := cfg.D0.In(gpio.PullDown, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("wiegand: configure D0 for reader %d: %w", cfg.ReaderID, err)
	}
	if err := cfg.D1.In(gpio.PullDown, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("wiegand: configure D1 for reader %d: %w", cfg.ReaderID, err)
	}

	d := &Decoder{
		cfg:   cfg,
		bits:  make([]byte, 0, cfg.Bits),
		pulse: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(parent)

	d.wg.Add(3)
	go d.watch(cfg.D0, 0)
	go d.watch(cfg.D1, 1)
	go d.assemble()

	return d, nil
}

// Close stops all goroutines for this decoder. In-flight partial frames are
// discarded, never delivered.
func (d *Decoder) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Decoder) watch(pin Pin, bit byte) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}
		// A missed or spurious edge is hardware-transient: log and continue.
		if !pin.WaitForEdge(250*time.Millisecond) || pin.Read() != gpio.Low {
			continue
		}
		d.mu.Lock()
		if len(d.bits) < cap(d.bits)+8 { // generous slack beyond expected frame size
			d.bits = append(d.bits, bit)
		}
		d.lastBitTime = time.Now()
		d.mu.Unlock()
		select {
		case d.pulse <- struct{}{}:
		default:
		}
	}
}

// assemble waits until the buffer holds the configured bit count or the
// inter-bit gap has elapsed since the last pulse, then finalizes whatever
// is in the buffer — either a complete, parity-valid frame (an Event) or a
// discarded partial/invalid frame.
func (d *Decoder) assemble() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.pulse:
		}

		for {
			d.mu.Lock()
			elapsed := time.Since(d.lastBitTime)
			complete := len(d.bits) >= d.cfg.Bits
			d.mu.Unlock()
			if complete || elapsed >= d.cfg.Timeout {
				break
			}
			select {
			case <-d.ctx.Done():
				return
			case <-d.pulse:
			case <-time.After(d.cfg.Timeout - elapsed):
			}
		}

		d.mu.Lock()
		frame := append([]byte(nil), d.bits...)
		d.bits = d.bits[:0]
		d.mu.Unlock()

		if len(frame) == 0 {
			continue
		}
		d.finalize(frame)
	}
}

func (d *Decoder) finalize(frame []byte) {
	if len(frame) != d.cfg.Bits {
		d.discard(fmt.Sprintf("reader %d: expected %d bits, got %d", d.cfg.ReaderID, d.cfg.Bits, len(frame)))
		return
	}

	half := d.cfg.Bits / 2
	if !checkParity(frame, 0, half, true) || !checkParity(frame, half, half, false) {
		d.discard(fmt.Sprintf("reader %d: parity failure on %d-bit frame", d.cfg.ReaderID, d.cfg.Bits))
		return
	}

	card := cardNumber(frame)
	d.cfg.OnEvent(Event{ReaderID: d.cfg.ReaderID, Bits: d.cfg.Bits, Card: card})
}

func (d *Decoder) discard(reason string) {
	slog.Warn("wiegand frame discarded", "reason", reason)
	if d.cfg.OnDiscard != nil {
		d.cfg.OnDiscard(reason)
	}
}

// checkParity reports whether bits[start:start+length] satisfies even (or
// odd) parity over that half of the frame.
func checkParity(bits []byte, start, length int, even bool) bool {
	if start+length > len(bits) {
		return false
	}
	ones := 0
	for i := start; i < start+length; i++ {
		if bits[i] == 1 {
			ones++
		}
	}
	if even {
		return ones%2 == 0
	}
	return ones%2 == 1
}

// cardNumber strips the leading and trailing parity bits and interprets the
// remaining middle bits as an unsigned big-endian integer.
func cardNumber(frame []byte) string {
	middle := frame[1 : len(frame)-1]
	var n uint64
	for _, b := range middle {
		n = (n << 1) | uint64(b)
	}
	return fmt.Sprintf("%d", n)
}
