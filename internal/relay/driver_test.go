package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

type fakeOutPin struct {
	mu      sync.Mutex
	level   gpio.Level
	history []gpio.Level
}

func (p *fakeOutPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = l
	p.history = append(p.history, l)
	return nil
}

func (p *fakeOutPin) Level() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func TestPulse_DrivesThenReleases(t *testing.T) {
	pin := &fakeOutPin{}
	d := New(map[int]Pin{1: pin})

	require.NoError(t, d.Pulse(1, 20*time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, gpio.High, pin.Level())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, gpio.Low, pin.Level())

	mode, err := d.State(1)
	require.NoError(t, err)
	assert.Equal(t, "Idle", mode)
}

func TestHeldRelay_IgnoresAutomaticPulse(t *testing.T) {
	pin := &fakeOutPin{}
	d := New(map[int]Pin{1: pin})

	require.NoError(t, d.HoldOpen(1))
	assert.Equal(t, gpio.High, pin.Level())

	require.NoError(t, d.Pulse(1, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	// Still held open: the pulse must not have released it.
	assert.Equal(t, gpio.High, pin.Level())
	mode, err := d.State(1)
	require.NoError(t, err)
	assert.Equal(t, "HeldOpen", mode)
}

func TestNormalize_RearmsAutomaticPulses(t *testing.T) {
	pin := &fakeOutPin{}
	d := New(map[int]Pin{1: pin})

	require.NoError(t, d.HoldClosed(1))
	require.NoError(t, d.Normalize(1))

	mode, err := d.State(1)
	require.NoError(t, err)
	assert.Equal(t, "Idle", mode)

	require.NoError(t, d.Pulse(1, 10*time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, gpio.High, pin.Level())
}

func TestUnknownRelay_Errors(t *testing.T) {
	d := New(map[int]Pin{1: &fakeOutPin{}})
	_, err := d.State(99)
	assert.Error(t, err)
	assert.Error(t, d.Pulse(99, time.Second))
}
