package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/accessd/internal/model"
)

func defaultTestConfig() model.Config {
	return model.Config{
		WiegandBits:      map[int]int{1: 26},
		WiegandTimeoutMs: 25,
		ScanDelaySeconds: 5,
		EntityID:         "site-1",
	}
}

func TestValidate_RejectsBadWiegandBits(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.WiegandBits[1] = 30
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsOutOfRangeScanDelay(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.ScanDelaySeconds = 0
	assert.Error(t, Validate(cfg))

	cfg.ScanDelaySeconds = 301
	assert.Error(t, Validate(cfg))
}

func TestValidate_RequiresEntityID(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.EntityID = ""
	assert.Error(t, Validate(cfg))
}

type fakeReinitializer struct {
	calls int
	err   error
	last  model.Config
}

func (f *fakeReinitializer) Reinitialize(cfg model.Config) error {
	f.calls++
	f.last = cfg
	return f.err
}

func TestUpdate_TriggersRestartOnlyWhenWiegandParamsChange(t *testing.T) {
	dir := t.TempDir()
	reInit := &fakeReinitializer{}
	s, err := Open(dir, defaultTestConfig(), reInit)
	require.NoError(t, err)

	next := defaultTestConfig()
	next.ScanDelaySeconds = 10
	_, err = s.Update(next)
	require.NoError(t, err)
	assert.Equal(t, 0, reInit.calls, "scan_delay_seconds change must not restart decoders")

	next2 := defaultTestConfig()
	next2.WiegandTimeoutMs = 50
	_, err = s.Update(next2)
	require.NoError(t, err)
	assert.Equal(t, 1, reInit.calls, "wiegand_timeout_ms change must restart decoders")
}

func TestUpdate_RejectsInvalidConfigWithoutPersisting(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, defaultTestConfig(), nil)
	require.NoError(t, err)

	bad := defaultTestConfig()
	bad.EntityID = ""
	_, err = s.Update(bad)
	assert.Error(t, err)

	assert.Equal(t, "site-1", s.Get().EntityID)
}

func TestUpdate_RestartFailureStillPersistsConfig(t *testing.T) {
	dir := t.TempDir()
	reInit := &fakeReinitializer{err: assertError{}}
	s, err := Open(dir, defaultTestConfig(), reInit)
	require.NoError(t, err)

	next := defaultTestConfig()
	next.WiegandTimeoutMs = 60
	warning, err := s.Update(next)
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.Equal(t, 60, s.Get().WiegandTimeoutMs)
}

type assertError struct{}

func (assertError) Error() string { return "simulated reinit failure" }

func TestOpen_ReloadsPersistedRuntimeConfig(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, defaultTestConfig(), nil)
	require.NoError(t, err)

	next := defaultTestConfig()
	next.ScanDelaySeconds = 42
	_, err = s1.Update(next)
	require.NoError(t, err)

	s2, err := Open(dir, defaultTestConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 42, s2.Get().ScanDelaySeconds)
}
