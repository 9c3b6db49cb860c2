package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ocx/accessd/internal/model"
)

const runtimeFile = "config.json"

// Reinitializer tears down and recreates the Wiegand decoders when
// wiegand_bits or wiegand_timeout_ms change. Kept as a narrow local
// interface (rather than depending on package wiegand directly) to
// avoid an import cycle: wiegand is a leaf package and must not import
// config back.
type Reinitializer interface {
	Reinitialize(cfg model.Config) error
}

// Store is the hot-reloadable runtime config.
type Store struct {
	dir  string
	mu   sync.Mutex
	cfg  model.Config
	reIn Reinitializer
}

// Open loads (or initializes with defaults) the runtime config from dir.
// reInitializer may be nil until the decoders are constructed; Update
// tolerates a nil Reinitializer by skipping the restart step.
func Open(dir string, defaults model.Config, reInitializer Reinitializer) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create directory: %w", err)
	}
	s := &Store{dir: dir, cfg: defaults, reIn: reInitializer}

	path := filepath.Join(dir, runtimeFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read runtime config: %w", err)
	}
	var cfg model.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse runtime config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: persisted config invalid: %w", err)
	}
	s.cfg = cfg
	return s, nil
}

// Get returns a defensive snapshot of the current runtime config.
func (s *Store) Get() model.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// SetReinitializer attaches the decoder-restart collaborator once the
// Wiegand decoders exist, breaking the config→wiegand startup ordering
// dependency.
func (s *Store) SetReinitializer(r Reinitializer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reIn = r
}

// Update validates new, persists it atomically, and — if wiegand_bits or
// wiegand_timeout_ms changed — triggers a decoder restart. A restart
// failure does not roll back the persisted config; the caller gets back
// a non-empty warning string instead of an error.
func (s *Store) Update(next model.Config) (restartWarning string, err error) {
	if err := Validate(next); err != nil {
		return "", err
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = next
	persistErr := s.persist()
	reIn := s.reIn
	s.mu.Unlock()

	if persistErr != nil {
		return "", fmt.Errorf("config: persist: %w", persistErr)
	}

	if reInitNeeded(prev, next) && reIn != nil {
		if err := reIn.Reinitialize(next); err != nil {
			slog.Warn("decoder re-initialization failed after config update", "error", err)
			return "decoders could not be fully re-initialized; best-effort retry only", nil
		}
	}
	return "", nil
}

func reInitNeeded(prev, next model.Config) bool {
	if prev.WiegandTimeoutMs != next.WiegandTimeoutMs {
		return true
	}
	if len(prev.WiegandBits) != len(next.WiegandBits) {
		return true
	}
	for reader, bits := range next.WiegandBits {
		if prev.WiegandBits[reader] != bits {
			return true
		}
	}
	return false
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, runtimeFile)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var validBits = map[int]bool{26: true, 34: true}

// Validate checks cfg against the runtime config's range constraints.
func Validate(cfg model.Config) error {
	for reader, bits := range cfg.WiegandBits {
		if !validBits[bits] {
			return model.NewError(model.ErrValidation, fmt.Sprintf("wiegand_bits[%d] must be 26 or 34", reader))
		}
	}
	if cfg.WiegandTimeoutMs < 10 || cfg.WiegandTimeoutMs > 100 {
		return model.NewError(model.ErrValidation, "wiegand_timeout_ms must be in [10, 100]")
	}
	if cfg.ScanDelaySeconds < 1 || cfg.ScanDelaySeconds > 300 {
		return model.NewError(model.ErrValidation, "scan_delay_seconds must be in [1, 300]")
	}
	if cfg.EntryExit.Enabled {
		if cfg.EntryExit.MinGapSeconds < 1 || cfg.EntryExit.MinGapSeconds > 300 {
			return model.NewError(model.ErrValidation, "entry_exit_tracking.min_gap_seconds must be in [1, 300]")
		}
	}
	if cfg.EntityID == "" {
		return model.NewError(model.ErrValidation, "entity_id must be non-empty")
	}
	return nil
}
