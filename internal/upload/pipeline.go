// Package upload implements the offline-first upload pipeline: an
// in-memory hot path enqueues Transactions, a single uploader goroutine
// attempts the remote write behind a circuit breaker, and on any failure
// persists to a crash-safe JSON-Lines cache file that a background
// drainer retries on a backoff schedule.
//
// Grounded on the webhooks dispatcher (queue channel + worker pool,
// internal/webhooks/dispatcher.go) for the hot-path shape, and on
// internal/circuitbreaker for gating the remote write.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ocx/accessd/internal/circuitbreaker"
	"github.com/ocx/accessd/internal/model"
)

// RemoteStore is the contract for the remote document store; only this
// interface and its supabase-go-backed implementation (see store.go)
// are provided here.
type RemoteStore interface {
	// Write persists one Transaction, attaching a server-side creation
	// timestamp and entityID. Returns an error on any failure.
	Write(ctx context.Context, tx model.Transaction, entityID string) error
}

// Reachable reports whether the remote endpoint currently appears
// reachable, consulted before every hot-path attempt.
type Reachable interface {
	Reachable() bool
}

const (
	cacheFileName = "failed_transactions_cache.jsonl"
	writeTimeout  = 5 * time.Second
	drainDelay    = 500 * time.Millisecond
)

// Pipeline owns the hot-path channel, the failed-upload cache file, and
// the breaker guarding remote writes.
type Pipeline struct {
	store     RemoteStore
	reach     Reachable
	breaker   *circuitbreaker.CircuitBreaker
	entityID  string
	cachePath string

	queue chan model.Transaction

	cacheMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pipeline rooted at baseDir for its cache file and starts
// the uploader and drainer goroutines. store may be nil, meaning the
// remote client failed to initialize; every attempt then falls straight
// to the cache.
func New(parent context.Context, baseDir string, store RemoteStore, reach Reachable, entityID string, breakers *circuitbreaker.ApplianceBreakers) (*Pipeline, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create base directory: %w", err)
	}
	p := &Pipeline{
		store:     store,
		reach:     reach,
		breaker:   breakers.Remote,
		entityID:  entityID,
		cachePath: filepath.Join(baseDir, cacheFileName),
		queue:     make(chan model.Transaction, 1000),
	}
	p.ctx, p.cancel = context.WithCancel(parent)

	p.wg.Add(2)
	go p.uploader()
	go p.drainer()

	return p, nil
}

// Close stops the uploader and drainer. Transactions still in the
// in-memory channel at shutdown are lost; only what already reached the
// cache file survives a crash.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// Enqueue hands a Transaction to the hot path. Never blocks the policy
// engine: if the channel is full the Transaction is cached directly.
func (p *Pipeline) Enqueue(tx model.Transaction) {
	select {
	case p.queue <- tx:
	default:
		slog.Warn("upload queue full, writing directly to cache", "card", tx.Card)
		if err := p.appendCache(tx); err != nil {
			slog.Error("upload: failed to cache overflowed transaction", "error", err)
		}
	}
}

// Record adapts Pipeline to the policy.Recorder interface so the decision
// engine can hand off a Transaction without knowing about upload at all.
func (p *Pipeline) Record(tx model.Transaction) { p.Enqueue(tx) }

// QueueDepth reports how many transactions currently sit in the in-memory
// hot-path channel, for the metrics endpoint.
func (p *Pipeline) QueueDepth() int { return len(p.queue) }

// CacheSize reports how many transactions currently wait in the on-disk
// retry cache, for the metrics endpoint.
func (p *Pipeline) CacheSize() (int, error) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	entries, err := p.loadCache()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (p *Pipeline) uploader() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case tx := <-p.queue:
			p.attempt(tx)
		}
	}
}

func (p *Pipeline) attempt(tx model.Transaction) {
	if p.store == nil || p.reach == nil || !p.reach.Reachable() {
		if err := p.appendCache(tx); err != nil {
			slog.Error("upload: cache append failed", "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()

	_, err := p.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, p.store.Write(ctx, tx, p.entityID)
	})
	if err != nil {
		slog.Warn("remote write failed, caching for retry", "card", tx.Card, "error", err)
		if cerr := p.appendCache(tx); cerr != nil {
			slog.Error("upload: cache append failed", "error", cerr)
		}
	}
}

func (p *Pipeline) appendCache(tx model.Transaction) error {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	line, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("upload: marshal transaction: %w", err)
	}
	f, err := os.OpenFile(p.cachePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("upload: open cache file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("upload: write cache file: %w", err)
	}
	return f.Sync()
}

// loadCache reads every line of the cache file, tolerating corrupt
// lines by dropping them silently (they can never be recovered).
func (p *Pipeline) loadCache() ([]model.Transaction, error) {
	data, err := os.ReadFile(p.cachePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []model.Transaction
	start := 0
	for i, b := range data {
		if b != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		var tx model.Transaction
		if err := json.Unmarshal(line, &tx); err != nil {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// rewriteCache atomically replaces the cache file with stillFailing, or
// deletes it if empty.
func (p *Pipeline) rewriteCache(stillFailing []model.Transaction) error {
	if len(stillFailing) == 0 {
		err := os.Remove(p.cachePath)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	tmp := p.cachePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	for _, tx := range stillFailing {
		line, err := json.Marshal(tx)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p.cachePath)
}

// drainer wakes 1 minute after startup, then every 5 minutes while
// reachable, every 10 minutes otherwise.
func (p *Pipeline) drainer() {
	defer p.wg.Done()

	timer := time.NewTimer(1 * time.Minute)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
			p.drainOnce()
			next := 10 * time.Minute
			if p.reach != nil && p.reach.Reachable() {
				next = 5 * time.Minute
			}
			timer.Reset(next)
		}
	}
}

func (p *Pipeline) drainOnce() {
	p.cacheMu.Lock()
	entries, err := p.loadCache()
	p.cacheMu.Unlock()
	if err != nil {
		slog.Error("upload: drainer failed to load cache", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	if p.store == nil || p.reach == nil || !p.reach.Reachable() {
		return
	}

	var uploaded []model.Transaction
	for i, tx := range entries {
		if i > 0 {
			time.Sleep(drainDelay)
		}
		ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
		_, err := p.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
			return nil, p.store.Write(ctx, tx, p.entityID)
		})
		cancel()
		if err != nil {
			continue
		}
		uploaded = append(uploaded, tx)
	}

	uploadedSet := make(map[model.Transaction]bool, len(uploaded))
	for _, tx := range uploaded {
		uploadedSet[tx] = true
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	// Re-read the cache rather than trusting the entries snapshot taken
	// before the lock was released: a concurrent appendCache from the hot
	// path during the upload loop above must survive this rewrite.
	current, err := p.loadCache()
	if err != nil {
		slog.Error("upload: drainer failed to reload cache before rewrite", "error", err)
		return
	}
	keep := make([]model.Transaction, 0, len(current))
	for _, tx := range current {
		if !uploadedSet[tx] {
			keep = append(keep, tx)
		}
	}

	if err := p.rewriteCache(keep); err != nil {
		slog.Error("upload: drainer failed to rewrite cache", "error", err)
		return
	}
	slog.Info("upload drainer pass complete", "uploaded", len(uploaded), "still_failing", len(keep))
}
