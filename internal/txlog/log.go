// Package txlog is the local, append-only transaction log: one file per
// UTC day, one JSON object per line, with size-capped eviction of the
// oldest day-files. Grounded on the evidence vault's append-under-mutex
// shape (internal/evidence/vault.go), adapted from an in-memory
// hash-chain to a flat JSON-Lines file since this log has no
// tamper-evidence requirement — only durability and cheap range reads.
package txlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ocx/accessd/internal/model"
)

const filePrefix = "transactions_"

// Log is the append-only per-day transaction log.
type Log struct {
	dir string
	mu  sync.Mutex
}

// Open ensures dir exists and returns a Log rooted there.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("txlog: create directory: %w", err)
	}
	return &Log{dir: dir}, nil
}

func dayFileName(t time.Time) string {
	return fmt.Sprintf("%s%s.jsonl", filePrefix, t.UTC().Format("20060102"))
}

// Append writes tx to the day-file derived from tx.Timestamp and returns
// once the line is flushed. Never touches the network.
func (l *Log) Append(tx model.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("txlog: marshal transaction: %w", err)
	}

	path := filepath.Join(l.dir, dayFileName(time.Unix(tx.Timestamp, 0)))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("txlog: open day file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("txlog: write: %w", err)
	}
	return f.Sync()
}

// Record adapts Log to the policy.Recorder interface; actual errors are
// logged, never propagated, since logging must never block the hot path.
func (l *Log) Record(tx model.Transaction) {
	if err := l.Append(tx); err != nil {
		slog.Error("transaction log append failed", "error", err)
	}
}

type dayFile struct {
	name string
	date string // YYYYMMDD
	size int64
}

func (l *Log) dayFiles() ([]dayFile, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var files []dayFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(e.Name(), filePrefix), ".jsonl")
		files = append(files, dayFile{name: e.Name(), date: date, size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].date < files[j].date })
	return files, nil
}

// TotalBytes sums the size of every day-file, for the storage-cap monitor.
func (l *Log) TotalBytes() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	files, err := l.dayFiles()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

// Evict deletes the oldest day-files, preferring to keep today's, until
// total size is at or below target. It never deletes the current day's
// file even if that means staying over target.
func (l *Log) Evict(cap, cleanupFraction float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	capBytes := int64(cap)
	targetBytes := int64(cap * cleanupFraction)

	files, err := l.dayFiles()
	if err != nil {
		return err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= capBytes {
		return nil
	}

	today := dayFileName(time.Now())
	for _, f := range files {
		if total <= targetBytes {
			break
		}
		if f.name == today {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, f.name)); err != nil {
			slog.Warn("txlog eviction: failed to remove day file", "file", f.name, "error", err)
			continue
		}
		total -= f.size
		slog.Info("txlog eviction: removed day file", "file", f.name)
	}
	return nil
}

// Range returns up to limit transactions from the most recent days days,
// newest file first, newest line first within a file. Unparseable lines
// (a partially written last line) are skipped rather than failing the
// whole read.
func (l *Log) Range(days int, limit int) ([]model.Transaction, error) {
	l.mu.Lock()
	files, err := l.dayFiles()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// newest-first
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("20060102")

	var out []model.Transaction
	for _, f := range files {
		if days > 0 && f.date < cutoff {
			break
		}
		lines, err := l.readLines(f.name)
		if err != nil {
			slog.Warn("txlog range read failed", "file", f.name, "error", err)
			continue
		}
		for i := len(lines) - 1; i >= 0; i-- {
			var tx model.Transaction
			if err := json.Unmarshal([]byte(lines[i]), &tx); err != nil {
				continue // partially written last line or corruption: skip
			}
			out = append(out, tx)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (l *Log) readLines(name string) ([]string, error) {
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
