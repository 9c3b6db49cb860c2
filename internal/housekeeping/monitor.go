// Package housekeeping runs the periodic background maintenance tasks:
// session expiry sweep, transaction-log cap enforcement and upload
// metrics sampling. It also provides a best-effort thermal-zone reader.
//
// Grounded on the decay scheduler's ticker+stopCh+mutex shape
// (internal/reputation/decay_scheduler.go), including its choice of a
// classic log.New logger rather than log/slog for a background worker.
package housekeeping

import (
	"log"
	"os"
	"sync"
	"time"
)

// SessionSweeper removes expired sessions.
type SessionSweeper interface {
	Sweep() int
}

// LogEvictor enforces the transaction log's storage cap.
type LogEvictor interface {
	TotalBytes() (int64, error)
	Evict(cap, cleanupFraction float64) error
}

// QueueStats exposes the upload pipeline's in-flight counters.
type QueueStats interface {
	QueueDepth() int
	CacheSize() (int, error)
}

// MetricsSampler receives periodic queue-depth/cache-size samples for the
// Prometheus gauges.
type MetricsSampler interface {
	Sample(queueDepth, cacheSize int)
}

// Config configures the housekeeping monitor's intervals and thresholds.
type Config struct {
	SessionSweepInterval  time.Duration
	LogCapInterval        time.Duration
	MetricsSampleInterval time.Duration
	StorageCapBytes       float64
	CleanupFraction       float64
	ThermalZonePath       string // e.g. /sys/class/thermal/thermal_zone0/temp
}

// DefaultConfig returns the intervals used when the caller has no special
// requirements: session sweep every 5 minutes, log cap check every 5
// minutes, metrics sample every 30 seconds.
func DefaultConfig() Config {
	return Config{
		SessionSweepInterval:  5 * time.Minute,
		LogCapInterval:        5 * time.Minute,
		MetricsSampleInterval: 30 * time.Second,
		CleanupFraction:       0.5,
		ThermalZonePath:       "/sys/class/thermal/thermal_zone0/temp",
	}
}

// Monitor runs the session sweep, log-cap and metrics-sample tasks on
// their own tickers.
type Monitor struct {
	cfg      Config
	sessions SessionSweeper
	log      LogEvictor
	queue    QueueStats
	metrics  MetricsSampler
	stopCh   chan struct{}
	logger   *log.Logger
	wg       sync.WaitGroup
}

// New builds and starts a Monitor. Any collaborator may be nil, in which
// case that task is skipped entirely (useful in tests that only care about
// some of the three). queue and metrics must both be non-nil for metrics
// sampling to run.
func New(cfg Config, sessions SessionSweeper, logStore LogEvictor, queue QueueStats, metrics MetricsSampler) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		sessions: sessions,
		log:      logStore,
		queue:    queue,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		logger:   log.New(log.Writer(), "[housekeeping] ", log.LstdFlags),
	}
	m.wg.Add(3)
	go m.runSessionSweep()
	go m.runLogCap()
	go m.runMetricsSample()
	return m
}

// Stop halts the three background tickers and waits for them to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) runSessionSweep() {
	defer m.wg.Done()
	if m.sessions == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.SessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.sessions.Sweep(); n > 0 {
				m.logger.Printf("swept %d expired sessions", n)
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) runLogCap() {
	defer m.wg.Done()
	if m.log == nil || m.cfg.StorageCapBytes <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.LogCapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.checkLogCap()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) checkLogCap() {
	total, err := m.log.TotalBytes()
	if err != nil {
		m.logger.Printf("failed to total transaction log size: %v", err)
		return
	}
	if float64(total) <= m.cfg.StorageCapBytes {
		return
	}
	if err := m.log.Evict(m.cfg.StorageCapBytes, m.cfg.CleanupFraction); err != nil {
		m.logger.Printf("log eviction failed: %v", err)
	}
}

func (m *Monitor) runMetricsSample() {
	defer m.wg.Done()
	if m.queue == nil || m.metrics == nil || m.cfg.MetricsSampleInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.MetricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			size, err := m.queue.CacheSize()
			if err != nil {
				m.logger.Printf("failed to read retry cache size: %v", err)
				continue
			}
			m.metrics.Sample(m.queue.QueueDepth(), size)
		case <-m.stopCh:
			return
		}
	}
}

// ReadThermalZone reads a Linux thermal zone file (millidegrees Celsius) and
// converts it to degrees Celsius, keeping the fractional part. Returns an error if the path does not exist
// or does not parse, for use with sysclock.Temperature.
func ReadThermalZone(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var milliC int64
	if _, err := parseMilliC(data, &milliC); err != nil {
		return 0, err
	}
	return float64(milliC) / 1000.0, nil
}

func parseMilliC(data []byte, out *int64) (int, error) {
	var n int64
	var neg bool
	i := 0
	for i < len(data) && (data[i] == ' ' || data[i] == '\n' || data[i] == '\t') {
		i++
	}
	if i < len(data) && data[i] == '-' {
		neg = true
		i++
	}
	start := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		n = n*10 + int64(data[i]-'0')
		i++
	}
	if i == start {
		return 0, os.ErrInvalid
	}
	if neg {
		n = -n
	}
	*out = n
	return i, nil
}
