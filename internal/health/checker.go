// Package health tracks the reachability of handoffd's dependencies.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency. Check returns nil when it is reachable.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Status is the last observed state of one probe.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"consecutive_failures"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(probe string, success bool)

// Checker runs periodic dependency probes.
type Checker struct {
	probes    []Probe
	cfg       Config
	mu        sync.Mutex
	statuses  map[string]*Status
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Checker. Every probe starts healthy until it has failed
// FailThreshold times in a row.
func New(probes []Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	statuses := make(map[string]*Status, len(probes))
	for _, p := range probes {
		statuses[p.Name] = &Status{Name: p.Name, Healthy: true}
	}
	return &Checker{probes: probes, cfg: cfg, statuses: statuses, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Run probes immediately and then on every interval until ctx is cancelled.
func (h *Checker) Run(ctx context.Context) error {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// CheckAll runs every probe concurrently and waits for them.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.Check(pctx)
			cancel()
			h.record(p.Name, err)
		}(p)
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.statuses[name]
	st.CheckedAt = time.Now().UTC()
	if err == nil {
		if !st.Healthy {
			h.logger.Info("health: recovered", zap.String("probe", name))
		}
		st.Healthy, st.Failures, st.LastError = true, 0, ""
		return
	}

	st.Failures++
	st.LastError = err.Error()
	// Transition exactly at threshold so the warning is logged once.
	if st.Failures == h.cfg.FailThreshold {
		st.Healthy = false
		h.logger.Warn("health: degraded",
			zap.String("probe", name),
			zap.Int("fail_count", st.Failures),
			zap.Error(err),
		)
	}
}

// Snapshot returns the current status of every probe and whether all are
// healthy.
func (h *Checker) Snapshot() ([]Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Status, 0, len(h.probes))
	ready := true
	for _, p := range h.probes {
		st := *h.statuses[p.Name]
		ready = ready && st.Healthy
		out = append(out, st)
	}
	return out, ready
}
