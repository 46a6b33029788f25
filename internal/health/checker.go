// Package health probes the registry's backing stores on a schedule and
// serves the result as a readiness endpoint.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency. Check must honour ctx.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(probe string, success bool)

// ProbeStatus is the last observed state of a probe.
type ProbeStatus struct {
	Healthy     bool      `json:"healthy"`
	FailCount   int       `json:"fail_count"`
	LastError   string    `json:"last_error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Checker runs the configured probes and remembers their outcomes.
type Checker struct {
	probes    []Probe
	mu        sync.Mutex
	status    map[string]ProbeStatus
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker.
func New(probes []Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		probes: probes,
		status: make(map[string]ProbeStatus, len(probes)),
		cfg:    cfg,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and reports whether all passed.
func (h *Checker) CheckAll(ctx context.Context) bool {
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
	return h.Healthy()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	prev := h.status[name]
	next := ProbeStatus{Healthy: err == nil, LastChecked: time.Now().UTC()}
	if err != nil {
		next.FailCount = prev.FailCount + 1
		next.LastError = err.Error()
	}
	h.status[name] = next
	h.mu.Unlock()

	switch {
	case err == nil && prev.FailCount >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("probe", name))
	case err != nil && next.FailCount == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("probe", name),
			zap.Int("fail_count", next.FailCount),
			zap.Error(err),
		)
	case err != nil:
		h.logger.Debug("health: probe failed", zap.String("probe", name), zap.Error(err))
	}
}

// Healthy reports whether every probe passed on its last run. Probes that
// have not run yet count as unhealthy.
func (h *Checker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.probes {
		if st, ok := h.status[p.Name]; !ok || !st.Healthy {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the last status of each probe.
func (h *Checker) Snapshot() map[string]ProbeStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]ProbeStatus, len(h.status))
	for k, v := range h.status {
		out[k] = v
	}
	return out
}

// Handler returns a Gin handler that runs the probes and answers 200 when
// all pass and 503 otherwise.
func (h *Checker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		state := "ok"
		if !h.CheckAll(c.Request.Context()) {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "probes": h.Snapshot()})
	}
}
