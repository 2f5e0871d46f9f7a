// Package health probes the service's dependencies and publishes readiness
// over HTTP and the standard gRPC health protocol.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the
// overall ("") status.
const ServiceName = "docanchor.v1.Anchor"

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
}

// Probe is a named dependency check. Check returns nil when healthy.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Report is the outcome of one round of probes.
type Report struct {
	Healthy   bool          `json:"healthy"`
	Probes    []ProbeResult `json:"probes"`
	CheckedAt time.Time     `json:"checked_at"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(probe string, success bool)

// BalanceFunc reads the fee payer balance.
type BalanceFunc func(ctx context.Context) (uint64, error)

// Checker runs probes on demand and periodically.
type Checker struct {
	probes []Probe
	cfg    Config
	logger *zap.Logger

	onMetrics MetricsRecordFunc
	balance   BalanceFunc
	onBalance func(lamports uint64)
	grpc      *grpchealth.Server

	mu   sync.RWMutex
	last Report
}

// New creates a Checker over the given probes.
func New(cfg Config, logger *zap.Logger, probes ...Probe) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{probes: probes, cfg: cfg, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// SetBalance configures the payer balance reader and where to publish it.
func (h *Checker) SetBalance(read BalanceFunc, publish func(lamports uint64)) {
	h.balance = read
	h.onBalance = publish
}

// SetGRPCHealth attaches a gRPC health server whose status follows each
// report. It starts NOT_SERVING until the first check completes.
func (h *Checker) SetGRPCHealth(srv *grpchealth.Server) {
	h.grpc = srv
	srv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Check runs every probe concurrently, each bounded by ProbeTimeout.
func (h *Checker) Check(ctx context.Context) Report {
	results := make([]ProbeResult, len(h.probes))

	var g errgroup.Group
	for i, p := range h.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Check(pctx)
			res := ProbeResult{Name: p.Name, OK: err == nil, Latency: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
				h.logger.Warn("health: probe failed", zap.String("probe", p.Name), zap.Error(err))
			}
			if h.onMetrics != nil {
				h.onMetrics(p.Name, res.OK)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true, Probes: results, CheckedAt: time.Now().UTC()}
	for _, r := range results {
		if !r.OK {
			report.Healthy = false
		}
	}

	h.mu.Lock()
	h.last = report
	h.mu.Unlock()
	h.publish(report)
	return report
}

// Last returns the most recent report. CheckedAt is zero before the first
// check.
func (h *Checker) Last() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Start runs a check immediately and then every CheckInterval until ctx is
// done.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		h.Check(ctx)
		h.recordBalance(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Checker) publish(r Report) {
	if h.grpc == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !r.Healthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.grpc.SetServingStatus("", status)
	h.grpc.SetServingStatus(ServiceName, status)
}

func (h *Checker) recordBalance(ctx context.Context) {
	if h.balance == nil || h.onBalance == nil {
		return
	}
	bctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()
	lamports, err := h.balance(bctx)
	if err != nil {
		h.logger.Warn("health: read payer balance", zap.Error(err))
		return
	}
	h.onBalance(lamports)
}
