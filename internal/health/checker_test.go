package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ── Stubs ────────────────────────────────────────────────────────────────

func okProbe(name string) Probe {
	return Probe{Name: name, Check: func(context.Context) error { return nil }}
}

func failingProbe(name string, err error) Probe {
	return Probe{Name: name, Check: func(context.Context) error { return err }}
}

type metricsLog struct {
	mu      sync.Mutex
	results map[string]bool
}

func (m *metricsLog) record(probe string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[probe] = success
}

func grpcStatus(t *testing.T, srv *grpchealth.Server, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("grpc health check: %v", err)
	}
	return resp.GetStatus()
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheck_allHealthy(t *testing.T) {
	checker := New(Config{}, zap.NewNop(), okProbe("ledger"), okProbe("store"))
	report := checker.Check(context.Background())

	if !report.Healthy {
		t.Fatalf("expected healthy report, got %+v", report)
	}
	if len(report.Probes) != 2 || report.Probes[0].Name != "ledger" || report.Probes[1].Name != "store" {
		t.Errorf("probe results out of order: %+v", report.Probes)
	}
	if checker.Last().CheckedAt.IsZero() {
		t.Error("Last should return the completed report")
	}
}

func TestCheck_oneFailureMarksUnhealthy(t *testing.T) {
	metrics := &metricsLog{results: map[string]bool{}}
	checker := New(Config{}, zap.NewNop(), okProbe("ledger"), failingProbe("store", errors.New("disk gone")))
	checker.SetMetricsRecord(metrics.record)

	report := checker.Check(context.Background())
	if report.Healthy {
		t.Fatal("expected unhealthy report")
	}
	if report.Probes[1].Error != "disk gone" {
		t.Errorf("error: got %q", report.Probes[1].Error)
	}
	if !metrics.results["ledger"] || metrics.results["store"] {
		t.Errorf("unexpected metrics: %v", metrics.results)
	}
}

func TestCheck_probeTimeout(t *testing.T) {
	slow := Probe{Name: "ledger", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	checker := New(Config{ProbeTimeout: 20 * time.Millisecond}, zap.NewNop(), slow)

	start := time.Now()
	report := checker.Check(context.Background())
	if report.Healthy {
		t.Fatal("expected timed out probe to fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe not bounded by timeout: %v", elapsed)
	}
}

func TestCheck_publishesGRPCStatus(t *testing.T) {
	var healthy atomic.Bool
	probe := Probe{Name: "ledger", Check: func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	}}
	srv := grpchealth.NewServer()
	checker := New(Config{}, zap.NewNop(), probe)
	checker.SetGRPCHealth(srv)

	if got := grpcStatus(t, srv, ServiceName); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before first check: got %v", got)
	}

	checker.Check(context.Background())
	if got := grpcStatus(t, srv, ""); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("failing probe: got %v", got)
	}

	healthy.Store(true)
	checker.Check(context.Background())
	if got := grpcStatus(t, srv, ""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("healthy probe: got %v", got)
	}
	if got := grpcStatus(t, srv, ServiceName); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("service status: got %v", got)
	}
}

func TestStart_recordsBalanceAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker := New(Config{CheckInterval: 10 * time.Millisecond}, zap.NewNop(), okProbe("ledger"))

	var published atomic.Uint64
	checker.SetBalance(
		func(context.Context) (uint64, error) { return 42, nil },
		func(lamports uint64) {
			published.Store(lamports)
			cancel()
		},
	)

	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	if published.Load() != 42 {
		t.Errorf("balance: got %d, want 42", published.Load())
	}
}
