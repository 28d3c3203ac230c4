// internal/scanner/load_test.go
// Load tests: full port range throughput and memory, and cancellation under load

package scanner

import (
	"context"
	"net"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aspnmy/mirapipe/internal/models"
)

// instant answers immediately, open on every 100th port
func instant() Prober {
	return ProberFunc(func(ctx context.Context, t models.Target) models.ProbeResult {
		o := models.Closed()
		if t.Port%100 == 0 {
			o = models.Open()
		}
		return models.ProbeResult{Target: t, Outcome: o, Timestamp: time.Now()}
	})
}

func TestLoad_FullPortRange(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	tests := []struct {
		name    string
		workers int
	}{
		{"64 workers", 64},
		{"1000 workers", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewCoordinator(instant(), nil, tt.workers)
			list := targets(1, 65535)

			var m1 runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&m1)

			start := time.Now()
			report := c.Scan(context.Background(), list)
			duration := time.Since(start)

			var m2 runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&m2)

			counts := report.Counts()
			t.Logf("Load Test Results (%d targets, %d workers):", len(list), tt.workers)
			t.Logf("  Duration: %v", duration)
			t.Logf("  Rate: %.0f targets/sec", float64(counts.Total)/duration.Seconds())

			if counts.Total != 65535 {
				t.Fatalf("total = %d, want 65535", counts.Total)
			}
			if counts.Open != 655 || counts.Closed != 65535-655 {
				t.Errorf("open = %d, closed = %d", counts.Open, counts.Closed)
			}

			// Retained memory is the report; the run's scratch state is gone.
			if m2.Alloc > m1.Alloc {
				perTarget := float64(m2.Alloc-m1.Alloc) / float64(counts.Total) / 1024
				t.Logf("  Memory per target: %.2f KB", perTarget)
				if perTarget > 10 {
					t.Errorf("memory per target %.2f KB exceeds 10 KB", perTarget)
				}
			}
			runtime.KeepAlive(report)
		})
	}
}

func TestLoad_CancelUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	var calls atomic.Int64
	slow := ProberFunc(func(ctx context.Context, tg models.Target) models.ProbeResult {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return models.ProbeResult{Target: tg, Outcome: models.Closed(), Timestamp: time.Now()}
	})
	c, _ := NewCoordinator(slow, nil, 50)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	report := c.Scan(ctx, targets(1, 20000))
	elapsed := time.Since(start)

	if got := report.Counts().Total; got != 20000 {
		t.Fatalf("total = %d, want 20000", got)
	}
	if calls.Load() >= 20000 {
		t.Error("cancellation should stop dispatching")
	}
	if elapsed > 5*time.Second {
		t.Errorf("scan took %v after cancellation", elapsed)
	}
	if report.Counts().Errors == 0 {
		t.Error("undispatched targets should be recorded as errors")
	}
}

func BenchmarkCoordinator_FullRange(b *testing.B) {
	c, _ := NewCoordinator(instant(), nil, DefaultWorkers)
	list := targets(1, 65535)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Scan(context.Background(), list)
	}
	b.ReportMetric(float64(len(list)*b.N)/b.Elapsed().Seconds(), "targets/sec")
}

func BenchmarkTCPProber_Loopback(b *testing.B) {
	port := benchListener(b)
	p := NewTCPProber(time.Second)
	target := models.Target{Host: "127.0.0.1", Port: port}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if r := p.Probe(context.Background(), target); r.Outcome.Kind != models.OutcomeOpen {
			b.Fatalf("outcome = %v", r.Outcome)
		}
	}
}

// benchListener accepts and drops connections on a loopback port
func benchListener(b *testing.B) int {
	b.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatalf("Listen() error = %v", err)
	}
	b.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}
