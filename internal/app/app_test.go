// internal/app/app_test.go
// Tests for application wiring and orchestration

package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aspnmy/mirapipe/internal/channel"
	"github.com/aspnmy/mirapipe/internal/core"
	"github.com/aspnmy/mirapipe/internal/models"
	"github.com/aspnmy/mirapipe/internal/output"
	"github.com/aspnmy/mirapipe/internal/scanner"
	"github.com/aspnmy/mirapipe/internal/target"
	"github.com/aspnmy/mirapipe/internal/testutil"
)

// recordingFormatter keeps everything written to it
type recordingFormatter struct {
	mu      sync.Mutex
	results []models.ProbeResult
	reports []*models.ScanReport
	flushed int
	closed  int
}

func (f *recordingFormatter) Write(r *models.ProbeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, *r)
	return nil
}

func (f *recordingFormatter) WriteReport(r *models.ScanReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *recordingFormatter) Flush() error {
	f.flushed++
	return nil
}

func (f *recordingFormatter) Close() error {
	f.closed++
	return nil
}

func testConfig() *core.Config {
	cfg := core.Default()
	return &cfg
}

// newScanApp returns an app whose probes report open on even ports
func newScanApp(t *testing.T, calls *atomic.Int64) (*ScanApp, *recordingFormatter) {
	t.Helper()

	prober := scanner.ProberFunc(func(ctx context.Context, tg models.Target) models.ProbeResult {
		calls.Add(1)
		outcome := models.Closed()
		if tg.Port%2 == 0 {
			outcome = models.Open()
		}
		return models.ProbeResult{Target: tg, Outcome: outcome, Timestamp: time.Now()}
	})
	coord, err := scanner.NewCoordinator(prober, nil, 4)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	rec := &recordingFormatter{}
	return NewScanApp(ScanDeps{Config: testConfig(), Coordinator: coord, Formatters: []output.Formatter{rec}}), rec
}

func TestScanApp_Run(t *testing.T) {
	var calls atomic.Int64
	app, rec := newScanApp(t, &calls)

	report, err := app.Run(context.Background(), "localhost", "10-19")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls.Load() != 10 {
		t.Errorf("probes = %d, want 10", calls.Load())
	}
	if c := report.Counts(); c.Total != 10 || c.Open != 5 || c.Closed != 5 {
		t.Errorf("counts = %+v", c)
	}
	if len(rec.results) != 10 {
		t.Errorf("streamed %d results, want 10", len(rec.results))
	}
	if len(rec.reports) != 1 || rec.reports[0] != report {
		t.Errorf("reports written = %d", len(rec.reports))
	}
	if rec.flushed != 1 {
		t.Errorf("flushed = %d, want 1", rec.flushed)
	}
}

func TestScanApp_RunRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		host  string
		ports string
	}{
		{"bad host", "not a host", "80"},
		{"reversed range", "localhost", "3000-2000"},
		{"port zero", "localhost", "0"},
		{"port too large", "localhost", "65536"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			app, rec := newScanApp(t, &calls)

			report, err := app.Run(context.Background(), tt.host, tt.ports)
			if !errors.Is(err, target.ErrInvalidSpec) {
				t.Fatalf("Run() error = %v, want ErrInvalidSpec", err)
			}
			if report != nil {
				t.Error("report should be nil")
			}
			if calls.Load() != 0 || len(rec.reports) != 0 {
				t.Errorf("probes = %d, reports = %d, want none", calls.Load(), len(rec.reports))
			}
		})
	}
}

func TestScanApp_RunInterrupted(t *testing.T) {
	var calls atomic.Int64
	app, _ := newScanApp(t, &calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := app.Run(ctx, "localhost", "1-100")
	if !errors.Is(err, ErrScanInterrupted) {
		t.Fatalf("Run() error = %v, want ErrScanInterrupted", err)
	}
	if report == nil || report.Counts().Total != 100 {
		t.Fatalf("report should cover every target, got %+v", report)
	}
}

func TestScanApp_Shutdown(t *testing.T) {
	var calls atomic.Int64
	app, rec := newScanApp(t, &calls)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if rec.closed != 1 {
		t.Errorf("closed = %d, want 1", rec.closed)
	}
}

func TestNewScan(t *testing.T) {
	tests := []struct {
		name       string
		tlsProbe   bool
		format     string
		wantErr    bool
		wantWorker int
	}{
		{name: "tls probing", tlsProbe: true, format: "jsonl", wantWorker: 256},
		{name: "port only", tlsProbe: false, format: "json", wantWorker: 256},
		{name: "bad format", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Scan.TLSProbe = tt.tlsProbe
			cfg.Output.Format = tt.format
			cfg.Output.File = filepath.Join(t.TempDir(), "scan.out")

			a, err := NewScan(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewScan() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewScan() error = %v", err)
			}
			if a.Coordinator().Workers() != tt.wantWorker {
				t.Errorf("workers = %d, want %d", a.Coordinator().Workers(), tt.wantWorker)
			}
			if err := a.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
		})
	}
}

// certstore writes a CA, server and client bundle into a temp dir and
// points the channel config at it.
func certstore(t *testing.T) *core.Config {
	t.Helper()

	dir := t.TempDir()
	ca := testutil.NewCA(t, "mirapipe CA")
	ca.WriteCA(t, dir, "ca.pem")
	ca.Issue(t, "server", "127.0.0.1", "localhost").WriteBundle(t, dir, "server.pem", "123456")
	ca.Issue(t, "client").WriteBundle(t, dir, "client.pem", "123456")

	cfg := testConfig()
	cfg.Channel.CertStore = dir
	cfg.Channel.Listen = "127.0.0.1:0"
	cfg.Channel.HandshakeTimeout = 2 * time.Second
	return cfg
}

func TestServeAndConnect(t *testing.T) {
	cfg := certstore(t)

	serve, err := NewServe(cfg)
	if err != nil {
		t.Fatalf("NewServe() error = %v", err)
	}
	addrCh := make(chan string, 1)
	serve.OnReady(func(addr string) { addrCh <- addr })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve.Run(ctx) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	connect, err := NewConnect(cfg)
	if err != nil {
		t.Fatalf("NewConnect() error = %v", err)
	}

	for _, server := range []string{addr, "https://" + addr} {
		reply, err := connect.Send(context.Background(), server, []byte("Hello, World!"))
		if err != nil {
			t.Fatalf("Send(%s) error = %v", server, err)
		}
		if string(reply.Payload) != channel.DefaultAck {
			t.Errorf("reply = %q, want %q", reply.Payload, channel.DefaultAck)
		}
		if reply.PeerName != "server" || reply.TLSVersion == "" {
			t.Errorf("reply = %+v", reply)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_MissingCredential(t *testing.T) {
	cfg := testConfig()
	cfg.Channel.CertStore = t.TempDir()
	cfg.Channel.Listen = "127.0.0.1:0"

	serve, err := NewServe(cfg)
	if err != nil {
		t.Fatalf("NewServe() error = %v", err)
	}
	if err := serve.Run(context.Background()); !errors.Is(err, channel.ErrCredentialNotFound) {
		t.Errorf("Run() error = %v, want ErrCredentialNotFound", err)
	}
}

func TestConnect_Errors(t *testing.T) {
	cfg := certstore(t)
	connect, err := NewConnect(cfg)
	if err != nil {
		t.Fatalf("NewConnect() error = %v", err)
	}

	if _, err := connect.Send(context.Background(), "ftp://localhost", nil); !errors.Is(err, target.ErrInvalidSpec) {
		t.Errorf("bad address error = %v, want ErrInvalidSpec", err)
	}

	cfg.Channel.ClientCert = "missing.pem"
	if _, err := connect.Send(context.Background(), "127.0.0.1:1", []byte("x")); !errors.Is(err, channel.ErrCredentialNotFound) {
		t.Errorf("missing cert error = %v, want ErrCredentialNotFound", err)
	}
}

func TestScanApp_RunUsesConfigDefaults(t *testing.T) {
	var calls atomic.Int64
	app, _ := newScanApp(t, &calls)
	app.config.Scan.Host = "127.0.0.1"
	app.config.Scan.Ports = "100-102"

	report, err := app.Run(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Host != "127.0.0.1" || report.Counts().Total != 3 {
		t.Errorf("report host = %q, total = %d", report.Host, report.Counts().Total)
	}
}
