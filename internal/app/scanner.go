// internal/app/scanner.go
// Application orchestrator for port scans

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aspnmy/mirapipe/internal/core"
	"github.com/aspnmy/mirapipe/internal/models"
	"github.com/aspnmy/mirapipe/internal/output"
	"github.com/aspnmy/mirapipe/internal/scanner"
	"github.com/aspnmy/mirapipe/internal/target"
	"github.com/aspnmy/mirapipe/pkg/logger"
	"github.com/aspnmy/mirapipe/pkg/ratelimit"
)

// ErrScanInterrupted is returned when the scan context ends during the run.
// The report still holds an outcome for every target.
var ErrScanInterrupted = errors.New("scan interrupted")

// progressEvery spaces out progress log lines
const progressEvery = 2 * time.Second

// ScanApp resolves targets, runs the coordinator and feeds the formatters
type ScanApp struct {
	config      *core.Config
	coordinator *scanner.Coordinator
	formatters  []output.Formatter

	// Lifecycle management
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// ScanDeps holds dependencies for the scan app
type ScanDeps struct {
	Config      *core.Config
	Coordinator *scanner.Coordinator
	Formatters  []output.Formatter
}

// NewScanApp creates a new scan application
func NewScanApp(deps ScanDeps) *ScanApp {
	return &ScanApp{
		config:      deps.Config,
		coordinator: deps.Coordinator,
		formatters:  deps.Formatters,
	}
}

// Run scans host over the port spec and writes the report to every
// formatter. Empty arguments fall back to the scan config. Invalid input is
// rejected before any connection is made.
func (app *ScanApp) Run(ctx context.Context, host, ports string) (*models.ScanReport, error) {
	if host == "" && app.config != nil {
		host = app.config.Scan.Host
	}
	if ports == "" && app.config != nil {
		ports = app.config.Scan.Ports
	}

	targets, err := target.Resolve(host, ports)
	if err != nil {
		return nil, err
	}

	// Create cancellable context
	app.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	app.wg.Add(1)
	app.mu.Unlock()
	defer app.wg.Done()
	defer cancel()

	multiFormatter := output.NewMultiFormatter(app.formatters...)

	run := app.coordinator.NewRun(targets)
	progress := ratelimit.New(ratelimit.Config{Every: progressEvery, Burst: 1})
	run.OnResult(func(result models.ProbeResult) {
		if err := multiFormatter.Write(&result); err != nil {
			logger.Error("Failed to write result",
				logger.String("target", result.Target.String()),
				logger.Err(err))
		}

		if ok, _ := progress.Allow(); ok {
			p := run.Progress()
			logger.Info("Scan progress",
				logger.String("run_id", p.RunID),
				logger.Int64("processed", p.Processed),
				logger.Int64("total", p.Total),
				logger.Duration("elapsed", p.Elapsed),
			)
		}
	})

	report := run.Execute(ctx)

	if err := multiFormatter.WriteReport(report); err != nil {
		return report, fmt.Errorf("failed to write report: %w", err)
	}
	// Final flush
	if err := multiFormatter.Flush(); err != nil {
		return report, fmt.Errorf("failed to flush output: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%w: %v", ErrScanInterrupted, err)
	}
	return report, nil
}

// Shutdown stops dispatching new targets and waits for the running scan to
// finish its in-flight probes, then closes the formatters.
func (app *ScanApp) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down scanner...")

	app.mu.Lock()
	if app.cancel != nil {
		app.cancel()
	}
	app.mu.Unlock()

	// Wait for graceful shutdown with timeout
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Graceful shutdown complete")
	case <-ctx.Done():
		logger.Warn("Shutdown timeout exceeded")
	}

	return output.NewMultiFormatter(app.formatters...).Close()
}

// Coordinator exposes the configured coordinator
func (app *ScanApp) Coordinator() *scanner.Coordinator {
	return app.coordinator
}
