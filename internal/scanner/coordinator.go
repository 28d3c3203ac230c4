// internal/scanner/coordinator.go
// Bounded worker pool fanning probes out over a resolved target list

package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aspnmy/mirapipe/internal/models"
	"github.com/aspnmy/mirapipe/internal/telemetry"
	"github.com/aspnmy/mirapipe/pkg/logger"
)

// DefaultWorkers is the concurrency limit when none is configured
const DefaultWorkers = 256

// Coordinator runs the port probe for every target and the TLS probe for
// every target whose port probe came back Open.
type Coordinator struct {
	port     Prober
	tls      Prober // nil disables TLS probing
	workers  int
	observer Observer
}

// NewCoordinator creates a coordinator. tlsProber may be nil.
func NewCoordinator(portProber, tlsProber Prober, workers int) (*Coordinator, error) {
	if portProber == nil {
		return nil, ErrNoPortProber
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Coordinator{port: portProber, tls: tlsProber, workers: workers}, nil
}

// OnResult registers an observer for per-target results of every later run
func (c *Coordinator) OnResult(o Observer) {
	c.observer = o
}

// Workers returns the concurrency limit
func (c *Coordinator) Workers() int {
	return c.workers
}

// Run is one scan over a fixed target list
type Run struct {
	ID        string
	coord     *Coordinator
	targets   []models.Target
	state     atomic.Int32
	processed atomic.Int64
	results   sync.Map // port -> models.Outcome, each key stored once
	observer  Observer
	started   time.Time
	once      sync.Once
	report    *models.ScanReport
}

// NewRun prepares a run in the NotStarted state
func (c *Coordinator) NewRun(targets []models.Target) *Run {
	r := &Run{
		ID:       uuid.NewString(),
		coord:    c,
		targets:  targets,
		observer: c.observer,
	}
	r.state.Store(int32(models.RunNotStarted))
	return r
}

// Scan is NewRun followed by Execute
func (c *Coordinator) Scan(ctx context.Context, targets []models.Target) *models.ScanReport {
	return c.NewRun(targets).Execute(ctx)
}

// OnResult replaces the observer for this run. Call it before Execute.
func (r *Run) OnResult(o Observer) {
	r.observer = o
}

// State returns the lifecycle state of the run
func (r *Run) State() models.RunState {
	return models.RunState(r.state.Load())
}

// Progress returns how many targets have a final outcome
func (r *Run) Progress() models.Progress {
	var elapsed time.Duration
	if r.State() != models.RunNotStarted {
		elapsed = time.Since(r.started)
	}
	return models.Progress{
		RunID:     r.ID,
		Total:     int64(len(r.targets)),
		Processed: r.processed.Load(),
		Elapsed:   elapsed,
	}
}

// Execute dispatches every target and blocks until each one has an outcome.
// Cancelling ctx stops dispatching; probes already running finish on their
// own timeout, and targets never dispatched are recorded as connect errors.
// Calling Execute again returns the same report.
func (r *Run) Execute(ctx context.Context) *models.ScanReport {
	r.once.Do(func() {
		r.report = r.execute(ctx)
	})
	return r.report
}

func (r *Run) execute(ctx context.Context) *models.ScanReport {
	ctx, span := telemetry.Tracer().Start(ctx, "scan.run", trace.WithAttributes(
		attribute.String("run_id", r.ID),
		attribute.Int("targets", len(r.targets)),
	))
	defer span.End()

	r.started = time.Now()
	r.state.Store(int32(models.RunScanning))

	workers := r.coord.workers
	if workers > len(r.targets) {
		workers = len(r.targets)
	}

	logger.Info("Starting scan",
		logger.String("run_id", r.ID),
		logger.Int("targets", len(r.targets)),
		logger.Int("workers", workers),
	)

	// In-flight probes are not interrupted by scan cancellation.
	probeCtx := context.WithoutCancel(ctx)

	tasks := make(chan models.Target)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go r.worker(probeCtx, &wg, tasks)
	}

	for i, t := range r.targets {
		select {
		case tasks <- t:
			continue
		case <-ctx.Done():
		}
		for _, skipped := range r.targets[i:] {
			r.record(models.ProbeResult{
				Target:    skipped,
				Outcome:   models.ConnectError(fmt.Sprintf("scan cancelled: %v", ctx.Err())),
				Timestamp: time.Now(),
			})
		}
		break
	}
	close(tasks)
	wg.Wait()

	report := models.BuildReport(r.ID, r.host(), r.started, r.snapshot())
	r.state.Store(int32(models.RunCompleted))

	counts := report.Counts()
	span.SetAttributes(
		attribute.Int("open", counts.Open),
		attribute.Int("tls", counts.TLS),
		attribute.Int("errors", counts.Errors),
	)
	logger.Info("Scan complete",
		logger.String("run_id", r.ID),
		logger.Int("total", counts.Total),
		logger.Int("open", counts.Open),
		logger.Int("closed", counts.Closed),
		logger.Int("tls", counts.TLS),
		logger.Int("tls_suspected", counts.TLSSuspected),
		logger.Int("errors", counts.Errors),
		logger.Duration("duration", report.Duration),
	)

	return report
}

func (r *Run) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan models.Target) {
	defer wg.Done()

	for t := range tasks {
		r.record(r.probe(ctx, t))
	}
}

// probe runs the port probe and, for open ports, the TLS probe whose outcome
// supersedes Open.
func (r *Run) probe(ctx context.Context, t models.Target) models.ProbeResult {
	result := r.coord.port.Probe(ctx, t)
	if result.Outcome.Kind != models.OutcomeOpen || r.coord.tls == nil {
		return result
	}

	tlsResult := r.coord.tls.Probe(ctx, t)
	tlsResult.Latency += result.Latency
	return tlsResult
}

func (r *Run) record(result models.ProbeResult) {
	if !result.Outcome.Kind.Valid() {
		result.Outcome = models.ConnectError(fmt.Sprintf("prober returned invalid outcome %v", result.Outcome.Kind))
	}
	if _, loaded := r.results.LoadOrStore(result.Target.Port, result.Outcome); loaded {
		logger.Warn("Duplicate result ignored", logger.String("target", result.Target.Address()))
		return
	}
	r.processed.Add(1)

	if r.observer != nil {
		r.observer(result)
	}
}

func (r *Run) snapshot() map[int]models.Outcome {
	out := make(map[int]models.Outcome, len(r.targets))
	r.results.Range(func(k, v interface{}) bool {
		out[k.(int)] = v.(models.Outcome)
		return true
	})
	return out
}

func (r *Run) host() string {
	if len(r.targets) == 0 {
		return ""
	}
	return r.targets[0].Host
}
