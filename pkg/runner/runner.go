// Package runner tracks live pipeline runs and exposes run control keyed by
// opaque run ids: start, pause, resume, kill. It owns the terminal event of
// each run (finish or execution-error) and reports failures to Sentry when
// configured. Isolation between concurrent runs is the transport layer's
// job; the runner only keys them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/engine"
	"github.com/wehubfusion/Daedalus/pkg/events"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/node"
	"github.com/wehubfusion/Daedalus/pkg/worker"
)

// ErrUnknownRun is returned by control operations for ids that are not live.
var ErrUnknownRun = errors.New("unknown run id")

// Config assembles a Runner.
type Config struct {
	// Registry resolves schema ids to node implementations. Required.
	Registry *node.Registry
	// Pool runs node bodies; shared by all runs. Required.
	Pool *worker.Pool
	// Sink receives every run's event stream. Defaults to events.Discard.
	Sink events.Sink
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// CaptureErrors reports run failures to the configured Sentry hub.
	// Aborts are never reported; an abort is a requested outcome.
	CaptureErrors bool
}

// Runner executes chains and tracks the live runs by id.
type Runner struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]*engine.Executor
}

// NewRunner creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Pool == nil {
		return nil, errors.New("worker pool cannot be nil")
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("daedalus/runner"),
		runs:   make(map[string]*engine.Executor),
	}, nil
}

// Start begins executing the chain and returns immediately with the new run
// id and a channel that yields the run's terminal error (nil on success,
// engine.ErrAborted when killed).
func (r *Runner) Start(ctx context.Context, chain *graph.Chain, inputs *graph.InputMap) (string, <-chan error, error) {
	runID := uuid.NewString()
	exec, err := engine.New(engine.Config{
		RunID:    runID,
		Chain:    chain,
		Inputs:   inputs,
		Registry: r.config.Registry,
		Pool:     r.config.Pool,
		Sink:     r.config.Sink,
		Logger:   r.logger,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to build executor: %w", err)
	}

	r.mu.Lock()
	r.runs[runID] = exec
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- r.execute(ctx, runID, exec)
	}()
	return runID, done, nil
}

// Execute runs the chain synchronously and returns its run id together with
// the terminal error.
func (r *Runner) Execute(ctx context.Context, chain *graph.Chain, inputs *graph.InputMap) (string, error) {
	runID, done, err := r.Start(ctx, chain, inputs)
	if err != nil {
		return "", err
	}
	return runID, <-done
}

func (r *Runner) execute(ctx context.Context, runID string, exec *engine.Executor) error {
	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()
	defer func() {
		r.mu.Lock()
		delete(r.runs, runID)
		r.mu.Unlock()
	}()

	r.logger.Info("run started", zap.String("run_id", runID))
	err := exec.Run(ctx)

	switch {
	case err == nil:
		r.publish(ctx, events.NewFinish(runID, "execution finished"))
		r.logger.Info("run finished", zap.String("run_id", runID))
	case errors.Is(err, engine.ErrAborted):
		// A kill is a requested outcome, not a failure: no error event.
		span.SetAttributes(attribute.Bool("run.aborted", true))
		r.logger.Info("run aborted", zap.String("run_id", runID))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		r.publish(ctx, events.NewExecutionError(runID, "execution failed", err.Error()))
		if r.config.CaptureErrors {
			sentry.CaptureException(err)
		}
		r.logger.Error("run failed", zap.String("run_id", runID), zap.Error(err))
	}
	return err
}

func (r *Runner) publish(ctx context.Context, event events.Event) {
	if err := r.config.Sink.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func (r *Runner) lookup(runID string) (*engine.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return exec, nil
}

// Pause blocks the run at its next suspension point.
func (r *Runner) Pause(runID string) error {
	exec, err := r.lookup(runID)
	if err != nil {
		return err
	}
	exec.Pause()
	r.logger.Info("run paused", zap.String("run_id", runID))
	return nil
}

// Resume releases a paused run.
func (r *Runner) Resume(runID string) error {
	exec, err := r.lookup(runID)
	if err != nil {
		return err
	}
	exec.Resume()
	r.logger.Info("run resumed", zap.String("run_id", runID))
	return nil
}

// Kill aborts the run; no further node bodies are dispatched and the run
// ends without a result.
func (r *Runner) Kill(runID string) error {
	exec, err := r.lookup(runID)
	if err != nil {
		return err
	}
	exec.Kill()
	r.logger.Info("run killed", zap.String("run_id", runID))
	return nil
}

// IsRunning reports whether the run id is live.
func (r *Runner) IsRunning(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[runID]
	return ok
}
