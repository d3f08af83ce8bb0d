package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"autocdn/internal/events"
)

// Backend is the command boundary of the probe job. StartProbe blocks for the
// whole run and returns once it has settled; StopProbe only requests
// cancellation.
type Backend interface {
	StartProbe(ctx context.Context, name string, mode Mode) error
	StopProbe(ctx context.Context) error
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSettleHook registers fn to receive the final state of every run.
func WithSettleHook(fn func(RunState)) ControllerOption {
	return func(c *Controller) { c.onSettle = fn }
}

// WithLabels sets the tag and status strings of the projection.
func WithLabels(labels Labels) ControllerOption {
	return func(c *Controller) { c.labels = labels }
}

// Controller starts and stops the probe job and owns the single-run invariant.
type Controller struct {
	ctx      context.Context
	backend  Backend
	logger   *slog.Logger
	labels   Labels
	onSettle func(RunState)
	mux      *Multiplexer

	mu     sync.Mutex
	phase  Phase
	run    *activeRun
	closed bool
}

type activeRun struct {
	id        string
	name      string
	mode      Mode
	startedAt time.Time

	// guarded by Controller.mu
	endedAt       *time.Time
	err           error
	stopRequested bool

	once    sync.Once
	settled chan struct{}
}

func (r *activeRun) isSettled() bool {
	select {
	case <-r.settled:
		return true
	default:
		return false
	}
}

// NewController subscribes to the event channels of src for the controller's
// whole lifetime. ctx is handed to the backend for every command.
func NewController(ctx context.Context, backend Backend, src events.Source, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Controller{
		ctx:     ctx,
		backend: backend,
		logger:  logger,
		labels:  LabelsEN,
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mux = NewMultiplexer(src, c.labels, WithObserver(c.onEvent))
	return c
}

// Start launches a run of config name in the given mode and returns its ID.
// It returns false without side effects when name is empty, mode is unknown,
// a run is already in progress, or the controller is closed.
func (c *Controller) Start(name string, mode Mode) (string, bool) {
	if strings.TrimSpace(name) == "" || !mode.Valid() {
		return "", false
	}
	c.mu.Lock()
	if c.closed || (c.run != nil && !c.run.isSettled()) {
		c.mu.Unlock()
		return "", false
	}
	run := &activeRun{
		id:        NewID(),
		name:      name,
		mode:      mode,
		startedAt: time.Now().UTC(),
		settled:   make(chan struct{}),
	}
	c.run = run
	c.phase = PhaseStarting
	c.mux.Reset(run.id, c.labels.Initializing)
	c.mu.Unlock()

	c.logger.Info("probe run starting", "run_id", run.id, "config", name, "mode", mode)
	go c.execute(run)
	return run.id, true
}

func (c *Controller) execute(run *activeRun) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("probe panicked: %v", r)
			}
		}()
		return c.backend.StartProbe(WithRunID(c.ctx, run.id), run.name, run.mode)
	}()
	c.settle(run, err)
}

// settle records the run's outcome. Only the first call per run has effect.
func (c *Controller) settle(run *activeRun, err error) {
	run.once.Do(func() {
		c.mu.Lock()
		now := time.Now().UTC()
		run.endedAt = &now
		run.err = AsBackendError(err)
		current := c.run == run
		if current {
			c.phase = PhaseTerminal
			fatal := ""
			if err != nil {
				fatal = err.Error()
			}
			c.mux.Finish(c.labels.Finished, fatal)
		}
		close(run.settled)
		hook := c.onSettle
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("probe run failed", "run_id", run.id, "config", run.name, "err", err)
		} else {
			c.logger.Info("probe run finished", "run_id", run.id, "config", run.name)
		}
		if current && hook != nil {
			hook(c.Snapshot())
		}
	})
}

// Stop asks the backend to cancel the current run. The run stays running
// until StartProbe returns. Only the first call per run reaches the backend;
// calls with no run in progress do nothing.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	run := c.run
	if run == nil || run.isSettled() || run.stopRequested {
		c.mu.Unlock()
		return false
	}
	run.stopRequested = true
	c.mu.Unlock()

	c.logger.Info("probe run stop requested", "run_id", run.id)
	if err := c.backend.StopProbe(c.ctx); err != nil {
		c.logger.Warn("stop probe", "run_id", run.id, "err", err)
	}
	return true
}

// Running reports whether a run is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil && !c.run.isSettled()
}

// Snapshot composes the lifecycle state with the event projection.
func (c *Controller) Snapshot() RunState {
	proj := c.mux.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	st := RunState{
		Phase:           c.phase,
		StatusText:      proj.StatusText,
		ProgressPercent: proj.ProgressPercent,
		LogLines:        proj.LogLines,
	}
	if run := c.run; run != nil {
		started := run.startedAt
		st.Running = !run.isSettled()
		st.RunID = run.id
		st.ConfigName = run.name
		st.Mode = run.mode
		st.StartedAt = &started
		st.EndedAt = run.endedAt
		st.Err = run.err
	}
	return st
}

// Wait blocks until the current run settles or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches the controller: no new runs are accepted, an in-flight run
// is asked to stop and the event subscriptions are released. A pending
// settlement still lands in the state afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
	c.mux.Close()
}

func (c *Controller) onEvent(events.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseStarting {
		c.phase = PhaseRunning
	}
}
