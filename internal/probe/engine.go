package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"autocdn/internal/core"
	"autocdn/internal/events"
)

var (
	// ErrBusy is returned by StartProbe while another run is active.
	ErrBusy = errors.New("a probe run is already active")
	// ErrNoResults is returned when the probe finished without a usable address.
	ErrNoResults = errors.New("probe produced no usable addresses")
)

// RecordLoader loads a configuration with load-time defaults applied.
type RecordLoader interface {
	Load(ctx context.Context, name string) (core.Record, error)
}

// RunStore records run history and owns the per-run log files.
type RunStore interface {
	InsertRun(ctx context.Context, run *core.RunRecord) error
	MarkRunCompleted(ctx context.Context, id string, status core.RunStatus, endedAt time.Time, errMsg *string) error
	EnsureRunLogDir(runID string) error
	RunLogPath(runID string) string
	PruneOldRunLogs(ctx context.Context) error
}

// DNSUpdater points the given domains at their assigned addresses.
type DNSUpdater interface {
	UpdateRecords(ctx context.Context, cf core.CloudflareSettings, testType core.TestType, assignments []Assignment) error
}

// Config holds the engine's process settings.
type Config struct {
	Binary    string
	WorkDir   string
	StopGrace time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithDNSUpdater sets the updater used by auto-mode runs.
func WithDNSUpdater(u DNSUpdater) Option {
	return func(e *Engine) { e.updater = u }
}

// Engine runs the external probe binary and reports on the event bus. It
// implements core.Backend.
type Engine struct {
	configs RecordLoader
	runs    RunStore
	pub     events.Publisher
	logger  *slog.Logger
	cfg     Config
	updater DNSUpdater

	mu     sync.Mutex
	active *activeRun
}

// NewEngine creates an engine.
func NewEngine(configs RecordLoader, runs RunStore, pub events.Publisher, logger *slog.Logger, cfg Config, opts ...Option) *Engine {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	e := &Engine{
		configs: configs,
		runs:    runs,
		pub:     pub,
		logger:  logger,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type activeRun struct {
	id   string
	stop atomic.Bool

	mu        sync.Mutex
	out       *sink
	cmd       *exec.Cmd
	exited    bool
	killTimer *time.Timer
}

func (r *activeRun) setOutput(out *sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = out
}

func (r *activeRun) output(pub events.Publisher) *sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return &sink{pub: pub, runID: r.id}
	}
	return r.out
}

func (r *activeRun) attach(cmd *exec.Cmd, grace time.Duration) {
	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()
	if r.stop.Load() {
		r.terminate(grace)
	}
}

func (r *activeRun) terminate(grace time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil || r.exited || r.killTimer != nil {
		return
	}
	proc := r.cmd.Process
	sendTermination(proc)
	r.killTimer = time.AfterFunc(grace, func() {
		_ = proc.Kill()
	})
}

func (r *activeRun) exit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited = true
	if r.killTimer != nil {
		r.killTimer.Stop()
	}
}

// StartProbe runs config name to completion. A run that was stopped returns nil.
func (e *Engine) StartProbe(ctx context.Context, name string, mode core.Mode) (err error) {
	r, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer e.release(r)

	startedAt := time.Now().UTC()
	record := &core.RunRecord{
		ID:         r.id,
		ConfigName: name,
		Mode:       mode,
		Status:     core.RunStatusRunning,
		StartedAt:  startedAt,
	}
	if err := e.runs.InsertRun(ctx, record); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	out := &sink{pub: e.pub, runID: r.id}
	if logFile, lerr := e.openRunLog(r.id); lerr != nil {
		e.logger.Warn("open run log", "run_id", r.id, "err", lerr)
	} else {
		defer logFile.Close()
		out.log = &syncWriter{w: logFile}
	}
	r.setOutput(out)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("probe panicked: %v", p)
			out.Error(err.Error())
		}
		e.complete(context.WithoutCancel(ctx), r, err)
	}()
	return e.probe(ctx, r, out, name, mode)
}

// StopProbe asks the active run to stop: SIGTERM first, Kill after the grace
// period. It does nothing when no run is active or a stop is already pending.
func (e *Engine) StopProbe(ctx context.Context) error {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()
	if r == nil || !r.stop.CompareAndSwap(false, true) {
		return nil
	}
	e.logger.Info("probe stop requested", "run_id", r.id)
	out := r.output(e.pub)
	out.Log("[CONTROL] Stop requested; sending termination signal to the probe process")
	out.Status("Stopping probe...")
	r.terminate(e.cfg.StopGrace)
	return nil
}

func (e *Engine) acquire(ctx context.Context) (*activeRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, ErrBusy
	}
	id, ok := core.RunIDFrom(ctx)
	if !ok {
		id = core.NewID()
	}
	r := &activeRun{id: id}
	e.active = r
	return r, nil
}

func (e *Engine) release(r *activeRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == r {
		e.active = nil
	}
}

func (e *Engine) openRunLog(runID string) (*os.File, error) {
	if err := e.runs.EnsureRunLogDir(runID); err != nil {
		return nil, fmt.Errorf("ensure run log dir: %w", err)
	}
	return os.OpenFile(e.runs.RunLogPath(runID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func (e *Engine) complete(ctx context.Context, r *activeRun, runErr error) {
	status := core.RunStatusSucceeded
	var errMsg *string
	switch {
	case r.stop.Load():
		status = core.RunStatusCanceled
	case runErr != nil:
		status = core.RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := e.runs.MarkRunCompleted(ctx, r.id, status, time.Now().UTC(), errMsg); err != nil {
		e.logger.Warn("mark run completed", "run_id", r.id, "err", err)
	}
	if err := e.runs.PruneOldRunLogs(ctx); err != nil {
		e.logger.Warn("prune run logs", "err", err)
	}
}

func (e *Engine) probe(ctx context.Context, r *activeRun, out *sink, name string, mode core.Mode) error {
	rec, err := e.configs.Load(ctx, name)
	if err != nil {
		out.Error(fmt.Sprintf("Failed to load config %s: %v", name, err))
		return err
	}
	st := rec.SpeedTest
	out.Log(fmt.Sprintf("Delay filter: %d-%d ms, max loss rate %.2f", st.MinDelay, st.MaxDelay, st.MaxLossRate))

	testType := rec.EffectiveTestType()
	ipFile := rec.ProbeFile()
	out.Log(fmt.Sprintf("Mode: %s, File: %s", testType, ipFile))
	if _, err := os.Stat(e.resolve(ipFile)); err != nil {
		out.Error(fmt.Sprintf("IP file %s not found", ipFile))
		return fmt.Errorf("ip file %s: %w", ipFile, err)
	}

	output := st.Output
	if output == "" {
		output = "result.csv"
	}
	resultPath := e.resolve(output)
	_ = os.Remove(resultPath)

	if r.stop.Load() {
		out.Status("Probe stopped.")
		return nil
	}
	out.Status(fmt.Sprintf("Starting probe (%s)...", testType))
	if err := e.runBinary(ctx, r, out, BuildArgs(rec, ipFile, output)); err != nil {
		return err
	}
	if r.stop.Load() {
		out.Status("Probe stopped.")
		return nil
	}
	out.Status("Probe finished.")

	ips, err := ReadResultIPs(resultPath)
	if err != nil {
		out.Error(fmt.Sprintf("Failed to read results: %v", err))
		return err
	}
	if len(ips) == 0 {
		out.Error("Probe found no usable addresses; check the IP file, network and delay/loss filters")
		return ErrNoResults
	}
	best := ips
	if st.PrintNum > 0 && len(best) > st.PrintNum {
		best = best[:st.PrintNum]
	}
	out.Log(fmt.Sprintf("Best addresses: %s", strings.Join(best, ", ")))

	if mode != core.ModeAuto {
		return nil
	}
	return e.updateDNS(ctx, out, rec, ips)
}

func (e *Engine) updateDNS(ctx context.Context, out *sink, rec core.Record, ips []string) error {
	domains := rec.TargetDomains()
	if len(domains) == 0 {
		out.Status("No domains configured; DNS update skipped.")
		return nil
	}
	assignments, err := AssignIPs(ips, domains)
	if err != nil {
		out.Error(fmt.Sprintf("Cannot assign addresses: %v", err))
		return err
	}
	for _, a := range assignments {
		out.Log(fmt.Sprintf("%s -> %s", a.Domain, a.IP))
	}
	if e.updater == nil {
		out.Status("DNS updater not configured; DNS update skipped.")
		return nil
	}
	out.Status("Updating DNS...")
	if err := e.updater.UpdateRecords(ctx, rec.Cloudflare, rec.EffectiveTestType(), assignments); err != nil {
		out.Error(fmt.Sprintf("DNS update failed: %v", err))
		return fmt.Errorf("update dns: %w", err)
	}
	out.Status("DNS updated successfully!")
	return nil
}

func (e *Engine) runBinary(ctx context.Context, r *activeRun, out *sink, args []string) error {
	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...) // #nosec G204
	cmd.Dir = e.cfg.WorkDir
	cmd.WaitDelay = e.cfg.StopGrace
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		out.Error(fmt.Sprintf("Failed to start probe: %v", err))
		return fmt.Errorf("start probe: %w", err)
	}
	r.attach(cmd, e.cfg.StopGrace)

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanOutput(pr, out)
	}()
	waitErr := cmd.Wait()
	r.exit()
	_ = pw.Close()
	<-scanned

	switch {
	case r.stop.Load():
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		out.Error(fmt.Sprintf("Probe exited: %v", waitErr))
		return fmt.Errorf("probe exited: %w", waitErr)
	}
	return nil
}

func (e *Engine) resolve(path string) string {
	if filepath.IsAbs(path) || e.cfg.WorkDir == "" {
		return path
	}
	return filepath.Join(e.cfg.WorkDir, path)
}

var (
	progressPattern = regexp.MustCompile(`^(\d+)\s*/\s*(\d+)`)
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
)

// ParseProgress extracts the "current / total" counter from a progress line.
func ParseProgress(line string) (current, total int, ok bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	current, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return current, total, true
}

func phaseOf(line string) (string, bool) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(line, "延迟测速") || strings.Contains(lower, "latency"):
		return "Latency probing", true
	case strings.Contains(line, "下载测速") || strings.Contains(lower, "download speed"):
		return "Download testing", true
	}
	return "", false
}

func scanOutput(r io.Reader, out *sink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	phase := ""
	for scanner.Scan() {
		line := strings.TrimSpace(ansiPattern.ReplaceAllString(scanner.Text(), ""))
		if line == "" {
			continue
		}
		if p, ok := phaseOf(line); ok {
			phase = p
		}
		if current, total, ok := ParseProgress(line); ok {
			out.Progress(current, total, phase)
			continue
		}
		out.Log(line)
	}
	_, _ = io.Copy(io.Discard, r)
}

// sink publishes run events and mirrors the text channels into the run log.
type sink struct {
	pub   events.Publisher
	runID string
	log   io.Writer
}

func (s *sink) emit(kind events.Kind, text string) {
	s.pub.Publish(events.Event{Kind: kind, RunID: s.runID, Text: text})
	if s.log != nil {
		fmt.Fprintf(s.log, "[%s] %s\n", kind, text)
	}
}

func (s *sink) Log(text string)    { s.emit(events.KindLog, text) }
func (s *sink) Status(text string) { s.emit(events.KindStatus, text) }
func (s *sink) Error(text string)  { s.emit(events.KindError, text) }

func (s *sink) Progress(current, total int, msg string) {
	p := events.Progress{Current: current, Total: total}
	if msg != "" {
		p.Msg = &msg
	}
	s.pub.Publish(events.Event{Kind: events.KindProgress, RunID: s.runID, Progress: p})
}
