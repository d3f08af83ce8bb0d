package core

import (
	"math"
	"sync"

	"autocdn/internal/events"
)

// Projection is the multiplexer's view of the current run.
type Projection struct {
	StatusText      string
	ProgressPercent float64
	LogLines        []string
}

// MultiplexerOption configures a Multiplexer.
type MultiplexerOption func(*Multiplexer)

// WithObserver registers fn to be called after every applied event.
func WithObserver(fn func(events.Kind)) MultiplexerOption {
	return func(m *Multiplexer) { m.observer = fn }
}

// WithLogCapacity overrides the number of retained log lines.
func WithLogCapacity(n int) MultiplexerOption {
	return func(m *Multiplexer) { m.logs = NewLogBuffer(n) }
}

// Multiplexer folds the log, status, progress and error channels into a
// single projection. Each channel has its own consumer goroutine, so ordering
// is preserved within a channel and undefined across channels.
type Multiplexer struct {
	labels   Labels
	observer func(events.Kind)

	mu           sync.Mutex
	runID        string
	frozen       bool
	status       string
	percent      float64
	progressText string
	logs         *LogBuffer

	subs      []*events.Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMultiplexer subscribes to all four channels of src. The subscriptions
// stay attached until Close.
func NewMultiplexer(src events.Source, labels Labels, opts ...MultiplexerOption) *Multiplexer {
	m := &Multiplexer{
		labels: labels,
		status: labels.Ready,
		logs:   NewLogBuffer(LogCapacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, kind := range events.Kinds {
		sub := src.Subscribe(kind)
		m.subs = append(m.subs, sub)
		m.wg.Add(1)
		go m.consume(sub)
	}
	return m
}

func (m *Multiplexer) consume(sub *events.Subscription) {
	defer m.wg.Done()
	for ev := range sub.C() {
		m.apply(ev)
	}
}

// apply folds ev into the projection. Events stamped with another run are
// dropped. Once the run is finished, status and progress no longer move the
// status text or percent, but text still reaches the log.
func (m *Multiplexer) apply(ev events.Event) {
	m.mu.Lock()
	if ev.RunID != "" && ev.RunID != m.runID {
		m.mu.Unlock()
		return
	}
	switch ev.Kind {
	case events.KindLog:
		m.logs.Append(m.labels.LogTag + ev.Text)
	case events.KindStatus:
		if !m.frozen {
			m.status = ev.Text
		}
		m.logs.Append(m.labels.StatusTag + ev.Text)
	case events.KindProgress:
		if m.frozen {
			break
		}
		p := ev.Progress
		if p.Total > 0 {
			m.percent = clampPercent(float64(p.Current) / float64(p.Total) * 100)
		}
		switch {
		case p.Msg != nil:
			m.progressText = *p.Msg
			m.status = *p.Msg
		case m.progressText != "":
			m.status = m.progressText
		default:
			m.status = m.labels.Testing
		}
	case events.KindError:
		m.logs.Append(m.labels.ErrorTag + ev.Text)
	}
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(ev.Kind)
	}
}

// Reset clears the projection for run runID. Events stamped with any other
// run are ignored from now on.
func (m *Multiplexer) Reset(runID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runID = runID
	m.frozen = false
	m.status = status
	m.percent = 0
	m.progressText = ""
	m.logs.Reset()
}

// Finish marks the projection terminal: full progress, the given status, and
// a fatal entry when fatal is non-empty. Percent and status stay put until the
// next Reset.
func (m *Multiplexer) Finish(status, fatal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
	m.status = status
	m.percent = 100
	if fatal != "" {
		m.logs.Append(m.labels.FatalTag + fatal)
	}
}

// Snapshot returns a copy of the current projection.
func (m *Multiplexer) Snapshot() Projection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Projection{
		StatusText:      m.status,
		ProgressPercent: m.percent,
		LogLines:        m.logs.Lines(),
	}
}

// Close releases every subscription once and waits for the consumers to exit.
// Events published afterwards never reach the projection.
func (m *Multiplexer) Close() {
	m.closeOnce.Do(func() {
		for _, sub := range m.subs {
			sub.Release()
		}
		m.wg.Wait()
	})
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
