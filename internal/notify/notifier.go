package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autocdn/internal/core"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// RunNotifier is implemented by notifiers that render settled runs themselves.
type RunNotifier interface {
	NotifyRun(ctx context.Context, st core.RunState) error
}

// notifyRun prefers the notifier's own run rendering over the plain summary.
func notifyRun(ctx context.Context, n Notifier, st core.RunState) error {
	if rn, ok := n.(RunNotifier); ok {
		return rn.NotifyRun(ctx, st)
	}
	title, body := Summarize(st)
	return n.Send(ctx, title, body)
}

// MultiNotifier combines multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier and joins their errors.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyRun delivers st to every notifier and joins their errors.
func (m *MultiNotifier) NotifyRun(ctx context.Context, st core.RunState) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := notifyRun(ctx, n, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summarize renders the final state of a run as a notification.
func Summarize(st core.RunState) (title, body string) {
	outcome := "finished"
	if st.Err != nil {
		outcome = "failed"
	}
	title = fmt.Sprintf("autocdn: %s %s", st.ConfigName, outcome)
	body = fmt.Sprintf("mode %s", st.Mode)
	if st.StartedAt != nil && st.EndedAt != nil {
		body += fmt.Sprintf(", took %s", st.EndedAt.Sub(*st.StartedAt).Round(time.Second))
	}
	if st.Err != nil {
		body += "\n" + st.Err.Error()
	} else if st.StatusText != "" {
		body += "\n" + st.StatusText
	}
	return title, body
}

// SettleHook returns a function suitable for core.WithSettleHook that sends
// a summary of every settled run.
func SettleHook(n Notifier, logger *slog.Logger) func(core.RunState) {
	return func(st core.RunState) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := notifyRun(ctx, n, st); err != nil {
			logger.Warn("send run notification", "run_id", st.RunID, "err", err)
		}
	}
}
