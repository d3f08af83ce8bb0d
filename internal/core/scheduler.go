package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Starter is the part of the controller the scheduler drives.
type Starter interface {
	Start(name string, mode Mode) (string, bool)
	Running() bool
}

// Scheduler triggers unattended auto-mode runs of configurations on cron
// schedules. A trigger that finds a run in progress is skipped.
type Scheduler struct {
	starter  Starter
	logger   *slog.Logger
	location *time.Location

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[string]cron.EntryID
}

// NewScheduler constructs a scheduler; a nil location means local time.
func NewScheduler(starter Starter, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(location),
	)
	return &Scheduler{
		starter:  starter,
		logger:   logger,
		location: location,
		cron:     c,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the loop; the returned context is done once in-flight triggers return.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Schedule registers or replaces the schedule of config name.
func (s *Scheduler) Schedule(name, expr string) error {
	if name == "" {
		return fmt.Errorf("schedule: %w", ErrInvalidName)
	}
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}
	s.Unschedule(name)

	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() { s.trigger(name) }))
	s.entryMu.Lock()
	s.entries[name] = entryID
	s.entryMu.Unlock()

	next := NextOccurrences(schedule, time.Now().In(s.location), 1)[0]
	s.logger.Info("auto run scheduled", "config", name, "cron", expr, "next", next.Format(time.RFC3339))
	return nil
}

// Unschedule removes the schedule of config name, if any.
func (s *Scheduler) Unschedule(name string) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}
}

// Next returns the next activation of config name's schedule.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.entryMu.RLock()
	entryID, ok := s.entries[name]
	s.entryMu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if entry.Next.IsZero() {
		return entry.Schedule.Next(time.Now().In(s.location)), true
	}
	return entry.Next, true
}

func (s *Scheduler) trigger(name string) {
	if s.starter.Running() {
		s.logger.Info("skipping scheduled run because a run is in progress", "config", name)
		return
	}
	id, ok := s.starter.Start(name, ModeAuto)
	if !ok {
		s.logger.Warn("scheduled run was not started", "config", name)
		return
	}
	s.logger.Info("scheduled run started", "config", name, "run_id", id)
}
