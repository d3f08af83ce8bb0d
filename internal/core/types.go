package core

import (
	"time"
)

// Mode selects what happens after a successful probe.
type Mode string

const (
	// ModeAuto probes and then pushes the best addresses to DNS.
	ModeAuto Mode = "auto"
	// ModeManual only probes and reports.
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

// Phase is the lifecycle position of the controller's current run.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseTerminal Phase = "terminal"
)

// RunStatus describes the persisted outcome of a probe run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning:
		return false
	default:
		return true
	}
}

// RunRecord is the persisted history entry of one probe run.
type RunRecord struct {
	ID         string
	ConfigName string
	Mode       Mode
	Status     RunStatus
	StartedAt  time.Time
	EndedAt    *time.Time
	Error      *string
}

// RunState is the observable projection of the controller's current run.
type RunState struct {
	Phase           Phase
	Running         bool
	StatusText      string
	ProgressPercent float64
	LogLines        []string

	RunID      string
	ConfigName string
	Mode       Mode
	StartedAt  *time.Time
	EndedAt    *time.Time
	Err        error
}
