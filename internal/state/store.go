// Package state records deployment history in a local SQLite database.
// It tracks each run and the outcome of every view deployed by it.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Trigger names what started a run.
type Trigger string

// Run triggers.
const (
	TriggerManual Trigger = "manual"
	TriggerHook   Trigger = "hook"
)

// Run is one invocation of a deployment.
type Run struct {
	ID          string
	Trigger     Trigger
	CommitHash  string
	DryRun      bool
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	// Views is filled by GetRun only.
	Views []ViewDeployment
}

// ViewDeployment is the outcome of one view within a run.
type ViewDeployment struct {
	RunID      string
	View       string
	Identifier string
	Status     string
	SQLHash    string
	Duration   time.Duration
	Error      string
}

// Store persists deployment history.
type Store interface {
	CreateRun(ctx context.Context, trigger Trigger, commit string, dryRun bool) (*Run, error)
	RecordView(ctx context.Context, v ViewDeployment) error
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
