// Package scheduler holds the scheduled entry points of the reminder service:
// the in-process gocron worker used by long-lived hosts, the payload format
// the Lambda host accepts from EventBridge, and the lock maintenance task.
package scheduler

import (
	"context"
	"time"

	"mealreminder/internal/types"
)

// TaskType selects what a scheduled invocation does.
type TaskType string

const (
	// TaskSendReminders runs one reminder pass. It is the default when an
	// event carries no payload.
	TaskSendReminders TaskType = "send_reminders"
	// TaskPurgeLocks deletes job locks older than the retention window.
	TaskPurgeLocks TaskType = "purge_locks"
)

// Payload is the EventBridge detail accepted by the Lambda host:
//
//	{
//	  "task": "send_reminders",
//	  "reference_time": "2026-10-14T18:30:00Z",  // optional
//	  "dryRun": true                              // optional
//	}
//
// ReferenceTime replays a past minute, which is how a missed minute is
// re-run by hand. Scheduled events never set it.
type Payload struct {
	Task            TaskType   `json:"task"`
	ReferenceTime   *time.Time `json:"reference_time,omitempty"`
	Debug           bool       `json:"debug,omitempty"`
	DryRun          bool       `json:"dryRun,omitempty"`
	Force           bool       `json:"force,omitempty"`
	IgnoreTimeMatch bool       `json:"ignoreTimeMatch,omitempty"`
}

// Options converts the payload flags to run options.
func (p Payload) Options(trigger string, leadMinutes int) types.RunOptions {
	return types.RunOptions{
		Debug:           p.Debug,
		DryRun:          p.DryRun,
		Force:           p.Force,
		IgnoreTimeMatch: p.IgnoreTimeMatch,
		LeadMinutes:     leadMinutes,
		Trigger:         trigger,
	}
}

// Runner executes one reminder pass.
type Runner interface {
	Run(ctx context.Context, opts types.RunOptions) (*types.RunReport, error)
}
