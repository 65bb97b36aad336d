package sync

import (
	"context"
	"time"
)

// Syncer reconciles one class's local lessons into its remote task list.
//
// Lessons are processed one at a time in store order. Every lesson is
// either unsynced (no remote task yet) and gets created, or synced and gets
// its remote task patched field by field. A failure on one lesson is logged,
// counted in Result.Errors and recorded in the sync log; the next lesson is
// still processed.
type Syncer interface {
	// Sync runs one reconciliation pass over classKey.
	//
	// It returns an error only when the class does not exist or its remote
	// list cannot be resolved. Per-lesson failures are reported through the
	// counts in Result.
	//
	// When ctx ends, no new remote mutation is started; the call in flight
	// finishes, Result.Stopped is set and the partial counts are returned
	// with a nil error.
	//
	// Example:
	//   res, err := syncer.Sync(ctx, "PD OTN 06.09.25")
	//   if err != nil {
	//       return err
	//   }
	//   fmt.Printf("created=%d updated=%d errors=%d\n", res.Created, res.Updated, res.Errors)
	Sync(ctx context.Context, classKey string) (Result, error)
}

// Result summarizes one Sync pass.
type Result struct {
	RunID    string `json:"run_id"`
	ClassKey string `json:"class_key"`
	ListID   string `json:"list_id"`

	Created int `json:"created"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`

	// Linked counts unsynced lessons matched by name to an existing remote
	// task instead of being created again.
	Linked int `json:"linked"`

	// Closed counts inactive linked lessons whose remote task was closed.
	Closed int `json:"closed"`

	// Skipped counts inactive lessons left alone: never synced, or already
	// closed remotely.
	Skipped int `json:"skipped"`

	// Stopped is set when the context ended before every lesson was handled.
	Stopped bool `json:"stopped"`

	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Changed reports whether the pass changed anything remotely or locally.
func (r Result) Changed() bool {
	return r.Created+r.Updated+r.Linked+r.Closed > 0
}

// Action is one per-lesson outcome, as written to the sync log.
type Action struct {
	RunID        string    `json:"run_id"`
	ClassKey     string    `json:"class_key"`
	LessonID     int64     `json:"lesson_id"`
	LessonName   string    `json:"lesson_name"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	RemoteTaskID string    `json:"remote_task_id,omitempty"`
	Time         time.Time `json:"time"`
}

// Listener observes a sync pass. Calls are made synchronously from the
// syncing goroutine and must not block.
type Listener interface {
	OnAction(Action)
	OnComplete(Result)
}
