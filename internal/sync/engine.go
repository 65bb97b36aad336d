package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/ratelimit"
	"github.com/orientation-ops/lessonsync/internal/reader"
	"github.com/orientation-ops/lessonsync/internal/remote"
	"github.com/orientation-ops/lessonsync/internal/store"
)

// Store is the part of the local store the engine needs.
type Store interface {
	GetClass(ctx context.Context, key string) (*store.Class, error)
	GetLessons(ctx context.Context, classKey string) ([]lesson.Lesson, error)
	SetRemoteLink(ctx context.Context, classKey string, lessonID int64, remoteTaskID string) error
	AppendSyncLog(ctx context.Context, e store.LogEntry) error
}

// LiveReader supplies the remote view of a class.
type LiveReader interface {
	Refresh(ctx context.Context, classKey string) (reader.Live, error)
	Invalidate(classKeys ...string)
}

// Config holds the engine's collaborators. Store, Reader, Client and
// Limiter are required.
type Config struct {
	Store     Store
	Reader    LiveReader
	Client    remote.Client
	FieldMap  remote.FieldMap
	Directory remote.Directory
	Limiter   *ratelimit.Limiter

	// Listener is optional.
	Listener Listener

	// DryRun computes and counts changes without mutating anything.
	DryRun bool

	Logger *log.Logger
	Now    func() time.Time
}

type engine struct {
	store     Store
	reader    LiveReader
	client    remote.Client
	fieldMap  remote.FieldMap
	directory remote.Directory
	limiter   *ratelimit.Limiter
	listener  Listener
	dryRun    bool
	logger    *log.Logger
	now       func() time.Time
}

// New creates a Syncer.
//
// If Logger is nil, a default logger writing to stderr is used. A nil
// Directory resolves no leads.
func New(cfg Config) Syncer {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Directory == nil {
		cfg.Directory = remote.StaticDirectory{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.Options{})
	}
	return &engine{
		store:     cfg.Store,
		reader:    cfg.Reader,
		client:    cfg.Client,
		fieldMap:  cfg.FieldMap,
		directory: cfg.Directory,
		limiter:   cfg.Limiter,
		listener:  cfg.Listener,
		dryRun:    cfg.DryRun,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// errStopped marks a lesson interrupted by the end of the context.
var errStopped = errors.New("sync stopped")

// run is the state of one pass.
type run struct {
	ctx      context.Context
	res      Result
	listID   string
	linked   map[string]bool // remote task ids already linked locally
	mutated  bool
	warnings map[string]bool
}

func (r *run) warn(msg string) {
	if r.warnings[msg] {
		return
	}
	r.warnings[msg] = true
	r.res.Warnings = append(r.res.Warnings, msg)
}

// Sync implements Syncer.Sync.
func (e *engine) Sync(ctx context.Context, classKey string) (Result, error) {
	start := e.now()
	r := &run{
		ctx:      ctx,
		res:      Result{RunID: uuid.NewString(), ClassKey: classKey, DryRun: e.dryRun},
		linked:   make(map[string]bool),
		warnings: make(map[string]bool),
	}

	if _, err := e.store.GetClass(ctx, classKey); err != nil {
		return Result{}, err
	}
	live, err := e.reader.Refresh(ctx, classKey)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read remote lessons of %s: %w", classKey, err)
	}
	if live.Meta.Stale {
		r.warn("remote lessons are stale: " + live.Meta.FetchedAt.Format(time.RFC3339))
	}
	r.listID = live.Meta.ListID
	r.res.ListID = r.listID

	lessons, err := e.store.GetLessons(ctx, classKey)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load lessons of %s: %w", classKey, err)
	}

	remoteByKey := make(map[string]lesson.Lesson, len(live.Lessons))
	for _, l := range live.Lessons {
		if l.RemoteTaskID == "" {
			continue
		}
		if _, dup := remoteByKey[l.Key()]; !dup {
			remoteByKey[l.Key()] = l
		}
	}
	for _, l := range lessons {
		if l.RemoteTaskID != "" {
			r.linked[l.RemoteTaskID] = true
		}
	}

	mode := ""
	if e.dryRun {
		mode = " (dry run)"
	}
	e.logger.Printf("Starting sync of %s%s: %d lessons, %d remote tasks", classKey, mode, len(lessons), len(live.Lessons))

	for _, l := range lessons {
		if ctx.Err() != nil {
			r.res.Stopped = true
			break
		}
		if !l.IsActive {
			if l.State() == lesson.Synced && e.closeTask(r, l) {
				r.res.Stopped = true
				break
			}
			if l.State() == lesson.Unsynced {
				r.res.Skipped++
			}
			continue
		}

		if l.State() == lesson.Unsynced {
			if match, ok := remoteByKey[l.Key()]; ok && !r.linked[match.RemoteTaskID] {
				if !e.link(r, l, match.RemoteTaskID) {
					continue
				}
				l.RemoteTaskID = match.RemoteTaskID
			}
		}

		var stopped bool
		switch lesson.NextTransition(l.State()) {
		case lesson.TransitionCreate:
			stopped = e.create(r, l)
		case lesson.TransitionUpdate:
			stopped = e.update(r, l)
		}
		if stopped {
			r.res.Stopped = true
			break
		}
	}

	if r.mutated {
		e.reader.Invalidate(classKey)
	}

	r.res.Duration = e.now().Sub(start)
	status := "complete"
	if r.res.Stopped {
		status = "stopped"
	}
	e.logger.Printf("Sync %s %s%s: created=%d updated=%d linked=%d closed=%d skipped=%d errors=%d (%s)",
		classKey, status, mode, r.res.Created, r.res.Updated, r.res.Linked, r.res.Closed, r.res.Skipped, r.res.Errors, r.res.Duration.Round(time.Millisecond))

	if e.listener != nil {
		e.listener.OnComplete(r.res)
	}
	return r.res, nil
}

// link records an existing remote task as the lesson's remote link.
func (e *engine) link(r *run, l lesson.Lesson, taskID string) bool {
	r.linked[taskID] = true
	if e.dryRun {
		r.res.Linked++
		return true
	}

	err := e.store.SetRemoteLink(context.WithoutCancel(r.ctx), r.res.ClassKey, l.ID, taskID)
	if err != nil {
		e.fail(r, l, store.ActionLink, taskID, err)
		return false
	}
	r.res.Linked++
	e.record(r, l, store.ActionLink, store.StatusSuccess, taskID, "linked existing remote task by name")
	return true
}

// create is the unsynced -> synced transition. It reports whether the pass
// must stop.
func (e *engine) create(r *run, l lesson.Lesson) bool {
	req := remote.CreateTaskRequest{
		Name:        l.Name,
		Description: lesson.Describe(l),
	}
	if id, ok := e.fieldMap.WeekOption(l.Week); ok {
		req.CustomFields = append(req.CustomFields, remote.CustomFieldValue{ID: e.fieldMap.WeekField, Value: id})
	}
	if id, ok := e.fieldMap.DayOption(l.WeekDay); ok {
		req.CustomFields = append(req.CustomFields, remote.CustomFieldValue{ID: e.fieldMap.DayField, Value: id})
	}
	if l.Subject != "" {
		if id, ok := e.fieldMap.SubjectOption(l.Subject); ok {
			req.CustomFields = append(req.CustomFields, remote.CustomFieldValue{ID: e.fieldMap.SubjectField, Value: id})
		} else {
			r.warn(fmt.Sprintf("no option for subject %q", l.Subject))
		}
	}

	userIDs, _, err := e.resolveLeads(r, l)
	if err != nil {
		e.fail(r, l, store.ActionCreate, "", err)
		return false
	}
	if len(userIDs) > 0 {
		req.CustomFields = append(req.CustomFields, remote.CustomFieldValue{
			ID:    e.fieldMap.LeadsField,
			Value: remote.UsersDiff{Add: userIDs, Rem: []string{}},
		})
	}

	if e.dryRun {
		r.res.Created++
		e.logger.Printf("Would create task for lesson %d (%s)", l.ID, l.Name)
		return false
	}

	var task remote.Task
	err = e.mutate(r, func(ctx context.Context) error {
		var err error
		task, err = e.client.CreateTask(ctx, r.listID, req)
		return err
	})
	if errors.Is(err, errStopped) {
		return true
	}
	if err != nil {
		e.fail(r, l, store.ActionCreate, "", err)
		return false
	}

	if err := e.store.SetRemoteLink(context.WithoutCancel(r.ctx), r.res.ClassKey, l.ID, task.ID); err != nil {
		e.fail(r, l, store.ActionCreate, task.ID, fmt.Errorf("created task %s but failed to link it: %w", task.ID, err))
		return false
	}
	r.linked[task.ID] = true
	r.res.Created++
	e.record(r, l, store.ActionCreate, store.StatusSuccess, task.ID, "created remote task")
	e.logger.Printf("Created task %s for lesson %d (%s)", task.ID, l.ID, l.Name)
	return false
}

// closeTask pushes a local deactivation to the remote task. Tasks are closed,
// never deleted, and a closed task is never reopened. It reports whether
// the pass must stop.
func (e *engine) closeTask(r *run, l lesson.Lesson) bool {
	task, err := e.client.GetTask(r.ctx, l.RemoteTaskID)
	if err != nil {
		if r.ctx.Err() != nil {
			return true
		}
		e.fail(r, l, store.ActionClose, l.RemoteTaskID, err)
		return false
	}
	if task.Closed() {
		r.res.Skipped++
		return false
	}

	if e.dryRun {
		r.res.Closed++
		e.logger.Printf("Would close task %s for inactive lesson %d (%s)", task.ID, l.ID, l.Name)
		return false
	}

	status := e.fieldMap.Closed()
	err = e.mutate(r, func(ctx context.Context) error {
		return e.client.UpdateTask(ctx, task.ID, remote.UpdateTaskRequest{Status: &status})
	})
	if errors.Is(err, errStopped) {
		return true
	}
	if err != nil {
		e.fail(r, l, store.ActionClose, task.ID, err)
		return false
	}

	r.res.Closed++
	e.record(r, l, store.ActionClose, store.StatusSuccess, task.ID, "closed remote task")
	e.logger.Printf("Closed task %s for inactive lesson %d (%s)", task.ID, l.ID, l.Name)
	return false
}

// update is the synced -> synced transition. It reports whether the pass
// must stop.
func (e *engine) update(r *run, l lesson.Lesson) bool {
	task, err := e.client.GetTask(r.ctx, l.RemoteTaskID)
	if err != nil {
		if r.ctx.Err() != nil {
			return true
		}
		e.fail(r, l, store.ActionUpdate, l.RemoteTaskID, err)
		return false
	}

	changes, err := e.diff(r, l, task)
	if err != nil {
		e.fail(r, l, store.ActionUpdate, l.RemoteTaskID, err)
		return false
	}
	if len(changes) == 0 {
		return false
	}

	if e.dryRun {
		r.res.Updated++
		e.logger.Printf("Would update task %s for lesson %d (%s): %s", task.ID, l.ID, l.Name, describeChanges(changes))
		return false
	}

	applied := 0
	for _, c := range changes {
		err := e.mutate(r, c.apply)
		if errors.Is(err, errStopped) {
			if applied > 0 {
				r.res.Updated++
				e.record(r, l, store.ActionUpdate, store.StatusSuccess, task.ID, "partially updated before stop: "+describeChanges(changes[:applied]))
			}
			return true
		}
		if err != nil {
			e.fail(r, l, store.ActionUpdate, task.ID, fmt.Errorf("%s: %w", c.field, err))
			return false
		}
		applied++
	}

	r.res.Updated++
	e.record(r, l, store.ActionUpdate, store.StatusSuccess, task.ID, "updated "+describeChanges(changes))
	e.logger.Printf("Updated task %s for lesson %d (%s): %s", task.ID, l.ID, l.Name, describeChanges(changes))
	return false
}

// mutate waits for a token and runs fn on a context that outlives
// cancellation, so the call finishes once started.
func (e *engine) mutate(r *run, fn func(ctx context.Context) error) error {
	if r.ctx.Err() != nil {
		return errStopped
	}
	if err := e.limiter.Wait(r.ctx); err != nil {
		if r.ctx.Err() != nil {
			return errStopped
		}
		return err
	}
	r.mutated = true
	return fn(context.WithoutCancel(r.ctx))
}

// resolveLeads maps the lesson's leads to remote user ids. Unknown names are
// dropped with a warning; complete is false when any was dropped.
func (e *engine) resolveLeads(r *run, l lesson.Lesson) (ids []string, complete bool, err error) {
	complete = true
	seen := make(map[string]bool, len(l.Leads))
	for _, name := range l.Leads {
		id, err := e.directory.Resolve(r.ctx, name)
		if errors.Is(err, remote.ErrUnknownUser) {
			complete = false
			r.warn(fmt.Sprintf("unknown instructor %q dropped", name))
			e.logger.Printf("WARNING: lesson %d (%s): unknown instructor %q dropped", l.ID, l.Name, name)
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to resolve instructor %q: %w", name, err)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, complete, nil
}

func (e *engine) fail(r *run, l lesson.Lesson, action, taskID string, err error) {
	r.res.Errors++
	e.logger.Printf("WARNING: %s failed for lesson %d (%s): %v", action, l.ID, l.Name, err)
	e.record(r, l, action, store.StatusError, taskID, err.Error())
}

// record appends to the sync log and notifies the listener. Dry runs write
// nothing.
func (e *engine) record(r *run, l lesson.Lesson, action, status, taskID, msg string) {
	a := Action{
		RunID:        r.res.RunID,
		ClassKey:     r.res.ClassKey,
		LessonID:     l.ID,
		LessonName:   l.Name,
		Action:       action,
		Status:       status,
		Message:      msg,
		RemoteTaskID: taskID,
		Time:         e.now(),
	}
	if e.listener != nil {
		e.listener.OnAction(a)
	}
	if e.dryRun {
		return
	}
	err := e.store.AppendSyncLog(context.WithoutCancel(r.ctx), store.LogEntry{
		RunID:     a.RunID,
		ClassKey:  a.ClassKey,
		LessonID:  a.LessonID,
		Action:    a.Action,
		Status:    a.Status,
		Message:   a.Message,
		CreatedAt: a.Time,
	})
	if err != nil {
		e.logger.Printf("WARNING: failed to write sync log for lesson %d: %v", l.ID, err)
	}
}
