package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/orientation-ops/lessonsync/internal/cache"
	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/ratelimit"
	"github.com/orientation-ops/lessonsync/internal/reader"
	"github.com/orientation-ops/lessonsync/internal/remote"
	"github.com/orientation-ops/lessonsync/internal/remote/remotetest"
	"github.com/orientation-ops/lessonsync/internal/store"
)

const (
	testClass  = "PD OTN 06.09.25"
	testFolder = "folder-1"
	testList   = "list-1"
)

type fakeClock struct {
	mu  gosync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

type recorder struct {
	mu      gosync.Mutex
	actions []Action
	results []Result
}

func (r *recorder) OnAction(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

func (r *recorder) OnComplete(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

type fixture struct {
	t        *testing.T
	store    *store.Store
	fake     *remotetest.Fake
	reader   *reader.Reader
	clock    *fakeClock
	fieldMap remote.FieldMap
	dir      remote.Directory
	listener *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "lessons.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := st.CreateClass(ctx, store.Class{Name: testClass, RemoteFolderID: testFolder}, false); err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}

	fm := remote.DefaultFieldMap()
	fake := remotetest.New(fm)
	fake.AddList(testFolder, testList, testClass)
	fake.AddMember("team", remote.Member{ID: "u-ana", Username: "Ana Ruiz"})
	fake.AddMember("team", remote.Member{ID: "u-bo", Username: "Bo Chen"})

	clk := &fakeClock{now: time.Date(2025, 9, 6, 9, 0, 0, 0, time.UTC)}
	rd := reader.New(reader.Config{
		Client:   fake,
		Store:    st,
		FieldMap: fm,
		Cache:    cache.New[reader.Live](cache.Options{TTL: time.Minute, Now: clk.Now}),
		Logger:   log.New(io.Discard, "", 0),
		Now:      clk.Now,
	})

	return &fixture{
		t:        t,
		store:    st,
		fake:     fake,
		reader:   rd,
		clock:    clk,
		fieldMap: fm,
		dir:      remote.NewStaticDirectory(map[string]string{"Ana Ruiz": "u-ana", "Bo Chen": "u-bo"}),
		listener: &recorder{},
	}
}

func (f *fixture) engine(mut ...func(*Config)) Syncer {
	cfg := Config{
		Store:     f.store,
		Reader:    f.reader,
		Client:    f.fake,
		FieldMap:  f.fieldMap,
		Directory: f.dir,
		Limiter:   ratelimit.New(ratelimit.Options{PerMinute: 100, Now: f.clock.Now, Sleep: f.clock.Sleep}),
		Listener:  f.listener,
		Logger:    log.New(io.Discard, "", 0),
		Now:       f.clock.Now,
	}
	for _, m := range mut {
		m(&cfg)
	}
	return New(cfg)
}

func (f *fixture) setLessons(lessons ...lesson.Lesson) {
	f.t.Helper()
	if err := f.store.ReplaceLessons(context.Background(), testClass, lessons); err != nil {
		f.t.Fatalf("ReplaceLessons() failed: %v", err)
	}
}

func (f *fixture) lessons() []lesson.Lesson {
	f.t.Helper()
	ls, err := f.store.GetLessons(context.Background(), testClass)
	if err != nil {
		f.t.Fatalf("GetLessons() failed: %v", err)
	}
	return ls
}

func (f *fixture) sync(s Syncer) Result {
	f.t.Helper()
	res, err := s.Sync(context.Background(), testClass)
	if err != nil {
		f.t.Fatalf("Sync() failed: %v", err)
	}
	return res
}

func mk(id int64, name string, w lesson.Week, d lesson.WeekDay) lesson.Lesson {
	l := lesson.Lesson{ID: id, Name: name, IsActive: true}
	l.SetSchedule(w, d)
	return l
}

type counts struct {
	Created, Updated, Errors, Linked, Skipped int
}

func countsOf(r Result) counts {
	return counts{r.Created, r.Updated, r.Errors, r.Linked, r.Skipped}
}

// TestSync_CreateThenLink tests that a new lesson is created exactly once
func TestSync_CreateThenLink(t *testing.T) {
	f := newFixture(t)
	f.setLessons(mk(1, "Intro", lesson.Week1, lesson.Monday))
	eng := f.engine()

	res := f.sync(eng)
	if diff := cmp.Diff(counts{Created: 1}, countsOf(res)); diff != "" {
		t.Fatalf("first Sync() counts mismatch (-want +got):\n%s", diff)
	}
	if n := f.fake.Count("CreateTask"); n != 1 {
		t.Errorf("CreateTask called %d times, want 1", n)
	}

	ls := f.lessons()
	ids := f.fake.TaskIDs(testList)
	if len(ids) != 1 || ls[0].RemoteTaskID != ids[0] {
		t.Fatalf("RemoteTaskID = %q, remote tasks = %v", ls[0].RemoteTaskID, ids)
	}

	task, _ := f.fake.Task(ids[0])
	if task.Description != "Week 1, Monday (day 0)" {
		t.Errorf("Description = %q, want %q", task.Description, "Week 1, Monday (day 0)")
	}
	if got := task.DropdownOptionID(f.fieldMap.DayField); got != f.fieldMap.Days["Mon"] {
		t.Errorf("day option = %q, want %q", got, f.fieldMap.Days["Mon"])
	}

	res = f.sync(eng)
	if diff := cmp.Diff(counts{}, countsOf(res)); diff != "" {
		t.Errorf("second Sync() counts mismatch (-want +got):\n%s", diff)
	}
	if n := f.fake.Count("CreateTask"); n != 1 {
		t.Errorf("CreateTask called %d times after second sync, want 1", n)
	}

	entries, err := f.store.ListSyncLog(context.Background(), store.LogFilter{ClassKey: testClass})
	if err != nil {
		t.Fatalf("ListSyncLog() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != store.ActionCreate || entries[0].Status != store.StatusSuccess {
		t.Errorf("sync log = %+v, want one successful create", entries)
	}
	if entries[0].RunID == "" || entries[0].RunID != f.listener.results[0].RunID {
		t.Errorf("sync log run id = %q, want %q", entries[0].RunID, f.listener.results[0].RunID)
	}
}

// TestSync_Idempotent tests that a second pass over unchanged state is a no-op
func TestSync_Idempotent(t *testing.T) {
	f := newFixture(t)

	intro := mk(1, "Intro", lesson.Week1, lesson.Monday)
	intro.Subject = "Orientation"
	intro.Leads = []string{"Ana Ruiz", "Bo Chen"}
	tour := mk(2, "Site Tour", lesson.Week2, lesson.Thursday)
	tour.Subject = "Field Work"
	tour.Leads = []string{"Bo Chen"}
	floating := mk(3, "Floating", lesson.WeekUnknown, lesson.DayUnknown)
	f.setLessons(intro, tour, floating)

	eng := f.engine()
	if res := f.sync(eng); res.Created != 3 || res.Errors != 0 {
		t.Fatalf("first Sync() = %+v, want 3 created", countsOf(res))
	}
	mutations := f.fake.Mutations()

	res := f.sync(eng)
	if diff := cmp.Diff(counts{}, countsOf(res)); diff != "" {
		t.Errorf("second Sync() counts mismatch (-want +got):\n%s", diff)
	}
	if n := f.fake.Mutations(); n != mutations {
		t.Errorf("second Sync() issued %d mutations, want 0", n-mutations)
	}
}

// TestSync_UpdateDiff tests the field-by-field update calls
func TestSync_UpdateDiff(t *testing.T) {
	f := newFixture(t)
	intro := mk(1, "Intro", lesson.Week1, lesson.Monday)
	intro.Subject = "Orientation"
	intro.Leads = []string{"Ana Ruiz"}
	f.setLessons(intro)
	eng := f.engine()
	f.sync(eng)

	linked := f.lessons()[0]
	linked.Name = "Intro to the Program"
	linked.SetSchedule(lesson.Week1, lesson.Tuesday)
	linked.Subject = "Culture"
	linked.Leads = []string{"Bo Chen"}
	f.setLessons(linked)
	f.fake.ResetCalls()

	res := f.sync(eng)
	if diff := cmp.Diff(counts{Updated: 1}, countsOf(res)); diff != "" {
		t.Fatalf("Sync() counts mismatch (-want +got):\n%s", diff)
	}

	var got []remotetest.Call
	for _, c := range f.fake.Calls() {
		if c.Method != "ListLists" && c.Method != "ListTasks" && c.Method != "GetTask" {
			got = append(got, c)
		}
	}
	id := linked.RemoteTaskID
	want := []remotetest.Call{
		{Method: "UpdateTask", TaskID: id},
		{Method: "SetDropdownField", TaskID: id, FieldID: f.fieldMap.DayField, Value: f.fieldMap.Days["Tue"]},
		{Method: "SetDropdownField", TaskID: id, FieldID: f.fieldMap.SubjectField, Value: f.fieldMap.Subjects["Culture"]},
		{Method: "UpdateUsersField", TaskID: id, FieldID: f.fieldMap.LeadsField, Value: "+u-bo -u-ana"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mutations mismatch (-want +got):\n%s", diff)
	}

	task, _ := f.fake.Task(id)
	if task.Name != "Intro to the Program" || task.Description != "Week 1, Tuesday (day 1)" {
		t.Errorf("task = %q / %q", task.Name, task.Description)
	}

	if res := f.sync(eng); res.Updated != 0 || res.Errors != 0 {
		t.Errorf("third Sync() = %+v, want no changes", countsOf(res))
	}
}

// TestSync_PartialFailureIsolation tests that one failing lesson does not stop the batch
func TestSync_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.setLessons(
		mk(1, "A", lesson.Week1, lesson.Monday),
		mk(2, "B", lesson.Week1, lesson.Tuesday),
		mk(3, "C", lesson.Week1, lesson.Wednesday),
	)
	f.fake.FailOn("CreateTask", "B", &remote.StatusError{Method: "POST", Code: 500, Body: "boom"})
	eng := f.engine()

	res := f.sync(eng)
	if diff := cmp.Diff(counts{Created: 2, Errors: 1}, countsOf(res)); diff != "" {
		t.Fatalf("Sync() counts mismatch (-want +got):\n%s", diff)
	}
	for _, l := range f.lessons() {
		if (l.Name == "B") != (l.RemoteTaskID == "") {
			t.Errorf("lesson %s RemoteTaskID = %q", l.Name, l.RemoteTaskID)
		}
	}

	errs, err := f.store.ListSyncLog(context.Background(), store.LogFilter{Status: store.StatusError})
	if err != nil {
		t.Fatalf("ListSyncLog() failed: %v", err)
	}
	if len(errs) != 1 || errs[0].LessonID != 2 || errs[0].Action != store.ActionCreate {
		t.Errorf("error log = %+v, want one create error for lesson 2", errs)
	}

	// Updates fail the same way: A and C still apply.
	ls := f.lessons()
	for i := range ls {
		ls[i].SetSchedule(lesson.Week2, ls[i].WeekDay)
	}
	f.setLessons(ls...)
	f.fake.ClearFailures()
	f.fake.FailOn("SetDropdownField", "A", remote.ErrRateLimited)

	res = f.sync(eng)
	if diff := cmp.Diff(counts{Created: 1, Updated: 1, Errors: 1}, countsOf(res)); diff != "" {
		t.Errorf("second Sync() counts mismatch (-want +got):\n%s", diff)
	}
}

// TestSync_NameKeyLink tests that "Kickoff " locally matches "kickoff" remotely
func TestSync_NameKeyLink(t *testing.T) {
	f := newFixture(t)
	existing := f.fake.AddTask(testList, remote.CreateTaskRequest{Name: "kickoff"})
	f.setLessons(mk(1, "Kickoff ", lesson.Week1, lesson.Monday))

	res := f.sync(f.engine())
	if diff := cmp.Diff(counts{Updated: 1, Linked: 1}, countsOf(res)); diff != "" {
		t.Fatalf("Sync() counts mismatch (-want +got):\n%s", diff)
	}
	if n := f.fake.Count("CreateTask"); n != 0 {
		t.Errorf("CreateTask called %d times, want 0", n)
	}
	if got := f.lessons()[0].RemoteTaskID; got != existing {
		t.Errorf("RemoteTaskID = %q, want %q", got, existing)
	}

	var actions []string
	for _, a := range f.listener.actions {
		actions = append(actions, a.Action+":"+a.Status)
	}
	if diff := cmp.Diff([]string{"link:success", "update:success"}, actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

// TestSync_EndToEnd walks a class from template clone through a remote edit
func TestSync_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intro := lesson.Lesson{Name: "Intro", StartTime: "09:00", EndTime: "10:00", IsActive: true}
	intro.SetSchedule(lesson.Week1, lesson.Monday)
	if err := f.store.ReplaceTemplate(ctx, []lesson.Lesson{intro}); err != nil {
		t.Fatalf("ReplaceTemplate() failed: %v", err)
	}
	if err := f.store.CloneTemplateInto(ctx, testClass); err != nil {
		t.Fatalf("CloneTemplateInto() failed: %v", err)
	}

	ls := f.lessons()
	if len(ls) != 1 || ls[0].State() != lesson.Unsynced || ls[0].DayOffset != 0 {
		t.Fatalf("cloned lessons = %+v, want one unsynced lesson at offset 0", ls)
	}

	eng := f.engine()
	if res := f.sync(eng); res.Created != 1 || res.Errors != 0 {
		t.Fatalf("first Sync() = %+v, want 1 created", countsOf(res))
	}
	taskID := f.lessons()[0].RemoteTaskID
	if taskID == "" {
		t.Fatal("lesson was not linked")
	}

	// Someone changes the subject in the remote tracker.
	if err := f.fake.SetDropdownField(ctx, taskID, f.fieldMap.SubjectField, f.fieldMap.Subjects["Safety"]); err != nil {
		t.Fatalf("SetDropdownField() failed: %v", err)
	}

	live, err := f.reader.GetLiveLessons(ctx, testClass)
	if err != nil {
		t.Fatalf("GetLiveLessons() failed: %v", err)
	}
	if len(live.Lessons) != 1 {
		t.Fatalf("live lessons = %+v", live.Lessons)
	}
	got := live.Lessons[0]
	if got.Subject != "Safety" {
		t.Errorf("live Subject = %q, want %q", got.Subject, "Safety")
	}
	if got.StartTime != "09:00" || got.EndTime != "10:00" {
		t.Errorf("live times = %s-%s, want 09:00-10:00 from template", got.StartTime, got.EndTime)
	}

	res := f.sync(eng)
	if diff := cmp.Diff(counts{}, countsOf(res)); diff != "" {
		t.Errorf("second Sync() counts mismatch (-want +got):\n%s", diff)
	}
	if local := f.lessons()[0]; local.Subject != "" {
		t.Errorf("local Subject = %q, want it untouched", local.Subject)
	}
}

// TestSync_StopsOnCancel tests that no new mutation starts after the context ends
func TestSync_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.setLessons(
		mk(1, "A", lesson.Week1, lesson.Monday),
		mk(2, "B", lesson.Week1, lesson.Tuesday),
		mk(3, "C", lesson.Week1, lesson.Wednesday),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := f.engine(func(c *Config) {
		// The second token needs a wait; the deadline passes during it.
		c.Limiter = ratelimit.New(ratelimit.Options{
			PerMinute: 1,
			Now:       f.clock.Now,
			Sleep: func(ctx context.Context, d time.Duration) error {
				cancel()
				return ctx.Err()
			},
		})
	})

	res, err := eng.Sync(ctx, testClass)
	if err != nil {
		t.Fatalf("Sync() = %v, want nil error", err)
	}
	if !res.Stopped {
		t.Error("Stopped = false, want true")
	}
	if res.Created != 1 || res.Errors != 0 {
		t.Errorf("Sync() = %+v, want 1 created before stop", countsOf(res))
	}
	if n := f.fake.Count("CreateTask"); n != 1 {
		t.Errorf("CreateTask called %d times, want 1", n)
	}
}

// TestSync_ConcurrentClassesShareLimiter tests that two classes synced at
// once are paced by one token bucket
func TestSync_ConcurrentClassesShareLimiter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const otherClass = "PD OTN 13.09.25"
	if err := f.store.CreateClass(ctx, store.Class{Name: otherClass, RemoteFolderID: testFolder}, false); err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	f.fake.AddList(testFolder, "list-2", otherClass)

	f.setLessons(
		mk(1, "A", lesson.Week1, lesson.Monday),
		mk(2, "B", lesson.Week1, lesson.Tuesday),
		mk(3, "C", lesson.Week1, lesson.Wednesday),
	)
	if err := f.store.ReplaceLessons(ctx, otherClass, []lesson.Lesson{
		mk(1, "D", lesson.Week2, lesson.Monday),
		mk(2, "E", lesson.Week2, lesson.Tuesday),
		mk(3, "F", lesson.Week2, lesson.Wednesday),
	}); err != nil {
		t.Fatalf("ReplaceLessons() failed: %v", err)
	}

	// The limiter's clock stands still, so every waiter's delay is its
	// distance from the first token.
	frozen := time.Date(2025, 9, 6, 9, 0, 0, 0, time.UTC)
	var (
		mu    gosync.Mutex
		slept []time.Duration
	)
	limiter := ratelimit.New(ratelimit.Options{
		PerMinute: 60,
		Now:       func() time.Time { return frozen },
		Sleep: func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			slept = append(slept, d)
			return nil
		},
	})
	eng := f.engine(func(c *Config) { c.Limiter = limiter })

	classes := []string{testClass, otherClass}
	results := make([]Result, len(classes))
	errs := make([]error, len(classes))
	var wg gosync.WaitGroup
	for i, class := range classes {
		wg.Add(1)
		go func(i int, class string) {
			defer wg.Done()
			results[i], errs[i] = eng.Sync(ctx, class)
		}(i, class)
	}
	wg.Wait()

	for i, class := range classes {
		if errs[i] != nil {
			t.Fatalf("Sync(%q) failed: %v", class, errs[i])
		}
		if diff := cmp.Diff(counts{Created: 3}, countsOf(results[i])); diff != "" {
			t.Errorf("Sync(%q) counts mismatch (-want +got):\n%s", class, diff)
		}
	}

	mutations := f.fake.Mutations()
	if mutations != 6 {
		t.Fatalf("issued %d mutations, want 6", mutations)
	}
	sort.Slice(slept, func(i, j int) bool { return slept[i] < slept[j] })
	want := make([]time.Duration, 0, mutations-1)
	for i := 1; i < mutations; i++ {
		want = append(want, time.Duration(i)*time.Second)
	}
	if diff := cmp.Diff(want, slept); diff != "" {
		t.Errorf("limiter sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_DryRun(t *testing.T) {
	f := newFixture(t)
	f.fake.AddTask(testList, remote.CreateTaskRequest{Name: "Existing"})
	f.setLessons(mk(1, "New", lesson.Week1, lesson.Monday), mk(2, "Existing", lesson.Week1, lesson.Tuesday))

	res := f.sync(f.engine(func(c *Config) { c.DryRun = true }))
	if diff := cmp.Diff(counts{Created: 1, Updated: 1, Linked: 1}, countsOf(res)); diff != "" {
		t.Errorf("dry run counts mismatch (-want +got):\n%s", diff)
	}
	if !res.DryRun {
		t.Error("DryRun = false, want true")
	}
	if n := f.fake.Mutations(); n != 0 {
		t.Errorf("dry run issued %d mutations, want 0", n)
	}
	for _, l := range f.lessons() {
		if l.RemoteTaskID != "" {
			t.Errorf("dry run linked lesson %s to %s", l.Name, l.RemoteTaskID)
		}
	}
	entries, err := f.store.ListSyncLog(context.Background(), store.LogFilter{})
	if err != nil {
		t.Fatalf("ListSyncLog() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("dry run wrote %d sync log rows, want 0", len(entries))
	}
}

// TestSync_DeactivationClosesRemoteTask tests that deactivating a linked
// lesson closes its task once and never reopens a closed one
func TestSync_DeactivationClosesRemoteTask(t *testing.T) {
	f := newFixture(t)
	f.setLessons(mk(1, "Retro", lesson.Week1, lesson.Monday), mk(2, "Intro", lesson.Week1, lesson.Tuesday))
	eng := f.engine()
	if res := f.sync(eng); res.Created != 2 {
		t.Fatalf("first Sync() = %+v, want 2 created", countsOf(res))
	}

	linked := f.lessons()
	ids := map[string]string{}
	for i := range linked {
		ids[linked[i].Name] = linked[i].RemoteTaskID
		if linked[i].Name == "Retro" {
			linked[i].IsActive = false
		}
	}
	f.setLessons(linked...)
	// Someone closes Intro remotely; a sync must leave it closed.
	f.fake.SetTaskJSON(ids["Intro"], "status.status", "closed")
	f.fake.SetTaskJSON(ids["Intro"], "status.type", "closed")

	res := f.sync(eng)
	if res.Closed != 1 || res.Errors != 0 || res.Skipped != 0 {
		t.Fatalf("second Sync() = %+v, want 1 closed", res)
	}
	for name, id := range ids {
		task, ok := f.fake.Task(id)
		if !ok || !task.Closed() {
			t.Errorf("task of %s closed = false, want true", name)
		}
	}
	entries, err := f.store.ListSyncLog(context.Background(), store.LogFilter{RunID: res.RunID})
	if err != nil {
		t.Fatalf("ListSyncLog() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != store.ActionClose || entries[0].Status != store.StatusSuccess {
		t.Errorf("sync log = %+v, want one successful close", entries)
	}

	mutations := f.fake.Mutations()
	res = f.sync(eng)
	if res.Closed != 0 || res.Skipped != 1 {
		t.Errorf("third Sync() closed=%d skipped=%d, want 0 and 1", res.Closed, res.Skipped)
	}
	if n := f.fake.Mutations(); n != mutations {
		t.Errorf("third Sync() issued %d mutations, want 0", n-mutations)
	}
}

func TestSync_SkipsInactiveAndDropsUnknownLeads(t *testing.T) {
	f := newFixture(t)
	retired := mk(1, "Retired", lesson.Week1, lesson.Monday)
	retired.IsActive = false
	intro := mk(2, "Intro", lesson.Week1, lesson.Tuesday)
	intro.Leads = []string{"Ana Ruiz", "Zed Unknown"}
	f.setLessons(retired, intro)

	res := f.sync(f.engine())
	if diff := cmp.Diff(counts{Created: 1, Skipped: 1}, countsOf(res)); diff != "" {
		t.Fatalf("Sync() counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{`unknown instructor "Zed Unknown" dropped`}, res.Warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}

	var introID string
	for _, l := range f.lessons() {
		if l.Name == "Intro" {
			introID = l.RemoteTaskID
		}
	}
	task, _ := f.fake.Task(introID)
	if diff := cmp.Diff([]string{"u-ana"}, task.UserIDs(f.fieldMap.LeadsField)); diff != "" {
		t.Errorf("lead ids mismatch (-want +got):\n%s", diff)
	}

	// The unresolved lead must not cause a removal or a perpetual diff.
	if res := f.sync(f.engine()); res.Updated != 0 {
		t.Errorf("second Sync() updated %d lessons, want 0", res.Updated)
	}
}

func TestSync_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine().Sync(ctx, "Missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Sync(Missing) = %v, want store.ErrNotFound", err)
	}

	if err := f.store.CreateClass(ctx, store.Class{Name: "No List", RemoteFolderID: testFolder}, false); err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	if _, err := f.engine().Sync(ctx, "No List"); !errors.Is(err, reader.ErrListNotResolved) {
		t.Errorf("Sync(No List) = %v, want reader.ErrListNotResolved", err)
	}
}

func TestLeadsDiff(t *testing.T) {
	tests := []struct {
		name     string
		current  []string
		want     []string
		complete bool
		diff     remote.UsersDiff
	}{
		{"no change", []string{"a", "b"}, []string{"b", "a"}, true, remote.UsersDiff{Add: []string{}, Rem: []string{}}},
		{"swap", []string{"a"}, []string{"b"}, true, remote.UsersDiff{Add: []string{"b"}, Rem: []string{"a"}}},
		{"incomplete keeps", []string{"a"}, []string{"b"}, false, remote.UsersDiff{Add: []string{"b"}, Rem: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := leadsDiff(tt.current, tt.want, tt.complete)
			if diff := cmp.Diff(tt.diff, got); diff != "" {
				t.Errorf("leadsDiff() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
