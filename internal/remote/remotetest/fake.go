// Package remotetest provides an in-memory remote service for tests.
//
// Tasks are stored as raw JSON in the same shape the HTTP API returns, so
// everything that reads Task.Raw is exercised against realistic documents,
// including dropdown values stored as option order indexes.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/remote"
)

// Call records one client call.
type Call struct {
	Method  string
	ListID  string
	TaskID  string
	FieldID string
	Value   string
}

type failure struct {
	method string
	match  string
	err    error
}

// Fake is an in-memory remote.Client.
type Fake struct {
	mu       sync.Mutex
	fieldMap remote.FieldMap
	folders  map[string][]remote.List
	lists    map[string][]string // list id -> task ids in creation order
	tasks    map[string][]byte
	members  map[string][]remote.Member
	calls    []Call
	failures []failure
	nextID   int
}

var _ remote.Client = (*Fake)(nil)

// New returns an empty fake whose tasks carry the custom fields of fm.
func New(fm remote.FieldMap) *Fake {
	return &Fake{
		fieldMap: fm,
		folders:  make(map[string][]remote.List),
		lists:    make(map[string][]string),
		tasks:    make(map[string][]byte),
		members:  make(map[string][]remote.Member),
	}
}

// AddList registers a list under a folder.
func (f *Fake) AddList(folderID, listID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders[folderID] = append(f.folders[folderID], remote.List{ID: listID, Name: name})
	if _, ok := f.lists[listID]; !ok {
		f.lists[listID] = nil
	}
}

// AddMember registers a team member.
func (f *Fake) AddMember(teamID string, m remote.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[teamID] = append(f.members[teamID], m)
}

// AddRawTask stores a task document verbatim and returns its storage key,
// which is the task id when the document has one. It panics on invalid JSON.
func (f *Fake) AddRawTask(listID, raw string) string {
	if !gjson.Valid(raw) {
		panic("remotetest: invalid task JSON")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := remote.DecodeTask([]byte(raw)).ID
	if key == "" {
		key = fmt.Sprintf("noid-%d", len(f.tasks)+1)
	}
	f.tasks[key] = []byte(raw)
	f.lists[listID] = append(f.lists[listID], key)
	return key
}

// AddTask creates a task the way CreateTask would, without recording a call.
func (f *Fake) AddTask(listID string, req remote.CreateTaskRequest) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := f.newTaskLocked(req)
	if err != nil {
		panic(fmt.Sprintf("remotetest: %v", err))
	}
	id := gjson.GetBytes(raw, "id").String()
	f.tasks[id] = raw
	f.lists[listID] = append(f.lists[listID], id)
	return id
}

// SetTaskJSON applies an sjson path update to a stored task.
func (f *Fake) SetTaskJSON(taskID, path string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := sjson.SetBytes(f.tasks[taskID], path, value)
	if err != nil {
		panic(fmt.Sprintf("remotetest: %v", err))
	}
	f.tasks[taskID] = raw
}

// FailOn makes every call to method fail with err. A non-empty match limits
// the failure to calls whose task id, list id or task name equals it.
func (f *Fake) FailOn(method, match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{method: method, match: match, err: err})
}

// ClearFailures removes all injected failures.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = nil
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many calls of method were recorded.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Mutations counts the calls that change remote state.
func (f *Fake) Mutations() int {
	return f.Count("CreateTask") + f.Count("UpdateTask") + f.Count("SetDropdownField") + f.Count("UpdateUsersField")
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Task returns the stored task.
func (f *Fake) Task(id string) (remote.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.tasks[id]
	if !ok {
		return remote.Task{}, false
	}
	t, err := remote.ParseTask(raw)
	return t, err == nil
}

// TaskIDs returns the task ids of a list in creation order.
func (f *Fake) TaskIDs(listID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists[listID]...)
}

func (f *Fake) record(c Call, keys ...string) error {
	f.calls = append(f.calls, c)
	for _, fl := range f.failures {
		if fl.method != c.Method {
			continue
		}
		if fl.match == "" {
			return fl.err
		}
		for _, k := range keys {
			if k != "" && k == fl.match {
				return fl.err
			}
		}
	}
	return nil
}

func (f *Fake) ListLists(_ context.Context, folderID string) ([]remote.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "ListLists", Value: folderID}, folderID); err != nil {
		return nil, err
	}
	lists, ok := f.folders[folderID]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", folderID, remote.ErrNotFound)
	}
	return append([]remote.List(nil), lists...), nil
}

func (f *Fake) ListTasks(_ context.Context, listID string) ([]remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "ListTasks", ListID: listID}, listID); err != nil {
		return nil, err
	}
	ids, ok := f.lists[listID]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", listID, remote.ErrNotFound)
	}
	tasks := make([]remote.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, remote.DecodeTask(f.tasks[id]))
	}
	return tasks, nil
}

func (f *Fake) GetTask(_ context.Context, taskID string) (remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "GetTask", TaskID: taskID}, taskID); err != nil {
		return remote.Task{}, err
	}
	raw, ok := f.tasks[taskID]
	if !ok {
		return remote.Task{}, fmt.Errorf("task %s: %w", taskID, remote.ErrNotFound)
	}
	return remote.ParseTask(raw)
}

func (f *Fake) CreateTask(_ context.Context, listID string, req remote.CreateTaskRequest) (remote.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "CreateTask", ListID: listID, Value: req.Name}, listID, req.Name); err != nil {
		return remote.Task{}, err
	}
	if _, ok := f.lists[listID]; !ok {
		return remote.Task{}, fmt.Errorf("list %s: %w", listID, remote.ErrNotFound)
	}
	raw, err := f.newTaskLocked(req)
	if err != nil {
		return remote.Task{}, err
	}
	t, err := remote.ParseTask(raw)
	if err != nil {
		return remote.Task{}, err
	}
	f.tasks[t.ID] = raw
	f.lists[listID] = append(f.lists[listID], t.ID)
	return t, nil
}

func (f *Fake) UpdateTask(_ context.Context, taskID string, req remote.UpdateTaskRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.tasks[taskID]
	name := gjson.GetBytes(raw, "name").String()
	if err := f.record(Call{Method: "UpdateTask", TaskID: taskID}, taskID, name); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, remote.ErrNotFound)
	}
	var err error
	if req.Name != nil {
		if raw, err = sjson.SetBytes(raw, "name", *req.Name); err != nil {
			return err
		}
	}
	if req.Description != nil {
		if raw, err = sjson.SetBytes(raw, "description", *req.Description); err != nil {
			return err
		}
	}
	if req.Status != nil {
		typ := "open"
		if (remote.Task{Status: *req.Status}).Closed() {
			typ = "closed"
		}
		if raw, err = sjson.SetBytes(raw, "status.status", *req.Status); err != nil {
			return err
		}
		if raw, err = sjson.SetBytes(raw, "status.type", typ); err != nil {
			return err
		}
	}
	f.tasks[taskID] = raw
	return nil
}

func (f *Fake) SetDropdownField(_ context.Context, taskID, fieldID, optionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.tasks[taskID]
	name := gjson.GetBytes(raw, "name").String()
	if err := f.record(Call{Method: "SetDropdownField", TaskID: taskID, FieldID: fieldID, Value: optionID}, taskID, name); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, remote.ErrNotFound)
	}
	raw, err := setDropdown(raw, fieldID, optionID)
	if err != nil {
		return err
	}
	f.tasks[taskID] = raw
	return nil
}

func (f *Fake) UpdateUsersField(_ context.Context, taskID, fieldID string, diff remote.UsersDiff) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.tasks[taskID]
	name := gjson.GetBytes(raw, "name").String()
	value := fmt.Sprintf("+%s -%s", strings.Join(diff.Add, ","), strings.Join(diff.Rem, ","))
	if err := f.record(Call{Method: "UpdateUsersField", TaskID: taskID, FieldID: fieldID, Value: value}, taskID, name); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, remote.ErrNotFound)
	}
	raw, err := f.applyUsers(raw, fieldID, diff)
	if err != nil {
		return err
	}
	f.tasks[taskID] = raw
	return nil
}

func (f *Fake) ListMembers(_ context.Context, teamID string) ([]remote.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "ListMembers", Value: teamID}, teamID); err != nil {
		return nil, err
	}
	members, ok := f.members[teamID]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", teamID, remote.ErrNotFound)
	}
	return append([]remote.Member(nil), members...), nil
}

// newTaskLocked builds a task document carrying the mapped custom fields and
// applies the request's initial values.
func (f *Fake) newTaskLocked(req remote.CreateTaskRequest) ([]byte, error) {
	f.nextID++
	id := fmt.Sprintf("task-%d", f.nextID)

	raw := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			raw, err = sjson.SetBytes(raw, path, v)
		}
	}
	setRaw := func(path string, v []byte) {
		if err == nil {
			raw, err = sjson.SetRawBytes(raw, path, v)
		}
	}
	set("id", id)
	set("name", req.Name)
	set("description", req.Description)
	set("status.status", "open")
	set("status.type", "open")
	setRaw("assignees", []byte(`[]`))
	setRaw("custom_fields", []byte(`[]`))
	for _, fld := range f.fieldDocs() {
		setRaw("custom_fields.-1", fld)
	}
	if err != nil {
		return nil, err
	}

	for _, cf := range req.CustomFields {
		v, merr := json.Marshal(cf.Value)
		if merr != nil {
			return nil, merr
		}
		val := gjson.ParseBytes(v)
		switch {
		case val.Type == gjson.String:
			raw, err = setDropdown(raw, cf.ID, val.String())
		case val.IsObject():
			var diff remote.UsersDiff
			if err = json.Unmarshal(v, &diff); err == nil {
				raw, err = f.applyUsers(raw, cf.ID, diff)
			}
		default:
			err = badRequest("unsupported custom field value %s", v)
		}
		if err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// fieldDocs renders the custom field definitions of the field map.
func (f *Fake) fieldDocs() [][]byte {
	week := map[string]string{}
	for _, w := range lesson.Weeks {
		week[w.String()] = f.fieldMap.Weeks[w.String()]
	}
	day := map[string]string{}
	for _, d := range lesson.WeekDays {
		day[d.String()] = f.fieldMap.Days[d.String()]
	}
	weekOrder := []string{"Week1", "Week2"}
	dayOrder := []string{"Mon", "Tue", "Wed", "Thu", "Fri"}

	subjectOrder := make([]string, 0, len(f.fieldMap.Subjects))
	for k := range f.fieldMap.Subjects {
		subjectOrder = append(subjectOrder, k)
	}
	sort.Strings(subjectOrder)

	return [][]byte{
		dropdownDoc(f.fieldMap.WeekField, "Week", weekOrder, week),
		dropdownDoc(f.fieldMap.DayField, "Week Day", dayOrder, day),
		dropdownDoc(f.fieldMap.SubjectField, "Subject", subjectOrder, f.fieldMap.Subjects),
		[]byte(fmt.Sprintf(`{"id":%q,"name":"Lead","type":"users","value":[]}`, f.fieldMap.LeadsField)),
	}
}

func dropdownDoc(id, name string, order []string, options map[string]string) []byte {
	doc := []byte(fmt.Sprintf(`{"id":%q,"name":%q,"type":"drop_down","type_config":{"options":[]}}`, id, name))
	for i, label := range order {
		opt := []byte(fmt.Sprintf(`{"id":%q,"name":%q,"orderindex":%d}`, options[label], label, i))
		doc, _ = sjson.SetRawBytes(doc, "type_config.options.-1", opt)
	}
	return doc
}

// setDropdown stores the option's order index, as the real service does.
func setDropdown(raw []byte, fieldID, optionID string) ([]byte, error) {
	idx := fieldIndex(raw, fieldID)
	if idx < 0 {
		return nil, badRequest("task has no field %s", fieldID)
	}
	field := gjson.GetBytes(raw, fmt.Sprintf("custom_fields.%d", idx))
	if field.Get("type").String() != "drop_down" {
		return nil, badRequest("field %s is not a dropdown", fieldID)
	}
	order := int64(-1)
	field.Get("type_config.options").ForEach(func(_, opt gjson.Result) bool {
		if opt.Get("id").String() == optionID {
			order = opt.Get("orderindex").Int()
			return false
		}
		return true
	})
	if order < 0 {
		return nil, badRequest("field %s has no option %s", fieldID, optionID)
	}
	return sjson.SetBytes(raw, fmt.Sprintf("custom_fields.%d.value", idx), order)
}

func (f *Fake) applyUsers(raw []byte, fieldID string, diff remote.UsersDiff) ([]byte, error) {
	idx := fieldIndex(raw, fieldID)
	if idx < 0 {
		return nil, badRequest("task has no field %s", fieldID)
	}
	path := fmt.Sprintf("custom_fields.%d.value", idx)

	remove := make(map[string]bool, len(diff.Rem))
	for _, id := range diff.Rem {
		remove[id] = true
	}
	var users []map[string]string
	present := map[string]bool{}
	gjson.GetBytes(raw, path).ForEach(func(_, u gjson.Result) bool {
		id := u.Get("id").String()
		if !remove[id] {
			users = append(users, map[string]string{"id": id, "username": u.Get("username").String()})
			present[id] = true
		}
		return true
	})
	for _, id := range diff.Add {
		if present[id] {
			continue
		}
		users = append(users, map[string]string{"id": id, "username": f.usernameLocked(id)})
		present[id] = true
	}
	if users == nil {
		return sjson.SetRawBytes(raw, path, []byte(`[]`))
	}
	return sjson.SetBytes(raw, path, users)
}

func (f *Fake) usernameLocked(id string) string {
	for _, members := range f.members {
		for _, m := range members {
			if m.ID == id {
				return m.Username
			}
		}
	}
	return id
}

func fieldIndex(raw []byte, fieldID string) int {
	idx := -1
	i := 0
	gjson.GetBytes(raw, "custom_fields").ForEach(func(_, fld gjson.Result) bool {
		if fld.Get("id").String() == fieldID {
			idx = i
			return false
		}
		i++
		return true
	})
	return idx
}

func badRequest(format string, args ...any) error {
	return &remote.StatusError{Method: "POST", Code: http.StatusBadRequest, Body: fmt.Sprintf(format, args...)}
}
