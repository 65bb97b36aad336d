// Package remote is the boundary to the remote task-tracking service.
//
// The Client interface covers the handful of calls the reader and the
// reconciliation engine need. HTTPClient speaks the service's REST/JSON API;
// remotetest provides an in-memory fake with the same behavior.
//
// Tasks are kept as raw JSON (Task.Raw) because custom field payloads vary by
// field type and by how old the task is. Callers read them with gjson paths.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotFound is returned when a task, list or team does not exist.
	ErrNotFound = errors.New("remote resource not found")

	// ErrRateLimited is returned when the service answers 429.
	ErrRateLimited = errors.New("remote rate limit exceeded")

	// ErrUnauthorized is returned for 401 and 403 answers.
	ErrUnauthorized = errors.New("remote request unauthorized")

	// ErrUnknownUser is returned by a Directory that cannot resolve a name.
	ErrUnknownUser = errors.New("unknown user")
)

// StatusError is a non-2xx answer not covered by a sentinel.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("remote %s %s: unexpected status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("remote %s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, body)
}

// Client is the remote task-tracking service.
type Client interface {
	// ListLists returns the lists in a folder.
	ListLists(ctx context.Context, folderID string) ([]List, error)
	// ListTasks returns every task of a list, following pagination. Entries
	// without an id come back with an empty ID for the caller to report.
	ListTasks(ctx context.Context, listID string) ([]Task, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	CreateTask(ctx context.Context, listID string, req CreateTaskRequest) (Task, error)
	UpdateTask(ctx context.Context, taskID string, req UpdateTaskRequest) error
	SetDropdownField(ctx context.Context, taskID, fieldID, optionID string) error
	UpdateUsersField(ctx context.Context, taskID, fieldID string, diff UsersDiff) error
	ListMembers(ctx context.Context, teamID string) ([]Member, error)
}

// List is a remote task list. Each class maps to one list.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is a workspace user.
type Member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// CustomFieldValue sets one custom field at creation time.
type CustomFieldValue struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// CreateTaskRequest is the body of a task creation.
type CreateTaskRequest struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	CustomFields []CustomFieldValue `json:"custom_fields,omitempty"`
}

// UpdateTaskRequest patches a task. Nil fields are left unchanged.
type UpdateTaskRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// Empty reports whether the request changes nothing.
func (r UpdateTaskRequest) Empty() bool {
	return r.Name == nil && r.Description == nil && r.Status == nil
}

// UsersDiff adds and removes users on a users-type custom field.
type UsersDiff struct {
	Add []string `json:"add"`
	Rem []string `json:"rem"`
}

// Empty reports whether the diff changes nothing.
func (d UsersDiff) Empty() bool {
	return len(d.Add) == 0 && len(d.Rem) == 0
}

// Task is a remote task. Raw holds the full JSON document.
type Task struct {
	ID          string
	Name        string
	Description string
	Status      string
	Raw         []byte
}

// ParseTask decodes a task document that must carry an id.
func ParseTask(raw []byte) (Task, error) {
	if !gjson.ValidBytes(raw) {
		return Task{}, fmt.Errorf("invalid task JSON")
	}
	t := DecodeTask(raw)
	if t.ID == "" {
		return Task{}, fmt.Errorf("task JSON has no id")
	}
	return t, nil
}

// DecodeTask decodes a task document without requiring an id. List calls
// use it so one malformed entry does not hide the rest of the page.
func DecodeTask(raw []byte) Task {
	doc := gjson.ParseBytes(raw)
	t := Task{
		ID:          doc.Get("id").String(),
		Name:        doc.Get("name").String(),
		Description: doc.Get("description").String(),
		Status:      doc.Get("status.status").String(),
		Raw:         append([]byte(nil), raw...),
	}
	if t.Status == "" {
		t.Status = doc.Get("status").String()
	}
	return t
}

// Closed reports whether the task is in a closed or done state.
func (t Task) Closed() bool {
	switch strings.ToLower(t.Status) {
	case "closed", "complete", "completed", "done":
		return true
	}
	return gjson.GetBytes(t.Raw, "status.type").String() == "closed"
}

// CustomField returns the custom field whose id or name matches key, names
// compared case-insensitively.
func (t Task) CustomField(key string) (gjson.Result, bool) {
	if key == "" {
		return gjson.Result{}, false
	}
	var found gjson.Result
	gjson.GetBytes(t.Raw, "custom_fields").ForEach(func(_, f gjson.Result) bool {
		if f.Get("id").String() == key || strings.EqualFold(strings.TrimSpace(f.Get("name").String()), key) {
			found = f
			return false
		}
		return true
	})
	return found, found.Exists()
}

// DropdownOptionID returns the option id selected in a dropdown field. The
// stored value may be the option id or its order index.
func (t Task) DropdownOptionID(fieldID string) string {
	f, ok := t.CustomField(fieldID)
	if !ok {
		return ""
	}
	v := f.Get("value")
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	var id string
	f.Get("type_config.options").ForEach(func(_, opt gjson.Result) bool {
		if opt.Get("id").String() == v.String() ||
			(v.Type == gjson.Number && opt.Get("orderindex").Exists() && opt.Get("orderindex").Int() == v.Int()) {
			id = opt.Get("id").String()
			return false
		}
		return true
	})
	if id == "" && v.Type == gjson.String {
		return v.String()
	}
	return id
}

// UserIDs returns the user ids held by a users field.
func (t Task) UserIDs(fieldID string) []string {
	f, ok := t.CustomField(fieldID)
	if !ok {
		return nil
	}
	var ids []string
	f.Get("value").ForEach(func(_, u gjson.Result) bool {
		if id := u.Get("id").String(); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}
