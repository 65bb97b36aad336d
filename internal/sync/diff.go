package sync

import (
	"context"
	"strings"

	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/remote"
)

// change is one remote mutation needed to bring a task in line.
type change struct {
	field string
	apply func(ctx context.Context) error
}

func describeChanges(changes []change) string {
	fields := make([]string, len(changes))
	for i, c := range changes {
		fields[i] = c.field
	}
	return strings.Join(fields, ", ")
}

// diff compares a synced lesson with its remote task. Name and description
// share one task update; every dropdown and the lead set get their own call.
func (e *engine) diff(r *run, l lesson.Lesson, task remote.Task) ([]change, error) {
	var changes []change
	fm := e.fieldMap

	var upd remote.UpdateTaskRequest
	var scalar []string
	if task.Name != l.Name {
		name := l.Name
		upd.Name = &name
		scalar = append(scalar, "name")
	}
	if desc := lesson.Describe(l); task.Description != desc {
		upd.Description = &desc
		scalar = append(scalar, "description")
	}
	if !upd.Empty() {
		changes = append(changes, change{
			field: strings.Join(scalar, "+"),
			apply: func(ctx context.Context) error { return e.client.UpdateTask(ctx, task.ID, upd) },
		})
	}

	dropdown := func(field, fieldID, want string) {
		if want == "" || task.DropdownOptionID(fieldID) == want {
			return
		}
		changes = append(changes, change{
			field: field,
			apply: func(ctx context.Context) error { return e.client.SetDropdownField(ctx, task.ID, fieldID, want) },
		})
	}
	weekOpt, _ := fm.WeekOption(l.Week)
	dropdown("week", fm.WeekField, weekOpt)
	dayOpt, _ := fm.DayOption(l.WeekDay)
	dropdown("day", fm.DayField, dayOpt)
	if l.Subject != "" {
		subjectOpt, ok := fm.SubjectOption(l.Subject)
		if !ok {
			r.warn("no option for subject " + l.Subject)
		}
		dropdown("subject", fm.SubjectField, subjectOpt)
	}

	want, complete, err := e.resolveLeads(r, l)
	if err != nil {
		return nil, err
	}
	usersDiff := leadsDiff(task.UserIDs(fm.LeadsField), want, complete)
	if !usersDiff.Empty() {
		changes = append(changes, change{
			field: "leads",
			apply: func(ctx context.Context) error {
				return e.client.UpdateUsersField(ctx, task.ID, fm.LeadsField, usersDiff)
			},
		})
	}
	return changes, nil
}

// leadsDiff computes the add/remove payload. Removals are only issued when
// every local lead resolved, so an unresolvable name never strips the user
// it was meant to match.
func leadsDiff(current, want []string, complete bool) remote.UsersDiff {
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	wanted := make(map[string]bool, len(want))
	diff := remote.UsersDiff{Add: []string{}, Rem: []string{}}
	for _, id := range want {
		wanted[id] = true
		if !have[id] {
			diff.Add = append(diff.Add, id)
		}
	}
	if complete {
		for _, id := range current {
			if !wanted[id] {
				diff.Rem = append(diff.Rem, id)
			}
		}
	}
	return diff
}
