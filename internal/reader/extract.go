package reader

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/orientation-ops/lessonsync/internal/lesson"
	"github.com/orientation-ops/lessonsync/internal/remote"
)

type attr int

const (
	attrWeek attr = iota
	attrDay
	attrSubject
	attrLeads
)

// extractor reads one lesson attribute from a custom field.
type extractor struct {
	attr  attr
	field string
	apply func(x *extraction, f gjson.Result)
}

// extraction is the state of converting one task.
type extraction struct {
	task     remote.Task
	fieldMap remote.FieldMap
	lesson   lesson.Lesson
	warnings []string
}

func (x *extraction) warnf(format string, args ...any) {
	x.warnings = append(x.warnings, fmt.Sprintf("task %s: ", x.task.ID)+fmt.Sprintf(format, args...))
}

// extractors lists candidate fields per attribute in priority order. The
// mapped field id comes first; the names cover fields of earlier workspace
// layouts.
func (r *Reader) extractors() []extractor {
	fm := r.fieldMap
	return []extractor{
		{attrWeek, fm.WeekField, extractWeek},
		{attrWeek, "Week", extractWeek},
		{attrWeek, "Orientation Week", extractWeek},
		{attrDay, fm.DayField, extractDay},
		{attrDay, "Week Day", extractDay},
		{attrDay, "Weekday", extractDay},
		{attrDay, "Day", extractDay},
		{attrSubject, fm.SubjectField, extractSubject},
		{attrSubject, "Subject", extractSubject},
		{attrSubject, "Topic", extractSubject},
		{attrLeads, fm.LeadsField, extractLeads},
		{attrLeads, "Lead", extractLeads},
		{attrLeads, "Leads", extractLeads},
		{attrLeads, "Instructors", extractLeads},
	}
}

// convert turns one task into a lesson. Tasks without a name yield an empty
// lesson and a warning.
func (r *Reader) convert(task remote.Task) (lesson.Lesson, []string) {
	x := &extraction{task: task, fieldMap: r.fieldMap}
	x.lesson = lesson.Lesson{
		Name:         strings.TrimSpace(task.Name),
		IsActive:     !task.Closed(),
		RemoteTaskID: task.ID,
	}
	if x.lesson.Name == "" {
		x.warnf("no name, skipped")
		return lesson.Lesson{}, x.warnings
	}

	done := make(map[attr]bool, 4)
	for _, e := range r.extractors() {
		if done[e.attr] || e.field == "" {
			continue
		}
		f, ok := task.CustomField(e.field)
		if !ok {
			continue
		}
		// An empty users field still means "no leads"; other empty fields
		// fall through to the next candidate.
		if !hasValue(f.Get("value")) && !(e.attr == attrLeads && f.Get("type").String() == "users") {
			continue
		}
		e.apply(x, f)
		done[e.attr] = true
	}

	if !done[attrLeads] {
		x.lesson.Leads = assigneeNames(task)
	}
	x.lesson.Normalize()
	return x.lesson, x.warnings
}

func hasValue(v gjson.Result) bool {
	switch {
	case !v.Exists(), v.Type == gjson.Null:
		return false
	case v.Type == gjson.String:
		return strings.TrimSpace(v.String()) != ""
	case v.IsArray():
		return len(v.Array()) > 0
	}
	return true
}

// dropdownValue returns the selected option's id and label. The stored value
// may be an option id, an order index, or a bare label on text fields.
func dropdownValue(f gjson.Result) (id, label string) {
	v := f.Get("value")
	f.Get("type_config.options").ForEach(func(_, opt gjson.Result) bool {
		switch {
		case v.Type == gjson.String && (opt.Get("id").String() == v.String() || strings.EqualFold(opt.Get("name").String(), v.String())),
			v.Type == gjson.Number && opt.Get("orderindex").Exists() && opt.Get("orderindex").Int() == v.Int():
			id, label = opt.Get("id").String(), opt.Get("name").String()
			return false
		}
		return true
	})
	if id == "" && label == "" {
		label = strings.TrimSpace(v.String())
	}
	return id, label
}

func extractWeek(x *extraction, f gjson.Result) {
	id, label := dropdownValue(f)
	if w, ok := x.fieldMap.WeekForOption(id); ok {
		x.lesson.Week = w
		return
	}
	if w, ok := lesson.ParseWeek(label); ok {
		x.lesson.Week = w
		return
	}
	x.warnf("unrecognized week %q", label)
}

func extractDay(x *extraction, f gjson.Result) {
	id, label := dropdownValue(f)
	if d, ok := x.fieldMap.DayForOption(id); ok {
		x.lesson.WeekDay = d
		return
	}
	if d, ok := lesson.ParseWeekDay(label); ok {
		x.lesson.WeekDay = d
		return
	}
	x.warnf("unrecognized day %q", label)
}

func extractSubject(x *extraction, f gjson.Result) {
	id, label := dropdownValue(f)
	if s, ok := x.fieldMap.SubjectForOption(id); ok {
		x.lesson.Subject = s
		return
	}
	if s, ok := lesson.CanonicalSubject(label); ok {
		x.lesson.Subject = s
		return
	}
	x.warnf("unrecognized subject %q", label)
}

// extractLeads accepts a users field or a comma separated text field.
func extractLeads(x *extraction, f gjson.Result) {
	v := f.Get("value")
	if v.Type == gjson.String {
		x.lesson.Leads = strings.Split(v.String(), ",")
		return
	}
	x.lesson.Leads = userNames(v)
}

func assigneeNames(task remote.Task) []string {
	return userNames(gjson.GetBytes(task.Raw, "assignees"))
}

func userNames(users gjson.Result) []string {
	var names []string
	users.ForEach(func(_, u gjson.Result) bool {
		name := u.Get("username").String()
		if name == "" {
			name = u.Get("email").String()
		}
		if name == "" {
			name = u.Get("id").String()
		}
		if name != "" {
			names = append(names, name)
		}
		return true
	})
	return names
}
