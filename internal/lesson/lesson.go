// Package lesson defines the canonical lesson record shared by the store,
// the remote reader and the reconciliation engine.
package lesson

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Lesson is one scheduled session of an orientation class.
//
// Name is the reconciliation key (see NameKey). DayOffset is derived from
// Week and WeekDay and must never be set on its own; use SetSchedule or
// Normalize.
type Lesson struct {
	// ID is stable within a class (or within the template).
	ID int64 `json:"id" yaml:"id"`

	Name    string  `json:"name" yaml:"name"`
	Week    Week    `json:"week" yaml:"week"`
	WeekDay WeekDay `json:"week_day" yaml:"week_day"`

	// DayOffset is the 0-based ordinal across both weeks, used for sorting.
	DayOffset int `json:"day_offset" yaml:"day_offset"`

	// StartTime and EndTime are local-clock "HH:MM" values, empty when unknown.
	StartTime string `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty" yaml:"end_time,omitempty"`

	// Subject is drawn from Subjects, empty when unset.
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`

	// Leads holds instructor display names.
	Leads []string `json:"leads,omitempty" yaml:"leads,omitempty"`

	IsActive bool `json:"is_active" yaml:"is_active"`

	// RemoteTaskID links the lesson to its remote task. Empty means unsynced.
	RemoteTaskID string `json:"remote_task_id,omitempty" yaml:"remote_task_id,omitempty"`
}

// Subjects is the fixed subject taxonomy.
var Subjects = []string{
	"Orientation",
	"Safety",
	"Systems",
	"Culture",
	"Leadership",
	"Assessment",
	"Field Work",
}

const maxNameLength = 200

// NameKey returns the reconciliation key: the name lowercased with leading
// and trailing whitespace removed. Inner whitespace is significant. Two
// lessons are the same lesson iff their keys are equal.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Key returns NameKey(l.Name).
func (l *Lesson) Key() string {
	return NameKey(l.Name)
}

// SetSchedule sets week and day and recomputes DayOffset.
func (l *Lesson) SetSchedule(week Week, day WeekDay) {
	l.Week = week
	l.WeekDay = day
	l.DayOffset = DayOffset(week, day)
}

// Normalize trims the name, canonicalizes leads and subject spelling and
// recomputes DayOffset. It is applied on every load and import.
func (l *Lesson) Normalize() {
	l.Name = strings.TrimSpace(l.Name)
	l.StartTime = strings.TrimSpace(l.StartTime)
	l.EndTime = strings.TrimSpace(l.EndTime)
	if s, ok := CanonicalSubject(l.Subject); ok {
		l.Subject = s
	} else {
		l.Subject = strings.TrimSpace(l.Subject)
	}
	l.Leads = NormalizeLeads(l.Leads)
	l.DayOffset = DayOffset(l.Week, l.WeekDay)
}

// State reports whether the lesson is linked to a remote task.
func (l *Lesson) State() SyncState {
	if l.RemoteTaskID == "" {
		return Unsynced
	}
	return Synced
}

// Validate checks the lesson's field values.
func (l *Lesson) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(l.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less (got %d)", maxNameLength, len(l.Name))
	}
	if !l.Week.Valid() {
		return fmt.Errorf("invalid week %d", int(l.Week))
	}
	if !l.WeekDay.Valid() {
		return fmt.Errorf("invalid week day %d", int(l.WeekDay))
	}
	if want := DayOffset(l.Week, l.WeekDay); l.DayOffset != want {
		return fmt.Errorf("day offset %d does not match %s/%s (want %d)", l.DayOffset, l.Week, l.WeekDay, want)
	}
	start, err := parseClock(l.StartTime)
	if err != nil {
		return fmt.Errorf("start time: %w", err)
	}
	end, err := parseClock(l.EndTime)
	if err != nil {
		return fmt.Errorf("end time: %w", err)
	}
	if start != nil && end != nil && !end.After(*start) {
		return fmt.Errorf("end time %s must be after start time %s", l.EndTime, l.StartTime)
	}
	if l.Subject != "" {
		if _, ok := CanonicalSubject(l.Subject); !ok {
			return fmt.Errorf("subject %q is not in the taxonomy", l.Subject)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (l Lesson) Clone() Lesson {
	if l.Leads != nil {
		l.Leads = append([]string(nil), l.Leads...)
	}
	return l
}

// Fresh returns a deep copy with no id and no remote link, as used when
// seeding a class from the template.
func (l Lesson) Fresh() Lesson {
	c := l.Clone()
	c.ID = 0
	c.RemoteTaskID = ""
	return c
}

// Describe renders the description pushed to the remote task. It is derived
// from week, day and offset only.
func Describe(l Lesson) string {
	return fmt.Sprintf("%s, %s (day %d)", l.Week.Label(), l.WeekDay.Long(), l.DayOffset)
}

// CanonicalSubject matches s against the taxonomy case-insensitively.
func CanonicalSubject(s string) (string, bool) {
	key := NameKey(s)
	if key == "" {
		return "", false
	}
	for _, subject := range Subjects {
		if NameKey(subject) == key {
			return subject, true
		}
	}
	return "", false
}

// NormalizeLeads trims and de-duplicates leads case-insensitively, keeping the
// first spelling and the input order. It returns nil for an empty set.
func NormalizeLeads(leads []string) []string {
	var out []string
	seen := make(map[string]bool, len(leads))
	for _, lead := range leads {
		lead = strings.Join(strings.Fields(lead), " ")
		if lead == "" {
			continue
		}
		k := strings.ToLower(lead)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, lead)
	}
	return out
}

// SameLeads reports whether a and b hold the same set of leads.
func SameLeads(a, b []string) bool {
	a, b = NormalizeLeads(a), NormalizeLeads(b)
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, lead := range a {
		set[strings.ToLower(lead)] = true
	}
	for _, lead := range b {
		if !set[strings.ToLower(lead)] {
			return false
		}
	}
	return true
}

// SortStore orders lessons the way the store returns them: by week, then
// week day, then offset, with unknown weeks and days after known ones, and
// id as the final tie-break.
func SortStore(lessons []Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		a, b := lessons[i], lessons[j]
		if a.Week.order() != b.Week.order() {
			return a.Week.order() < b.Week.order()
		}
		if a.WeekDay.order() != b.WeekDay.order() {
			return a.WeekDay.order() < b.WeekDay.order()
		}
		if a.DayOffset != b.DayOffset {
			return a.DayOffset < b.DayOffset
		}
		return a.ID < b.ID
	})
}

// SortByOffset orders lessons by DayOffset, tie-broken by name key.
func SortByOffset(lessons []Lesson) {
	sort.SliceStable(lessons, func(i, j int) bool {
		if lessons[i].DayOffset != lessons[j].DayOffset {
			return lessons[i].DayOffset < lessons[j].DayOffset
		}
		return lessons[i].Key() < lessons[j].Key()
	})
}

// IndexByKey maps name keys to lessons. Later duplicates are ignored.
func IndexByKey(lessons []Lesson) map[string]Lesson {
	idx := make(map[string]Lesson, len(lessons))
	for _, l := range lessons {
		if _, ok := idx[l.Key()]; !ok {
			idx[l.Key()] = l
		}
	}
	return idx
}

func parseClock(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return nil, fmt.Errorf("%q is not HH:MM", v)
	}
	return &t, nil
}
