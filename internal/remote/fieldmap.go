package remote

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/orientation-ops/lessonsync/internal/lesson"
)

// FieldMap ties lesson attributes to remote custom fields and dropdown
// option ids. Option tables are keyed by the canonical lesson strings
// ("Week1", "Mon", "Field Work").
type FieldMap struct {
	WeekField    string `yaml:"week_field" toml:"week_field"`
	DayField     string `yaml:"day_field" toml:"day_field"`
	SubjectField string `yaml:"subject_field" toml:"subject_field"`
	LeadsField   string `yaml:"leads_field" toml:"leads_field"`

	Weeks    map[string]string `yaml:"weeks" toml:"weeks"`
	Days     map[string]string `yaml:"days" toml:"days"`
	Subjects map[string]string `yaml:"subjects" toml:"subjects"`

	// ClosedStatus is the status given to the task of a deactivated lesson.
	// Empty means DefaultClosedStatus.
	ClosedStatus string `yaml:"closed_status" toml:"closed_status"`
}

// DefaultClosedStatus is the service's built-in done status.
const DefaultClosedStatus = "closed"

// Closed returns the status name that closes a task.
func (m FieldMap) Closed() string {
	if s := strings.TrimSpace(m.ClosedStatus); s != "" {
		return s
	}
	return DefaultClosedStatus
}

// DefaultFieldMap returns the mapping of the production workspace.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		WeekField:    "8a1c0d52-week",
		DayField:     "8a1c0d52-day",
		SubjectField: "8a1c0d52-subject",
		LeadsField:   "8a1c0d52-leads",
		Weeks: map[string]string{
			"Week1": "wk-opt-1",
			"Week2": "wk-opt-2",
		},
		Days: map[string]string{
			"Mon": "day-opt-mon",
			"Tue": "day-opt-tue",
			"Wed": "day-opt-wed",
			"Thu": "day-opt-thu",
			"Fri": "day-opt-fri",
		},
		Subjects: map[string]string{
			"Orientation": "subj-opt-orientation",
			"Safety":      "subj-opt-safety",
			"Systems":     "subj-opt-systems",
			"Culture":     "subj-opt-culture",
			"Leadership":  "subj-opt-leadership",
			"Assessment":  "subj-opt-assessment",
			"Field Work":  "subj-opt-field-work",
		},
	}
}

// LoadFieldMap reads a field map from a YAML or TOML file and validates it.
func LoadFieldMap(path string) (FieldMap, error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return FieldMap{}, fmt.Errorf("failed to read field map: %w", err)
	}

	var fm FieldMap
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fm); err != nil {
			return FieldMap{}, fmt.Errorf("failed to parse field map %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &fm)
		if err != nil {
			return FieldMap{}, fmt.Errorf("failed to parse field map %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return FieldMap{}, fmt.Errorf("field map %s: unknown keys %v", path, undecoded)
		}
	default:
		return FieldMap{}, fmt.Errorf("unsupported field map extension %q (want .yaml or .toml)", filepath.Ext(path))
	}

	if err := fm.Validate(); err != nil {
		return FieldMap{}, fmt.Errorf("field map %s: %w", path, err)
	}
	return fm, nil
}

// Validate checks that every field id is set and that the option tables
// cover both weeks, all five days and every subject.
func (m FieldMap) Validate() error {
	var missing []string
	for name, id := range map[string]string{
		"week_field":    m.WeekField,
		"day_field":     m.DayField,
		"subject_field": m.SubjectField,
		"leads_field":   m.LeadsField,
	} {
		if strings.TrimSpace(id) == "" {
			missing = append(missing, name)
		}
	}
	for _, w := range lesson.Weeks {
		if m.Weeks[w.String()] == "" {
			missing = append(missing, "weeks."+w.String())
		}
	}
	for _, d := range lesson.WeekDays {
		if m.Days[d.String()] == "" {
			missing = append(missing, "days."+d.String())
		}
	}
	for _, s := range lesson.Subjects {
		if _, ok := m.SubjectOption(s); !ok {
			missing = append(missing, "subjects."+s)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("incomplete field map, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// WeekOption returns the option id for a known week.
func (m FieldMap) WeekOption(w lesson.Week) (string, bool) {
	if !w.Known() {
		return "", false
	}
	id, ok := m.Weeks[w.String()]
	return id, ok && id != ""
}

// DayOption returns the option id for a known week day.
func (m FieldMap) DayOption(d lesson.WeekDay) (string, bool) {
	if !d.Known() {
		return "", false
	}
	id, ok := m.Days[d.String()]
	return id, ok && id != ""
}

// SubjectOption returns the option id for a subject, matched
// case-insensitively.
func (m FieldMap) SubjectOption(subject string) (string, bool) {
	canonical, ok := lesson.CanonicalSubject(subject)
	if !ok {
		return "", false
	}
	for k, id := range m.Subjects {
		if strings.EqualFold(k, canonical) && id != "" {
			return id, true
		}
	}
	return "", false
}

// WeekForOption maps an option id back to a week.
func (m FieldMap) WeekForOption(id string) (lesson.Week, bool) {
	if id == "" {
		return lesson.WeekUnknown, false
	}
	for _, w := range lesson.Weeks {
		if m.Weeks[w.String()] == id {
			return w, true
		}
	}
	return lesson.WeekUnknown, false
}

// DayForOption maps an option id back to a week day.
func (m FieldMap) DayForOption(id string) (lesson.WeekDay, bool) {
	if id == "" {
		return lesson.DayUnknown, false
	}
	for _, d := range lesson.WeekDays {
		if m.Days[d.String()] == id {
			return d, true
		}
	}
	return lesson.DayUnknown, false
}

// SubjectForOption maps an option id back to a canonical subject.
func (m FieldMap) SubjectForOption(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	for k, v := range m.Subjects {
		if v == id {
			return lesson.CanonicalSubject(k)
		}
	}
	return "", false
}
