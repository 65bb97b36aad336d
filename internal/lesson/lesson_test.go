package lesson

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDayOffset(t *testing.T) {
	want := map[Week]map[WeekDay]int{
		Week1: {Monday: 0, Tuesday: 1, Wednesday: 2, Thursday: 3, Friday: 4},
		Week2: {Monday: 7, Tuesday: 8, Wednesday: 9, Thursday: 10, Friday: 11},
	}

	prev := -1
	for _, week := range Weeks {
		for _, day := range WeekDays {
			got := DayOffset(week, day)
			if got != want[week][day] {
				t.Errorf("DayOffset(%s, %s) = %d, want %d", week, day, got, want[week][day])
			}
			if got <= prev {
				t.Errorf("DayOffset(%s, %s) = %d is not after previous offset %d", week, day, got, prev)
			}
			prev = got
		}
	}
}

func TestDayOffset_UnknownDefaultsToZeroIndex(t *testing.T) {
	tests := []struct {
		week Week
		day  WeekDay
		want int
	}{
		{WeekUnknown, DayUnknown, 0},
		{WeekUnknown, Wednesday, 2},
		{Week2, DayUnknown, 7},
	}
	for _, tt := range tests {
		if got := DayOffset(tt.week, tt.day); got != tt.want {
			t.Errorf("DayOffset(%s, %s) = %d, want %d", tt.week, tt.day, got, tt.want)
		}
	}
}

func TestSetSchedule_RecomputesOffset(t *testing.T) {
	l := Lesson{Name: "Intro"}
	l.SetSchedule(Week2, Thursday)
	if l.DayOffset != 10 {
		t.Fatalf("DayOffset = %d, want 10", l.DayOffset)
	}

	l.SetSchedule(Week1, Monday)
	if l.DayOffset != 0 {
		t.Errorf("DayOffset = %d after reschedule, want 0", l.DayOffset)
	}
}

func TestParseWeekDay(t *testing.T) {
	tests := []struct {
		in     string
		want   WeekDay
		wantOK bool
	}{
		{"Mon", Monday, true},
		{"monday", Monday, true},
		{" Thurs. ", Thursday, true},
		{"1", Monday, true},
		{"5", Friday, true},
		{"6", DayUnknown, false},
		{"Saturday", DayUnknown, false},
		{"Unknown", DayUnknown, true},
	}
	for _, tt := range tests {
		got, ok := ParseWeekDay(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseWeekDay(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseWeek(t *testing.T) {
	tests := []struct {
		in     string
		want   Week
		wantOK bool
	}{
		{"Week1", Week1, true},
		{"Week 2", Week2, true},
		{"W1", Week1, true},
		{"wk2", Week2, true},
		{"2", Week2, true},
		{"Week 3", WeekUnknown, false},
		{"", WeekUnknown, false},
	}
	for _, tt := range tests {
		got, ok := ParseWeek(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseWeek(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNameKey(t *testing.T) {
	if NameKey("Kickoff ") != NameKey("kickoff") {
		t.Errorf("NameKey(%q) = %q, NameKey(%q) = %q, want equal", "Kickoff ", NameKey("Kickoff "), "kickoff", NameKey("kickoff"))
	}
	if got := NameKey("  Site Tour \t"); got != "site tour" {
		t.Errorf("NameKey(%q) = %q, want %q", "  Site Tour \t", got, "site tour")
	}
	if NameKey("Team  Lunch") == NameKey("Team Lunch") {
		t.Error("inner whitespace must stay significant")
	}
	if NameKey("Intro") == NameKey("Intro 2") {
		t.Error("different names must not share a key")
	}
}

func TestLesson_Validate(t *testing.T) {
	valid := func() Lesson {
		l := Lesson{Name: "Intro", StartTime: "09:00", EndTime: "10:00", Subject: "Orientation", IsActive: true}
		l.SetSchedule(Week1, Monday)
		return l
	}

	tests := []struct {
		name    string
		mutate  func(*Lesson)
		wantErr string
	}{
		{name: "valid", mutate: func(*Lesson) {}},
		{name: "missing name", mutate: func(l *Lesson) { l.Name = "  " }, wantErr: "name is required"},
		{name: "name too long", mutate: func(l *Lesson) { l.Name = strings.Repeat("x", 201) }, wantErr: "200 characters or less"},
		{name: "stale offset", mutate: func(l *Lesson) { l.DayOffset = 3 }, wantErr: "does not match"},
		{name: "bad start", mutate: func(l *Lesson) { l.StartTime = "9am" }, wantErr: "start time"},
		{name: "end before start", mutate: func(l *Lesson) { l.EndTime = "08:30" }, wantErr: "must be after"},
		{name: "unknown subject", mutate: func(l *Lesson) { l.Subject = "Karaoke" }, wantErr: "not in the taxonomy"},
		{name: "times optional", mutate: func(l *Lesson) { l.StartTime, l.EndTime = "", "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := valid()
			tt.mutate(&l)
			err := l.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	l := Lesson{
		Name:    "  Intro ",
		Week:    Week2,
		WeekDay: Tuesday,
		Subject: "field work",
		Leads:   []string{"Ana Ruiz", " ana ruiz", "", "Bo  Chen"},
	}
	l.Normalize()

	want := Lesson{
		Name:      "Intro",
		Week:      Week2,
		WeekDay:   Tuesday,
		DayOffset: 8,
		Subject:   "Field Work",
		Leads:     []string{"Ana Ruiz", "Bo Chen"},
	}
	if diff := cmp.Diff(want, l); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestSameLeads(t *testing.T) {
	if !SameLeads([]string{"Ana", "Bo"}, []string{"bo", "ANA"}) {
		t.Error("SameLeads should ignore order and case")
	}
	if SameLeads([]string{"Ana"}, []string{"Ana", "Bo"}) {
		t.Error("SameLeads should detect an added lead")
	}
	if !SameLeads(nil, []string{}) {
		t.Error("nil and empty lead sets should match")
	}
}

func TestSortStore(t *testing.T) {
	mk := func(id int64, w Week, d WeekDay) Lesson {
		l := Lesson{ID: id, Name: "l"}
		l.SetSchedule(w, d)
		return l
	}
	lessons := []Lesson{
		mk(1, WeekUnknown, Monday),
		mk(2, Week2, Monday),
		mk(3, Week1, Friday),
		mk(4, Week1, DayUnknown),
		mk(5, Week1, Monday),
		mk(6, Week1, Monday),
	}
	SortStore(lessons)

	var got []int64
	for _, l := range lessons {
		got = append(got, l.ID)
	}
	want := []int64{5, 6, 3, 4, 2, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortStore order mismatch (-want +got):\n%s", diff)
	}
}

func TestState(t *testing.T) {
	l := Lesson{Name: "Intro"}
	if l.State() != Unsynced || NextTransition(l.State()) != TransitionCreate {
		t.Fatalf("new lesson: state %s transition %s", l.State(), NextTransition(l.State()))
	}
	l.RemoteTaskID = "abc"
	if l.State() != Synced || NextTransition(l.State()) != TransitionUpdate {
		t.Fatalf("linked lesson: state %s transition %s", l.State(), NextTransition(l.State()))
	}
}

func TestDescribe(t *testing.T) {
	l := Lesson{Name: "Intro"}
	l.SetSchedule(Week2, Wednesday)
	if got, want := Describe(l), "Week 2, Wednesday (day 9)"; got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}

func TestReadFile_Formats(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"template.json": `[
  {"name": "Intro", "week": "Week1", "week_day": "Mon", "start_time": "09:00", "end_time": "10:00"},
  {"name": "Site Tour", "week": 2, "week_day": 3, "leads": ["Ana Ruiz"], "is_active": false}
]`,
		"template.yaml": `- name: Intro
  week: Week1
  week_day: Mon
  start_time: "09:00"
  end_time: "10:00"
- name: Site Tour
  week: Week 2
  week_day: Wednesday
  leads: [Ana Ruiz]
  is_active: false
`,
		"template.jsonl": `{"name": "Intro", "week": "Week1", "week_day": "Mon", "start_time": "09:00", "end_time": "10:00"}

{"name": "Site Tour", "week": "Week2", "week_day": "Wed", "leads": ["Ana Ruiz"], "is_active": false}
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatalf("failed to write %s: %v", name, err)
			}

			lessons, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile() failed: %v", err)
			}
			if len(lessons) != 2 {
				t.Fatalf("got %d lessons, want 2", len(lessons))
			}
			if !lessons[0].IsActive {
				t.Error("is_active should default to true")
			}
			if lessons[1].IsActive {
				t.Error("explicit is_active=false was lost")
			}
			if lessons[1].DayOffset != 9 {
				t.Errorf("Site Tour DayOffset = %d, want 9", lessons[1].DayOffset)
			}
		})
	}
}

func TestReadFile_RejectsDuplicatesAndInvalid(t *testing.T) {
	dir := t.TempDir()

	dup := filepath.Join(dir, "dup.json")
	if err := os.WriteFile(dup, []byte(`[{"name":"Intro"},{"name":" intro"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(dup); err == nil || !strings.Contains(err.Error(), "duplicates") {
		t.Errorf("ReadFile(dup) = %v, want duplicate error", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"name":"Intro","start_time":"25:00"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(bad); err == nil {
		t.Error("ReadFile(bad) succeeded, want validation error")
	}

	if _, err := ReadFile(filepath.Join(dir, "template.csv")); err == nil {
		t.Error("ReadFile with .csv extension succeeded, want error")
	}
}

func TestWriteFile_ThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "template.yaml")

	l := Lesson{Name: "Intro", StartTime: "09:00", EndTime: "10:00", IsActive: true, Leads: []string{"Ana Ruiz"}}
	l.SetSchedule(Week1, Friday)
	if err := WriteFile(path, []Lesson{l}); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if diff := cmp.Diff([]Lesson{l}, got); diff != "" {
		t.Errorf("lessons mismatch after write/read (-want +got):\n%s", diff)
	}
}
