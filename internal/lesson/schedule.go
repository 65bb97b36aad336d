package lesson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Week identifies which orientation week a lesson falls in.
type Week int

const (
	WeekUnknown Week = iota
	Week1
	Week2
)

// WeekDay is a working day. The zero value is DayUnknown.
type WeekDay int

const (
	DayUnknown WeekDay = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
)

// Weeks and WeekDays list the known values in calendar order.
var (
	Weeks    = []Week{Week1, Week2}
	WeekDays = []WeekDay{Monday, Tuesday, Wednesday, Thursday, Friday}
)

var (
	weekNames  = map[Week]string{WeekUnknown: "Unknown", Week1: "Week1", Week2: "Week2"}
	dayNames   = map[WeekDay]string{DayUnknown: "Unknown", Monday: "Mon", Tuesday: "Tue", Wednesday: "Wed", Thursday: "Thu", Friday: "Fri"}
	dayLong    = map[WeekDay]string{DayUnknown: "Unknown day", Monday: "Monday", Tuesday: "Tuesday", Wednesday: "Wednesday", Thursday: "Thursday", Friday: "Friday"}
	dayAliases = map[string]WeekDay{
		"mon": Monday, "monday": Monday,
		"tue": Tuesday, "tues": Tuesday, "tuesday": Tuesday,
		"wed": Wednesday, "weds": Wednesday, "wednesday": Wednesday,
		"thu": Thursday, "thur": Thursday, "thurs": Thursday, "thursday": Thursday,
		"fri": Friday, "friday": Friday,
	}
)

// DayOffset is weekIndex*7 + dayIndex. Unknown components count as index 0,
// so Week1/Mon is 0, Week1/Fri is 4, Week2/Mon is 7 and Week2/Fri is 11.
func DayOffset(week Week, day WeekDay) int {
	return week.index()*7 + day.index()
}

func (w Week) index() int {
	if w == Week2 {
		return 1
	}
	return 0
}

func (d WeekDay) index() int {
	if d >= Monday && d <= Friday {
		return int(d - Monday)
	}
	return 0
}

// order sorts unknown after known values.
func (w Week) order() int {
	if w == WeekUnknown {
		return 99
	}
	return int(w)
}

func (d WeekDay) order() int {
	if d == DayUnknown {
		return 99
	}
	return int(d)
}

// Valid reports whether w is one of the declared constants.
func (w Week) Valid() bool { return w >= WeekUnknown && w <= Week2 }

// Valid reports whether d is one of the declared constants.
func (d WeekDay) Valid() bool { return d >= DayUnknown && d <= Friday }

// Known reports whether w is Week1 or Week2.
func (w Week) Known() bool { return w == Week1 || w == Week2 }

// Known reports whether d is Monday..Friday.
func (d WeekDay) Known() bool { return d >= Monday && d <= Friday }

func (w Week) String() string {
	if s, ok := weekNames[w]; ok {
		return s
	}
	return fmt.Sprintf("Week(%d)", int(w))
}

// Label is the human form used in remote descriptions ("Week 1").
func (w Week) Label() string {
	switch w {
	case Week1:
		return "Week 1"
	case Week2:
		return "Week 2"
	default:
		return "Unknown week"
	}
}

func (d WeekDay) String() string {
	if s, ok := dayNames[d]; ok {
		return s
	}
	return fmt.Sprintf("WeekDay(%d)", int(d))
}

// Long returns the full day name.
func (d WeekDay) Long() string {
	if s, ok := dayLong[d]; ok {
		return s
	}
	return d.String()
}

// ParseWeek accepts "Week1", "Week 1", "W1", "wk2", "1", "2" and "Unknown".
// Unrecognized input returns WeekUnknown and false.
func ParseWeek(s string) (Week, bool) {
	v := strings.ToLower(strings.Join(strings.Fields(s), ""))
	if v == "unknown" {
		return WeekUnknown, true
	}
	for _, prefix := range []string{"week", "wk", "w"} {
		if strings.HasPrefix(v, prefix) {
			v = strings.TrimPrefix(v, prefix)
			break
		}
	}
	switch v {
	case "1", "one":
		return Week1, true
	case "2", "two":
		return Week2, true
	}
	return WeekUnknown, false
}

// ParseWeekDay accepts symbolic ("Mon", "monday", "Thurs.") and numeric
// ("1".."5", Monday first) encodings. Unrecognized input returns DayUnknown
// and false.
func ParseWeekDay(s string) (WeekDay, bool) {
	v := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if v == "unknown" {
		return DayUnknown, true
	}
	if d, ok := dayAliases[v]; ok {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 5 {
		return WeekDay(n), true
	}
	return DayUnknown, false
}

func (w Week) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *Week) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*w = WeekUnknown
		return nil
	}
	parsed, ok := ParseWeek(string(b))
	if !ok {
		return fmt.Errorf("unrecognized week %q", string(b))
	}
	*w = parsed
	return nil
}

func (d WeekDay) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *WeekDay) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*d = DayUnknown
		return nil
	}
	parsed, ok := ParseWeekDay(string(b))
	if !ok {
		return fmt.Errorf("unrecognized week day %q", string(b))
	}
	*d = parsed
	return nil
}

// UnmarshalJSON also accepts bare numbers for legacy exports.
func (w *Week) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	return w.UnmarshalText([]byte(s))
}

// UnmarshalJSON also accepts bare numbers for legacy exports.
func (d *WeekDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	return d.UnmarshalText([]byte(s))
}

// SyncState is the linkage state of a lesson. It is an open set: a retired
// state can be added later without overloading an empty remote id.
type SyncState int

const (
	Unsynced SyncState = iota
	Synced
)

func (s SyncState) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// Transition names the engine's two state transitions.
type Transition string

const (
	// TransitionCreate moves an unsynced lesson to synced by creating a remote task.
	TransitionCreate Transition = "create"
	// TransitionUpdate keeps a synced lesson synced by patching its remote task.
	TransitionUpdate Transition = "update"
)

// NextTransition returns the transition the engine applies to a lesson in state s.
func NextTransition(s SyncState) Transition {
	if s == Synced {
		return TransitionUpdate
	}
	return TransitionCreate
}
