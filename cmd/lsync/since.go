package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince accepts a duration ("36h"), a date ("2025-09-06"), an RFC 3339
// timestamp or natural language ("yesterday", "last monday", "2 days ago").
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	r, err := sinceParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: not a date, duration or phrase like \"yesterday\"", s)
	}
	return r.Time, nil
}
