package main

import (
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 9, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"36h", now.Add(-36 * time.Hour)},
		{"2025-09-06", time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC)},
		{"2025-09-06T09:30:00Z", time.Date(2025, 9, 6, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in, now)
		if err != nil {
			t.Errorf("parseSince(%q) failed: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	got, err := parseSince("yesterday", now)
	if err != nil {
		t.Fatalf("parseSince(yesterday) failed: %v", err)
	}
	if y, m, d := got.Date(); y != 2025 || m != time.September || d != 9 {
		t.Errorf("parseSince(yesterday) = %v, want 2025-09-09", got)
	}

	if _, err := parseSince("purple elephant", now); err == nil {
		t.Error("parseSince(nonsense) should fail")
	}
}
