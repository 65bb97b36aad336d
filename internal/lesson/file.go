package lesson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a lesson file encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported lesson file extension %q (want .json, .jsonl or .yaml)", filepath.Ext(path))
	}
}

// ReadFile reads a lesson set from path. Every lesson is normalized and
// validated; the first invalid lesson fails the whole read so a bulk replace
// never imports half a file. Missing is_active defaults to true.
func ReadFile(path string) ([]Lesson, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	// #nosec G304 - path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lesson file %s: %w", path, err)
	}

	var raw []fileLesson
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse lesson file %s: %w", path, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse lesson file %s: %w", path, err)
		}
	case FormatJSONL:
		raw, err = decodeJSONL(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse lesson file %s: %w", path, err)
		}
	}

	lessons := make([]Lesson, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for i, fl := range raw {
		l := fl.toLesson()
		l.Normalize()
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("lesson %d (%q) in %s: %w", i+1, l.Name, path, err)
		}
		if prev, ok := seen[l.Key()]; ok {
			return nil, fmt.Errorf("lesson %d (%q) in %s duplicates lesson %d", i+1, l.Name, path, prev)
		}
		seen[l.Key()] = i + 1
		lessons = append(lessons, l)
	}
	return lessons, nil
}

// WriteFile writes lessons to path in the format implied by its extension.
// The file is written to a temp file and renamed into place.
func WriteFile(path string, lessons []Lesson) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(lessons, "", "  ")
	case FormatYAML:
		data, err = yaml.Marshal(lessons)
	case FormatJSONL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, l := range lessons {
			if err = enc.Encode(l); err != nil {
				break
			}
		}
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("failed to encode lessons: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write lesson file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename lesson file: %w", err)
	}
	return nil
}

// fileLesson mirrors Lesson with a tri-state is_active.
type fileLesson struct {
	ID           int64    `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Week         Week     `json:"week" yaml:"week"`
	WeekDay      WeekDay  `json:"week_day" yaml:"week_day"`
	StartTime    string   `json:"start_time" yaml:"start_time"`
	EndTime      string   `json:"end_time" yaml:"end_time"`
	Subject      string   `json:"subject" yaml:"subject"`
	Leads        []string `json:"leads" yaml:"leads"`
	IsActive     *bool    `json:"is_active" yaml:"is_active"`
	RemoteTaskID string   `json:"remote_task_id" yaml:"remote_task_id"`
}

func (f fileLesson) toLesson() Lesson {
	active := true
	if f.IsActive != nil {
		active = *f.IsActive
	}
	return Lesson{
		ID:           f.ID,
		Name:         f.Name,
		Week:         f.Week,
		WeekDay:      f.WeekDay,
		StartTime:    f.StartTime,
		EndTime:      f.EndTime,
		Subject:      f.Subject,
		Leads:        f.Leads,
		IsActive:     active,
		RemoteTaskID: f.RemoteTaskID,
	}
}

func decodeJSONL(data []byte) ([]fileLesson, error) {
	var out []fileLesson
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var fl fileLesson
		if err := json.Unmarshal(line, &fl); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		out = append(out, fl)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
