// Package ui holds the terminal styles shared by lsync commands.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/orientation-ops/lessonsync/internal/lesson"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func init() {
	if termenv.EnvNoColor() {
		DisableColor()
	}
}

// DisableColor switches every style to plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// Errorf prints "Error: ..." to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", RenderFail("Error:"), fmt.Sprintf(format, args...))
}

// Warnf prints a warning line to stderr.
func Warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", RenderWarn("⚠"), fmt.Sprintf(format, args...))
}

// RenderState colors a lesson sync state.
func RenderState(s lesson.SyncState) string {
	if s == lesson.Synced {
		return RenderPass(s.String())
	}
	return RenderWarn(s.String())
}

// Ago renders t relative to now, or "never" for the zero time.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

// LessonRows formats lessons for Table under LessonHeaders.
func LessonRows(lessons []lesson.Lesson) [][]string {
	rows := make([][]string, 0, len(lessons))
	for _, l := range lessons {
		times := ""
		if l.StartTime != "" || l.EndTime != "" {
			times = l.StartTime + "-" + l.EndTime
		}
		active := "yes"
		if !l.IsActive {
			active = "no"
		}
		remote := l.RemoteTaskID
		if remote == "" {
			remote = "-"
		}
		rows = append(rows, []string{
			fmt.Sprint(l.ID),
			l.Name,
			l.Week.Label(),
			l.WeekDay.Long(),
			times,
			l.Subject,
			strings.Join(l.Leads, ", "),
			active,
			remote,
		})
	}
	return rows
}

// LessonHeaders are the column titles for LessonRows.
var LessonHeaders = []string{"ID", "Name", "Week", "Day", "Time", "Subject", "Leads", "Active", "Remote"}
