package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/spiralos/guardian/internal/types"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// printJSON writes v as indented JSON to stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// severityColor renders a severity in its alert color
func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return red(string(s))
	case types.SeverityHigh:
		return yellow(string(s))
	}
	return string(s)
}

func statusIcon(ok bool) string {
	if ok {
		return green("✓")
	}
	return red("✗")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatWindow describes a profile mode window relative to now
func formatWindow(started *time.Time, durationSeconds int, now time.Time) string {
	if started == nil {
		return "open-ended"
	}
	if durationSeconds <= 0 {
		return fmt.Sprintf("since %s, open-ended", formatTime(*started))
	}
	end := started.Add(time.Duration(durationSeconds) * time.Second)
	if now.After(end) {
		return fmt.Sprintf("expired %v ago", now.Sub(end).Round(time.Second))
	}
	return fmt.Sprintf("%v remaining", end.Sub(now).Round(time.Second))
}
