package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// Row is one "label: value" line of a report.
type Row struct {
	Label string
	Value any
}

// PrintReport writes a boxed report header followed by aligned rows.
func PrintReport(w io.Writer, title string, rows []Row) {
	rule := strings.Repeat("=", 44)
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, rule)
	width := 0
	for _, r := range rows {
		width = max(width, len(r.Label))
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-*s  %v\n", width+1, r.Label+":", r.Value)
	}
	fmt.Fprintln(w, strings.Repeat("-", 44))
}
