package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Aman-CERP/docindex/internal/index"
)

// StatusInfo describes a database and its indexes.
type StatusInfo struct {
	Path              string        `json:"path"`
	Backend           string        `json:"backend"`
	Documents         int           `json:"documents"`
	CurrentGeneration uint64        `json:"current_generation"`
	StorageSize       int64         `json:"storage_size"`
	LastWrite         time.Time     `json:"last_write,omitzero"`
	Indexes           []index.Stats `json:"indexes"`
}

// StatusRenderer displays database status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes info as a table.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Database: "+info.Path))

	_, _ = fmt.Fprintf(r.out, "  Backend:    %s\n", info.Backend)
	_, _ = fmt.Fprintf(r.out, "  Documents:  %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Generation: %d\n", info.CurrentGeneration)
	if info.StorageSize > 0 {
		_, _ = fmt.Fprintf(r.out, "  Storage:    %s\n", FormatBytes(info.StorageSize))
	}
	if !info.LastWrite.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last write: %s\n", formatTime(info.LastWrite))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(info.Indexes) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render("  No indexes defined."))
		return nil
	}

	nameWidth := len("INDEX")
	for _, s := range info.Indexes {
		nameWidth = max(nameWidth, len(s.Name))
	}

	header := fmt.Sprintf("  %-*s  %-11s  %8s  %10s  %7s  %-9s  %6s",
		nameWidth, "INDEX", "STATE", "ENTRIES", "PROCESSED", "PENDING", "STALE", "ERRORS")
	_, _ = fmt.Fprintln(r.out, r.styles.Label.Render(header))
	_, _ = fmt.Fprintln(r.out, r.styles.Border.Render("  "+strings.Repeat("─", len(header)-2)))

	for _, s := range info.Indexes {
		stale := r.styles.Success.Render(fmt.Sprintf("%-9s", "fresh"))
		if s.IsStale {
			stale = r.styles.Warning.Render(fmt.Sprintf("%-9s", "stale"))
		}
		errs := fmt.Sprintf("%6d", s.MapErrors)
		if s.MapErrors > 0 {
			errs = r.styles.Error.Render(errs)
		}
		_, _ = fmt.Fprintf(r.out, "  %-*s  %-11s  %8d  %10d  %7d  %s  %s\n",
			nameWidth, s.Name, s.State, s.EntryCount, s.LastProcessedGeneration,
			s.PendingQueueDepth, stale, errs)
	}
	return nil
}

// RenderJSON writes info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// formatTime formats t relative to now, falling back to a date after a week.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes in B, KB, MB or GB.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
