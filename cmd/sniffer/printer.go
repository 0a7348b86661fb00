package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/parser"
)

// printer renders summaries as one line each.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) Emit(s models.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatSummary(s))
}

// Footer prints the closing counters of a session.
func (p *printer) Footer(info models.MonitorSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "-- %s: %d frames, %d summaries, %d unresolved, %d invalid\n",
		info.Status, info.FramesRead, info.SummariesOut, info.Unresolved, info.FramesInvalid)
}

func formatSummary(s models.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s ", s.LastAt.Format("15:04:05.000"), s.Key.Hex())

	if s.Resolved == nil {
		fmt.Fprintf(&b, "%-24s", "? "+s.Key.String())
	} else {
		name := s.Resolved.Function
		if s.Resolved.Deck.Valid() {
			name += " " + s.Resolved.Deck.String()
		}
		fmt.Fprintf(&b, "%-24s", name)
	}

	if s.Action != models.ActionNone {
		fmt.Fprintf(&b, " %-7s", s.Action)
	}
	if s.HiRes != nil && s.HiRes.Complete {
		fmt.Fprintf(&b, " value=%d/16383", s.FinalValue)
	} else {
		fmt.Fprintf(&b, " value=%d", s.FinalValue)
	}
	if s.Count > 1 {
		fmt.Fprintf(&b, " x%d", s.Count)
	}
	if s.Resolved != nil && s.Resolved.ReadOnly {
		b.WriteString(" [status]")
	}
	return b.String()
}

// printColumns lists the table headers and, when columns is set, the selected
// fields of every functional row.
func printColumns(w io.Writer, table *parser.Table, showHeaders bool, columns string) error {
	if showHeaders {
		for i, h := range table.Headers {
			fmt.Fprintf(w, "%2d  %s\n", i, h)
		}
	}
	if columns == "" {
		return nil
	}

	cols, warnings := table.Columns(columns)
	for _, warn := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if len(cols) == 0 {
		return fmt.Errorf("no valid columns in %q", columns)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = table.Headers[c]
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))

	for _, row := range table.Rows {
		if row.Kind != models.RowFunctional {
			continue
		}
		fields, ok := table.Fields(row.Line)
		if !ok {
			continue
		}
		values := make([]string, len(cols))
		for i, c := range cols {
			if c < len(fields) {
				values[i] = strings.TrimSpace(fields[c])
			}
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	return nil
}
