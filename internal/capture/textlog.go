package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/midi-sniffer/backend/internal/models"
)

// Text log layout:
//
//	MIDI Sniffer Log
//	Started: 2025-03-14 23:02:07
//	Controller: DDJ-FLX10
//	Table: DDJ-FLX10.midi.csv
//	================================================================================
//
//	[23:02:07.155] | IN  | B6 08 33     | MasterLevel
const (
	textLogTitle     = "MIDI Sniffer Log"
	startedPrefix    = "Started:"
	controllerPrefix = "Controller:"
	tablePrefix      = "Table:"
	startedLayout    = "2006-01-02 15:04:05"
	clockLayout      = "15:04:05.000"
)

var textLogLineRegex = regexp.MustCompile(`^\[([^\]]+)\]\s*\|\s*(IN|OUT)\s*\|\s*([A-Fa-f0-9 ]+)\s*\|`)

// TextLogReader replays a text log. OUT lines and lines that are not frames
// are skipped. Clock times are placed on the date from the Started header and
// roll over to the next day when they go backwards by more than an hour.
type TextLogReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	device  string
	table   string
	date    time.Time
	last    time.Time
	pending *models.Frame
	lineNum int
	skipped int
	mu      sync.Mutex
}

// OpenTextLog opens a text log file for replay.
func OpenTextLog(filePath string) (*TextLogReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := NewTextLogReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewTextLogStream reads a text log from rc, typically a pipe or stdin.
// Close closes rc, which unblocks a Next waiting for the next line.
func NewTextLogStream(rc io.ReadCloser) (*TextLogReader, error) {
	r, err := NewTextLogReader(rc)
	if err != nil {
		return nil, err
	}
	r.closer = rc
	return r, nil
}

// NewTextLogReader reads the header of r up to the first frame line.
func NewTextLogReader(r io.Reader) (*TextLogReader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	now := time.Now()
	tr := &TextLogReader{
		scanner: scanner,
		date:    time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local),
	}

	for scanner.Scan() {
		tr.lineNum++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, startedPrefix):
			ts, err := time.ParseInLocation(startedLayout, strings.TrimSpace(strings.TrimPrefix(line, startedPrefix)), time.Local)
			if err == nil {
				tr.date = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.Local)
			}
		case strings.HasPrefix(line, controllerPrefix):
			tr.device = strings.TrimSpace(strings.TrimPrefix(line, controllerPrefix))
		case strings.HasPrefix(line, tablePrefix):
			tr.table = strings.TrimSpace(strings.TrimPrefix(line, tablePrefix))
		case strings.HasPrefix(line, "["):
			f, ok := tr.parseLine(line)
			if ok {
				tr.pending = &f
				return tr, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read text log: %w", err)
	}
	return tr, nil
}

// Device returns the controller named in the header.
func (r *TextLogReader) Device() string { return r.device }

// Table returns the table file named in the header.
func (r *TextLogReader) Table() string { return r.table }

// Skipped returns how many frame-like lines could not be read.
func (r *TextLogReader) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

func (r *TextLogReader) Next(ctx context.Context) (models.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil {
		f := *r.pending
		r.pending = nil
		return f, nil
	}

	for r.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return models.Frame{}, err
		}
		r.lineNum++
		if f, ok := r.parseLine(r.scanner.Text()); ok {
			return f, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return models.Frame{}, fmt.Errorf("read text log line %d: %w", r.lineNum, err)
	}
	return models.Frame{}, io.EOF
}

// Close releases the underlying file or stream. It does not take the reader
// lock, so it may be called while Next is blocked.
func (r *TextLogReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *TextLogReader) parseLine(line string) (models.Frame, bool) {
	m := textLogLineRegex.FindStringSubmatch(line)
	if m == nil {
		return models.Frame{}, false
	}
	if m[2] != string(models.DirectionIn) {
		return models.Frame{}, false
	}

	clock, err := time.Parse(clockLayout, strings.TrimSpace(m[1]))
	if err != nil {
		r.skipped++
		return models.Frame{}, false
	}
	bytes, err := parseHexBytes(m[3])
	if err != nil {
		r.skipped++
		return models.Frame{}, false
	}

	ts := r.date.Add(time.Duration(clock.Hour())*time.Hour +
		time.Duration(clock.Minute())*time.Minute +
		time.Duration(clock.Second())*time.Second +
		time.Duration(clock.Nanosecond()))
	if !r.last.IsZero() && r.last.Sub(ts) > time.Hour {
		r.date = r.date.AddDate(0, 0, 1)
		ts = ts.AddDate(0, 0, 1)
	}
	r.last = ts

	return models.Frame{Timestamp: ts, Bytes: bytes, Direction: models.DirectionIn}, true
}

// parseHexBytes reads "B6 08 33". Two-byte messages are padded with a zero data byte.
func parseHexBytes(s string) ([3]byte, error) {
	var out [3]byte
	parts := strings.Fields(s)
	if len(parts) < 2 || len(parts) > 3 {
		return out, fmt.Errorf("want 2 or 3 bytes, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return out, err
		}
		out[i] = byte(v)
	}
	return out, nil
}

// TextLogWriter writes frames in the text log layout read by TextLogReader.
type TextLogWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// CreateTextLog creates a text log file and writes its header.
func CreateTextLog(filePath, device, table string, started time.Time) (*TextLogWriter, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	w, err := NewTextLogWriter(file, device, table, started)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// NewTextLogWriter writes the header to w.
func NewTextLogWriter(w io.Writer, device, table string, started time.Time) (*TextLogWriter, error) {
	tw := &TextLogWriter{w: bufio.NewWriter(w)}

	fmt.Fprintln(tw.w, textLogTitle)
	fmt.Fprintf(tw.w, "%s %s\n", startedPrefix, started.Format(startedLayout))
	if device != "" {
		fmt.Fprintf(tw.w, "%s %s\n", controllerPrefix, device)
	}
	if table != "" {
		fmt.Fprintf(tw.w, "%s %s\n", tablePrefix, table)
	}
	fmt.Fprintf(tw.w, "%s\n\n", strings.Repeat("=", 80))

	if err := tw.w.Flush(); err != nil {
		return nil, err
	}
	return tw, nil
}

// WriteFrame writes one frame line with a free-text description.
func (w *TextLogWriter) WriteFrame(f models.Frame, description string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := f.Direction
	if dir == "" {
		dir = models.DirectionIn
	}
	_, err := fmt.Fprintf(w.w, "[%s] | %-3s | %-12s | %s\n",
		f.Timestamp.Format(clockLayout), dir, f.Hex(), description)
	return err
}

// Record implements Recorder.
func (w *TextLogWriter) Record(f models.Frame) error {
	return w.WriteFrame(f, "")
}

// Flush writes buffered lines.
func (w *TextLogWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

func (w *TextLogWriter) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
