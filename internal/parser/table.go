package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/midi-sniffer/backend/internal/models"
)

var (
	// ErrHeaderMissing is returned when no "#name,..." header record follows the identity record.
	ErrHeaderMissing = errors.New("mapping table header missing")
	// ErrEmptyTable is returned for a table file with no records at all.
	ErrEmptyTable = errors.New("mapping table is empty")
)

// IdentityMarker opens the first record of a mapping table ("@file,1,DDJ-FLX10").
const IdentityMarker = "@file"

// UnknownDevice is used when the identity record is missing.
const UnknownDevice = "Unknown"

// Table is a loaded mapping table: its classified rows and the index built from them.
type Table struct {
	Name        string
	Identity    models.FileIdentity
	Headers     []string
	Rows        []models.ClassifiedRow
	Index       *Index
	Diagnostics []models.Diagnostic

	records map[int][]string
}

// LoadTable reads and resolves a mapping table file.
func LoadTable(filePath string, profile *Profile) (*Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open mapping table: %w", err)
	}
	defer file.Close()

	return ParseTable(file, filepath.Base(filePath), profile)
}

// ParseTable reads a mapping table from r. Malformed rows become diagnostics;
// only a missing header or an unreadable stream fails the load.
func ParseTable(r io.Reader, name string, profile *Profile) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	t := &Table{
		Name:     name,
		Identity: models.FileIdentity{Device: UnknownDevice},
		records:  make(map[int][]string),
	}

	first, line, err := readRecord(reader)
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read mapping table: %w", err)
	}

	header := first
	if strings.EqualFold(strings.TrimSpace(first[0]), IdentityMarker) {
		t.Identity = models.FileIdentity{
			Marker:  strings.TrimSpace(first[0]),
			Version: field(first, 1),
			Device:  field(first, 2),
		}
		if t.Identity.Device == "" {
			t.Identity.Device = UnknownDevice
			t.diag(line, models.DiagHeader, first, "identity record names no device")
		}

		header, line, err = readRecord(reader)
		if err == io.EOF {
			return nil, ErrHeaderMissing
		}
		if err != nil {
			return nil, fmt.Errorf("read mapping table: %w", err)
		}
	} else {
		t.diag(line, models.DiagHeader, first, "identity record missing; device unknown")
	}

	if !isHeader(header) {
		return nil, fmt.Errorf("%w: line %d starts with %q", ErrHeaderMissing, line, field(header, 0))
	}
	t.Headers = make([]string, len(header))
	for i, h := range header {
		t.Headers[i] = strings.TrimSpace(h)
	}
	if len(t.Headers) < NumColumns {
		t.diag(line, models.DiagHeader, header, fmt.Sprintf("header has %d columns, want %d", len(t.Headers), NumColumns))
	}

	classifier := NewClassifier()
	for {
		fields, line, err := readRecord(reader)
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			t.Diagnostics = append(t.Diagnostics, models.Diagnostic{
				Line:   perr.StartLine,
				Kind:   models.DiagMalformedRow,
				Reason: perr.Err.Error(),
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read mapping table: %w", err)
		}

		row, diags := classifier.Classify(line, fields)
		t.Rows = append(t.Rows, row)
		t.Diagnostics = append(t.Diagnostics, diags...)
		if row.Kind != models.RowEmpty {
			t.records[line] = fields
		}
	}

	index, diags := BuildIndex(t.Rows, t.Identity.Device, profile)
	t.Index = index
	t.Diagnostics = append(t.Diagnostics, diags...)

	return t, nil
}

// Device returns the device named by the identity record.
func (t *Table) Device() string {
	return t.Identity.Device
}

// Conflicts returns the key collisions resolved while building the index.
func (t *Table) Conflicts() []models.Conflict {
	return t.Index.Conflicts()
}

// RowCounts tallies rows by kind.
func (t *Table) RowCounts() map[models.RowKind]int {
	counts := make(map[models.RowKind]int)
	for _, row := range t.Rows {
		counts[row.Kind]++
	}
	return counts
}

// Fields returns the raw record read at line.
func (t *Table) Fields(line int) ([]string, bool) {
	f, ok := t.records[line]
	return f, ok
}

// Columns resolves a column selection such as "0,function,5" against the
// header. Entries may be 0-based indexes or header names; unknown entries are
// reported as warnings and left out.
func (t *Table) Columns(spec string) ([]int, []string) {
	var cols []int
	var warnings []string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			if n < 0 || n >= len(t.Headers) {
				warnings = append(warnings, fmt.Sprintf("column index %d out of range (0-%d)", n, len(t.Headers)-1))
				continue
			}
			cols = append(cols, n)
			continue
		}
		found := false
		for i, h := range t.Headers {
			if h == part {
				cols = append(cols, i)
				found = true
				break
			}
		}
		if !found {
			warnings = append(warnings, fmt.Sprintf("column %q not found", part))
		}
	}
	return cols, warnings
}

// Project returns the selected columns of the record at line, keyed by header name.
func (t *Table) Project(line int, cols []int) map[string]string {
	fields, ok := t.records[line]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		if c < len(fields) && c < len(t.Headers) {
			out[t.Headers[c]] = strings.TrimSpace(fields[c])
		}
	}
	return out
}

// Info summarises the table for listings and the API.
func (t *Table) Info() models.TableInfo {
	return models.TableInfo{
		Name:        t.Name,
		Identity:    t.Identity,
		Headers:     t.Headers,
		RowCounts:   t.RowCounts(),
		KeyCount:    t.Index.Len(),
		Diagnostics: t.Diagnostics,
		Conflicts:   t.Conflicts(),
	}
}

func (t *Table) diag(line int, kind models.DiagnosticKind, fields []string, reason string) {
	t.Diagnostics = append(t.Diagnostics, models.Diagnostic{
		Line:    line,
		Kind:    kind,
		Content: strings.Join(fields, ","),
		Reason:  reason,
	})
}

func readRecord(r *csv.Reader) ([]string, int, error) {
	fields, err := r.Read()
	if err != nil {
		return nil, 0, err
	}
	line, _ := r.FieldPos(0)
	if len(fields) > 0 {
		fields[0] = strings.TrimPrefix(fields[0], "\ufeff")
	}
	return fields, line, nil
}

func isHeader(fields []string) bool {
	return strings.HasPrefix(strings.ToLower(field(fields, 0)), "#name")
}
