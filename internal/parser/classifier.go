package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/midi-sniffer/backend/internal/models"
)

// Column positions in a mapping-table record:
// #name,function,type,input,deck1-4,output,deck1-4,option,comment
const (
	colName     = 0
	colFunction = 1
	colType     = 2
	colInput    = 3
	colInDeck   = 4 // through 7
	colOutput   = 8
	colOutDeck  = 9 // through 12
	colOption   = 13
	colComment  = 14

	// NumColumns is the field count of a functional record.
	NumColumns = 15
)

// Sentinel is the marker character that prefixes section labels and
// non-authoritative rows.
const Sentinel = "#"

var controlTypeRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var (
	errNoAddress       = errors.New("row carries no address data")
	errAddressDisabled = errors.New("every address is commented out")
)

// Classifier turns table records into typed rows. It remembers the current
// section label, so one instance should see a table's records in order.
type Classifier struct {
	section string
}

// NewClassifier creates a classifier positioned before the first section.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify classifies one record. Diagnostics describe inferences made and, for
// malformed rows, the reason the row was rejected.
func (c *Classifier) Classify(line int, fields []string) (models.ClassifiedRow, []models.Diagnostic) {
	row := models.ClassifiedRow{Line: line, InSection: c.section}
	content := strings.Join(fields, ",")

	var diags []models.Diagnostic
	note := func(kind models.DiagnosticKind, format string, args ...any) {
		diags = append(diags, models.Diagnostic{
			Line:    line,
			Kind:    kind,
			Content: content,
			Reason:  fmt.Sprintf(format, args...),
		})
	}
	reject := func(format string, args ...any) (models.ClassifiedRow, []models.Diagnostic) {
		note(models.DiagMalformedRow, format, args...)
		row.Kind = models.RowMalformed
		return row, diags
	}

	if allBlank(fields) {
		row.Kind = models.RowEmpty
		return row, nil
	}

	name := field(fields, colName)
	function := field(fields, colFunction)

	if strings.HasPrefix(name, Sentinel) {
		label := strings.TrimSpace(strings.TrimPrefix(name, Sentinel))
		switch {
		case label != "" && function == "":
			c.section = label
			row.Kind = models.RowSection
			row.InSection = label
			row.Section = &models.SectionDivider{Label: label}
			return row, nil

		case label != "":
			note(models.DiagInference, "name %q is commented out; row kept as placeholder", name)
		}

		row.Kind = models.RowPlaceholder
		row.Placeholder = &models.Placeholder{RawName: name, FunctionHint: function}
		if len(fields) >= NumColumns && function != "" {
			fm, _, err := parseFunctional(fields, function)
			if err == nil {
				row.Placeholder.Mapping = fm
			} else {
				note(models.DiagPlaceholder, "placeholder address data unreadable: %v", err)
			}
		}
		note(models.DiagPlaceholder, "placeholder row excluded from lookup")
		return row, diags
	}

	if len(fields) < NumColumns {
		return reject("wrong field count: got %d, want %d", len(fields), NumColumns)
	}
	for i := NumColumns; i < len(fields); i++ {
		if strings.TrimSpace(fields[i]) != "" {
			return reject("wrong field count: got %d non-blank fields past column %d", len(fields)-NumColumns, NumColumns)
		}
	}

	if function == "" {
		if name == "" {
			return reject("row has neither name nor function")
		}
		function = name
		note(models.DiagInference, "function column blank; using name %q", name)
	}

	fm, inferences, err := parseFunctional(fields, function)
	if errors.Is(err, errAddressDisabled) {
		note(models.DiagInference, "%v; row disabled", err)
		row.Kind = models.RowDisabled
		return row, diags
	}
	if err != nil {
		return reject("%v", err)
	}
	for _, msg := range inferences {
		note(models.DiagInference, "%s", msg)
	}
	_, problems := ParseOptions(field(fields, colOption))
	for _, msg := range problems {
		note(models.DiagOption, "%s", msg)
	}

	row.Kind = models.RowFunctional
	row.Functional = fm
	return row, diags
}

// parseFunctional parses the type, address and option columns of a record
// already known to have NumColumns fields.
func parseFunctional(fields []string, function string) (*models.FunctionalMapping, []string, error) {
	var inferences []string

	ctype := field(fields, colType)
	if !controlTypeRegex.MatchString(ctype) {
		return nil, nil, fmt.Errorf("control type %q is malformed", ctype)
	}
	if !models.ControlType(ctype).Known() {
		inferences = append(inferences, fmt.Sprintf("control type %q not recognised; treated as a plain control", ctype))
	}

	fm := &models.FunctionalMapping{
		Name:        field(fields, colName),
		Function:    function,
		ControlType: models.ControlType(ctype),
		Comment:     field(fields, colComment),
	}
	fm.Options, _ = ParseOptions(field(fields, colOption))

	// set when any address column was disabled with a leading '#'
	commented := false

	input, note, err := parseAddressColumn(fields[colInput], "input")
	if err != nil {
		return nil, nil, err
	}
	commented = commented || len(note) > 0
	inferences = append(inferences, note...)
	fm.Input = input

	decks, note, err := parseDeckColumns(fields[colInDeck:colInDeck+models.MaxDecks], "input")
	if err != nil {
		return nil, nil, err
	}
	commented = commented || len(note) > 0
	inferences = append(inferences, note...)
	fm.InputDecks = decks

	output, note, err := parseAddressColumn(fields[colOutput], "output")
	if err != nil {
		return nil, nil, err
	}
	commented = commented || len(note) > 0
	inferences = append(inferences, note...)

	outDecks, note, err := parseDeckColumns(fields[colOutDeck:colOutDeck+models.MaxDecks], "output")
	if err != nil {
		return nil, nil, err
	}
	commented = commented || len(note) > 0
	inferences = append(inferences, note...)

	if _, err := detectShape(output, outDecks); err == nil {
		fm.Output = output
		fm.OutputDecks = outDecks
	} else if output != nil || hasSlots(outDecks) {
		inferences = append(inferences, fmt.Sprintf("output columns ignored: %v", err))
	}

	shape, err := detectShape(fm.Input, fm.InputDecks)
	if err != nil {
		if fm.Output == nil && !hasSlots(fm.OutputDecks) || input != nil || hasSlots(decks) {
			if errors.Is(err, errNoAddress) && commented {
				return nil, nil, errAddressDisabled
			}
			return nil, nil, err
		}
		shape = models.ShapeOutputOnly
	}
	fm.Shape = shape

	return fm, inferences, nil
}

// detectShape checks the admissible input layouts. It returns an error for a
// contradictory layout or one with no address at all.
func detectShape(base *models.Address, decks [models.MaxDecks]models.DeckSlot) (models.RowShape, error) {
	offsets, codes := 0, 0
	for _, d := range decks {
		switch d.Kind {
		case models.DeckSlotOffset:
			offsets++
		case models.DeckSlotAddress:
			codes++
		}
	}

	switch {
	case offsets > 0 && codes > 0:
		return "", fmt.Errorf("deck columns mix channel offsets and full addresses")
	case base != nil && codes > 0:
		return "", fmt.Errorf("deck columns hold full addresses next to an input base")
	case base != nil && offsets > 0:
		return models.ShapeBaseOffsets, nil
	case base != nil:
		return models.ShapeGlobal, nil
	case offsets > 0:
		return "", fmt.Errorf("deck offsets without an input base")
	case codes > 0:
		return models.ShapeDirect, nil
	default:
		return "", errNoAddress
	}
}

func parseAddressColumn(raw, column string) (*models.Address, []string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil, nil
	}
	if isCommentedOut(s) {
		return nil, []string{fmt.Sprintf("%s address %q commented out", column, s)}, nil
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", column, err)
	}
	return &addr, nil, nil
}

func parseDeckColumns(raw []string, column string) ([models.MaxDecks]models.DeckSlot, []string, error) {
	var decks [models.MaxDecks]models.DeckSlot
	var notes []string
	for i, f := range raw {
		if isCommentedOut(f) {
			notes = append(notes, fmt.Sprintf("%s deck %d value %q commented out", column, i+1, strings.TrimSpace(f)))
			continue
		}
		slot, err := ParseDeckSlot(f)
		if err != nil {
			return decks, nil, fmt.Errorf("%s deck %d: %w", column, i+1, err)
		}
		decks[i] = slot
	}
	return decks, notes, nil
}

func hasSlots(decks [models.MaxDecks]models.DeckSlot) bool {
	for _, d := range decks {
		if d.Kind != models.DeckSlotBlank {
			return true
		}
	}
	return false
}

func field(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func allBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
