package models

// RowKind tags a classified table row.
type RowKind string

const (
	RowFunctional  RowKind = "functional"
	RowSection     RowKind = "section"
	RowEmpty       RowKind = "empty"
	RowPlaceholder RowKind = "placeholder"
	RowMalformed   RowKind = "malformed"
	// RowDisabled is a record whose every address is commented out.
	RowDisabled RowKind = "disabled"
)

// RowShape is the address layout detected on a functional row.
type RowShape string

const (
	ShapeBaseOffsets RowShape = "base_offsets"
	ShapeDirect      RowShape = "direct"
	ShapeGlobal      RowShape = "global"
	ShapeOutputOnly  RowShape = "output_only"
)

// FunctionalMapping is a row that binds addresses to a function.
type FunctionalMapping struct {
	Name        string
	Function    string
	ControlType ControlType
	Input       *Address
	InputDecks  [MaxDecks]DeckSlot
	Output      *Address
	OutputDecks [MaxDecks]DeckSlot
	Options     FlagSet
	Comment     string
	Shape       RowShape
}

// SectionDivider is a "# Label" row grouping the rows that follow.
type SectionDivider struct {
	Label string
}

// Placeholder is a sentinel-named row. It carries address data for auditing only.
type Placeholder struct {
	RawName      string
	FunctionHint string
	// Mapping holds the row parsed as if it were functional; nil when its fields did not parse.
	Mapping *FunctionalMapping
}

// ClassifiedRow is one table record after classification. Exactly one of the
// variant pointers is set, matching Kind; empty and malformed rows carry none.
type ClassifiedRow struct {
	Line        int
	Kind        RowKind
	Functional  *FunctionalMapping
	Section     *SectionDivider
	Placeholder *Placeholder
	// Section label in effect when the row was read.
	InSection string
}

// DiagnosticKind classifies a recoverable table-load finding.
type DiagnosticKind string

const (
	DiagMalformedRow DiagnosticKind = "malformed_row"
	DiagConflict     DiagnosticKind = "conflict"
	DiagInference    DiagnosticKind = "inference"
	DiagPlaceholder  DiagnosticKind = "placeholder"
	DiagHeader       DiagnosticKind = "header"
	DiagOption       DiagnosticKind = "option"
)

// Diagnostic is a recoverable finding recorded while loading a table.
type Diagnostic struct {
	Line    int            `json:"line"`
	Kind    DiagnosticKind `json:"kind"`
	Content string         `json:"content,omitempty"`
	Reason  string         `json:"reason"`
}

// Conflict records two rows claiming the same key for different controls.
type Conflict struct {
	Key        MessageKey       `json:"key"`
	Winner     *ResolvedMapping `json:"winner"`
	Superseded *ResolvedMapping `json:"superseded"`
	Reason     string           `json:"reason"`
}

// FileIdentity is the table's first record: "@file,<version>,<device>".
type FileIdentity struct {
	Marker  string `json:"marker"`
	Version string `json:"version"`
	Device  string `json:"device"`
}

// TableInfo summarises a loaded mapping table.
type TableInfo struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Identity    FileIdentity    `json:"identity"`
	Headers     []string        `json:"headers"`
	RowCounts   map[RowKind]int `json:"rowCounts"`
	KeyCount    int             `json:"keyCount"`
	Diagnostics []Diagnostic    `json:"diagnostics"`
	Conflicts   []Conflict      `json:"conflicts"`
}
