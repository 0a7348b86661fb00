package parser

import (
	"io"
	"os"
	"strings"

	"github.com/midi-sniffer/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// Profile holds per-table overrides loaded from YAML.
//
//	promote_placeholders: false
//	builtins: true
//	hires_types: [KnobSliderHiRes]
//	extra_mappings:
//	  - function: CrossFader
//	    type: KnobSliderHiRes
//	    input: B61F
type Profile struct {
	PromotePlaceholders bool                 `json:"promotePlaceholders" yaml:"promote_placeholders"`
	Builtins            *bool                `json:"builtins,omitempty" yaml:"builtins"`
	HiResTypes          []models.ControlType `json:"hiresTypes,omitempty" yaml:"hires_types"`
	ExtraMappings       []ExtraMapping       `json:"extraMappings,omitempty" yaml:"extra_mappings"`
}

// ExtraMapping is a hand-written row appended after the table's own rows.
type ExtraMapping struct {
	Function string   `json:"function" yaml:"function"`
	Type     string   `json:"type" yaml:"type"`
	Input    string   `json:"input,omitempty" yaml:"input"`
	Decks    []string `json:"decks,omitempty" yaml:"decks"`
	Options  string   `json:"options,omitempty" yaml:"options"`
	Comment  string   `json:"comment,omitempty" yaml:"comment"`
}

// DefaultProfile returns the profile used when no file is given.
func DefaultProfile() *Profile {
	return &Profile{}
}

// LoadProfile parses a YAML profile file.
func LoadProfile(filePath string) (*Profile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseProfile(file)
}

// ParseProfile parses a profile from an io.Reader.
func ParseProfile(r io.Reader) (*Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

// BuiltinsEnabled reports whether controller-family built-ins are added. Defaults to true.
func (p *Profile) BuiltinsEnabled() bool {
	if p == nil || p.Builtins == nil {
		return true
	}
	return *p.Builtins
}

// PairedTypes returns the control types whose CC rows declare MSB/LSB pairing.
func (p *Profile) PairedTypes() map[models.ControlType]bool {
	types := []models.ControlType{models.ControlKnobSliderHiRes}
	if p != nil && len(p.HiResTypes) > 0 {
		types = p.HiResTypes
	}

	set := make(map[models.ControlType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// record renders the mapping as a table record so it goes through the classifier.
func (m ExtraMapping) record() []string {
	fields := make([]string, NumColumns)
	fields[colName] = m.Function
	fields[colFunction] = m.Function
	fields[colType] = m.Type
	fields[colInput] = m.Input
	for i, d := range m.Decks {
		if i >= models.MaxDecks {
			break
		}
		fields[colInDeck+i] = d
	}
	fields[colOption] = m.Options
	fields[colComment] = strings.TrimSpace(m.Comment)
	return fields
}
