// Package models contains domain types for the control-surface MIDI sniffer.
package models

import (
	"fmt"
	"strings"
)

// MessageClass is the top nibble of a channel-voice status byte.
type MessageClass uint8

const (
	ClassNoteOff         MessageClass = 0x8
	ClassNoteOn          MessageClass = 0x9
	ClassPolyPressure    MessageClass = 0xA
	ClassControlChange   MessageClass = 0xB
	ClassProgramChange   MessageClass = 0xC
	ClassChannelPressure MessageClass = 0xD
	ClassPitchBend       MessageClass = 0xE
)

// Valid reports whether c is a channel-voice class.
func (c MessageClass) Valid() bool {
	return c >= ClassNoteOff && c <= ClassPitchBend
}

// IsNote reports whether c is note-on or note-off.
func (c MessageClass) IsNote() bool {
	return c == ClassNoteOn || c == ClassNoteOff
}

func (c MessageClass) String() string {
	switch c {
	case ClassNoteOff:
		return "note_off"
	case ClassNoteOn:
		return "note_on"
	case ClassPolyPressure:
		return "poly_pressure"
	case ClassControlChange:
		return "control_change"
	case ClassProgramChange:
		return "program_change"
	case ClassChannelPressure:
		return "channel_pressure"
	case ClassPitchBend:
		return "pitch_bend"
	default:
		return fmt.Sprintf("class_%X", uint8(c))
	}
}

// MessageKey identifies a control address: class, channel and primary data byte.
// It is comparable and used directly as a map key.
type MessageKey struct {
	Class   MessageClass `json:"class" msgpack:"class"`
	Channel uint8        `json:"channel" msgpack:"channel"`
	Data1   uint8        `json:"data1" msgpack:"data1"`
}

// Status returns the status byte this key was derived from.
func (k MessageKey) Status() byte {
	return byte(k.Class)<<4 | k.Channel&0x0F
}

// Hex renders the key in the table's 4-hex address notation, e.g. "900B".
func (k MessageKey) Hex() string {
	return fmt.Sprintf("%02X%02X", k.Status(), k.Data1)
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Class, k.Channel, k.Data1)
}

// Address is a parsed 4-hex address field from a mapping table.
type Address struct {
	Class   MessageClass
	Channel uint8
	Data1   uint8
}

// Key converts the address to a lookup key.
func (a Address) Key() MessageKey {
	return MessageKey{Class: a.Class, Channel: a.Channel, Data1: a.Data1}
}

// WithChannel returns a copy of a on another channel.
func (a Address) WithChannel(ch uint8) Address {
	a.Channel = ch & 0x0F
	return a
}

// DeckSlotKind says what a deck column holds.
type DeckSlotKind uint8

const (
	DeckSlotBlank DeckSlotKind = iota
	DeckSlotOffset
	DeckSlotAddress
)

// DeckSlot is one of the four per-deck columns: blank, a channel offset, or a full address.
type DeckSlot struct {
	Kind    DeckSlotKind
	Offset  uint8
	Address Address
}

// DeckIndex is the logical deck (0-3) a key maps to, or DeckNone.
type DeckIndex int8

// DeckNone marks a global control with no deck assignment.
const DeckNone DeckIndex = -1

// MaxDecks is the number of deck columns in the table dialect.
const MaxDecks = 4

// Valid reports whether d names a concrete deck.
func (d DeckIndex) Valid() bool {
	return d >= 0 && d < MaxDecks
}

func (d DeckIndex) String() string {
	if !d.Valid() {
		return "none"
	}
	return fmt.Sprintf("deck%d", int(d)+1)
}

// ControlType is the table's declared control kind ("Button", "KnobSliderHiRes", ...).
type ControlType string

const (
	ControlButton          ControlType = "Button"
	ControlRotary          ControlType = "Rotary"
	ControlKnobSlider      ControlType = "KnobSlider"
	ControlKnobSliderHiRes ControlType = "KnobSliderHiRes"
	ControlJog             ControlType = "Jog"
	ControlIndicator       ControlType = "Indicator"
)

// Known reports whether t is one of the control types seen in shipped tables.
func (t ControlType) Known() bool {
	switch t {
	case ControlButton, ControlRotary, ControlKnobSlider, ControlKnobSliderHiRes, ControlJog, ControlIndicator:
		return true
	}
	return false
}

// Flag is one option from the table's option column: a bare name or Name=Integer.
type Flag struct {
	Name     string `json:"name" msgpack:"name"`
	Value    int    `json:"value,omitempty" msgpack:"value,omitempty"`
	HasValue bool   `json:"hasValue,omitempty" msgpack:"has_value,omitempty"`
}

func (f Flag) String() string {
	if f.HasValue {
		return fmt.Sprintf("%s=%d", f.Name, f.Value)
	}
	return f.Name
}

// FlagSet is the ordered set of options on a row. Names are unique.
type FlagSet []Flag

// DefaultPriority applies to rows without a Priority option.
const DefaultPriority = 50

// Get returns the flag named name.
func (fs FlagSet) Get(name string) (Flag, bool) {
	for _, f := range fs {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Flag{}, false
}

// Has reports whether the set contains name.
func (fs FlagSet) Has(name string) bool {
	_, ok := fs.Get(name)
	return ok
}

// Priority returns the row's Priority=N value or DefaultPriority.
func (fs FlagSet) Priority() int {
	if f, ok := fs.Get("Priority"); ok && f.HasValue {
		return f.Value
	}
	return DefaultPriority
}

// ReadOnly reports the RO (status/feedback) flag.
func (fs FlagSet) ReadOnly() bool {
	return fs.Has("RO")
}

func (fs FlagSet) String() string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return strings.Join(parts, ";")
}

// ResolvedMapping is the control a key resolves to.
type ResolvedMapping struct {
	Function    string      `json:"function" msgpack:"function"`
	ControlType ControlType `json:"type" msgpack:"type"`
	Deck        DeckIndex   `json:"deck" msgpack:"deck"`
	Flags       FlagSet     `json:"flags,omitempty" msgpack:"flags,omitempty"`
	SourceRows  []int       `json:"sourceRows,omitempty" msgpack:"source_rows,omitempty"`
	Comment     string      `json:"comment,omitempty" msgpack:"comment,omitempty"`
	Priority    int         `json:"priority" msgpack:"priority"`
	ReadOnly    bool        `json:"readOnly,omitempty" msgpack:"read_only,omitempty"`
	Builtin     bool        `json:"builtin,omitempty" msgpack:"builtin,omitempty"`
	Placeholder bool        `json:"placeholder,omitempty" msgpack:"placeholder,omitempty"`
}

// SameControl reports whether two mappings describe the same logical control on the same deck.
func (m *ResolvedMapping) SameControl(o *ResolvedMapping) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.Function == o.Function && m.Deck == o.Deck
}

// MergeRows appends row ids not yet present.
func (m *ResolvedMapping) MergeRows(rows ...int) {
	for _, r := range rows {
		found := false
		for _, have := range m.SourceRows {
			if have == r {
				found = true
				break
			}
		}
		if !found {
			m.SourceRows = append(m.SourceRows, r)
		}
	}
}
