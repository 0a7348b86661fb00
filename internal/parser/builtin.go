package parser

import (
	"strings"

	"github.com/midi-sniffer/backend/internal/models"
)

// builtinControl is a hardware mixer control some tables leave out even though
// the device sends it.
type builtinControl struct {
	channel  uint8
	cc       uint8
	function string
	comment  string
}

var (
	xdjBuiltins = []builtinControl{
		{4, 24, "MasterLevel", "Master Level (built-in, XDJ)"},
		{4, 25, "BoothLevel", "Booth Level (built-in, XDJ)"},
	}
	djmBuiltins = []builtinControl{
		{0, 24, "MasterLevel", "Master Level (built-in, DJM)"},
		{0, 25, "BoothLevel", "Booth Level (built-in, DJM)"},
	}
	ddjBuiltins = []builtinControl{
		{6, 5, "MicLevel", "Mic Level (built-in)"},
		{6, 8, "MasterLevel", "Master Level (built-in)"},
		{6, 9, "BoothLevel", "Booth Level (built-in)"},
		{6, 12, "CueMasterMix", "Cue/Master Mix (built-in)"},
		{6, 13, "HeadphonesLevel", "Headphones Level (built-in)"},
	}
)

// builtinsFor picks the built-in set for a device family. DDJ controllers are the default.
func builtinsFor(device string) []builtinControl {
	name := strings.ToUpper(device)
	switch {
	case strings.Contains(name, "XDJ-RX"), strings.Contains(name, "XDJ-RR"), strings.Contains(name, "XDJ-XZ"):
		return xdjBuiltins
	case strings.Contains(name, "DJM-"), strings.Contains(name, "DJM "):
		return djmBuiltins
	default:
		return ddjBuiltins
	}
}

func (b builtinControl) key() models.MessageKey {
	return models.MessageKey{Class: models.ClassControlChange, Channel: b.channel, Data1: b.cc}
}

func (b builtinControl) mapping() *models.ResolvedMapping {
	return &models.ResolvedMapping{
		Function:    b.function,
		ControlType: models.ControlKnobSliderHiRes,
		Deck:        models.DeckNone,
		Comment:     b.comment,
		Priority:    models.DefaultPriority,
		Builtin:     true,
	}
}
