package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDeviceName(t *testing.T) {
	tests := map[string]string{
		"DDJ-GRV6":              "DDJ-GRV6",
		"PIONEER DDJ-GRV6 MIDI": "DDJ-GRV6",
		"Pioneer DJ XDJ-RX3":    "XDJ-RX3",
		"DDJ-FLX10.midi.csv":    "DDJ-FLX10",
		"DJM-A9 AUDIO":          "DJM-A9",
		"  ddj-400 ":            "DDJ-400",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDeviceName(in), in)
	}
}

func TestMatchDevice(t *testing.T) {
	load := func(name, device string) *Table {
		tb, err := ParseTable(strings.NewReader("@file,1,"+device+"\n"+header), name, nil)
		require.NoError(t, err)
		return tb
	}

	grv := load("DDJ-GRV6.midi.csv", "DDJ-GRV6")
	flx := load("DDJ-FLX10.midi.csv", "DDJ-FLX10")
	rx := load("custom.csv", "XDJ-RX3")
	tables := []*Table{grv, flx, rx}

	assert.Same(t, grv, MatchDevice("PIONEER DDJ-GRV6 MIDI", tables))
	assert.Same(t, flx, MatchDevice("DDJ-FLX10", tables))
	assert.Same(t, rx, MatchDevice("XDJ-RX3 2IN2OUT", tables))
	assert.Same(t, flx, MatchDevice("FLX10", tables))
	assert.Nil(t, MatchDevice("DDJ-400", tables))
	assert.Nil(t, MatchDevice("", tables))
}
