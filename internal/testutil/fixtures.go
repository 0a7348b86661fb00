package testutil

import (
	"sync"
	"time"

	"github.com/midi-sniffer/backend/internal/models"
)

// SampleTable is a small mapping table covering every row shape.
//
//	line 4   PlayPause  base+offsets on note_on ch0 0x0B
//	line 5   Cue        direct per-deck addresses
//	line 6-9 Load       four global rows aggregated into decks 0-3
//	line 11  TempoSlider hi-res CC0 on ch6
//	line 13  Short      13 fields, malformed
//	line 14  bare placeholder
//	line 15  commented-out row
//	line 16  VuMeter    output only
const SampleTable = `@file,1,DDJ-TEST
#name,function,type,input,deck1,deck2,deck3,deck4,output,deck1,deck2,deck3,deck4,option,comment
# Deck
PlayPause,PlayPause,Button,900B,0,1,2,3,900B,0,1,2,3,Fast;Priority=50;Dual,Play/Pause
Cue,Cue,Button,,9646,9647,9648,9649,,,,,,,Cue
Load,,Button,9714,,,,,,,,,,,Load deck
Load,,Button,9914,,,,,,,,,,,Load deck
Load,,Button,9B14,,,,,,,,,,,Load deck
Load,,Button,9D14,,,,,,,,,,,Load deck
# Mixer
Tempo,TempoSlider,KnobSliderHiRes,B600,,,,,,,,,,,Tempo
Filter,Filter,KnobSliderHiRes,B617,,,,,,,,,,,Filter
Short,Short,Button,9001,0,1,2,3,,,,,
#,Unused,Button,9020,,,,,,,,,,,spare
#Sync,Sync,Button,9058,0,1,2,3,,,,,,,disabled
VuMeter,VuMeter,Indicator,,,,,,B002,0,1,2,3,RO,level
`

// SampleTableKeys is the number of keys SampleTable resolves, built-ins included.
const SampleTableKeys = 19

// SampleLog is a text capture from DDJ-TEST: two PlayPause presses 10ms apart
// and a Cue press half a second later.
const SampleLog = `MIDI Sniffer Log
Started: 2025-03-14 23:02:07
Controller: DDJ-TEST
================================================================================

[23:02:07.000] | IN  | 90 0B 7F     | PlayPause
[23:02:07.010] | IN  | 90 0B 7F     | PlayPause
[23:02:07.200] | OUT | 90 0B 7F     | LED
[23:02:07.500] | IN  | 96 46 7F     | Cue
`

// Epoch is a fixed base time for frame fixtures.
var Epoch = time.Date(2025, 3, 14, 23, 2, 7, 0, time.UTC)

// At returns Epoch plus ms milliseconds.
func At(ms int) time.Time {
	return Epoch.Add(time.Duration(ms) * time.Millisecond)
}

// Frame builds an inbound frame at Epoch+ms.
func Frame(ms int, status, data1, data2 byte) models.Frame {
	return models.NewFrame(At(ms), status, data1, data2)
}

// CollectingSink records every summary it receives.
type CollectingSink struct {
	mu        sync.Mutex
	summaries []models.Summary
}

// Emit implements session.Sink.
func (s *CollectingSink) Emit(sum models.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
}

// Summaries returns a copy of the recorded summaries.
func (s *CollectingSink) Summaries() []models.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Summary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

// Len returns the number of recorded summaries.
func (s *CollectingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.summaries)
}
