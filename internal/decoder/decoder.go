// Package decoder turns raw 3-byte frames into decoded events, resolving each
// against the lookup index and pairing high-resolution MSB/LSB controls.
package decoder

import (
	"fmt"
	"time"

	"github.com/midi-sniffer/backend/internal/models"
)

// DefaultPairStaleWindow is how long one half of a hi-res pair waits for the other.
const DefaultPairStaleWindow = 300 * time.Millisecond

// Resolver is the read side of the lookup index.
type Resolver interface {
	Resolve(key models.MessageKey) (*models.ResolvedMapping, bool)
	IsHiRes(m *models.ResolvedMapping) bool
}

// Options configures a Decoder.
type Options struct {
	PairStaleWindow time.Duration
}

type component struct {
	value uint8
	at    time.Time
	set   bool
}

// pairState is the pending MSB/LSB state of one hi-res control, keyed by its MSB key.
type pairState struct {
	msb          component
	lsb          component
	lastCombined uint16
	combined     bool
}

// Decoder decodes frames for a single session. It is not safe for concurrent use.
type Decoder struct {
	index       Resolver
	staleWindow time.Duration
	pairs       map[models.MessageKey]*pairState
	stale       int64
}

// New creates a decoder over index.
func New(index Resolver, opts Options) *Decoder {
	if opts.PairStaleWindow <= 0 {
		opts.PairStaleWindow = DefaultPairStaleWindow
	}
	return &Decoder{
		index:       index,
		staleWindow: opts.PairStaleWindow,
		pairs:       make(map[models.MessageKey]*pairState),
	}
}

// Decode decodes one frame. Frames that are not channel-voice messages with
// 7-bit data bytes return models.ErrInvalidFrame.
func (d *Decoder) Decode(f models.Frame) (models.DecodedEvent, error) {
	status, data1, data2 := f.Bytes[0], f.Bytes[1], f.Bytes[2]
	class := models.MessageClass(status >> 4)
	if status < 0x80 || !class.Valid() || data1 > 0x7F || data2 > 0x7F {
		return models.DecodedEvent{}, fmt.Errorf("%w: %s", models.ErrInvalidFrame, f.Hex())
	}

	key := models.MessageKey{Class: class, Channel: status & 0x0F, Data1: data1}
	ev := models.DecodedEvent{
		Timestamp: f.Timestamp,
		Key:       key,
		Data2:     data2,
		Value:     uint16(data2),
	}

	m, ok := d.resolve(key)
	if ok {
		ev.Resolved = m
		if class == models.ClassControlChange && data1 < 64 && d.index.IsHiRes(m) {
			d.pair(&ev)
		}
	}
	ev.Action = action(class, data2, m)

	return ev, nil
}

// resolve looks the key up exactly, then tries the note-on key for note-off
// frames and the MSB key for CC 32-63 frames of hi-res controls.
func (d *Decoder) resolve(key models.MessageKey) (*models.ResolvedMapping, bool) {
	if m, ok := d.index.Resolve(key); ok {
		return m, true
	}

	switch {
	case key.Class == models.ClassNoteOff:
		on := key
		on.Class = models.ClassNoteOn
		return d.index.Resolve(on)

	case key.Class == models.ClassControlChange && key.Data1 >= 32 && key.Data1 < 64:
		msb := key
		msb.Data1 -= 32
		if m, ok := d.index.Resolve(msb); ok && d.index.IsHiRes(m) {
			return m, true
		}
	}
	return nil, false
}

// pair records a hi-res component. An MSB starts a new value and drops any
// pending LSB; an LSB completes the value when a fresh MSB is pending.
func (d *Decoder) pair(ev *models.DecodedEvent) {
	anchor := ev.Key
	role := models.RoleMSB
	if anchor.Data1 >= 32 {
		role = models.RoleLSB
		anchor.Data1 -= 32
	}

	st, ok := d.pairs[anchor]
	if !ok {
		st = &pairState{}
		d.pairs[anchor] = st
	}

	info := &models.HiResInfo{Role: role, Anchor: anchor}
	ev.HiRes = info
	comp := component{value: ev.Data2, at: ev.Timestamp, set: true}

	if role == models.RoleMSB {
		st.msb = comp
		st.lsb = component{}
		return
	}

	st.lsb = comp
	if !st.msb.set {
		return
	}
	if ev.Timestamp.Sub(st.msb.at) > d.staleWindow {
		st.msb = component{}
		d.stale++
		return
	}

	value := uint16(st.msb.value)<<7 | uint16(st.lsb.value)
	st.lastCombined = value
	st.combined = true
	ev.Value = value
	info.Complete = true
}

// LastCombined returns the last 14-bit value assembled for the control anchored at msb.
func (d *Decoder) LastCombined(msb models.MessageKey) (uint16, bool) {
	st, ok := d.pairs[msb]
	if !ok || !st.combined {
		return 0, false
	}
	return st.lastCombined, true
}

// StaleDiscards returns how many pending MSB halves expired before their LSB arrived.
func (d *Decoder) StaleDiscards() int64 {
	return d.stale
}

// Reset clears all pairing state.
func (d *Decoder) Reset() {
	d.pairs = make(map[models.MessageKey]*pairState)
}

func action(class models.MessageClass, data2 uint8, m *models.ResolvedMapping) models.Action {
	button := class.IsNote() || (class == models.ClassControlChange && m != nil && m.ControlType == models.ControlButton)
	if !button {
		return models.ActionNone
	}
	if class == models.ClassNoteOff || data2 == 0 {
		return models.ActionRelease
	}
	return models.ActionPress
}
