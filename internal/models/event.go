package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrame is returned for frames that are not 3-byte channel-voice messages.
var ErrInvalidFrame = errors.New("invalid frame")

// Direction of a frame relative to the sniffer.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Frame is one raw 3-byte message with its arrival time.
type Frame struct {
	Timestamp time.Time `json:"timestamp"`
	Bytes     [3]byte   `json:"bytes"`
	Direction Direction `json:"direction,omitempty"`
}

// NewFrame builds an inbound frame.
func NewFrame(ts time.Time, status, data1, data2 byte) Frame {
	return Frame{Timestamp: ts, Bytes: [3]byte{status, data1, data2}, Direction: DirectionIn}
}

// Hex renders the frame as "B6 08 33".
func (f Frame) Hex() string {
	return fmt.Sprintf("%02X %02X %02X", f.Bytes[0], f.Bytes[1], f.Bytes[2])
}

// Action is the press/release classification derived for button-like controls.
type Action string

const (
	ActionNone    Action = ""
	ActionPress   Action = "press"
	ActionRelease Action = "release"
)

// HiResRole says which half of a 14-bit pair a frame carries.
type HiResRole string

const (
	RoleMSB HiResRole = "msb"
	RoleLSB HiResRole = "lsb"
)

// HiResInfo is attached to events that belong to a paired high-resolution control.
type HiResInfo struct {
	Role     HiResRole  `json:"role" msgpack:"role"`
	Anchor   MessageKey `json:"anchor" msgpack:"anchor"`
	Complete bool       `json:"complete" msgpack:"complete"`
}

// DecodedEvent is one decoded frame.
type DecodedEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	Key       MessageKey       `json:"key"`
	Data2     uint8            `json:"data2"`
	Value     uint16           `json:"value"` // data2, or msb*128+lsb for complete pairs
	Resolved  *ResolvedMapping `json:"resolved,omitempty"`
	Action    Action           `json:"action,omitempty"`
	HiRes     *HiResInfo       `json:"hiRes,omitempty"`
}

// GroupKey is the key the grouping engine windows this event under.
// Both halves of a hi-res pair share the MSB key.
func (e DecodedEvent) GroupKey() MessageKey {
	if e.HiRes != nil {
		return e.HiRes.Anchor
	}
	return e.Key
}

// FlushReason says why a group window was closed.
type FlushReason string

const (
	FlushWindow    FlushReason = "window"
	FlushForced    FlushReason = "forced"
	FlushPreempted FlushReason = "preempted"
)

// Summary is the grouped output for one window of same-key events.
//
// FinalValue is the last complete 14-bit value when a hi-res pair completed in
// the window, even if a lone MSB arrived after it; HiRes then describes that
// completed pair. FinalData2 is always the data byte of the newest event.
type Summary struct {
	Key         MessageKey       `json:"key" msgpack:"key"`
	Count       int              `json:"count" msgpack:"count"`
	FinalValue  uint16           `json:"finalValue" msgpack:"final_value"`
	FinalData2  uint8            `json:"finalData2" msgpack:"final_data2"`
	Resolved    *ResolvedMapping `json:"resolved,omitempty" msgpack:"resolved,omitempty"`
	Action      Action           `json:"action,omitempty" msgpack:"action,omitempty"`
	HiRes       *HiResInfo       `json:"hiRes,omitempty" msgpack:"hi_res,omitempty"`
	WindowStart time.Time        `json:"windowStart" msgpack:"window_start"`
	LastAt      time.Time        `json:"lastAt" msgpack:"last_at"`
	Reason      FlushReason      `json:"reason" msgpack:"reason"`
}

// Function returns the resolved function name or "" for unknown traffic.
func (s Summary) Function() string {
	if s.Resolved == nil {
		return ""
	}
	return s.Resolved.Function
}
