// Package grouping collapses bursts of same-control events into windowed summaries.
package grouping

import (
	"time"

	"github.com/midi-sniffer/backend/internal/models"
)

// DefaultWindow is the default group window.
const DefaultWindow = 250 * time.Millisecond

type group struct {
	windowStart time.Time
	deadline    time.Time
	count       int
	last        models.DecodedEvent
	// last event of a hi-res pair that carried a complete 14-bit value
	lastComplete *models.DecodedEvent
}

// Engine keeps one open window per group key. Windows open on the first event
// for a key and close a fixed window later, on phase change, or on Flush.
// An Engine is owned by one session loop and is not safe for concurrent use.
type Engine struct {
	window time.Duration
	groups map[models.MessageKey]*group
	order  []models.MessageKey
}

// New creates an engine. A window of 0 disables grouping: every event is
// summarised on its own as soon as it is observed.
func New(window time.Duration) *Engine {
	if window < 0 {
		window = 0
	}
	return &Engine{
		window: window,
		groups: make(map[models.MessageKey]*group),
	}
}

// Window returns the configured group window.
func (e *Engine) Window() time.Duration {
	return e.window
}

// Observe adds an event. It returns the summaries the event closed: a window
// that had already expired, one pre-empted by a press/release change, or the
// event itself when grouping is disabled.
func (e *Engine) Observe(ev models.DecodedEvent) []models.Summary {
	key := ev.GroupKey()
	var out []models.Summary

	if g, ok := e.groups[key]; ok {
		switch {
		case !ev.Timestamp.Before(g.deadline):
			out = append(out, e.close(key, models.FlushWindow))
		case ev.Action != g.last.Action:
			out = append(out, e.close(key, models.FlushPreempted))
		default:
			g.count++
			g.record(ev)
			return nil
		}
	}

	g := &group{
		windowStart: ev.Timestamp,
		deadline:    ev.Timestamp.Add(e.window),
		count:       1,
	}
	g.record(ev)

	if e.window == 0 {
		return append(out, g.summary(key, models.FlushWindow))
	}

	e.groups[key] = g
	e.order = append(e.order, key)
	return out
}

// Sweep closes every window whose deadline is at or before now, in the order
// the windows were opened.
func (e *Engine) Sweep(now time.Time) []models.Summary {
	var out []models.Summary
	for _, key := range e.order {
		if g := e.groups[key]; !now.Before(g.deadline) {
			out = append(out, g.summary(key, models.FlushWindow))
			delete(e.groups, key)
		}
	}
	if len(out) > 0 {
		e.compact()
	}
	return out
}

// Flush closes all open windows in the order they were opened and leaves the engine idle.
func (e *Engine) Flush() []models.Summary {
	out := make([]models.Summary, 0, len(e.order))
	for _, key := range e.order {
		out = append(out, e.groups[key].summary(key, models.FlushForced))
	}
	e.groups = make(map[models.MessageKey]*group)
	e.order = e.order[:0]
	return out
}

// Open returns the number of open windows.
func (e *Engine) Open() int {
	return len(e.groups)
}

// NextDeadline returns the earliest deadline among open windows.
func (e *Engine) NextDeadline() (time.Time, bool) {
	var next time.Time
	for _, g := range e.groups {
		if next.IsZero() || g.deadline.Before(next) {
			next = g.deadline
		}
	}
	return next, !next.IsZero()
}

func (e *Engine) close(key models.MessageKey, reason models.FlushReason) models.Summary {
	s := e.groups[key].summary(key, reason)
	delete(e.groups, key)
	e.compact()
	return s
}

// compact drops closed keys from the insertion order.
func (e *Engine) compact() {
	kept := e.order[:0]
	for _, key := range e.order {
		if _, ok := e.groups[key]; ok {
			kept = append(kept, key)
		}
	}
	e.order = kept
}

func (g *group) record(ev models.DecodedEvent) {
	g.last = ev
	if ev.HiRes != nil && ev.HiRes.Complete {
		c := ev
		g.lastComplete = &c
	}
}

func (g *group) summary(key models.MessageKey, reason models.FlushReason) models.Summary {
	final := g.last
	if g.lastComplete != nil {
		final = *g.lastComplete
	}

	resolved := final.Resolved
	if resolved == nil {
		resolved = g.last.Resolved
	}

	return models.Summary{
		Key:         key,
		Count:       g.count,
		FinalValue:  final.Value,
		FinalData2:  g.last.Data2,
		Resolved:    resolved,
		Action:      g.last.Action,
		HiRes:       final.HiRes,
		WindowStart: g.windowStart,
		LastAt:      g.last.Timestamp,
		Reason:      reason,
	}
}
