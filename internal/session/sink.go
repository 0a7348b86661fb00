package session

import (
	"sync"

	"github.com/midi-sniffer/backend/internal/models"
)

// Sink receives grouped summaries from a running session. Emit is called from
// the session loop only and must not block for long.
type Sink interface {
	Emit(models.Summary)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(models.Summary)

func (f SinkFunc) Emit(s models.Summary) { f(s) }

// MultiSink fans each summary out to every sink in order. Nil entries are skipped.
type MultiSink []Sink

func (m MultiSink) Emit(s models.Summary) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(s)
		}
	}
}

// DefaultRecentSize is the default capacity of a Recent ring.
const DefaultRecentSize = 1000

// Recent keeps the most recent summaries in a fixed-size ring and notifies
// subscribers of each new one.
type Recent struct {
	mu       sync.RWMutex
	items    []models.Summary
	head     int
	size     int
	subs     map[int]chan models.Summary
	nextSub  int
	finished bool
}

// NewRecent creates a ring holding up to capacity summaries.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultRecentSize
	}
	return &Recent{
		items: make([]models.Summary, capacity),
		subs:  make(map[int]chan models.Summary),
	}
}

// Emit stores s, overwriting the oldest entry when full. Slow subscribers miss summaries.
func (r *Recent) Emit(s models.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = s
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}

	for _, ch := range r.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Snapshot returns up to limit of the newest summaries, oldest first. An empty
// function matches all; limit <= 0 returns everything held.
func (r *Recent) Snapshot(function string, limit int) []models.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Summary, 0, r.size)
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := 0; i < r.size; i++ {
		s := r.items[(start+i)%len(r.items)]
		if function != "" && s.Function() != function {
			continue
		}
		out = append(out, s)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of summaries held.
func (r *Recent) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Subscribe returns a channel receiving new summaries and a cancel func. The
// channel is closed on cancel or when the ring is finished.
func (r *Recent) Subscribe(buffer int) (<-chan models.Summary, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan models.Summary, buffer)
	if r.finished {
		close(ch)
		return ch, func() {}
	}

	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
			}
		})
	}
}

// Finish closes every subscriber channel. Later subscribers get a closed channel.
func (r *Recent) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = true
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}
