// Package capture provides frame sources for monitoring sessions: live
// channels, replayed text logs and binary recordings.
package capture

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/midi-sniffer/backend/internal/models"
)

// ErrUnknownFormat is returned when no registered format can read a capture file.
var ErrUnknownFormat = errors.New("unknown capture format")

// Source delivers timestamped frames. Next blocks until a frame is available,
// the source is exhausted (io.EOF) or ctx is done (ctx.Err()).
type Source interface {
	Next(ctx context.Context) (models.Frame, error)
	Close() error
}

// DeviceNamer is implemented by sources that know which device produced them.
type DeviceNamer interface {
	Device() string
}

// Recorder receives every inbound frame a session reads, e.g. to write a replayable log.
type Recorder interface {
	Record(f models.Frame) error
	Close() error
}

// ChanSource reads frames from a channel fed by a live port or test code.
// It reports io.EOF once the channel is closed or Close is called.
type ChanSource struct {
	frames    <-chan models.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewChanSource wraps frames.
func NewChanSource(frames <-chan models.Frame) *ChanSource {
	return &ChanSource{frames: frames, done: make(chan struct{})}
}

func (s *ChanSource) Next(ctx context.Context) (models.Frame, error) {
	select {
	case <-ctx.Done():
		return models.Frame{}, ctx.Err()
	case <-s.done:
		return models.Frame{}, io.EOF
	case f, ok := <-s.frames:
		if !ok {
			return models.Frame{}, io.EOF
		}
		return f, nil
	}
}

// Close unblocks pending and future Next calls.
func (s *ChanSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// SliceSource replays a fixed list of frames.
type SliceSource struct {
	mu     sync.Mutex
	frames []models.Frame
	pos    int
	closed bool
}

// NewSliceSource creates a source over frames.
func NewSliceSource(frames []models.Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.frames) {
		return models.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *SliceSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ReadAll drains src until io.EOF.
func ReadAll(ctx context.Context, src Source) ([]models.Frame, error) {
	var out []models.Frame
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}
