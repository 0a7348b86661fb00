// Package session runs the decode and grouping loop over a frame source and
// tracks monitoring sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/decoder"
	"github.com/midi-sniffer/backend/internal/grouping"
	"github.com/midi-sniffer/backend/internal/logging"
	"github.com/midi-sniffer/backend/internal/metrics"
	"github.com/midi-sniffer/backend/internal/models"
)

// DefaultSweepInterval is how often open group windows are checked for expiry.
const DefaultSweepInterval = 25 * time.Millisecond

// Options configures a Session. Zero values select defaults.
type Options struct {
	GroupWindow     time.Duration
	PairStaleWindow time.Duration
	SweepInterval   time.Duration
	// DisableGrouping emits every event on its own.
	DisableGrouping bool
	// Recorder, when set, receives every inbound frame and is closed when Run returns.
	Recorder capture.Recorder
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Stats are the running counters of a session.
type Stats struct {
	FramesRead    int64 `json:"framesRead"`
	FramesInvalid int64 `json:"framesInvalid"`
	Unresolved    int64 `json:"unresolved"`
	Summaries     int64 `json:"summaries"`
	StalePairs    int64 `json:"stalePairs"`
}

// Session owns the decoder and grouping engine for one frame stream.
// Run may be called once.
type Session struct {
	decoder       *decoder.Decoder
	engine        *grouping.Engine
	sweepInterval time.Duration
	recorder      capture.Recorder
	log           *slog.Logger
	metrics       *metrics.Metrics

	framesRead    atomic.Int64
	framesInvalid atomic.Int64
	unresolved    atomic.Int64
	summaries     atomic.Int64
	stalePairs    atomic.Int64

	lastFrameTS   time.Time
	lastFrameWall time.Time
}

// New creates a session resolving against index.
func New(index decoder.Resolver, opts Options) *Session {
	window := opts.GroupWindow
	if window <= 0 {
		window = grouping.DefaultWindow
	}
	if opts.DisableGrouping {
		window = 0
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Session{
		decoder:       decoder.New(index, decoder.Options{PairStaleWindow: opts.PairStaleWindow}),
		engine:        grouping.New(window),
		sweepInterval: interval,
		recorder:      opts.Recorder,
		log:           logging.Component(opts.Logger, "session"),
		metrics:       opts.Metrics,
	}
}

// Stats returns a snapshot of the session counters. Safe for concurrent use.
func (s *Session) Stats() Stats {
	return Stats{
		FramesRead:    s.framesRead.Load(),
		FramesInvalid: s.framesInvalid.Load(),
		Unresolved:    s.unresolved.Load(),
		Summaries:     s.summaries.Load(),
		StalePairs:    s.stalePairs.Load(),
	}
}

// Run reads frames from src until it is exhausted or ctx is cancelled, and
// emits grouped summaries to sink. On either end it stops reading, flushes
// every open window, then closes src. Exhaustion returns nil; cancellation
// returns ctx.Err(). Cancellation does not wait for a read in progress: the
// pump is abandoned and exits once src.Next returns, which closing src
// forces for sources that ignore ctx.
func (s *Session) Run(ctx context.Context, src capture.Source, sink Sink) error {
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()

	frames := make(chan models.Frame)
	pumpDone := make(chan error, 1)
	go pump(pumpCtx, src, frames, pumpDone)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopPump()
			return s.finish(src, sink, ctx.Err())

		case f, ok := <-frames:
			if !ok {
				err := <-pumpDone
				if errors.Is(err, io.EOF) {
					err = nil
				} else if ctx.Err() != nil {
					err = ctx.Err()
				}
				return s.finish(src, sink, err)
			}
			s.handle(f, sink)

		case <-ticker.C:
			if s.lastFrameTS.IsZero() {
				continue
			}
			now := s.lastFrameTS.Add(time.Since(s.lastFrameWall))
			s.emit(sink, s.engine.Sweep(now))
		}
	}
}

func pump(ctx context.Context, src capture.Source, frames chan<- models.Frame, done chan<- error) {
	defer close(frames)
	for {
		f, err := src.Next(ctx)
		if err != nil {
			done <- err
			return
		}
		select {
		case frames <- f:
		case <-ctx.Done():
			done <- ctx.Err()
			return
		}
	}
}

func (s *Session) handle(f models.Frame, sink Sink) {
	if f.Direction == models.DirectionOut {
		return
	}

	s.framesRead.Add(1)
	s.metrics.FrameRead()
	s.lastFrameTS = f.Timestamp
	s.lastFrameWall = time.Now()

	if s.recorder != nil {
		if err := s.recorder.Record(f); err != nil {
			s.log.Warn("record frame failed", "frame", f.Hex(), "error", err)
		}
	}

	s.emit(sink, s.engine.Sweep(f.Timestamp))

	ev, err := s.decoder.Decode(f)
	if err != nil {
		s.framesInvalid.Add(1)
		s.metrics.FrameInvalid()
		s.log.Debug("skipping frame", "error", err)
		return
	}
	if ev.Resolved == nil {
		s.unresolved.Add(1)
	}
	s.metrics.EventDecoded(ev)

	if stale := s.decoder.StaleDiscards(); stale != s.stalePairs.Load() {
		s.metrics.PairsStale(stale - s.stalePairs.Load())
		s.stalePairs.Store(stale)
	}

	s.emit(sink, s.engine.Observe(ev))
}

func (s *Session) emit(sink Sink, out []models.Summary) {
	for _, sum := range out {
		s.summaries.Add(1)
		s.metrics.SummaryEmitted(sum)
		sink.Emit(sum)
	}
}

// finish flushes open windows and releases the source and recorder.
func (s *Session) finish(src capture.Source, sink Sink, runErr error) error {
	flushed := s.engine.Flush()
	s.emit(sink, flushed)

	closeErr := src.Close()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("close recorder: %w", err)
		}
	}

	s.log.Info("session finished",
		"frames", s.framesRead.Load(),
		"invalid", s.framesInvalid.Load(),
		"summaries", s.summaries.Load(),
		"flushed", len(flushed),
	)

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close source: %w", closeErr)
	}
	return nil
}
