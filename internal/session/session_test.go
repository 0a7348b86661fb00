package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/midi-sniffer/backend/internal/capture"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/midi-sniffer/backend/internal/parser"
	"github.com/midi-sniffer/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIndex(t *testing.T) *parser.Index {
	t.Helper()
	table, err := parser.ParseTable(strings.NewReader(testutil.SampleTable), "sample.csv", nil)
	require.NoError(t, err)
	return table.Index
}

// noSweep keeps the wall-clock ticker out of the way so replays group by frame time only.
var noSweep = Options{SweepInterval: time.Hour}

// blockingSource yields its frames, then blocks until cancelled.
type blockingSource struct {
	mu     sync.Mutex
	frames []models.Frame
	closed bool
}

func (s *blockingSource) Next(ctx context.Context) (models.Frame, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return models.Frame{}, ctx.Err()
}

func (s *blockingSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *blockingSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type memRecorder struct {
	frames []models.Frame
	closed bool
}

func (r *memRecorder) Record(f models.Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

func (r *memRecorder) Close() error {
	r.closed = true
	return nil
}

func TestRunGroupsReplayByFrameTime(t *testing.T) {
	src := capture.NewSliceSource([]models.Frame{
		testutil.Frame(0, 0x90, 0x0B, 0x7F),
		testutil.Frame(10, 0x90, 0x0B, 0x7F),
		testutil.Frame(20, 0x90, 0x0B, 0x7F),
		testutil.Frame(600, 0x90, 0x0B, 0x7F),
	})
	sink := &testutil.CollectingSink{}

	s := New(sampleIndex(t), noSweep)
	require.NoError(t, s.Run(context.Background(), src, sink))
	assert.True(t, src.Closed())

	got := sink.Summaries()
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, models.FlushWindow, got[0].Reason)
	assert.Equal(t, "PlayPause", got[0].Function())
	assert.Equal(t, models.DeckIndex(0), got[0].Resolved.Deck)
	assert.Equal(t, models.ActionPress, got[0].Action)

	assert.Equal(t, 1, got[1].Count)
	assert.Equal(t, models.FlushForced, got[1].Reason)

	stats := s.Stats()
	assert.Equal(t, int64(4), stats.FramesRead)
	assert.Equal(t, int64(2), stats.Summaries)
}

func TestRunCombinesHiResPair(t *testing.T) {
	src := capture.NewSliceSource([]models.Frame{
		testutil.Frame(0, 0xB6, 0x00, 0x40),
		testutil.Frame(5, 0xB6, 0x20, 0x00),
	})
	sink := &testutil.CollectingSink{}

	require.NoError(t, New(sampleIndex(t), noSweep).Run(context.Background(), src, sink))

	got := sink.Summaries()
	require.Len(t, got, 1)
	assert.Equal(t, "TempoSlider", got[0].Function())
	assert.Equal(t, 2, got[0].Count)
	assert.Equal(t, uint16(8192), got[0].FinalValue)
	require.NotNil(t, got[0].HiRes)
	assert.True(t, got[0].HiRes.Complete)
}

func TestRunCountsInvalidUnresolvedAndSkipsOut(t *testing.T) {
	out := testutil.Frame(5, 0x96, 0x46, 0x7F)
	out.Direction = models.DirectionOut
	rec := &memRecorder{}

	src := capture.NewSliceSource([]models.Frame{
		testutil.Frame(0, 0x40, 0x01, 0x02),
		out,
		testutil.Frame(10, 0x95, 0x7E, 0x7F),
	})
	sink := &testutil.CollectingSink{}

	opts := noSweep
	opts.Recorder = rec
	s := New(sampleIndex(t), opts)
	require.NoError(t, s.Run(context.Background(), src, sink))

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.FramesRead)
	assert.Equal(t, int64(1), stats.FramesInvalid)
	assert.Equal(t, int64(1), stats.Unresolved)

	require.Equal(t, 1, sink.Len())
	assert.Equal(t, "", sink.Summaries()[0].Function())

	assert.Len(t, rec.frames, 2)
	assert.True(t, rec.closed)
}

func TestRunCancelFlushesEveryOpenWindowThenCloses(t *testing.T) {
	src := &blockingSource{frames: []models.Frame{
		testutil.Frame(0, 0x90, 0x0B, 0x7F),
		testutil.Frame(1, 0x91, 0x0B, 0x7F),
		testutil.Frame(2, 0x96, 0x46, 0x7F),
	}}
	sink := &testutil.CollectingSink{}
	s := New(sampleIndex(t), noSweep)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, src, sink) }()

	require.Eventually(t, func() bool { return s.Stats().FramesRead == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, sink.Len())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	got := sink.Summaries()
	require.Len(t, got, 3)
	for _, sum := range got {
		assert.Equal(t, models.FlushForced, sum.Reason)
	}
	assert.Equal(t, "PlayPause", got[0].Function())
	assert.Equal(t, models.DeckIndex(1), got[1].Resolved.Deck)
	assert.Equal(t, "Cue", got[2].Function())
	assert.True(t, src.Closed())
}

func TestRunCancelDoesNotWaitForBlockedTextLogRead(t *testing.T) {
	pr, pw := io.Pipe()
	go pw.Write([]byte("Controller: DDJ-TEST\n[23:02:07.000] | IN  | 90 0B 7F | PlayPause\n"))

	src, err := capture.NewTextLogStream(pr)
	require.NoError(t, err)
	sink := &testutil.CollectingSink{}
	s := New(sampleIndex(t), noSweep)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, src, sink) }()

	require.Eventually(t, func() bool { return s.Stats().FramesRead == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run blocked on an idle text log after cancel")
	}

	got := sink.Summaries()
	require.Len(t, got, 1)
	assert.Equal(t, models.FlushForced, got[0].Reason)
	assert.Equal(t, "PlayPause", got[0].Function())

	_, err = pw.Write([]byte("[23:02:08.000] | IN  | 90 0B 00 | PlayPause\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRunSweepsOnTicker(t *testing.T) {
	src := &blockingSource{frames: []models.Frame{
		models.NewFrame(time.Now(), 0x90, 0x0B, 0x7F),
	}}
	sink := &testutil.CollectingSink{}
	s := New(sampleIndex(t), Options{GroupWindow: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, src, sink) }()

	require.Eventually(t, func() bool { return sink.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.FlushWindow, sink.Summaries()[0].Reason)

	cancel()
	<-done
	assert.Equal(t, 1, sink.Len())
}

func TestRunDisableGrouping(t *testing.T) {
	src := capture.NewSliceSource([]models.Frame{
		testutil.Frame(0, 0x90, 0x0B, 0x7F),
		testutil.Frame(1, 0x90, 0x0B, 0x7F),
	})
	sink := &testutil.CollectingSink{}

	opts := noSweep
	opts.DisableGrouping = true
	require.NoError(t, New(sampleIndex(t), opts).Run(context.Background(), src, sink))
	assert.Equal(t, 2, sink.Len())
}

type errSource struct{}

func (errSource) Next(context.Context) (models.Frame, error) { return models.Frame{}, io.ErrUnexpectedEOF }
func (errSource) Close() error                               { return nil }

func TestRunReturnsSourceError(t *testing.T) {
	err := New(sampleIndex(t), noSweep).Run(context.Background(), errSource{}, &testutil.CollectingSink{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
