package capture

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/midi-sniffer/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var started = time.Date(2025, 3, 14, 23, 2, 7, 0, time.Local)

func localFrames() []models.Frame {
	return []models.Frame{
		models.NewFrame(started.Add(155*time.Millisecond), 0xB6, 0x08, 0x33),
		models.NewFrame(started.Add(160*time.Millisecond), 0xB6, 0x28, 0x01),
		models.NewFrame(started.Add(1200*time.Millisecond), 0x90, 0x0B, 0x7F),
	}
}

func TestChanSource(t *testing.T) {
	ch := make(chan models.Frame, 2)
	src := NewChanSource(ch)
	ch <- localFrames()[0]
	close(ch)

	ctx := context.Background()
	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B6 08 33", f.Hex())

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestChanSourceCancelAndClose(t *testing.T) {
	src := NewChanSource(make(chan models.Frame))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSliceSource(t *testing.T) {
	src := NewSliceSource(localFrames())
	frames, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, frames, 3)

	require.NoError(t, src.Close())
	assert.True(t, src.Closed())
}

func TestTextLogReader(t *testing.T) {
	log := `Rekordbox MIDI Sniffer Log
Started: 2025-03-14 23:02:07
Controller: DDJ-FLX10
CSV: /tmp/DDJ-FLX10.midi.csv
================================================================================

[23:02:07.155] | IN  | B6 08 33     | CC Ch:7 CC:8 Val:51
[23:02:07.160] | OUT | 96 46 7F     | LED
[23:02:07.170] | IN  | ZZ 08 33     | garbage
[23:02:07.180] | IN  | C0 05        | PC
[23:59:59.999] | IN  | 90 0B 7F     | PlayPause
[00:00:00.010] | IN  | 90 0B 00     | PlayPause
`
	r, err := NewTextLogReader(strings.NewReader(log))
	require.NoError(t, err)
	assert.Equal(t, "DDJ-FLX10", r.Device())

	frames, err := ReadAll(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	assert.Equal(t, [3]byte{0xB6, 0x08, 0x33}, frames[0].Bytes)
	assert.True(t, frames[0].Timestamp.Equal(started.Add(155*time.Millisecond)))
	assert.Equal(t, [3]byte{0xC0, 0x05, 0x00}, frames[1].Bytes)

	// midnight rollover
	assert.Equal(t, 15, frames[3].Timestamp.Day())
	assert.Equal(t, 11*time.Millisecond, frames[3].Timestamp.Sub(frames[2].Timestamp))
	assert.Equal(t, 0, r.Skipped())
}

func TestTextLogStreamCloseUnblocksNext(t *testing.T) {
	pr, pw := io.Pipe()
	go pw.Write([]byte("Controller: DDJ-TEST\n[23:02:07.155] | IN  | B6 08 33 | MasterLevel\n"))

	r, err := NewTextLogStream(pr)
	require.NoError(t, err)
	assert.Equal(t, "DDJ-TEST", r.Device())

	f, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [3]byte{0xB6, 0x08, 0x33}, f.Bytes)

	done := make(chan error, 1)
	go func() {
		_, err := r.Next(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(time.Second):
		t.Fatal("Next still blocked after Close")
	}
}

func TestTextLogRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewTextLogWriter(&buf, "DDJ-TEST", "DDJ-TEST.midi.csv", started)
	require.NoError(t, err)
	for i, f := range localFrames() {
		if i == 0 {
			require.NoError(t, w.WriteFrame(f, "MasterLevel"))
			continue
		}
		require.NoError(t, w.Record(f))
	}
	require.NoError(t, w.Close())

	assert.Contains(t, buf.String(), "[23:02:07.155] | IN  | B6 08 33     | MasterLevel")

	r, err := NewTextLogReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "DDJ-TEST", r.Device())
	assert.Equal(t, "DDJ-TEST.midi.csv", r.Table())

	frames, err := ReadAll(context.Background(), r)
	require.NoError(t, err)
	want := localFrames()
	require.Len(t, frames, len(want))
	for i := range want {
		assert.Equal(t, want[i].Bytes, frames[i].Bytes)
		assert.True(t, want[i].Timestamp.Equal(frames[i].Timestamp), "frame %d", i)
	}
}

func TestRecordingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.msnf")
	w, err := CreateRecording(path, RecordingHeader{Device: "DDJ-TEST", Started: started})
	require.NoError(t, err)
	for _, f := range localFrames() {
		require.NoError(t, w.Record(f))
	}
	out := models.Frame{Timestamp: started.Add(2 * time.Second), Bytes: [3]byte{0x96, 0x46, 0x7F}, Direction: models.DirectionOut}
	require.NoError(t, w.Record(out))
	assert.Equal(t, 4, w.Count())
	require.NoError(t, w.Close())

	r, err := OpenRecording(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "DDJ-TEST", r.Device())
	assert.True(t, r.Header().Started.Equal(started))

	frames, err := ReadAll(context.Background(), r)
	require.NoError(t, err)
	want := localFrames()
	require.Len(t, frames, len(want))
	for i := range want {
		assert.Equal(t, want[i].Bytes, frames[i].Bytes)
		assert.True(t, want[i].Timestamp.Equal(frames[i].Timestamp), "frame %d", i)
	}
}

func TestRecordingBadMagic(t *testing.T) {
	_, err := NewRecordingReader(strings.NewReader("nope, not a recording"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRegistryDetectsFormats(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()

	recPath := filepath.Join(dir, "a.bin")
	w, err := CreateRecording(recPath, RecordingHeader{Device: "DDJ-TEST", Started: started})
	require.NoError(t, err)
	require.NoError(t, w.Record(localFrames()[0]))
	require.NoError(t, w.Close())

	logPath := filepath.Join(dir, "b.log")
	tw, err := CreateTextLog(logPath, "DDJ-TEST", "", started)
	require.NoError(t, err)
	require.NoError(t, tw.Record(localFrames()[0]))
	require.NoError(t, tw.Close())

	junkPath := filepath.Join(dir, "c.txt")
	require.NoError(t, os.WriteFile(junkPath, []byte("hello\n[not a frame]\n"), 0644))

	f, err := reg.FindFormat(recPath)
	require.NoError(t, err)
	assert.Equal(t, "recording", f.Name())

	f, err = reg.FindFormat(logPath)
	require.NoError(t, err)
	assert.Equal(t, "textlog", f.Name())

	_, err = reg.FindFormat(junkPath)
	assert.ErrorIs(t, err, ErrUnknownFormat)

	src, err := reg.Open(logPath)
	require.NoError(t, err)
	frames, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
	require.NoError(t, src.Close())

	_, err = reg.FormatByName("TEXTLOG")
	assert.NoError(t, err)
}

func TestPacerWaitsScaledGaps(t *testing.T) {
	var waits []time.Duration
	p := NewPacer(NewSliceSource(localFrames()), 2)
	p.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := ReadAll(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2500 * time.Microsecond, 520 * time.Millisecond}, waits)
}

func TestPacerCapsAndClamps(t *testing.T) {
	assert.Equal(t, MaxReplaySpeed, NewPacer(NewSliceSource(nil), 50).Speed())
	assert.Equal(t, 0.0, NewPacer(NewSliceSource(nil), -1).Speed())

	frames := []models.Frame{
		models.NewFrame(started, 0x90, 1, 1),
		models.NewFrame(started.Add(time.Hour), 0x90, 1, 0),
	}
	var waits []time.Duration
	p := NewPacer(NewSliceSource(frames), 1)
	p.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	_, err := ReadAll(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{MaxReplayGap}, waits)
}

func TestPacerInstantAndCancel(t *testing.T) {
	p := NewPacer(NewSliceSource(localFrames()), 0)
	p.wait = func(context.Context, time.Duration) error {
		t.Fatal("speed 0 must not wait")
		return nil
	}
	frames, err := ReadAll(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, frames, 3)

	ctx, cancel := context.WithCancel(context.Background())
	p = NewPacer(NewSliceSource(localFrames()), 1)
	_, err = p.Next(ctx)
	require.NoError(t, err)
	cancel()
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
