package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/midi-sniffer/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

/*
Binary recording layout:

	[Magic]   4 bytes  "MSNF" (big-endian 0x4D534E46)
	[Version] 1 byte
	[Header]  msgpack map  RecordingHeader
	[Frames]  msgpack arrays [deltaMicros, status, data1, data2, out]

Frame timestamps are stored as microseconds since the previous frame
(the first frame is relative to Header.Started).
*/
const (
	RecordingMagic   uint32 = 0x4D534E46
	RecordingVersion uint8  = 1
)

// RecordingHeader describes a binary recording.
type RecordingHeader struct {
	Device  string    `msgpack:"device"`
	Table   string    `msgpack:"table,omitempty"`
	Started time.Time `msgpack:"started"`
}

type frameRecord struct {
	_msgpack struct{} `msgpack:",as_array"`

	DeltaMicros int64
	Status      uint8
	Data1       uint8
	Data2       uint8
	Out         bool
}

// RecordingWriter appends frames to a binary recording.
type RecordingWriter struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *msgpack.Encoder
	closer io.Closer
	last   time.Time
	count  int
}

// CreateRecording creates a recording file.
func CreateRecording(filePath string, header RecordingHeader) (*RecordingWriter, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	w, err := NewRecordingWriter(file, header)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// NewRecordingWriter writes the magic and header to w.
func NewRecordingWriter(w io.Writer, header RecordingHeader) (*RecordingWriter, error) {
	buf := bufio.NewWriter(w)
	if err := binary.Write(buf, binary.BigEndian, RecordingMagic); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(RecordingVersion); err != nil {
		return nil, err
	}

	enc := msgpack.NewEncoder(buf)
	if err := enc.Encode(&header); err != nil {
		return nil, fmt.Errorf("encode recording header: %w", err)
	}

	return &RecordingWriter{buf: buf, enc: enc, last: header.Started}, nil
}

// Record appends one frame.
func (w *RecordingWriter) Record(f models.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	delta := f.Timestamp.Sub(w.last).Microseconds()
	if delta < 0 {
		delta = 0
	}
	rec := frameRecord{
		DeltaMicros: delta,
		Status:      f.Bytes[0],
		Data1:       f.Bytes[1],
		Data2:       f.Bytes[2],
		Out:         f.Direction == models.DirectionOut,
	}
	if err := w.enc.Encode(&rec); err != nil {
		return err
	}
	w.last = w.last.Add(time.Duration(delta) * time.Microsecond)
	w.count++
	return nil
}

// Count returns the number of frames written.
func (w *RecordingWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *RecordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// RecordingReader replays a binary recording. OUT frames are skipped.
type RecordingReader struct {
	mu     sync.Mutex
	dec    *msgpack.Decoder
	closer io.Closer
	header RecordingHeader
	last   time.Time
}

// OpenRecording opens a recording file.
func OpenRecording(filePath string) (*RecordingReader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := NewRecordingReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewRecordingReader checks the magic and reads the header.
func NewRecordingReader(r io.Reader) (*RecordingReader, error) {
	br := bufio.NewReader(r)

	var magic uint32
	if err := binary.Read(br, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("read recording magic: %w", err)
	}
	if magic != RecordingMagic {
		return nil, fmt.Errorf("%w: bad magic %08X", ErrUnknownFormat, magic)
	}
	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read recording version: %w", err)
	}
	if version != RecordingVersion {
		return nil, fmt.Errorf("unsupported recording version %d", version)
	}

	dec := msgpack.NewDecoder(br)
	var header RecordingHeader
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("decode recording header: %w", err)
	}

	return &RecordingReader{dec: dec, header: header, last: header.Started}, nil
}

// Header returns the recording header.
func (r *RecordingReader) Header() RecordingHeader { return r.header }

// Device returns the recorded device name.
func (r *RecordingReader) Device() string { return r.header.Device }

func (r *RecordingReader) Next(ctx context.Context) (models.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return models.Frame{}, err
		}

		var rec frameRecord
		if err := r.dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return models.Frame{}, io.EOF
			}
			return models.Frame{}, fmt.Errorf("decode recording frame: %w", err)
		}

		r.last = r.last.Add(time.Duration(rec.DeltaMicros) * time.Microsecond)
		if rec.Out {
			continue
		}
		return models.Frame{
			Timestamp: r.last,
			Bytes:     [3]byte{rec.Status, rec.Data1, rec.Data2},
			Direction: models.DirectionIn,
		}, nil
	}
}

func (r *RecordingReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
