package capture

import (
	"context"
	"time"

	"github.com/midi-sniffer/backend/internal/models"
)

const (
	// MaxReplaySpeed caps the replay speed multiplier.
	MaxReplaySpeed = 10.0
	// MaxReplayGap caps a single wait between replayed frames.
	MaxReplayGap = 10 * time.Second
)

// Pacer replays a recorded source at speed times real time. Speed 0 replays
// as fast as the consumer reads.
type Pacer struct {
	src   Source
	speed float64
	last  time.Time
	wait  func(ctx context.Context, d time.Duration) error
}

// NewPacer wraps src. Speed is clamped to [0, MaxReplaySpeed].
func NewPacer(src Source, speed float64) *Pacer {
	if speed < 0 {
		speed = 0
	}
	if speed > MaxReplaySpeed {
		speed = MaxReplaySpeed
	}
	return &Pacer{src: src, speed: speed, wait: sleepCtx}
}

// Speed returns the effective speed.
func (p *Pacer) Speed() float64 { return p.speed }

// Device forwards to the wrapped source.
func (p *Pacer) Device() string {
	if dn, ok := p.src.(DeviceNamer); ok {
		return dn.Device()
	}
	return ""
}

func (p *Pacer) Next(ctx context.Context) (models.Frame, error) {
	f, err := p.src.Next(ctx)
	if err != nil {
		return f, err
	}

	if p.speed > 0 && !p.last.IsZero() {
		if delay := p.delay(f.Timestamp.Sub(p.last)); delay > 0 {
			if err := p.wait(ctx, delay); err != nil {
				return models.Frame{}, err
			}
		}
	}
	p.last = f.Timestamp
	return f, nil
}

func (p *Pacer) delay(gap time.Duration) time.Duration {
	if gap <= 0 {
		return 0
	}
	d := time.Duration(float64(gap) / p.speed)
	if d > MaxReplayGap {
		d = MaxReplayGap
	}
	return d
}

func (p *Pacer) Close() error {
	return p.src.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
