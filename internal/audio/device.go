package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileDevice replays a 16-bit PCM WAV file as if it were a microphone
type FileDevice struct {
	Path  string
	Chunk time.Duration
	// Realtime paces chunks at playback speed
	Realtime bool
}

func (d *FileDevice) Open(ctx context.Context) (Input, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.Path, err)
	}
	p, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", d.Path, err)
	}

	chunk := d.Chunk
	if chunk <= 0 {
		chunk = 250 * time.Millisecond
	}
	return NewStreamInput(ctx, p, chunk, d.Realtime), nil
}

type streamInput struct {
	format Format
	ch     chan []int16
	done   chan struct{}
	once   sync.Once
}

// NewStreamInput emits p in chunks of the given duration until exhausted,
// closed or ctx is done.
func NewStreamInput(ctx context.Context, p *Payload, chunk time.Duration, realtime bool) Input {
	s := &streamInput{
		format: p.Format,
		ch:     make(chan []int16),
		done:   make(chan struct{}),
	}

	frames := int(chunk.Seconds() * float64(p.Format.SampleRate))
	if frames <= 0 {
		frames = 1
	}
	step := frames * p.Format.Channels

	go func() {
		defer close(s.ch)

		var ticker *time.Ticker
		if realtime {
			ticker = time.NewTicker(chunk)
			defer ticker.Stop()
		}

		for off := 0; off < len(p.Samples); off += step {
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-s.done:
					return
				case <-ctx.Done():
					return
				}
			}

			end := off + step
			if end > len(p.Samples) {
				end = len(p.Samples)
			}
			select {
			case s.ch <- p.Samples[off:end]:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return s
}

func (s *streamInput) Format() Format         { return s.format }
func (s *streamInput) Chunks() <-chan []int16 { return s.ch }

func (s *streamInput) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
