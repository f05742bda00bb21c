// Package audio captures PCM from an input device and re-encodes it into the
// compact WAV payload that is uploaded with a consultation.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultMaxPayloadBytes is the upload ceiling applied before any network call
const DefaultMaxPayloadBytes int64 = 45 << 20

// inlineOverhead covers the JSON envelope and data: URI prefix around inline audio
const inlineOverhead = 1 << 10

// ErrPayloadTooLarge is wrapped by CheckSize
var ErrPayloadTooLarge = errors.New("audio payload too large")

// Format describes interleaved signed 16-bit little-endian PCM
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Payload is the finalized result of one recording session
type Payload struct {
	Format  Format
	Samples []int16
}

func (p *Payload) Empty() bool {
	return p == nil || len(p.Samples) == 0
}

// Frames is the number of samples per channel
func (p *Payload) Frames() int {
	if p.Empty() || p.Format.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Format.Channels
}

func (p *Payload) Duration() time.Duration {
	if p.Empty() || p.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.Format.SampleRate)
}

// CheckSize rejects payloads above limit; limit <= 0 means DefaultMaxPayloadBytes
func CheckSize(n, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxPayloadBytes
	}
	if n > limit {
		return fmt.Errorf("%w: %.1f MB exceeds the %.1f MB limit, record a shorter session or enable compression",
			ErrPayloadTooLarge, float64(n)/(1<<20), float64(limit)/(1<<20))
	}
	return nil
}

// InlineLimit is the largest payload that still fits a request body of
// bodyLimit bytes once base64 encoded inside the upload JSON.
func InlineLimit(bodyLimit int64) int64 {
	if bodyLimit <= inlineOverhead {
		return 0
	}
	return (bodyLimit - inlineOverhead) / 4 * 3
}

// UploadLimit is the ceiling that actually applies to an inline upload
func UploadLimit(payloadLimit, bodyLimit int64) int64 {
	if payloadLimit <= 0 {
		payloadLimit = DefaultMaxPayloadBytes
	}
	if bodyLimit > 0 {
		if inline := InlineLimit(bodyLimit); inline < payloadLimit {
			return inline
		}
	}
	return payloadLimit
}

// Level returns the RMS amplitude of samples scaled to 0..1
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	level := math.Sqrt(sum / float64(len(samples)))
	if level > 1 {
		level = 1
	}
	return level
}
