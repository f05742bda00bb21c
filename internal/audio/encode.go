package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// TargetSampleRate is the rate uploads are resampled to
const TargetSampleRate = 16000

// Compressor mirrors the browser DynamicsCompressor defaults
type Compressor struct {
	ThresholdDB float64
	KneeDB      float64
	Ratio       float64
	Attack      time.Duration
	Release     time.Duration
	MakeupDB    float64
}

func DefaultCompressor() Compressor {
	return Compressor{
		ThresholdDB: -24,
		KneeDB:      30,
		Ratio:       12,
		Attack:      3 * time.Millisecond,
		Release:     250 * time.Millisecond,
	}
}

type PrepareOptions struct {
	SampleRate int
	// Compressor nil means DefaultCompressor; set NoCompression to skip it.
	Compressor    *Compressor
	NoCompression bool
}

// Prepare downmixes to mono, resamples, compresses and serializes as 16-bit PCM WAV
func Prepare(p *Payload, opts PrepareOptions) ([]byte, error) {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = TargetSampleRate
	}
	out := Format{SampleRate: rate, Channels: 1}

	if p.Empty() {
		return EncodeWAV(out, nil), nil
	}
	if !p.Format.Valid() {
		return nil, fmt.Errorf("invalid payload format %+v", p.Format)
	}

	signal := Downmix(p.Samples, p.Format.Channels)
	signal = Resample(signal, p.Format.SampleRate, rate)
	if !opts.NoCompression {
		c := DefaultCompressor()
		if opts.Compressor != nil {
			c = *opts.Compressor
		}
		c.Apply(signal, rate)
	}

	return EncodeWAV(out, toInt16(signal)), nil
}

// Downmix averages interleaved channels into one float signal in [-1, 1]
func Downmix(samples []int16, channels int) []float64 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(samples[i*channels+c]) / 32768
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// Resample converts between rates with linear interpolation
func Resample(in []float64, from, to int) []float64 {
	if from == to || len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float64, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}

// Apply compresses signal in place with a soft-knee feed-forward design
func (c Compressor) Apply(signal []float64, sampleRate int) {
	if c.Ratio < 1 {
		c.Ratio = 1
	}
	attack := coefficient(c.Attack, sampleRate)
	release := coefficient(c.Release, sampleRate)
	slope := 1/c.Ratio - 1

	var env float64
	for i, x := range signal {
		level := 20 * math.Log10(math.Abs(x)+1e-9)
		over := level - c.ThresholdDB

		var target float64
		switch {
		case 2*over < -c.KneeDB:
			target = 0
		case c.KneeDB > 0 && 2*math.Abs(over) <= c.KneeDB:
			k := over + c.KneeDB/2
			target = slope * k * k / (2 * c.KneeDB)
		default:
			target = slope * over
		}

		if target < env {
			env = attack*env + (1-attack)*target
		} else {
			env = release*env + (1-release)*target
		}

		y := x * math.Pow(10, (env+c.MakeupDB)/20)
		signal[i] = math.Max(-1, math.Min(1, y))
	}
}

func coefficient(d time.Duration, sampleRate int) float64 {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (d.Seconds() * float64(sampleRate)))
}

func toInt16(signal []float64) []int16 {
	out := make([]int16, len(signal))
	for i, v := range signal {
		s := math.Round(v * 32767)
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		out[i] = int16(s)
	}
	return out
}

const wavHeaderSize = 44

// EncodeWAV writes a canonical 44-byte RIFF header followed by the samples
func EncodeWAV(f Format, samples []int16) []byte {
	dataLen := uint32(len(samples) * 2)
	blockAlign := uint16(f.Channels * 2)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataLen)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate)*uint32(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataLen)
	_ = binary.Write(buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// WAVInfo is what ProbeWAV learns from the header
type WAVInfo struct {
	Format        Format
	AudioFormat   uint16
	BitsPerSample uint16
	DataOffset    int
	DataSize      int
	Duration      time.Duration
}

// ProbeWAV walks the RIFF chunks up to the data chunk. A data chunk that
// claims more bytes than present is clamped to what is there.
func ProbeWAV(data []byte) (*WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	info := &WAVInfo{}
	haveFmt := false
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}
			info.AudioFormat = binary.LittleEndian.Uint16(data[body:])
			info.Format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.Format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.BitsPerSample = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			if size > len(data)-body || size < 0 {
				size = len(data) - body
			}
			info.DataOffset = body
			info.DataSize = size

			bytesPerSec := info.Format.SampleRate * info.Format.Channels * int(info.BitsPerSample) / 8
			if bytesPerSec > 0 {
				info.Duration = time.Duration(int64(size) * int64(time.Second) / int64(bytesPerSec))
			}
			return info, nil
		}

		off = body + size + size%2
	}

	return nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// DecodeWAV reads 16-bit PCM WAV into a payload
func DecodeWAV(data []byte) (*Payload, error) {
	info, err := ProbeWAV(data)
	if err != nil {
		return nil, err
	}
	if info.AudioFormat != 1 || info.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", info.AudioFormat, info.BitsPerSample)
	}
	if !info.Format.Valid() {
		return nil, fmt.Errorf("%w: invalid format %+v", ErrNotWAV, info.Format)
	}

	raw := data[info.DataOffset : info.DataOffset+info.DataSize]
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return &Payload{Format: info.Format, Samples: samples}, nil
}
