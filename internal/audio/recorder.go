package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotRecording is returned by Stop outside Recording and Paused
var ErrNotRecording = errors.New("recorder is not recording")

type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Input is an open capture stream
type Input interface {
	Format() Format
	// Chunks is closed when the source runs dry
	Chunks() <-chan []int16
	Close() error
}

// Device opens capture streams
type Device interface {
	Open(ctx context.Context) (Input, error)
}

type Options struct {
	TickInterval  time.Duration
	LevelInterval time.Duration
	// OnTick receives the recorded duration after each tick.
	OnTick func(elapsed time.Duration)
	// OnLevel receives the RMS level of the latest chunk while recording.
	OnLevel func(level float64)
}

// Recorder drives one capture session at a time. Callbacks run on recorder
// goroutines and must not block.
type Recorder struct {
	device Device
	opts   Options

	mu          sync.Mutex
	state       State
	input       Input
	format      Format
	chunks      [][]int16
	latest      []int16
	dropped     int
	elapsed     time.Duration
	payload     *Payload
	stopCapture context.CancelFunc
	stopTimers  context.CancelFunc
	captureWG   sync.WaitGroup
}

func NewRecorder(device Device, opts Options) *Recorder {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = 100 * time.Millisecond
	}
	return &Recorder{device: device, opts: opts}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Buffered is the number of chunks kept so far
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Dropped counts chunks that arrived while paused
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Payload returns the finalized payload once stopped
func (r *Recorder) Payload() *Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload
}

// Start opens the device and begins capturing. No-op unless Idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return nil
	}

	in, err := r.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}

	r.input = in
	r.format = in.Format()
	r.chunks = nil
	r.latest = nil
	r.dropped = 0
	r.elapsed = 0
	r.payload = nil

	captureCtx, cancel := context.WithCancel(context.Background())
	r.stopCapture = cancel
	r.captureWG.Add(1)
	go r.capture(captureCtx, in.Chunks())

	r.state = StateRecording
	r.startTimers()
	return nil
}

// Pause suspends capture and the duration tick; the input stays open
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return
	}
	r.state = StatePaused
	r.stopTimers()
}

func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePaused {
		return
	}
	r.state = StateRecording
	r.startTimers()
}

// Stop finalizes everything buffered into one payload and releases the input.
// A session without chunks yields an empty payload.
func (r *Recorder) Stop() (*Payload, error) {
	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = StateStopped
	in := r.release()
	r.mu.Unlock()

	closeErr := in.Close()
	r.captureWG.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, c := range r.chunks {
		total += len(c)
	}
	var samples []int16
	if total > 0 {
		samples = make([]int16, 0, total)
		for _, c := range r.chunks {
			samples = append(samples, c...)
		}
	}
	r.chunks = nil
	r.payload = &Payload{Format: r.format, Samples: samples}

	if closeErr != nil {
		return r.payload, fmt.Errorf("failed to close input: %w", closeErr)
	}
	return r.payload, nil
}

// Reset discards everything and returns to Idle
func (r *Recorder) Reset() {
	r.mu.Lock()
	var in Input
	if r.state == StateRecording || r.state == StatePaused {
		in = r.release()
	}
	r.state = StateIdle
	r.mu.Unlock()

	if in != nil {
		_ = in.Close()
		r.captureWG.Wait()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = nil
	r.latest = nil
	r.dropped = 0
	r.elapsed = 0
	r.payload = nil
}

// release must be called with mu held
func (r *Recorder) release() Input {
	r.stopTimers()
	r.stopCapture()
	in := r.input
	r.input = nil
	return in
}

func (r *Recorder) capture(ctx context.Context, chunks <-chan []int16) {
	defer r.captureWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			r.mu.Lock()
			if r.state == StateRecording {
				r.chunks = append(r.chunks, chunk)
				r.latest = chunk
			} else {
				r.dropped++
			}
			r.mu.Unlock()
		}
	}
}

// startTimers must be called with mu held. Timer goroutines re-check the
// state under the lock, so a tick racing with Pause or Stop is discarded.
func (r *Recorder) startTimers() {
	ctx, cancel := context.WithCancel(context.Background())
	r.stopTimers = cancel

	go r.tick(ctx)
	if r.opts.OnLevel != nil {
		go r.meter(ctx)
	}
}

func (r *Recorder) tick(ctx context.Context) {
	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.state != StateRecording || ctx.Err() != nil {
				r.mu.Unlock()
				return
			}
			r.elapsed += r.opts.TickInterval
			elapsed := r.elapsed
			r.mu.Unlock()

			if r.opts.OnTick != nil {
				r.opts.OnTick(elapsed)
			}
		}
	}
}

func (r *Recorder) meter(ctx context.Context) {
	ticker := time.NewTicker(r.opts.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.state != StateRecording || ctx.Err() != nil {
				r.mu.Unlock()
				return
			}
			latest := r.latest
			r.mu.Unlock()

			r.opts.OnLevel(Level(latest))
		}
	}
}
