package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jwalitptl/consult-api/internal/audio"
)

// drainDevice reports when the wrapped source has no more chunks
type drainDevice struct {
	inner   audio.Device
	drained chan struct{}
	sent    atomic.Int64
}

func newDrainDevice(inner audio.Device) *drainDevice {
	return &drainDevice{inner: inner, drained: make(chan struct{})}
}

func (d *drainDevice) Drained() <-chan struct{} { return d.drained }

// Sent is the number of chunks handed to the recorder
func (d *drainDevice) Sent() int { return int(d.sent.Load()) }

func (d *drainDevice) Open(ctx context.Context) (audio.Input, error) {
	in, err := d.inner.Open(ctx)
	if err != nil {
		return nil, err
	}

	w := &drainInput{Input: in, out: make(chan []int16), stop: make(chan struct{})}
	go func() {
		defer close(w.out)
		defer close(d.drained)
		for chunk := range in.Chunks() {
			select {
			case w.out <- chunk:
				d.sent.Add(1)
			case <-w.stop:
				return
			}
		}
	}()
	return w, nil
}

type drainInput struct {
	audio.Input
	out  chan []int16
	stop chan struct{}
	once sync.Once
}

func (w *drainInput) Chunks() <-chan []int16 { return w.out }

func (w *drainInput) Close() error {
	w.once.Do(func() { close(w.stop) })
	return w.Input.Close()
}
