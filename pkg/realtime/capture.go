package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// CaptureConstraints are requested from the input device. The suppression
// flags are hints; devices that cannot honour them ignore them.
type CaptureConstraints struct {
	SampleRate       int
	Channels         int
	NoiseSuppression bool
	EchoCancellation bool
	AutoGainControl  bool
}

// InputDevice is a microphone. Open starts delivering normalized mono
// samples to onSamples from the device's own thread until Close.
type InputDevice interface {
	Open(ctx context.Context, c CaptureConstraints, onSamples func([]float32)) error
	Close() error
}

// Capture frames raw device samples into fixed-size PCM16 blocks.
type Capture struct {
	device      InputDevice
	constraints CaptureConstraints
	frameSize   int
	onFrame     func([]int16)

	mu      sync.Mutex
	pending []float32
	open    bool
}

func NewCapture(device InputDevice, constraints CaptureConstraints, frameSize int, onFrame func([]int16)) *Capture {
	if frameSize <= 0 {
		frameSize = 4096
	}
	return &Capture{
		device:      device,
		constraints: constraints,
		frameSize:   frameSize,
		onFrame:     onFrame,
	}
}

// Start acquires the device. Any failure to acquire it wraps ErrPermission.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("%w: no input device", ErrPermission)
	}
	if err := c.device.Open(ctx, c.constraints, c.write); err != nil {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}

	c.mu.Lock()
	c.open = true
	c.pending = c.pending[:0]
	c.mu.Unlock()
	return nil
}

// Stop releases the device and discards any partial frame.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	c.pending = nil
	c.mu.Unlock()

	return c.device.Close()
}

// Active reports whether the device is currently held.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Capture) write(samples []float32) {
	var frames [][]int16

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, samples...)
	for len(c.pending) >= c.frameSize {
		frames = append(frames, audio.FloatToPCM16(c.pending[:c.frameSize]))
		c.pending = c.pending[c.frameSize:]
	}
	c.mu.Unlock()

	for _, f := range frames {
		c.onFrame(f)
	}
}
