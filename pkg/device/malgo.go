// Package device implements the realtime capture and playback devices on top
// of miniaudio (github.com/gen2brain/malgo).
package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

// Context owns the miniaudio context shared by every device it opens.
type Context struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (*Context, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

func (c *Context) Close() error {
	err := c.ctx.Uninit()
	c.ctx.Free()
	return err
}

// Input is a mono float32 microphone.
type Input struct {
	ctx          *Context
	periodFrames uint32

	mu  sync.Mutex
	dev *malgo.Device
}

// NewInput returns a closed microphone that delivers periodFrames samples
// per callback once opened. Zero lets the backend choose.
func (c *Context) NewInput(periodFrames int) *Input {
	return &Input{ctx: c, periodFrames: uint32(periodFrames)}
}

// Open starts capture. miniaudio has no noise suppression, echo
// cancellation or gain control, so those constraints are ignored.
func (i *Input) Open(ctx context.Context, c realtime.CaptureConstraints, onSamples func([]float32)) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dev != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.PeriodSizeInFrames = i.periodFrames
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(i.ctx.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			if len(pInput) == 0 {
				return
			}
			onSamples(downmix(decodeF32(pInput), channels))
		},
	})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}
	i.dev = dev
	return nil
}

func (i *Input) Close() error {
	i.mu.Lock()
	dev := i.dev
	i.dev = nil
	i.mu.Unlock()

	if dev != nil {
		dev.Uninit()
	}
	return nil
}

// Output plays an audio.Mixer timeline through a playback device. Suspend
// and Resume freeze the mixer clock; the device itself keeps running and
// plays silence.
type Output struct {
	mixer *audio.Mixer

	mu    sync.Mutex
	state realtime.OutputState
	dev   *malgo.Device
	buf   []float32
}

// NewOutput opens and starts a mono playback device. Its signature matches
// realtime.OutputFactory.
func (c *Context) NewOutput(sampleRate int) (realtime.OutputDevice, error) {
	o := newOutput(audio.NewMixer(sampleRate))

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			o.render(pOutput, frameCount)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start playback device: %w", err)
	}
	o.dev = dev
	return o, nil
}

func newOutput(mixer *audio.Mixer) *Output {
	return &Output{mixer: mixer, state: realtime.OutputRunning}
}

func (o *Output) render(pOutput []byte, frameCount uint32) {
	n := int(frameCount)
	if cap(o.buf) < n {
		o.buf = make([]float32, n)
	}
	buf := o.buf[:n]
	o.mixer.Render(buf)
	encodeF32(pOutput, buf)
}

func (o *Output) Now() time.Duration {
	return o.mixer.Now()
}

func (o *Output) State() realtime.OutputState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == realtime.OutputClosed {
		return fmt.Errorf("output closed")
	}
	o.mixer.Resume()
	o.state = realtime.OutputRunning
	return nil
}

func (o *Output) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == realtime.OutputClosed {
		return fmt.Errorf("output closed")
	}
	o.mixer.Suspend()
	o.state = realtime.OutputSuspended
	return nil
}

func (o *Output) Schedule(samples []float32, at time.Duration, onEnded func()) (realtime.PlaybackHandle, error) {
	if o.State() == realtime.OutputClosed {
		return nil, fmt.Errorf("output closed")
	}
	return o.mixer.Schedule(samples, at, onEnded), nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	dev := o.dev
	o.dev = nil
	o.state = realtime.OutputClosed
	o.mu.Unlock()

	if dev != nil {
		dev.Uninit()
	}
	return nil
}

func decodeF32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeF32(dst []byte, samples []float32) {
	for i, s := range samples {
		if (i+1)*4 > len(dst) {
			return
		}
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

// downmix averages interleaved channels into mono.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
