package realtime

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

type OutputState string

const (
	OutputRunning   OutputState = "running"
	OutputSuspended OutputState = "suspended"
	OutputClosed    OutputState = "closed"
)

// PlaybackHandle controls one buffer scheduled on an OutputDevice.
type PlaybackHandle interface {
	// Stop ends playback at the given output clock position.
	Stop(at time.Duration)
	// Release frees the buffer. The ended callback will not run afterwards.
	Release()
}

// OutputDevice is a speaker with its own clock. Schedule never blocks on
// playback; onEnded runs from the device thread once the buffer finishes.
type OutputDevice interface {
	Now() time.Duration
	State() OutputState
	Resume() error
	Suspend() error
	Schedule(samples []float32, at time.Duration, onEnded func()) (PlaybackHandle, error)
	Close() error
}

// OutputFactory opens a fresh output device for one session.
type OutputFactory func(sampleRate int) (OutputDevice, error)

// PlaybackUnit is the scheduler's own record of a scheduled buffer.
type PlaybackUnit struct {
	ID         uint64
	ResponseID string
	Start      time.Duration
	Duration   time.Duration

	handle   PlaybackHandle
	detached bool
}

// Scheduler places decoded chunks back to back on the output clock.
type Scheduler struct {
	newOutput  OutputFactory
	sampleRate int
	logger     Logger

	mu       sync.Mutex
	output   OutputDevice
	cursor   time.Duration
	seeded   bool
	nextID   uint64
	units    map[uint64]*PlaybackUnit
	speaking bool
	closed   bool
}

func NewScheduler(newOutput OutputFactory, sampleRate int, logger Logger) *Scheduler {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Scheduler{
		newOutput:  newOutput,
		sampleRate: sampleRate,
		logger:     logger,
		units:      make(map[uint64]*PlaybackUnit),
	}
}

// Enqueue decodes one base64 PCM16 chunk and schedules it at
// max(cursor, now). Failures wrap ErrPlayback and leave the cursor untouched.
func (s *Scheduler) Enqueue(encoded string, responseID string) (AudioPayload, error) {
	samples, err := DecodeAudio(encoded)
	if err != nil {
		return AudioPayload{}, fmt.Errorf("%w: %v", ErrPlayback, err)
	}
	if len(samples) == 0 {
		return AudioPayload{}, fmt.Errorf("%w: empty audio chunk", ErrPlayback)
	}
	floats := audio.PCM16ToFloat(samples)

	s.mu.Lock()
	defer s.mu.Unlock()

	output, err := s.ensureOutput()
	if err != nil {
		return AudioPayload{}, fmt.Errorf("%w: %v", ErrPlayback, err)
	}

	if output.State() == OutputSuspended {
		if err := output.Resume(); err != nil {
			// retried on the next chunk
			s.logger.Debug("output resume failed", "error", err)
		}
	}

	now := output.Now()
	if !s.seeded {
		s.cursor = now
		s.seeded = true
	}
	start := max(s.cursor, now)
	duration := audio.Duration(len(samples), s.sampleRate)

	s.nextID++
	id := s.nextID
	unit := &PlaybackUnit{
		ID:         id,
		ResponseID: responseID,
		Start:      start,
		Duration:   duration,
	}

	handle, err := output.Schedule(floats, start, func() { s.finish(id) })
	if err != nil {
		return AudioPayload{}, fmt.Errorf("%w: schedule: %v", ErrPlayback, err)
	}
	unit.handle = handle

	s.units[id] = unit
	s.cursor = start + duration
	s.speaking = true

	return AudioPayload{
		ResponseID: responseID,
		Samples:    samples,
		Start:      start,
		Duration:   duration,
	}, nil
}

func (s *Scheduler) ensureOutput() (OutputDevice, error) {
	if s.closed {
		return nil, fmt.Errorf("scheduler closed")
	}
	if s.output != nil {
		return s.output, nil
	}
	if s.newOutput == nil {
		return nil, fmt.Errorf("no output device")
	}
	output, err := s.newOutput(s.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("open output device: %w", err)
	}
	s.output = output
	return output, nil
}

// finish is the natural-completion hook of a unit.
func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit, ok := s.units[id]
	if !ok || unit.detached {
		return
	}
	delete(s.units, id)
	if len(s.units) == 0 {
		s.speaking = false
	}
}

// Speaking reports whether any unit is scheduled or playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Units returns a snapshot of the tracked units ordered by start time.
func (s *Scheduler) Units() []PlaybackUnit {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PlaybackUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Cursor returns the next available start time.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close releases the output device. The scheduler cannot be reused.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	output := s.output
	s.output = nil
	s.closed = true
	s.mu.Unlock()

	if output == nil {
		return nil
	}
	return output.Close()
}
