package audio

import (
	"sync"
	"time"
)

// Mixer is a sample-accurate playback timeline. Buffers are scheduled at
// absolute clock positions and summed into the output by Render, which the
// device callback drives. The clock is the number of frames rendered so far
// and does not advance while the mixer is suspended.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	frame      int64
	suspended  bool
	nextID     uint64
	voices     map[uint64]*voice
}

type voice struct {
	samples []float32
	start   int64
	stop    int64
	onEnded func()
}

func (v *voice) end() int64 {
	end := v.start + int64(len(v.samples))
	if v.stop >= 0 && v.stop < end {
		return v.stop
	}
	return end
}

// NewMixer creates a mono mixer running at sampleRate.
func NewMixer(sampleRate int) *Mixer {
	return &Mixer{
		sampleRate: sampleRate,
		voices:     make(map[uint64]*voice),
	}
}

// Now returns the current position of the output clock.
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Duration(int(m.frame), m.sampleRate)
}

// Suspend freezes the clock; Render emits silence until Resume.
func (m *Mixer) Suspend() {
	m.mu.Lock()
	m.suspended = true
	m.mu.Unlock()
}

// Resume restarts the clock after Suspend.
func (m *Mixer) Resume() {
	m.mu.Lock()
	m.suspended = false
	m.mu.Unlock()
}

// Active returns the number of voices that have not ended or been released.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Schedule queues samples to start at the given clock position. onEnded runs
// once the last sample (or the stop point) has been rendered. It is never
// called for a released voice.
func (m *Mixer) Schedule(samples []float32, at time.Duration, onEnded func()) *Voice {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.voices[id] = &voice{
		samples: samples,
		start:   m.toFrame(at),
		stop:    -1,
		onEnded: onEnded,
	}
	return &Voice{mixer: m, id: id}
}

// Render mixes all voices into out (mono) and advances the clock by len(out)
// frames. Ended callbacks run after the mixer lock is released.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()
	if m.suspended {
		m.mu.Unlock()
		return
	}

	from := m.frame
	to := from + int64(len(out))
	var ended []func()

	for id, v := range m.voices {
		end := v.end()
		lo, hi := max(v.start, from), min(end, to)
		for pos := lo; pos < hi; pos++ {
			out[pos-from] += v.samples[pos-v.start]
		}
		if end <= to {
			delete(m.voices, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	m.frame = to
	m.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

func (m *Mixer) toFrame(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return (int64(d)*int64(m.sampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// Voice is a handle to a scheduled buffer.
type Voice struct {
	mixer *Mixer
	id    uint64
}

// Stop ends the voice at the given clock position. A position before the
// voice starts silences it entirely.
func (v *Voice) Stop(at time.Duration) {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if vc, ok := m.voices[v.id]; ok {
		vc.stop = m.toFrame(at)
	}
}

// Release drops the voice immediately without running its ended callback.
func (v *Voice) Release() {
	m := v.mixer
	m.mu.Lock()
	delete(m.voices, v.id)
	m.mu.Unlock()
}
