package realtime

import (
	"math"
	"sync"
	"time"
)

// EchoGuard recognizes captured frames that are the assistant's own speech
// picked up by the microphone. It keeps a rolling reference of recently
// played samples and compares frames against it by normalized
// cross-correlation, falling back to an amplitude-envelope comparison for
// phase-shifted sibilants.
type EchoGuard struct {
	mu         sync.Mutex
	played     []float64
	maxSamples int
	threshold  float64
	tail       time.Duration
	lastPlayed time.Time
}

// NewEchoGuard keeps two seconds of reference audio at sampleRate.
func NewEchoGuard(sampleRate int) *EchoGuard {
	return &EchoGuard{
		maxSamples: 2 * sampleRate,
		threshold:  0.55,
		tail:       1200 * time.Millisecond,
	}
}

// SetThreshold adjusts the correlation above which a frame counts as echo.
func (g *EchoGuard) SetThreshold(threshold float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		g.threshold = threshold
	}
}

// RecordPlayed appends samples that were scheduled for playback.
func (g *EchoGuard) RecordPlayed(samples []int16) {
	if len(samples) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range samples {
		g.played = append(g.played, float64(s)/32768.0)
	}
	if over := len(g.played) - g.maxSamples; over > 0 {
		g.played = append(g.played[:0], g.played[over:]...)
	}
	g.lastPlayed = time.Now()
}

// Clear drops the reference, e.g. after playback was interrupted.
func (g *EchoGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.played = g.played[:0]
}

// IsEcho reports whether frame correlates with recently played audio.
func (g *EchoGuard) IsEcho(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}

	g.mu.Lock()
	if len(g.played) == 0 || time.Since(g.lastPlayed) > g.tail {
		g.mu.Unlock()
		return false
	}
	ref := append([]float64(nil), g.played...)
	threshold := g.threshold
	g.mu.Unlock()

	in := make([]float64, len(frame))
	for i, s := range frame {
		in[i] = float64(s) / 32768.0
	}

	if maxCorrelation(in, ref) > threshold {
		return true
	}
	return maxEnvelopeCorrelation(in, ref, 8) > threshold+0.05
}

// maxCorrelation slides in across ref and returns the best normalized
// correlation, clamped to [0, 1].
func maxCorrelation(in, ref []float64) float64 {
	n := min(len(in), len(ref))
	if n == 0 {
		return 0
	}
	in = in[:n]

	inEnergy := energy(in)
	if inEnergy == 0 {
		return 0
	}

	// a coarse stride keeps this cheap enough for the capture thread
	stride := max(n/4, 8)

	best := 0.0
	for pos := 0; pos+n <= len(ref); pos += stride {
		seg := ref[pos : pos+n]
		segEnergy := energy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := range in {
			dot += in[i] * seg[i]
		}
		if corr := dot / math.Sqrt(inEnergy*segEnergy); corr > best {
			best = corr
			if best >= 0.999 {
				break
			}
		}
	}
	return math.Min(math.Max(best, 0), 1)
}

// maxEnvelopeCorrelation compares the decimated absolute-value envelopes of
// both signals.
func maxEnvelopeCorrelation(in, ref []float64, decimation int) float64 {
	inEnv := envelope(in, decimation)
	refEnv := envelope(ref, decimation)

	n := min(len(inEnv), len(refEnv))
	if n == 0 {
		return 0
	}
	inEnv = inEnv[:n]

	inVar := center(inEnv)
	if inVar <= 0 {
		return 0
	}

	stride := max(n/4, 2)
	best := 0.0
	for pos := 0; pos+n <= len(refEnv); pos += stride {
		seg := append([]float64(nil), refEnv[pos:pos+n]...)
		refVar := center(seg)
		if refVar <= 0 {
			continue
		}
		dot := 0.0
		for i := range inEnv {
			dot += inEnv[i] * seg[i]
		}
		if corr := dot / math.Sqrt(inVar*refVar); corr > best {
			best = corr
		}
	}
	return best
}

func envelope(samples []float64, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		sum := 0.0
		for _, s := range samples[i*decimation : (i+1)*decimation] {
			sum += math.Abs(s)
		}
		env[i] = sum
	}
	return env
}

// center subtracts the mean in place and returns the sum of squares.
func center(v []float64) float64 {
	mean := 0.0
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))

	variance := 0.0
	for i := range v {
		v[i] -= mean
		variance += v[i] * v[i]
	}
	return variance
}

func energy(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return sum
}
