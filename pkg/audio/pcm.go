package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// FloatToPCM16 converts normalized float samples to 16-bit linear PCM.
// Samples are clamped to [-1, 1] first; negative values scale by 32768 and
// positive values by 32767 so the full signed range is used without overflow.
// Quantization rounds up, which keeps PCM16ToFloat within 1/32768 of the input.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		if v < 0 {
			v = math.Ceil(v * 32768)
		} else {
			v = math.Ceil(v * 32767)
		}
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		out[i] = int16(v)
	}
	return out
}

// PCM16ToFloat converts PCM16 samples to floats by dividing by 32768.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// PCM16Bytes serializes samples as little-endian bytes.
func PCM16Bytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToPCM16 reinterprets little-endian bytes as PCM16 samples.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Duration returns how long n mono frames last at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
