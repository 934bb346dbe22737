package audio

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// WriteWav writes a mono PCM16 RIFF/WAVE file containing samples.
func WriteWav(w io.Writer, samples []int16, sampleRate int) error {
	dataLen := uint32(len(samples) * 2)

	header := make([]byte, wavHeaderSize)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], 36+dataLen)
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // linear PCM
	binary.LittleEndian.PutUint16(header[22:], 1) // mono
	binary.LittleEndian.PutUint32(header[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:], 2)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], dataLen)

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(PCM16Bytes(samples))
	return err
}
