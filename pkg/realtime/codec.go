package realtime

import (
	"encoding/base64"
	"fmt"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// Outbound message types.
const (
	TypeConnect          = "connect"
	TypeInputAudioAppend = "input_audio_buffer.append"
)

// ConnectMessage is the handshake envelope sent once when the channel opens.
type ConnectMessage struct {
	Type           string        `json:"type"`
	EphemeralToken string        `json:"ephemeralToken"`
	Mode           Mode          `json:"mode"`
	Questions      []interface{} `json:"questions"`
}

func NewConnectMessage(token string, mode Mode, questions []interface{}) ConnectMessage {
	if questions == nil {
		questions = []interface{}{}
	}
	return ConnectMessage{
		Type:           TypeConnect,
		EphemeralToken: token,
		Mode:           mode,
		Questions:      questions,
	}
}

// AppendAudioMessage carries one captured frame.
type AppendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewAppendAudioMessage(frame []int16) AppendAudioMessage {
	return AppendAudioMessage{
		Type:  TypeInputAudioAppend,
		Audio: EncodeAudio(frame),
	}
}

// EncodeAudio encodes PCM16 samples as base64 over little-endian bytes.
func EncodeAudio(samples []int16) string {
	return base64.StdEncoding.EncodeToString(audio.PCM16Bytes(samples))
}

// DecodeAudio reverses EncodeAudio.
func DecodeAudio(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return audio.BytesToPCM16(raw)
}
