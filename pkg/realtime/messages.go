package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound message types.
const (
	TypeConnected                = "connected"
	TypeError                    = "error"
	TypeInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated          = "response.created"
	TypeResponseAudioDelta       = "response.audio.delta"
	TypeResponseAudioTranscript  = "response.audio_transcript.delta"
	TypeResponseTextDelta        = "response.text.delta"
	TypeResponseCompleted        = "response.completed"
	TypeResponseCanceled         = "response.canceled"
	TypeResponseCancelledAlt     = "response.cancelled"
	TypeSpeechStarted            = "input_audio_buffer.speech_started"
	TypeSpeechStopped            = "input_audio_buffer.speech_stopped"
)

// ServerMessage is one decoded inbound message. The set of implementations is
// closed; anything unrecognised decodes to UnknownMessage.
type ServerMessage interface {
	MessageType() string
}

type ConnectedMessage struct {
	SessionID string
}

type ErrorMessage struct {
	Message string
}

type UserTranscriptMessage struct {
	Transcript string
}

type ResponseCreatedMessage struct {
	ResponseID string
}

type AudioDeltaMessage struct {
	Delta      string
	ResponseID string
}

type TextDeltaMessage struct {
	Type  string
	Delta string
}

type ResponseDoneMessage struct {
	ResponseID string
	Canceled   bool
}

type SpeechStartedMessage struct{}

type SpeechStoppedMessage struct{}

type UnknownMessage struct {
	Type string
}

func (ConnectedMessage) MessageType() string       { return TypeConnected }
func (ErrorMessage) MessageType() string           { return TypeError }
func (UserTranscriptMessage) MessageType() string  { return TypeInputTranscriptCompleted }
func (ResponseCreatedMessage) MessageType() string { return TypeResponseCreated }
func (AudioDeltaMessage) MessageType() string      { return TypeResponseAudioDelta }
func (m TextDeltaMessage) MessageType() string     { return m.Type }
func (SpeechStartedMessage) MessageType() string   { return TypeSpeechStarted }
func (SpeechStoppedMessage) MessageType() string   { return TypeSpeechStopped }
func (m UnknownMessage) MessageType() string       { return m.Type }

func (m ResponseDoneMessage) MessageType() string {
	if m.Canceled {
		return TypeResponseCanceled
	}
	return TypeResponseCompleted
}

type responseRef struct {
	ResponseID string `json:"response_id"`
	Response   *struct {
		ID string `json:"id"`
	} `json:"response"`
}

func (r responseRef) id() string {
	if r.ResponseID != "" {
		return r.ResponseID
	}
	if r.Response != nil {
		return r.Response.ID
	}
	return ""
}

// ParseServerMessage strictly decodes one inbound frame. Known kinds must
// match their expected shape; any failure wraps ErrProtocol.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrProtocol)
	}

	kind := *head.Type
	switch kind {
	case TypeConnected:
		var m struct {
			SessionID string `json:"session_id"`
		}
		if err := decodeAs(kind, data, &m); err != nil {
			return nil, err
		}
		return ConnectedMessage{SessionID: m.SessionID}, nil

	case TypeError:
		var m struct {
			Error json.RawMessage `json:"error"`
		}
		if err := decodeAs(kind, data, &m); err != nil {
			return nil, err
		}
		return ErrorMessage{Message: errorText(m.Error)}, nil

	case TypeInputTranscriptCompleted:
		var m struct {
			Transcript string `json:"transcript"`
		}
		if err := decodeAs(kind, data, &m); err != nil {
			return nil, err
		}
		return UserTranscriptMessage{Transcript: m.Transcript}, nil

	case TypeResponseCreated:
		var m responseRef
		if err := decodeAs(kind, data, &m); err != nil {
			return nil, err
		}
		return ResponseCreatedMessage{ResponseID: m.id()}, nil

	case TypeResponseAudioDelta:
		var m struct {
			responseRef
			Delta string `json:"delta"`
		}
		if err := decodeAs(kind, data, &m); err != nil {
			return nil, err
		}
		return AudioDeltaMessage{Delta: m.Delta, ResponseID: m.id()}, nil

	case TypeResponseAudioTranscript, TypeResponseTextDelta:
		var m struct {
			Delta string `json:"delta"`
		}
		if err := decodeAs(kind, data, &m); err != nil {
			return nil, err
		}
		return TextDeltaMessage{Type: kind, Delta: m.Delta}, nil

	case TypeResponseCompleted, TypeResponseCanceled, TypeResponseCancelledAlt:
		var m responseRef
		if err := decodeAs(kind, data, &m); err != nil {
			return nil, err
		}
		return ResponseDoneMessage{ResponseID: m.id(), Canceled: kind != TypeResponseCompleted}, nil

	case TypeSpeechStarted:
		return SpeechStartedMessage{}, nil

	case TypeSpeechStopped:
		return SpeechStoppedMessage{}, nil
	}

	return UnknownMessage{Type: kind}, nil
}

func decodeAs(kind string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProtocol, kind, err)
	}
	return nil
}

// errorText flattens the relay's error field, which is either a string or an
// object carrying a message.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}
