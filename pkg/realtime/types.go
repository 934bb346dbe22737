package realtime

import "time"

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// ConnectionState is the lifecycle state of a session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Mode selects the relay-side conversation behaviour.
type Mode string

const (
	ModeFormCreation Mode = "form_creation"
	ModeFormFilling  Mode = "form_filling"
)

// ResponseState tracks an assistant response for delta attribution.
type ResponseState string

const (
	ResponseCreated   ResponseState = "created"
	ResponseStreaming ResponseState = "streaming"
	ResponseCompleted ResponseState = "completed"
	ResponseCanceled  ResponseState = "canceled"
)

type EventType string

const (
	ConnectionStateChanged   EventType = "CONNECTION_STATE"
	SessionStarted           EventType = "SESSION_STARTED"
	RecordingStarted         EventType = "RECORDING_STARTED"
	RecordingStopped         EventType = "RECORDING_STOPPED"
	UserTranscript           EventType = "USER_TRANSCRIPT"
	UserSpeechStarted        EventType = "USER_SPEECH_STARTED"
	UserSpeechStopped        EventType = "USER_SPEECH_STOPPED"
	AssistantTranscriptDelta EventType = "ASSISTANT_TRANSCRIPT_DELTA"
	// AssistantAudio carries an AudioPayload for every chunk scheduled for playback
	AssistantAudio  EventType = "ASSISTANT_AUDIO"
	ResponseStarted EventType = "RESPONSE_STARTED"
	ResponseEnded   EventType = "RESPONSE_ENDED"
	Interrupted     EventType = "INTERRUPTED"
	ErrorEvent      EventType = "ERROR"
)

// Event is delivered to the host on Client.Events.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// AudioPayload describes one decoded assistant audio chunk.
type AudioPayload struct {
	ResponseID string
	Samples    []int16
	Start      time.Duration
	Duration   time.Duration
}

// ResponsePayload is attached to ResponseStarted and ResponseEnded events.
// Transcript is only set on ResponseEnded.
type ResponsePayload struct {
	ID         string
	State      ResponseState
	Transcript string
}

type Config struct {
	// ServerURL is the base URL of the credential endpoint.
	ServerURL string
	// RelayURL is the WebSocket endpoint of the relay.
	RelayURL string

	Mode Mode
	// Questions are forwarded to the relay verbatim in the connect envelope.
	Questions []interface{}

	SampleRate int
	// FrameSize is the number of samples per outbound audio frame.
	FrameSize int

	AutoStartRecording bool
	HandshakeTimeout   time.Duration

	NoiseSuppression bool
	EchoCancellation bool
	AutoGainControl  bool

	// LocalBargeIn interrupts playback as soon as the local detector hears
	// speech, without waiting for the relay's speech_started event.
	LocalBargeIn      bool
	VADThreshold      float64
	VADEchoThreshold  float64
	VADSilenceTimeout time.Duration
	// EchoCorrelation is the correlation with recently played audio above
	// which a detected speech start is treated as echo.
	EchoCorrelation   float64

	OutboundQueueSize int
	EventBufferSize   int
}

func DefaultConfig() Config {
	return Config{
		ServerURL:          "http://localhost:3001",
		RelayURL:           "ws://localhost:3001/ws",
		Mode:               ModeFormCreation,
		SampleRate:         24000,
		FrameSize:          4096,
		AutoStartRecording: true,
		HandshakeTimeout:   10 * time.Second,
		NoiseSuppression:   true,
		EchoCancellation:   true,
		AutoGainControl:    true,
		VADThreshold:       0.02,
		VADEchoThreshold:   0.15,
		VADSilenceTimeout:  500 * time.Millisecond,
		EchoCorrelation:    0.55,
		OutboundQueueSize:  64,
		EventBufferSize:    1024,
	}
}
