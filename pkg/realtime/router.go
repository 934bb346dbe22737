package realtime

import (
	"fmt"
	"strings"
	"sync"
)

// ResponseLifecycle attributes deltas to the assistant response that
// produced them.
type ResponseLifecycle struct {
	ID         string
	State      ResponseState
	transcript strings.Builder
}

// Transcript returns the assistant text accumulated for the response.
func (r *ResponseLifecycle) Transcript() string {
	return r.transcript.String()
}

// TranscriptDelta is the payload of AssistantTranscriptDelta events.
type TranscriptDelta struct {
	ResponseID string
	Delta      string
}

// Router dispatches inbound messages. It is driven by a single reader.
type Router struct {
	sched       *Scheduler
	interrupter *Interrupter
	emit        func(EventType, interface{})
	logger      Logger

	mu      sync.Mutex
	current *ResponseLifecycle
}

func NewRouter(sched *Scheduler, interrupter *Interrupter, emit func(EventType, interface{}), logger Logger) *Router {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Router{
		sched:       sched,
		interrupter: interrupter,
		emit:        emit,
		logger:      logger,
	}
}

// HandleRaw decodes and dispatches one frame. A malformed frame is reported
// as an ErrProtocol error event and otherwise ignored.
func (r *Router) HandleRaw(data []byte) {
	msg, err := ParseServerMessage(data)
	if err != nil {
		r.logger.Warn("dropping malformed message", "error", err)
		r.emit(ErrorEvent, err)
		return
	}
	r.Dispatch(msg)
}

func (r *Router) Dispatch(msg ServerMessage) {
	switch m := msg.(type) {
	case SpeechStartedMessage:
		r.interrupter.Interrupt()
		r.emit(UserSpeechStarted, nil)

	case SpeechStoppedMessage:
		r.emit(UserSpeechStopped, nil)

	case UserTranscriptMessage:
		if m.Transcript != "" {
			r.emit(UserTranscript, m.Transcript)
		}

	case ResponseCreatedMessage:
		r.mu.Lock()
		if m.ResponseID == "" {
			r.current = nil
		} else {
			r.current = &ResponseLifecycle{ID: m.ResponseID, State: ResponseCreated}
		}
		r.mu.Unlock()
		r.emit(ResponseStarted, ResponsePayload{ID: m.ResponseID, State: ResponseCreated})

	case AudioDeltaMessage:
		if m.Delta == "" {
			return
		}
		id := r.attribute(m.ResponseID)
		payload, err := r.sched.Enqueue(m.Delta, id)
		if err != nil {
			r.logger.Debug("audio chunk dropped", "responseID", id, "error", err)
			r.emit(ErrorEvent, err)
			return
		}
		r.emit(AssistantAudio, payload)

	case TextDeltaMessage:
		if m.Delta == "" {
			return
		}
		r.mu.Lock()
		id := ""
		if r.current != nil {
			id = r.current.ID
			r.current.State = ResponseStreaming
			r.current.transcript.WriteString(m.Delta)
		}
		r.mu.Unlock()
		r.emit(AssistantTranscriptDelta, TranscriptDelta{ResponseID: id, Delta: m.Delta})

	case ResponseDoneMessage:
		r.finishResponse(m)

	case ErrorMessage:
		r.emit(ErrorEvent, fmt.Errorf("%w: %s", ErrRemote, m.Message))

	case ConnectedMessage:
		r.logger.Debug("duplicate connected message ignored", "sessionID", m.SessionID)

	case UnknownMessage:
		r.logger.Debug("ignoring unknown message", "type", m.Type)
	}
}

// attribute resolves the response id of a delta, falling back to the active
// response when the delta carries none.
func (r *Router) attribute(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		if r.current == nil {
			return ""
		}
		r.current.State = ResponseStreaming
		return r.current.ID
	}
	if r.current == nil || r.current.ID != id {
		r.current = &ResponseLifecycle{ID: id}
	}
	r.current.State = ResponseStreaming
	return id
}

func (r *Router) finishResponse(m ResponseDoneMessage) {
	state := ResponseCompleted
	if m.Canceled {
		state = ResponseCanceled
	}

	summary := ResponsePayload{ID: m.ResponseID, State: state}

	r.mu.Lock()
	if r.current != nil && m.ResponseID != "" && r.current.ID == m.ResponseID {
		summary.Transcript = r.current.Transcript()
		r.current.State = state
		r.current = nil
	}
	r.mu.Unlock()

	r.emit(ResponseEnded, summary)
}

// ActiveResponse returns the id of the response deltas are attributed to.
func (r *Router) ActiveResponse() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.ID
}
