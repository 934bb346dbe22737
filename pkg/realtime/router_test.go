package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordedEvent struct {
	Type EventType
	Data interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) emit(t EventType, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: t, Data: data})
}

func (r *eventRecorder) ofType(t EventType) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRouter() (*Router, *Scheduler, *MockOutput, *eventRecorder) {
	out := NewMockOutput(0)
	sched := NewScheduler(out.Factory(), 24000, nil)
	rec := &eventRecorder{}
	in := NewInterrupter(sched, func(stopped int) { rec.emit(Interrupted, stopped) })
	return NewRouter(sched, in, rec.emit, nil), sched, out, rec
}

func TestRouter_AttributesDeltasToActiveResponse(t *testing.T) {
	r, _, _, rec := newTestRouter()

	r.HandleRaw([]byte(`{"type":"response.created","response":{"id":"r1"}}`))
	r.HandleRaw([]byte(fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`, chunk(240))))
	r.HandleRaw([]byte(`{"type":"response.audio_transcript.delta","delta":"Hi"}`))
	r.HandleRaw([]byte(`{"type":"response.text.delta","delta":" there"}`))

	if r.ActiveResponse() != "r1" {
		t.Fatalf("Expected active response r1, got %q", r.ActiveResponse())
	}

	audio := rec.ofType(AssistantAudio)
	if len(audio) != 1 {
		t.Fatalf("Expected 1 audio event, got %d", len(audio))
	}
	if p := audio[0].Data.(AudioPayload); p.ResponseID != "r1" {
		t.Errorf("Expected audio attributed to r1, got %q", p.ResponseID)
	}

	text := rec.ofType(AssistantTranscriptDelta)
	if len(text) != 2 || text[0].Data.(TranscriptDelta).ResponseID != "r1" {
		t.Errorf("Expected 2 transcript deltas for r1, got %+v", text)
	}

	r.HandleRaw([]byte(`{"type":"response.completed","response_id":"r1"}`))
	if r.ActiveResponse() != "" {
		t.Errorf("Expected no active response after completion, got %q", r.ActiveResponse())
	}

	ended := rec.ofType(ResponseEnded)
	if len(ended) != 1 {
		t.Fatalf("Expected 1 ResponseEnded, got %d", len(ended))
	}
	p := ended[0].Data.(ResponsePayload)
	if p.State != ResponseCompleted || p.Transcript != "Hi there" {
		t.Errorf("Unexpected ended payload: %+v", p)
	}
}

func TestRouter_CompletionOfOtherResponseKeepsActive(t *testing.T) {
	r, _, _, rec := newTestRouter()

	r.HandleRaw([]byte(`{"type":"response.created","response_id":"r2"}`))
	r.HandleRaw([]byte(`{"type":"response.cancelled","response_id":"r1"}`))

	if r.ActiveResponse() != "r2" {
		t.Errorf("Expected r2 to stay active, got %q", r.ActiveResponse())
	}
	ended := rec.ofType(ResponseEnded)
	if len(ended) != 1 || ended[0].Data.(ResponsePayload).State != ResponseCanceled {
		t.Errorf("Expected one canceled ResponseEnded, got %+v", ended)
	}
}

func TestRouter_MalformedMessageDoesNotStopRouting(t *testing.T) {
	r, _, _, rec := newTestRouter()

	r.HandleRaw([]byte(`{not json`))
	r.HandleRaw([]byte(`{"delta":"no type"}`))
	r.HandleRaw([]byte(`{"type":"response.audio.delta","delta":42}`))
	r.HandleRaw([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello"}`))

	errs := rec.ofType(ErrorEvent)
	if len(errs) != 3 {
		t.Fatalf("Expected 3 protocol errors, got %d", len(errs))
	}
	for _, ev := range errs {
		if !errors.Is(ev.Data.(error), ErrProtocol) {
			t.Errorf("Expected ErrProtocol, got %v", ev.Data)
		}
	}

	transcripts := rec.ofType(UserTranscript)
	if len(transcripts) != 1 || transcripts[0].Data != "hello" {
		t.Errorf("Expected the valid message after the bad ones to route, got %+v", transcripts)
	}
}

func TestRouter_SpeechStartedInterruptsBeforeNotifying(t *testing.T) {
	r, sched, _, rec := newTestRouter()

	for i := 0; i < 3; i++ {
		r.HandleRaw([]byte(fmt.Sprintf(`{"type":"response.audio.delta","response_id":"r1","delta":%q}`, chunk(2400))))
	}
	if !sched.Speaking() {
		t.Fatal("Expected assistant to be speaking")
	}

	r.HandleRaw([]byte(`{"type":"input_audio_buffer.speech_started"}`))

	if sched.Speaking() || len(sched.Units()) != 0 {
		t.Error("Expected playback cleared by speech_started")
	}

	var order []EventType
	for _, ev := range rec.events {
		if ev.Type == Interrupted || ev.Type == UserSpeechStarted {
			order = append(order, ev.Type)
		}
	}
	if len(order) != 2 || order[0] != Interrupted || order[1] != UserSpeechStarted {
		t.Errorf("Expected Interrupted then UserSpeechStarted, got %v", order)
	}
	if n := rec.ofType(Interrupted)[0].Data.(int); n != 3 {
		t.Errorf("Expected 3 units stopped, got %d", n)
	}
}

func TestRouter_PlaybackErrorIsIsolated(t *testing.T) {
	r, sched, out, rec := newTestRouter()

	r.HandleRaw([]byte(`{"type":"response.audio.delta","delta":"%%%"}`))
	r.HandleRaw([]byte(fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`, chunk(2400))))

	errs := rec.ofType(ErrorEvent)
	if len(errs) != 1 || !errors.Is(errs[0].Data.(error), ErrPlayback) {
		t.Fatalf("Expected one ErrPlayback, got %+v", errs)
	}
	if len(out.Handles()) != 1 || sched.Cursor() != 100*time.Millisecond {
		t.Errorf("Expected the good chunk scheduled at 0, cursor %v", sched.Cursor())
	}
}

func TestRouter_RemoteError(t *testing.T) {
	r, _, _, rec := newTestRouter()

	r.HandleRaw([]byte(`{"type":"error","error":{"message":"rate limited"}}`))
	r.HandleRaw([]byte(`{"type":"session.updated"}`))

	errs := rec.ofType(ErrorEvent)
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error event, got %d", len(errs))
	}
	err := errs[0].Data.(error)
	if !errors.Is(err, ErrRemote) || err.Error() != "relay reported error: rate limited" {
		t.Errorf("Unexpected remote error: %v", err)
	}
}
