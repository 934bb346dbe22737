package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

// Recorder writes each assistant response to its own WAV file.
type Recorder struct {
	dir        string
	sampleRate int

	mu      sync.Mutex
	pending map[string][]int16
}

func NewRecorder(dir string, sampleRate int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{
		dir:        dir,
		sampleRate: sampleRate,
		pending:    make(map[string][]int16),
	}, nil
}

// Handle consumes one session event. It returns the path of a file written
// for a finished response, or "".
func (r *Recorder) Handle(ev realtime.Event) (string, error) {
	switch ev.Type {
	case realtime.AssistantAudio:
		p := ev.Data.(realtime.AudioPayload)
		r.mu.Lock()
		r.pending[p.ResponseID] = append(r.pending[p.ResponseID], p.Samples...)
		r.mu.Unlock()

	case realtime.ResponseEnded:
		p := ev.Data.(realtime.ResponsePayload)
		return r.flush(p.ID)
	}
	return "", nil
}

func (r *Recorder) flush(responseID string) (string, error) {
	r.mu.Lock()
	samples := r.pending[responseID]
	delete(r.pending, responseID)
	r.mu.Unlock()

	if len(samples) == 0 {
		return "", nil
	}

	path := filepath.Join(r.dir, recordingName(responseID)+".wav")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	if err := audio.WriteWav(f, samples, r.sampleRate); err != nil {
		f.Close()
		return "", fmt.Errorf("write recording: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close recording: %w", err)
	}
	return path, nil
}

// recordingName keeps relay-supplied ids inside the record dir. Anything
// that is not a plain file name is replaced by a fresh id.
func recordingName(responseID string) string {
	name := filepath.Base(responseID)
	if name != responseID || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return uuid.NewString()
	}
	return name
}
