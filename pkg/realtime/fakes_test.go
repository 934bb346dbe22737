package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type MockOutput struct {
	mu        sync.Mutex
	now       time.Duration
	state     OutputState
	handles   []*MockHandle
	resumes   int
	suspends  int
	resumeErr error
	closed    bool
}

func NewMockOutput(now time.Duration) *MockOutput {
	return &MockOutput{now: now, state: OutputRunning}
}

func (o *MockOutput) Factory() OutputFactory {
	return func(int) (OutputDevice, error) { return o, nil }
}

func (o *MockOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *MockOutput) SetNow(now time.Duration) {
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

func (o *MockOutput) State() OutputState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *MockOutput) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resumes++
	if o.resumeErr != nil {
		return o.resumeErr
	}
	o.state = OutputRunning
	return nil
}

func (o *MockOutput) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suspends++
	o.state = OutputSuspended
	return nil
}

func (o *MockOutput) Schedule(samples []float32, at time.Duration, onEnded func()) (PlaybackHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &MockHandle{samples: len(samples), at: at, onEnded: onEnded, stoppedAt: -1}
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *MockOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.state = OutputClosed
	return nil
}

func (o *MockOutput) Handles() []*MockHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*MockHandle(nil), o.handles...)
}

func (o *MockOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// FinishAll plays every scheduled buffer to its end, like the device thread.
func (o *MockOutput) FinishAll() {
	for _, h := range o.Handles() {
		h.finish()
	}
}

type MockHandle struct {
	mu        sync.Mutex
	samples   int
	at        time.Duration
	stoppedAt time.Duration
	released  bool
	onEnded   func()
}

func (h *MockHandle) Stop(at time.Duration) {
	h.mu.Lock()
	h.stoppedAt = at
	h.mu.Unlock()
}

func (h *MockHandle) Release() {
	h.mu.Lock()
	h.released = true
	h.mu.Unlock()
}

func (h *MockHandle) finish() {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if !released && h.onEnded != nil {
		h.onEnded()
	}
}

type MockInput struct {
	mu          sync.Mutex
	openErr     error
	onSamples   func([]float32)
	constraints CaptureConstraints
	opens       int
	closes      int
}

func (i *MockInput) Open(ctx context.Context, c CaptureConstraints, onSamples func([]float32)) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.openErr != nil {
		return i.openErr
	}
	i.opens++
	i.constraints = c
	i.onSamples = onSamples
	return nil
}

func (i *MockInput) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closes++
	i.onSamples = nil
	return nil
}

// Push delivers samples as the device thread would. Nothing happens while
// the device is closed.
func (i *MockInput) Push(samples []float32) {
	i.mu.Lock()
	cb := i.onSamples
	i.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

func (i *MockInput) Counts() (opens, closes int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.opens, i.closes
}

// BlockingInput holds Open until Release, like a permission prompt the user
// has not answered yet.
type BlockingInput struct {
	MockInput
	entered chan struct{}
	release chan struct{}
}

func NewBlockingInput() *BlockingInput {
	return &BlockingInput{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *BlockingInput) Open(ctx context.Context, c CaptureConstraints, onSamples func([]float32)) error {
	close(b.entered)
	<-b.release
	return b.MockInput.Open(ctx, c, onSamples)
}

func (b *BlockingInput) Release() {
	close(b.release)
}

type MockCredentials struct {
	cred  Credential
	err   error
	calls int
}

func (m *MockCredentials) Credential(ctx context.Context) (Credential, error) {
	m.calls++
	return m.cred, m.err
}

// MockChannel is an in-memory relay connection. Inbound frames are queued
// with Deliver; outbound writes are recorded as JSON.
type MockChannel struct {
	inbound chan []byte
	done    chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closeErr  error
	closed    bool
	closeOnce sync.Once
}

func NewMockChannel() *MockChannel {
	return &MockChannel{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *MockChannel) Deliver(raw string) {
	c.inbound <- []byte(raw)
}

func (c *MockChannel) Write(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed channel")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *MockChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *MockChannel) Close(reason string) error {
	c.end(websocket.CloseError{Code: websocket.StatusNormalClosure, Reason: reason})
	return nil
}

// RemoteClose ends the channel from the relay side with err.
func (c *MockChannel) RemoteClose(err error) {
	c.end(err)
}

func (c *MockChannel) end(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *MockChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Written returns the decoded outbound messages with the given type.
func (c *MockChannel) Written(msgType string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]interface{}
	for _, data := range c.written {
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

type MockDialer struct {
	mu       sync.Mutex
	channels []*MockChannel
	err      error
	urls     []string
}

func (d *MockDialer) Dial(ctx context.Context, url string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.channels) == 0 {
		return nil, errors.New("no channel prepared")
	}
	ch := d.channels[0]
	d.channels = d.channels[1:]
	return ch, nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// waitForEvent skips events until one of type want arrives.
func waitForEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// drainEvents collects whatever is buffered without blocking.
func drainEvents(events <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func tone(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}
