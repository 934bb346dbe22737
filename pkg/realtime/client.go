package realtime

import (
	"context"
	"sync"
)

// Options wires the collaborators of a Client. Zero values fall back to the
// HTTP credential endpoint, the WebSocket dialer and a no-op logger. Without
// NewInput recording fails with ErrPermission; without NewOutput every audio
// chunk fails with ErrPlayback.
type Options struct {
	Credentials CredentialSource
	Dialer      Dialer
	// NewInput is called once per session.
	NewInput  func() InputDevice
	NewOutput OutputFactory
	Logger    Logger
}

// Client is the host-facing handle. It owns at most one live Session and
// delivers everything that happens on it through Events.
type Client struct {
	cfg  Config
	opts Options

	events chan Event
	done   chan struct{}

	emitMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once

	connectMu sync.Mutex
	mu        sync.Mutex
	session   *Session
}

func NewClient(cfg Config, opts Options) *Client {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 1024
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = &NoOpLogger{}
	}
	if opts.Credentials == nil {
		opts.Credentials = NewHTTPCredentialSource(cfg.ServerURL)
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}

	return &Client{
		cfg:    cfg,
		opts:   opts,
		events: make(chan Event, cfg.EventBufferSize),
		done:   make(chan struct{}),
	}
}

// Events returns the event stream. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// emit never drops events. It blocks until the host reads, ctx is done or the
// client is closed.
func (c *Client) emit(ctx context.Context, event Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.events <- event:
		return
	default:
	}

	select {
	case c.events <- event:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Client) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) State() ConnectionState {
	s := c.current()
	if s == nil {
		return StateDisconnected
	}
	return s.State()
}

func (c *Client) SessionID() string {
	s := c.current()
	if s == nil {
		return ""
	}
	return s.ID()
}

// Connect opens a new session and blocks until the relay acknowledges it.
// A live session is torn down first. Failures wrap ErrHandshake.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	if old := c.current(); old != nil {
		old.Close()
	}

	s := newSession(c.cfg, c.opts, c.emit)
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	return s.connect(ctx)
}

// Disconnect ends the live session, if any. Teardown events that the host
// does not read within a short bound are dropped, so Disconnect may be called
// from the Events reader.
func (c *Client) Disconnect() error {
	if s := c.current(); s != nil {
		s.Close()
	}
	return nil
}

func (c *Client) StartRecording(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}
	return s.StartRecording(ctx)
}

func (c *Client) StopRecording() error {
	s := c.current()
	if s == nil {
		return nil
	}
	return s.StopRecording()
}

// InterruptPlayback cancels all assistant audio and returns how many
// buffers were stopped.
func (c *Client) InterruptPlayback() int {
	s := c.current()
	if s == nil {
		return 0
	}
	return s.InterruptPlayback()
}

func (c *Client) Recording() bool {
	s := c.current()
	return s != nil && s.Recording()
}

func (c *Client) AssistantSpeaking() bool {
	s := c.current()
	return s != nil && s.AssistantSpeaking()
}

// Close disconnects and closes the event stream. The client cannot be
// reused.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		// unblocks a handshake in flight, which holds connectMu
		c.Disconnect()

		c.connectMu.Lock()
		c.Disconnect()
		c.connectMu.Unlock()

		c.emitMu.Lock()
		c.closed = true
		close(c.events)
		c.emitMu.Unlock()
	})
	return nil
}
