package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type eventSink func(ctx context.Context, event Event)

// teardownEmitTimeout bounds the events emitted during teardown when the host
// is not reading, e.g. when Disconnect is called from the Events reader.
var teardownEmitTimeout = 2 * time.Second

// Session is one connection to the relay, from handshake to teardown. It owns
// its capture, channel, router, scheduler and interrupter; nothing is shared
// between sessions.
type Session struct {
	cfg         Config
	credentials CredentialSource
	dialer      Dialer
	logger      Logger
	sink        eventSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	id        string
	state     ConnectionState
	recording bool
	channel   Channel

	capture     *Capture
	sched       *Scheduler
	interrupter *Interrupter
	router      *Router

	vadMu sync.Mutex
	vad   *RMSVAD
	echo  *EchoGuard

	outbound chan []int16
	starting atomic.Bool
	shutdown sync.Once
}

func newSession(cfg Config, opts Options, sink eventSink) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:         cfg,
		credentials: opts.Credentials,
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		sink:        sink,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateDisconnected,
		outbound:    make(chan []int16, cfg.OutboundQueueSize),
	}

	var input InputDevice
	if opts.NewInput != nil {
		input = opts.NewInput()
	}
	s.capture = NewCapture(input, CaptureConstraints{
		SampleRate:       cfg.SampleRate,
		Channels:         1,
		NoiseSuppression: cfg.NoiseSuppression,
		EchoCancellation: cfg.EchoCancellation,
		AutoGainControl:  cfg.AutoGainControl,
	}, cfg.FrameSize, s.sendFrame)

	s.sched = NewScheduler(opts.NewOutput, cfg.SampleRate, opts.Logger)
	if cfg.LocalBargeIn {
		s.vad = NewRMSVAD(cfg.VADThreshold, cfg.VADSilenceTimeout)
		s.echo = NewEchoGuard(cfg.SampleRate)
		if cfg.EchoCorrelation > 0 {
			s.echo.SetThreshold(cfg.EchoCorrelation)
		}
	}

	s.interrupter = NewInterrupter(s.sched, func(stopped int) {
		if s.echo != nil {
			s.echo.Clear()
		}
		s.emit(s.ctx, Interrupted, stopped)
	})
	s.router = NewRouter(s.sched, s.interrupter, func(t EventType, data interface{}) {
		if t == AssistantAudio && s.echo != nil {
			s.echo.RecordPlayed(data.(AudioPayload).Samples)
		}
		s.emit(s.ctx, t, data)
	}, opts.Logger)
	return s
}

// ID returns the relay-assigned session id, or a generated one when the relay
// did not provide any. Empty before the handshake completes.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// AssistantSpeaking reports whether any assistant audio is scheduled or
// playing.
func (s *Session) AssistantSpeaking() bool {
	return s.sched.Speaking()
}

func (s *Session) emit(ctx context.Context, t EventType, data interface{}) {
	s.sink(ctx, Event{Type: t, SessionID: s.ID(), Data: data})
}

func (s *Session) setState(ctx context.Context, state ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("connection state changed", "state", state)
	s.emit(ctx, ConnectionStateChanged, state)
}

// connect runs the handshake. On success the reader and writer are running
// and, if configured, capture has been started once.
func (s *Session) connect(ctx context.Context) error {
	s.setState(s.ctx, StateConnecting)

	channel, id, err := s.handshake(ctx)
	if err != nil {
		s.logger.Error("handshake failed", "error", err)
		s.teardown(StateError, err)
		return err
	}

	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	s.id = id
	s.channel = channel
	s.mu.Unlock()

	// teardown may have run while we were blocked in the handshake
	if s.ctx.Err() != nil {
		channel.Close("session closed")
		return fmt.Errorf("%w: session closed during handshake", ErrHandshake)
	}

	s.setState(s.ctx, StateConnected)
	s.logger.Info("session started", "sessionID", id, "mode", s.cfg.Mode)
	s.emit(s.ctx, SessionStarted, id)

	s.wg.Add(2)
	go s.writeLoop(channel)
	go s.readLoop(channel)

	if s.cfg.AutoStartRecording {
		if err := s.StartRecording(ctx); err != nil {
			s.logger.Warn("auto-start recording failed", "error", err)
		}
	}
	return nil
}

func (s *Session) handshake(ctx context.Context) (Channel, string, error) {
	cred, err := s.credentials.Credential(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if cred.Token == "" {
		return nil, "", fmt.Errorf("%w: %w: empty token", ErrHandshake, ErrCredential)
	}
	if !cred.ExpiresAt.IsZero() && time.Now().After(cred.ExpiresAt) {
		return nil, "", fmt.Errorf("%w: %w: token expired at %s", ErrHandshake, ErrCredential, cred.ExpiresAt.Format(time.RFC3339))
	}

	channel, err := s.dialer.Dial(ctx, s.cfg.RelayURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	// stored so a concurrent teardown can release it mid-handshake
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	hctx, cancel := s.handshakeContext(ctx)
	defer cancel()

	if err := channel.Write(hctx, NewConnectMessage(cred.Token, s.cfg.Mode, s.cfg.Questions)); err != nil {
		channel.Close("handshake failed")
		return nil, "", fmt.Errorf("%w: send connect: %w", ErrHandshake, err)
	}

	for {
		data, err := channel.Read(hctx)
		if err != nil {
			channel.Close("handshake failed")
			if errors.Is(hctx.Err(), context.DeadlineExceeded) {
				return nil, "", fmt.Errorf("%w: no acknowledgment within %s", ErrHandshake, s.cfg.HandshakeTimeout)
			}
			return nil, "", fmt.Errorf("%w: channel closed before acknowledgment: %v", ErrHandshake, err)
		}

		msg, err := ParseServerMessage(data)
		if err != nil {
			s.logger.Warn("dropping malformed message during handshake", "error", err)
			s.emit(s.ctx, ErrorEvent, err)
			continue
		}

		switch m := msg.(type) {
		case ConnectedMessage:
			return channel, m.SessionID, nil
		case ErrorMessage:
			channel.Close("handshake rejected")
			return nil, "", fmt.Errorf("%w: relay rejected session: %s", ErrHandshake, m.Message)
		default:
			s.router.Dispatch(msg)
		}
	}
}

func (s *Session) handshakeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	if s.cfg.HandshakeTimeout <= 0 {
		return ctx, func() { stop(); cancel() }
	}
	tctx, tcancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	return tctx, func() { stop(); tcancel(); cancel() }
}

func (s *Session) readLoop(channel Channel) {
	defer s.wg.Done()

	for {
		data, err := channel.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if isNormalClose(err) {
				s.logger.Info("relay closed the session")
				s.teardown(StateDisconnected, nil)
				return
			}
			s.logger.Error("relay channel failed", "error", err)
			s.teardown(StateError, fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		s.router.HandleRaw(data)
	}
}

// writeLoop is the single writer of audio frames, so frames leave in
// capture order.
func (s *Session) writeLoop(channel Channel) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.outbound:
			if err := channel.Write(s.ctx, NewAppendAudioMessage(frame)); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Error("failed to send audio frame", "error", err)
				s.teardown(StateError, err)
				return
			}
		}
	}
}

// sendFrame is the capture callback. Frames are only emitted while the
// session is connected and recording.
func (s *Session) sendFrame(frame []int16) {
	s.mu.Lock()
	open := s.state == StateConnected && s.recording
	s.mu.Unlock()
	if !open {
		return
	}

	if s.vad != nil {
		s.detectSpeech(frame)
	}

	select {
	case s.outbound <- frame:
	default:
		s.logger.Debug("outbound queue full, dropping audio frame", "samples", len(frame))
	}
}

// detectSpeech runs the local detector for barge-in. While assistant audio is
// playing the threshold is raised, and a detected start that correlates with
// the played audio is discarded as echo.
func (s *Session) detectSpeech(frame []int16) {
	speaking := s.sched.Speaking()

	s.vadMu.Lock()
	threshold := s.cfg.VADThreshold
	if speaking {
		threshold = s.cfg.VADEchoThreshold
	}
	s.vad.SetThreshold(threshold)
	ev := s.vad.Process(frame)
	rms := s.vad.LastRMS()
	if ev != nil && ev.Type == VADSpeechStart && speaking && s.echo.IsEcho(frame) {
		s.vad.Reset()
		ev = nil
		s.logger.Debug("speech start rejected as echo", "rms", rms)
	}
	s.vadMu.Unlock()

	if ev != nil && ev.Type == VADSpeechStart {
		s.logger.Debug("local speech detected", "rms", rms)
		s.interrupter.Interrupt()
	}
}

// StartRecording acquires the microphone and enables frame emission. A
// concurrent call while one is in progress returns immediately.
func (s *Session) StartRecording(ctx context.Context) error {
	if !s.starting.CompareAndSwap(false, true) {
		return nil
	}
	defer s.starting.Store(false)

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.recording {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.capture.Start(ctx); err != nil {
		s.logger.Warn("failed to start capture", "error", err)
		s.emit(s.ctx, ErrorEvent, err)
		return err
	}

	// teardown cancels s.ctx before releasing capture, so a session that
	// began closing while the device was opening must release it here
	s.mu.Lock()
	if s.state != StateConnected || s.ctx.Err() != nil {
		s.mu.Unlock()
		s.capture.Stop()
		return ErrNotConnected
	}
	s.recording = true
	s.mu.Unlock()

	if s.vad != nil {
		s.vadMu.Lock()
		s.vad.Reset()
		s.vadMu.Unlock()
	}

	s.emit(s.ctx, RecordingStarted, nil)
	return nil
}

// StopRecording releases the microphone. The session stays connected.
func (s *Session) StopRecording() error {
	return s.stopRecording(s.ctx)
}

func (s *Session) stopRecording(ctx context.Context) error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil
	}
	s.recording = false
	s.mu.Unlock()

	err := s.capture.Stop()
	s.emit(ctx, RecordingStopped, nil)
	return err
}

// InterruptPlayback cancels all assistant audio, as a barge-in would.
func (s *Session) InterruptPlayback() int {
	return s.interrupter.Interrupt()
}

// Close tears the session down and waits for its goroutines.
func (s *Session) Close() {
	s.teardown(StateDisconnected, nil)
	s.wg.Wait()
}

// teardown runs once per session, whichever side ends it first.
func (s *Session) teardown(final ConnectionState, cause error) {
	s.shutdown.Do(func() {
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), teardownEmitTimeout)
		defer cancel()

		if err := s.stopRecording(ctx); err != nil {
			s.logger.Debug("capture stop failed", "error", err)
		}
		if stopped := s.interrupter.cancelAll(); stopped > 0 {
			s.logger.Debug("playback canceled on teardown", "units", stopped)
		}
		if err := s.sched.Close(); err != nil {
			s.logger.Debug("output close failed", "error", err)
		}

		s.mu.Lock()
		channel := s.channel
		s.mu.Unlock()
		if channel != nil {
			channel.Close("client disconnect")
		}

		if cause != nil {
			s.emit(ctx, ErrorEvent, cause)
		}
		s.setState(ctx, final)
	})
}
