package realtime

import "errors"

// Error classes surfaced by a session. Concrete errors wrap one of these and
// can be matched with errors.Is.
var (
	// ErrPermission is returned when the capture device cannot be acquired
	ErrPermission = errors.New("audio input permission denied")

	// ErrHandshake is returned when the relay rejects or never acknowledges the session
	ErrHandshake = errors.New("session handshake failed")

	// ErrTransport is returned when the channel fails or closes unexpectedly
	ErrTransport = errors.New("transport failure")

	// ErrProtocol is returned for a malformed inbound message
	ErrProtocol = errors.New("malformed inbound message")

	// ErrPlayback is returned when a single audio chunk cannot be decoded or scheduled
	ErrPlayback = errors.New("audio playback failed")

	// ErrRemote wraps an error message sent by the relay after the handshake
	ErrRemote = errors.New("relay reported error")

	// ErrCredential is returned when no ephemeral credential could be obtained
	ErrCredential = errors.New("ephemeral credential unavailable")

	// ErrNotConnected is returned for operations that need a live session
	ErrNotConnected = errors.New("session not connected")
)
