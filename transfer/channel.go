package transfer

// Channel is the capability set a peer data channel must expose (SPEC_FULL.md
// S6). It models a bidirectional, ordered, reliable, message-preserving
// transport — the properties a WebRTC RTCDataChannel provides.
type Channel interface {
	// Send enqueues a single message (binary or text) and returns
	// immediately; it does not block for the message to reach the wire.
	Send(data []byte) error
	// BufferedAmount returns the number of queued bytes not yet flushed
	// to the wire.
	BufferedAmount() uint64
	// OnMessage registers the callback invoked for each inbound message,
	// delivered one at a time and in order.
	OnMessage(func(data []byte))
}

// LowWaterChannel is an optional capability: a Channel that can notify
// the sender when BufferedAmount drops to or below a threshold, instead
// of requiring the sender to poll. SPEC_FULL.md S4.3/S9.3: implementers
// whose channel exposes such an event should prefer it.
type LowWaterChannel interface {
	Channel
	// SetLowWaterMark arms a one-shot-per-call notification: onLow is
	// invoked the next time BufferedAmount falls to or below threshold.
	SetLowWaterMark(threshold uint64, onLow func())
}
