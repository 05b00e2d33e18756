package transfer

import "time"

// Wire framing constants (normative — see SPEC_FULL.md S4.1).
const (
	// ChunkSize is the fixed payload size for all chunks except possibly the last.
	ChunkSize = 16384
	// BufferThreshold is the outbound buffer-pressure threshold the sender
	// throttles against.
	BufferThreshold = 65536
	// ChunkTag is the one-byte prefix identifying a binary chunk frame.
	ChunkTag = byte(0x43) // 'C'
	// HashHexLen is the length of the hex-encoded SHA-256 hash string.
	HashHexLen = 64
)

// Reserved binary sentinels. None starts with ChunkTag or '{', so the
// demux rule in SPEC_FULL.md S4.1 never confuses a sentinel with a
// chunk or a JSON metadata frame.
var (
	EOFMarker    = []byte("\x00EOF\x00")
	CancelMarker = []byte("\x00CANCEL\x00")
	AckMarker    = []byte("\x00ACK\x00")
	ErrorMarker  = []byte("\x00ERROR\x00")
)

const (
	// BackpressurePollInterval is how often the sender polls
	// Channel.BufferedAmount when no low-water event is available.
	BackpressurePollInterval = 10 * time.Millisecond
	// HashReadBlockSize is the read size used when streaming a file to
	// compute its SHA-256, independent of ChunkSize.
	HashReadBlockSize = 8192
	// DefaultMaxConcurrentPerContact is the default per-peer cap on active
	// senders. Inbound transfers are limited separately to one active
	// receiver per peer.
	DefaultMaxConcurrentPerContact = 3
	// CancelGracePeriod is how long the service awaits a cancelled
	// sender's task before forcing cleanup.
	CancelGracePeriod = 5 * time.Second
)

// MessageType discriminates the JSON metadata frame's "type" field.
// Unknown fields in a metadata frame are ignored (soft rejection);
// a missing or mismatched "type" is a hard ProtocolError.
type MessageType string

// MessageMetadata is the only MessageType currently defined on the wire;
// Ack/Error frames are reserved binary sentinels, not JSON messages.
const MessageMetadata MessageType = "metadata"
