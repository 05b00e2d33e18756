package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// hashHexPattern matches a lowercase hex-encoded SHA-256 digest
// (SPEC_FULL.md S4.4's metadata-acceptance rule).
var hashHexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FrameKind classifies an inbound wire message for HandleIncoming's
// demux (SPEC_FULL.md S4.1), mirroring original_source's
// handle_incoming_message dispatch.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameMetadata
	FrameChunk
	FrameEOF
	FrameCancel
	FrameAck
	FrameError
)

// ClassifyFrame determines what kind of frame data represents. The
// sentinel markers are checked first since they are short, fixed byte
// strings; a leading '{' is JSON metadata; a leading ChunkTag is a
// binary chunk; anything else is dropped as unknown.
func ClassifyFrame(data []byte) FrameKind {
	switch {
	case bytes.Equal(data, EOFMarker):
		return FrameEOF
	case bytes.Equal(data, CancelMarker):
		return FrameCancel
	case bytes.Equal(data, AckMarker):
		return FrameAck
	case bytes.Equal(data, ErrorMarker):
		return FrameError
	case len(data) > 0 && data[0] == '{':
		return FrameMetadata
	case len(data) > 0 && data[0] == ChunkTag:
		return FrameChunk
	default:
		return FrameUnknown
	}
}

// EncodeMetadata marshals a FileMetadata frame for the wire.
func EncodeMetadata(m FileMetadata) ([]byte, error) {
	type wire struct {
		Type MessageType `json:"type"`
		FileMetadata
	}
	return json.Marshal(wire{Type: MessageMetadata, FileMetadata: m})
}

// DecodeMetadata parses and strictly validates a Metadata frame. Unknown
// fields are ignored; a missing or mismatched "type", an empty filename,
// a hash_hex that is not 64 lowercase hex characters, or an empty
// transfer_id are hard protocol violations (SPEC_FULL.md S4.1, S4.4).
func DecodeMetadata(data []byte) (*FileMetadata, error) {
	var wire struct {
		Type MessageType `json:"type"`
		FileMetadata
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed metadata json: %v", ErrProtocolViolation, err)
	}
	if wire.Type != MessageMetadata {
		return nil, fmt.Errorf("%w: unexpected metadata type %q", ErrProtocolViolation, wire.Type)
	}
	if wire.Filename == "" {
		return nil, fmt.Errorf("%w: metadata missing filename", ErrProtocolViolation)
	}
	if len(wire.HashHex) != HashHexLen {
		return nil, fmt.Errorf("%w: metadata hash_hex has length %d, want %d", ErrProtocolViolation, len(wire.HashHex), HashHexLen)
	}
	if !hashHexPattern.MatchString(wire.HashHex) {
		return nil, fmt.Errorf("%w: metadata hash_hex is not lowercase hex", ErrProtocolViolation)
	}
	if wire.TransferID == "" {
		return nil, fmt.Errorf("%w: metadata missing transfer_id", ErrProtocolViolation)
	}
	meta := wire.FileMetadata
	return &meta, nil
}

// EncodeChunk frames a chunk payload as ChunkTag || data.
func EncodeChunk(data []byte) []byte {
	out := make([]byte, 1+len(data))
	out[0] = ChunkTag
	copy(out[1:], data)
	return out
}

// DecodeChunk strips the ChunkTag prefix added by EncodeChunk.
func DecodeChunk(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != ChunkTag {
		return nil, fmt.Errorf("%w: not a chunk frame", ErrProtocolViolation)
	}
	return data[1:], nil
}
