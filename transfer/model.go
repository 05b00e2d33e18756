package transfer

import (
	"time"

	"github.com/google/uuid"
)

// TransferID is an opaque, globally-unique transfer identifier, stable
// for a transfer's lifetime and across resume.
type TransferID string

// NewTransferID mints a fresh random TransferID.
func NewTransferID() TransferID {
	return TransferID(uuid.New().String())
}

// PeerID identifies the remote end of a data channel. The core treats it
// as an opaque comparable value; callers own its meaning.
type PeerID uint64

// TransferDirection is Send or Receive.
type TransferDirection string

const (
	DirectionSend    TransferDirection = "send"
	DirectionReceive TransferDirection = "receive"
)

// TransferState is the lifecycle state of one transfer.
type TransferState string

const (
	StatePending   TransferState = "pending"
	StateActive    TransferState = "active"
	StatePaused    TransferState = "paused"
	StateComplete  TransferState = "complete"
	StateCancelled TransferState = "cancelled"
	StateFailed    TransferState = "failed"
)

// IsTerminal reports whether the state is one of Complete, Cancelled, Failed.
func (s TransferState) IsTerminal() bool {
	switch s {
	case StateComplete, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// FileMetadata is the wire representation sent as the Metadata frame.
type FileMetadata struct {
	TransferID TransferID `json:"transfer_id"`
	Filename   string     `json:"filename"`
	SizeBytes  uint64     `json:"size_bytes"`
	HashHex    string     `json:"hash_hex"`
	MimeType   string     `json:"mime_type"`
}

// Chunk is one fixed-size (or tail-sized) payload segment as transmitted
// on the wire. TransferID is implicit on the wire (the active receiver),
// and is carried here only for in-process bookkeeping.
type Chunk struct {
	TransferID TransferID
	Offset     uint64
	Bytes      []byte
	IsLast     bool
}

// TransferProgress is a point-in-time snapshot of a transfer's state.
type TransferProgress struct {
	TransferID       TransferID
	BytesTransferred uint64
	TotalBytes       uint64
	State            TransferState
	SpeedBps         float64
	ETASeconds       float64
}

// computeProgress derives speed and ETA from elapsed wall time, per
// SPEC_FULL.md S3: speed is a moving estimate over transfer elapsed
// time; eta is (total-transferred)/speed when speed>0, else 0.
func computeProgress(id TransferID, transferred, total uint64, state TransferState, start, now time.Time) TransferProgress {
	elapsed := now.Sub(start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(transferred) / elapsed
	}
	var eta float64
	if speed > 0 && total > transferred {
		eta = float64(total-transferred) / speed
	}
	return TransferProgress{
		TransferID:       id,
		BytesTransferred: transferred,
		TotalBytes:       total,
		State:            state,
		SpeedBps:         speed,
		ETASeconds:       eta,
	}
}

// PersistedTransfer is the row owned by a ProgressStore.
type PersistedTransfer struct {
	TransferID       TransferID
	PeerID           PeerID
	Direction        TransferDirection
	Filename         string
	SizeBytes        uint64
	HashHex          string
	BytesTransferred uint64
	State            TransferState
	CreatedAt        time.Time
}
