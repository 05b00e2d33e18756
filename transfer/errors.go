package transfer

import (
	"errors"
	"fmt"
)

// Error taxonomy (SPEC_FULL.md S7). Callers match with errors.Is against
// these sentinels; TransferError carries the per-transfer context.
var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	ErrIO                = errors.New("io error")
	ErrChannelClosed     = errors.New("channel error")
	ErrTooManyConcurrent = errors.New("too many concurrent transfers")
	ErrCancelled         = errors.New("transfer cancelled")
	ErrStorage           = errors.New("storage error")
)

// TransferError wraps a taxonomy sentinel with transfer-specific context.
type TransferError struct {
	Kind       error
	TransferID TransferID
	PeerID     PeerID
	Reason     string
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s (peer %v): %v: %s", e.TransferID, e.PeerID, e.Kind, e.Reason)
}

// Unwrap exposes the taxonomy sentinel for errors.Is/errors.As.
func (e *TransferError) Unwrap() error {
	return e.Kind
}

// NewTransferError builds a TransferError with context.
func NewTransferError(kind error, transferID TransferID, peerID PeerID, reason string) *TransferError {
	return &TransferError{Kind: kind, TransferID: transferID, PeerID: peerID, Reason: reason}
}
