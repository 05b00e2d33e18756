package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Receiver reassembles one inbound transfer to a temp file, maintains a
// running SHA-256, and verifies integrity at EOF before handing the
// bytes to a FileStore (SPEC_FULL.md S4.4).
type Receiver struct {
	transferID TransferID
	tempDir    string
	store      FileStore
	clock      Clock

	// OnComplete and OnError are invoked from whichever goroutine calls
	// OnEOF/OnChunk/OnMetadata/OnCancel.
	OnComplete func(*StoredFile)
	OnError    func(error)

	mu            sync.Mutex
	state         TransferState
	meta          *FileMetadata
	tempFile      *os.File
	tempPath      string
	hasher        hash.Hash
	bytesReceived uint64
}

// NewReceiver constructs a Receiver for transferID. tempDir is the
// directory staging files are created in; empty means os.TempDir().
func NewReceiver(transferID TransferID, tempDir string, store FileStore, clock Clock) *Receiver {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Receiver{
		transferID: transferID,
		tempDir:    tempDir,
		store:      store,
		clock:      clock,
		state:      StatePending,
	}
}

// State returns the receiver's current lifecycle state.
func (r *Receiver) State() TransferState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ResumeOffset returns the number of bytes received so far.
func (r *Receiver) ResumeOffset() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesReceived
}

func isValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	return filepath.Base(name) == name
}

// OnMetadata handles the single Metadata frame a receiver accepts.
func (r *Receiver) OnMetadata(data []byte) error {
	r.mu.Lock()
	if r.state != StatePending {
		r.mu.Unlock()
		return r.fail(NewTransferError(ErrProtocolViolation, r.transferID, 0, "duplicate metadata frame"))
	}
	r.mu.Unlock()

	meta, err := DecodeMetadata(data)
	if err != nil {
		return r.fail(err)
	}
	if !isValidFilename(meta.Filename) {
		return r.fail(NewTransferError(ErrProtocolViolation, r.transferID, 0, "filename contains path separators"))
	}

	f, err := os.CreateTemp(r.tempDir, "peerdrop-ft-*.tmp")
	if err != nil {
		return r.fail(NewTransferError(ErrIO, r.transferID, 0, fmt.Sprintf("create temp file: %v", err)))
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return r.fail(NewTransferError(ErrIO, r.transferID, 0, fmt.Sprintf("chmod temp file: %v", err)))
	}

	r.mu.Lock()
	r.meta = meta
	r.tempFile = f
	r.tempPath = f.Name()
	r.hasher = sha256.New()
	r.state = StateActive
	r.mu.Unlock()
	return nil
}

// OnChunk appends a chunk frame's payload to the temp file and advances
// the running hash.
func (r *Receiver) OnChunk(data []byte) error {
	payload, err := DecodeChunk(data)
	if err != nil {
		return r.fail(err)
	}

	r.mu.Lock()
	if r.state != StateActive {
		r.mu.Unlock()
		return nil
	}
	if r.bytesReceived+uint64(len(payload)) > r.meta.SizeBytes {
		r.mu.Unlock()
		return r.fail(NewTransferError(ErrProtocolViolation, r.transferID, 0, "chunk exceeds declared size"))
	}
	r.mu.Unlock()

	if _, err := r.tempFile.Write(payload); err != nil {
		return r.fail(NewTransferError(ErrIO, r.transferID, 0, fmt.Sprintf("write temp file: %v", err)))
	}
	r.hasher.Write(payload)

	r.mu.Lock()
	r.bytesReceived += uint64(len(payload))
	r.mu.Unlock()
	return nil
}

// OnEOF flushes the temp file, verifies size and hash, and hands the
// completed file to the FileStore.
func (r *Receiver) OnEOF(ctx context.Context) (*StoredFile, error) {
	r.mu.Lock()
	if r.state != StateActive {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: EOF received outside Active state", ErrProtocolViolation)
	}
	meta := r.meta
	received := r.bytesReceived
	sum := hex.EncodeToString(r.hasher.Sum(nil))
	tempFile := r.tempFile
	tempPath := r.tempPath
	r.mu.Unlock()

	if err := tempFile.Close(); err != nil {
		return nil, r.fail(NewTransferError(ErrIO, r.transferID, 0, fmt.Sprintf("close temp file: %v", err)))
	}

	if received != meta.SizeBytes {
		return nil, r.fail(NewTransferError(ErrIntegrityMismatch, r.transferID, 0,
			fmt.Sprintf("received %d bytes, want %d", received, meta.SizeBytes)))
	}
	if sum != meta.HashHex {
		return nil, r.fail(NewTransferError(ErrIntegrityMismatch, r.transferID, 0,
			fmt.Sprintf("hash %s, want %s", sum, meta.HashHex)))
	}

	contents, err := os.ReadFile(tempPath)
	if err != nil {
		return nil, r.fail(NewTransferError(ErrIO, r.transferID, 0, fmt.Sprintf("read temp file: %v", err)))
	}

	stored, err := r.store.Save(contents, meta.Filename, r.transferID)
	if err != nil {
		return nil, r.fail(NewTransferError(ErrStorage, r.transferID, 0, err.Error()))
	}

	os.Remove(tempPath)

	r.mu.Lock()
	r.state = StateComplete
	r.mu.Unlock()

	if r.OnComplete != nil {
		r.OnComplete(stored)
	}
	return stored, nil
}

// OnCancel transitions the receiver to Cancelled and unlinks any temp
// file, per the cooperative-cancel contract.
func (r *Receiver) OnCancel() {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.state = StateCancelled
	r.mu.Unlock()
	r.cleanup()
}

// Cancel is the caller-facing alias for OnCancel; both drive the same
// transition so a service-level cancel and a wire-level Cancel frame
// converge on identical cleanup.
func (r *Receiver) Cancel() {
	r.OnCancel()
}

func (r *Receiver) fail(err error) error {
	r.mu.Lock()
	r.state = StateFailed
	r.mu.Unlock()
	r.cleanup()
	if r.OnError != nil {
		r.OnError(err)
	}
	return err
}

func (r *Receiver) cleanup() {
	r.mu.Lock()
	tempFile := r.tempFile
	tempPath := r.tempPath
	r.tempFile = nil
	r.mu.Unlock()

	if tempFile != nil {
		tempFile.Close()
	}
	if tempPath != "" {
		os.Remove(tempPath)
	}
}
