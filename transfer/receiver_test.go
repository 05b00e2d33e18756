package transfer

import (
	"context"
	"os"
	"testing"
	"time"
)

func newTestReceiver(t *testing.T, store FileStore) *Receiver {
	t.Helper()
	clock := NewFakeClock(time.Unix(0, 0))
	return NewReceiver(NewTransferID(), t.TempDir(), store, clock)
}

func sendMetadata(t *testing.T, r *Receiver, id TransferID, filename string, size uint64, hashHex string) error {
	t.Helper()
	frame, err := EncodeMetadata(FileMetadata{
		TransferID: id,
		Filename:   filename,
		SizeBytes:  size,
		HashHex:    hashHex,
		MimeType:   "application/octet-stream",
	})
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	return r.OnMetadata(frame)
}

func TestReceiverHappyPath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskFileStore(dir)
	if err != nil {
		t.Fatalf("NewDiskFileStore: %v", err)
	}

	data := []byte("Hello, world!\n")
	hashHex, err := hashBytes(data)
	if err != nil {
		t.Fatalf("hashBytes: %v", err)
	}

	r := newTestReceiver(t, store)
	id := NewTransferID()

	var completed *StoredFile
	r.OnComplete = func(sf *StoredFile) { completed = sf }
	r.OnError = func(err error) { t.Fatalf("unexpected error: %v", err) }

	if err := sendMetadata(t, r, id, "hello.txt", uint64(len(data)), hashHex); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}
	if err := r.OnChunk(EncodeChunk(data)); err != nil {
		t.Fatalf("OnChunk: %v", err)
	}

	stored, err := r.OnEOF(context.Background())
	if err != nil {
		t.Fatalf("OnEOF: %v", err)
	}
	if completed == nil || completed.ID != stored.ID {
		t.Fatalf("OnComplete not invoked with matching StoredFile")
	}
	if stored.Size != uint64(len(data)) {
		t.Errorf("stored size = %d, want %d", stored.Size, len(data))
	}
	if r.State() != StateComplete {
		t.Fatalf("state = %v, want Complete", r.State())
	}
}

func TestReceiverHashTampering(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskFileStore(dir)
	if err != nil {
		t.Fatalf("NewDiskFileStore: %v", err)
	}

	data := []byte("original contents")
	hashHex, err := hashBytes(data)
	if err != nil {
		t.Fatalf("hashBytes: %v", err)
	}

	r := newTestReceiver(t, store)
	id := NewTransferID()

	var gotErr error
	r.OnError = func(err error) { gotErr = err }
	r.OnComplete = func(*StoredFile) { t.Fatalf("OnComplete must not fire on tampered data") }

	if err := sendMetadata(t, r, id, "file.bin", uint64(len(data)), hashHex); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0xFF
	if err := r.OnChunk(EncodeChunk(tampered)); err != nil {
		t.Fatalf("OnChunk: %v", err)
	}

	if _, err := r.OnEOF(context.Background()); err == nil {
		t.Fatalf("expected OnEOF to fail on hash mismatch")
	}
	if gotErr == nil {
		t.Fatalf("OnError not invoked")
	}
	if r.State() != StateFailed {
		t.Fatalf("state = %v, want Failed", r.State())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("FileStore.Save must not have been called; found %d stored files", len(entries))
	}
}

func TestReceiverRejectsDuplicateMetadata(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewDiskFileStore(dir)
	r := newTestReceiver(t, store)
	id := NewTransferID()

	hashHex, _ := hashBytes([]byte("x"))
	if err := sendMetadata(t, r, id, "a.txt", 1, hashHex); err != nil {
		t.Fatalf("first OnMetadata: %v", err)
	}
	if err := sendMetadata(t, r, id, "a.txt", 1, hashHex); err == nil {
		t.Fatalf("expected protocol violation on duplicate metadata")
	}
	if r.State() != StateFailed {
		t.Fatalf("state = %v, want Failed", r.State())
	}
}

func TestReceiverRejectsPathSeparatorsInFilename(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewDiskFileStore(dir)
	r := newTestReceiver(t, store)

	hashHex, _ := hashBytes([]byte("x"))
	if err := sendMetadata(t, r, NewTransferID(), "../../etc/passwd", 1, hashHex); err == nil {
		t.Fatalf("expected rejection of path-separator filename")
	}
}

func TestReceiverRejectsOversizedChunk(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewDiskFileStore(dir)
	r := newTestReceiver(t, store)

	hashHex, _ := hashBytes([]byte("ab"))
	if err := sendMetadata(t, r, NewTransferID(), "f.bin", 2, hashHex); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}
	if err := r.OnChunk(EncodeChunk([]byte("too many bytes for declared size"))); err == nil {
		t.Fatalf("expected protocol violation for oversized chunk")
	}
	if r.State() != StateFailed {
		t.Fatalf("state = %v, want Failed", r.State())
	}
}

func TestReceiverCancelUnlinksTemp(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewDiskFileStore(dir)
	tempDir := t.TempDir()
	r := NewReceiver(NewTransferID(), tempDir, store, NewFakeClock(time.Unix(0, 0)))

	hashHex, _ := hashBytes([]byte("abcdef"))
	if err := sendMetadata(t, r, NewTransferID(), "f.bin", 6, hashHex); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}

	r.OnCancel()
	if r.State() != StateCancelled {
		t.Fatalf("state = %v, want Cancelled", r.State())
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp file to be unlinked after cancel, found %v", entries)
	}
}

func TestReceiverResumeOffset(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewDiskFileStore(dir)
	r := newTestReceiver(t, store)

	data := []byte("0123456789")
	hashHex, _ := hashBytes(data)
	if err := sendMetadata(t, r, NewTransferID(), "f.bin", uint64(len(data)), hashHex); err != nil {
		t.Fatalf("OnMetadata: %v", err)
	}
	if err := r.OnChunk(EncodeChunk(data[:4])); err != nil {
		t.Fatalf("OnChunk: %v", err)
	}
	if got := r.ResumeOffset(); got != 4 {
		t.Fatalf("ResumeOffset = %d, want 4", got)
	}
}
