package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// transferKey identifies one transfer within a peer's scope. Chunk and
// EOF frames carry no transfer id on the wire (it is implicit by the
// peer's unique active receiver), so routing for those frame kinds goes
// through activeReceiverForPeer instead of this key.
type transferKey struct {
	Peer PeerID
	ID   TransferID
}

type activeSend struct {
	sender *Sender
	done   chan struct{}
}

// TransferService is the concurrency core: it owns the active sender and
// receiver sets keyed by (peer_id, transfer_id), routes inbound frames,
// persists progress, and enforces the per-peer concurrency cap
// (SPEC_FULL.md S4.5, S5, grounded on onlitec-OnliDesk_Full's
// SessionManager: one RWMutex over both maps).
type TransferService struct {
	store     ProgressStore
	fileStore FileStore
	clock     Clock
	logger    *zap.Logger
	tempDir   string

	maxConcurrentPerContact int

	mu                    sync.RWMutex
	senders               map[transferKey]*activeSend
	receivers             map[transferKey]*Receiver
	activeReceiverForPeer map[PeerID]TransferID

	// OnTransferError is invoked whenever a per-transfer error becomes
	// terminal (SPEC_FULL.md S7's on_transfer_error).
	OnTransferError func(peerID PeerID, transferID TransferID, err error)
}

// NewTransferService constructs a service. logger may be nil, in which
// case a no-op logger is used.
func NewTransferService(store ProgressStore, fileStore FileStore, clock Clock, logger *zap.Logger, tempDir string) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferService{
		store:                   store,
		fileStore:               fileStore,
		clock:                   clock,
		logger:                  logger,
		tempDir:                 tempDir,
		maxConcurrentPerContact: DefaultMaxConcurrentPerContact,
		senders:                 make(map[transferKey]*activeSend),
		receivers:               make(map[transferKey]*Receiver),
		activeReceiverForPeer:   make(map[PeerID]TransferID),
	}
}

// SetMaxConcurrentPerContact overrides the default concurrency cap.
func (s *TransferService) SetMaxConcurrentPerContact(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConcurrentPerContact = n
}

func (s *TransferService) countSendersLocked(peerID PeerID) int {
	n := 0
	for k := range s.senders {
		if k.Peer == peerID {
			n++
		}
	}
	return n
}

// SendFile starts sending filePath to peerID over channel. If
// transferID is empty, a fresh id is minted; passing an existing id with
// a non-zero resumeOffset performs a resume (SPEC_FULL.md S4.3, S4.5).
func (s *TransferService) SendFile(ctx context.Context, peerID PeerID, channel Channel, filePath string, resumeOffset uint64, transferID TransferID) (TransferID, error) {
	s.mu.Lock()
	if s.countSendersLocked(peerID) >= s.maxConcurrentPerContact {
		s.mu.Unlock()
		return "", NewTransferError(ErrTooManyConcurrent, transferID, peerID, "max_concurrent_per_contact exceeded")
	}
	s.mu.Unlock()

	if transferID == "" {
		transferID = NewTransferID()
	}

	info, err := StatFile(filePath)
	if err != nil {
		return "", err
	}
	hashHex, err := HashFile(filePath)
	if err != nil {
		return "", err
	}

	if err := s.store.SaveTransferState(transferID, peerID, DirectionSend, info.Filename, info.Size, hashHex, resumeOffset, StatePending); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	sender := NewSender(channel, s.clock, filePath, transferID, resumeOffset)
	key := transferKey{Peer: peerID, ID: transferID}
	entry := &activeSend{sender: sender, done: make(chan struct{})}

	sender.OnProgress = func(p TransferProgress) {
		_ = s.store.UpdateProgress(transferID, p.BytesTransferred, p.State)
	}
	sender.OnComplete = func() {
		s.logger.Info("transfer complete", zap.String("transfer_id", string(transferID)), zap.Uint64("peer_id", uint64(peerID)))
	}
	sender.OnError = func(err error) {
		s.logger.Warn("transfer failed", zap.String("transfer_id", string(transferID)), zap.Error(err))
		if s.OnTransferError != nil {
			s.OnTransferError(peerID, transferID, err)
		}
	}

	s.mu.Lock()
	s.senders[key] = entry
	s.mu.Unlock()

	go func() {
		defer close(entry.done)
		_ = sender.Send(ctx)
		s.mu.Lock()
		delete(s.senders, key)
		s.mu.Unlock()
	}()

	return transferID, nil
}

// CancelSend signals cooperative cancellation for a send and awaits it
// with a grace period, per SPEC_FULL.md S4.5.
func (s *TransferService) CancelSend(peerID PeerID, transferID TransferID) bool {
	key := transferKey{Peer: peerID, ID: transferID}

	s.mu.RLock()
	entry, ok := s.senders[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	entry.sender.Cancel()

	select {
	case <-entry.done:
	case <-time.After(CancelGracePeriod):
		s.logger.Warn("cancel grace period exceeded, forcing cleanup",
			zap.String("transfer_id", string(transferID)), zap.Uint64("peer_id", uint64(peerID)))
		s.mu.Lock()
		delete(s.senders, key)
		s.mu.Unlock()
	}

	progress := entry.sender.Progress()
	_ = s.store.UpdateProgress(transferID, progress.BytesTransferred, StateCancelled)
	return true
}

// HandleIncoming classifies and dispatches one inbound wire message.
// It never blocks beyond the work of this single frame (SPEC_FULL.md
// S4.5).
func (s *TransferService) HandleIncoming(ctx context.Context, peerID PeerID, channel Channel, message []byte) {
	switch ClassifyFrame(message) {
	case FrameMetadata:
		s.handleMetadata(peerID, message)
	case FrameChunk:
		s.handleChunk(peerID, message)
	case FrameEOF:
		s.handleEOF(ctx, peerID)
	case FrameCancel:
		s.handleCancelFromPeer(peerID)
	case FrameAck, FrameError:
		// Reserved, currently no-op (spec.md S4.1, S9 open question 4).
	default:
		s.logger.Debug("dropping unrecognized frame", zap.Uint64("peer_id", uint64(peerID)))
	}
}

func (s *TransferService) handleMetadata(peerID PeerID, message []byte) {
	s.mu.Lock()
	if _, busy := s.activeReceiverForPeer[peerID]; busy {
		s.mu.Unlock()
		s.logger.Debug("dropping metadata: peer already has an active receiver", zap.Uint64("peer_id", uint64(peerID)))
		return
	}
	s.mu.Unlock()

	// A peek at the transfer id is needed before constructing the
	// Receiver; DecodeMetadata is cheap to call twice since OnMetadata
	// re-validates internally.
	meta, err := DecodeMetadata(message)
	if err != nil {
		s.logger.Debug("dropping malformed metadata", zap.Uint64("peer_id", uint64(peerID)), zap.Error(err))
		return
	}

	receiver := NewReceiver(meta.TransferID, s.tempDir, s.fileStore, s.clock)
	key := transferKey{Peer: peerID, ID: meta.TransferID}

	receiver.OnError = func(err error) {
		s.logger.Warn("receive failed", zap.String("transfer_id", string(meta.TransferID)), zap.Error(err))
		s.finishReceiver(peerID, meta.TransferID, StateFailed, receiver.ResumeOffset())
		if s.OnTransferError != nil {
			s.OnTransferError(peerID, meta.TransferID, err)
		}
	}
	receiver.OnComplete = func(stored *StoredFile) {
		s.logger.Info("receive complete", zap.String("transfer_id", string(meta.TransferID)), zap.String("stored_id", stored.ID))
		s.finishReceiver(peerID, meta.TransferID, StateComplete, meta.SizeBytes)
	}

	if err := receiver.OnMetadata(message); err != nil {
		s.logger.Debug("metadata rejected", zap.Uint64("peer_id", uint64(peerID)), zap.Error(err))
		return
	}

	if err := s.store.SaveTransferState(meta.TransferID, peerID, DirectionReceive, meta.Filename, meta.SizeBytes, meta.HashHex, 0, StateActive); err != nil {
		s.logger.Warn("failed to persist transfer state", zap.Error(err))
	}

	s.mu.Lock()
	s.receivers[key] = receiver
	s.activeReceiverForPeer[peerID] = meta.TransferID
	s.mu.Unlock()
}

func (s *TransferService) activeReceiver(peerID PeerID) (*Receiver, transferKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeReceiverForPeer[peerID]
	if !ok {
		return nil, transferKey{}, false
	}
	key := transferKey{Peer: peerID, ID: id}
	r, ok := s.receivers[key]
	return r, key, ok
}

func (s *TransferService) handleChunk(peerID PeerID, message []byte) {
	receiver, _, ok := s.activeReceiver(peerID)
	if !ok {
		s.logger.Debug("dropping chunk: no active receiver for peer", zap.Uint64("peer_id", uint64(peerID)))
		return
	}
	if err := receiver.OnChunk(message); err != nil {
		return // receiver.OnError already fired finishReceiver
	}
	_ = s.store.UpdateProgress(receiver.transferID, receiver.ResumeOffset(), StateActive)
}

func (s *TransferService) handleEOF(ctx context.Context, peerID PeerID) {
	receiver, _, ok := s.activeReceiver(peerID)
	if !ok {
		s.logger.Debug("dropping EOF: no active receiver for peer", zap.Uint64("peer_id", uint64(peerID)))
		return
	}
	_, _ = receiver.OnEOF(ctx)
}

func (s *TransferService) handleCancelFromPeer(peerID PeerID) {
	receiver, key, ok := s.activeReceiver(peerID)
	if !ok {
		return
	}
	offset := receiver.ResumeOffset()
	receiver.OnCancel()
	s.finishReceiver(peerID, key.ID, StateCancelled, offset)
}

func (s *TransferService) finishReceiver(peerID PeerID, transferID TransferID, state TransferState, bytesTransferred uint64) {
	_ = s.store.UpdateProgress(transferID, bytesTransferred, state)

	s.mu.Lock()
	key := transferKey{Peer: peerID, ID: transferID}
	delete(s.receivers, key)
	if s.activeReceiverForPeer[peerID] == transferID {
		delete(s.activeReceiverForPeer, peerID)
	}
	s.mu.Unlock()
}

// CancelReceive cancels an in-progress inbound transfer, symmetric to
// CancelSend.
func (s *TransferService) CancelReceive(peerID PeerID, transferID TransferID) bool {
	key := transferKey{Peer: peerID, ID: transferID}
	s.mu.RLock()
	receiver, ok := s.receivers[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	offset := receiver.ResumeOffset()
	receiver.Cancel()
	s.finishReceiver(peerID, transferID, StateCancelled, offset)
	return true
}

// ActiveTransfers returns a consistent snapshot of every in-flight send
// and receive for peerID.
func (s *TransferService) ActiveTransfers(peerID PeerID) []TransferProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TransferProgress
	for k, entry := range s.senders {
		if k.Peer == peerID {
			out = append(out, entry.sender.Progress())
		}
	}
	for k, r := range s.receivers {
		if k.Peer == peerID {
			row, ok := s.store.Get(k.ID)
			state := StateActive
			total := uint64(0)
			if ok {
				total = row.SizeBytes
				state = row.State
			}
			out = append(out, computeProgress(k.ID, r.ResumeOffset(), total, state, time.Time{}, s.clock.Now()))
		}
	}
	return out
}

// ResumableTransfers delegates to the ProgressStore.
func (s *TransferService) ResumableTransfers(peerID PeerID) []PersistedTransfer {
	return s.store.PendingForPeer(peerID)
}

// Purge deletes a terminal transfer's persisted row on explicit request.
func (s *TransferService) Purge(transferID TransferID) error {
	return s.store.Delete(transferID)
}

// RegisterWebRTCChannel creates an ordered data channel on pc and wraps
// it as a Channel, the convenience path for callers using pion/webrtc
// directly (SPEC_FULL.md S4.5, domain stack).
func (s *TransferService) RegisterWebRTCChannel(peerID PeerID, pc *webrtc.PeerConnection, label string) (*WebRTCChannel, error) {
	return CreateFileTransferDataChannel(pc, label)
}
