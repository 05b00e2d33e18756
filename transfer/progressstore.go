package transfer

import "sync"

// ProgressStore is the persistent state table a TransferService reads
// and writes for resume support (SPEC_FULL.md S6). Implementations must
// make each operation atomic per row; no cross-row transactions are
// required.
type ProgressStore interface {
	SaveTransferState(id TransferID, peerID PeerID, direction TransferDirection, filename string, size uint64, hashHex string, bytesTransferred uint64, state TransferState) error
	UpdateProgress(id TransferID, bytesTransferred uint64, state TransferState) error
	Get(id TransferID) (*PersistedTransfer, bool)
	PendingForPeer(peerID PeerID) []PersistedTransfer
	Delete(id TransferID) error
}

// MemoryProgressStore is an in-memory ProgressStore guarded by a single
// RWMutex, the same map-plus-mutex idiom onlitec-OnliDesk_Full's
// SessionManager uses for its session table.
type MemoryProgressStore struct {
	mu    sync.RWMutex
	clock Clock
	rows  map[TransferID]PersistedTransfer
}

// NewMemoryProgressStore creates an empty store. clock supplies
// CreatedAt timestamps, the same seam used by Sender, Receiver, and
// TransferService.
func NewMemoryProgressStore(clock Clock) *MemoryProgressStore {
	return &MemoryProgressStore{clock: clock, rows: make(map[TransferID]PersistedTransfer)}
}

// SaveTransferState implements ProgressStore.
func (m *MemoryProgressStore) SaveTransferState(id TransferID, peerID PeerID, direction TransferDirection, filename string, size uint64, hashHex string, bytesTransferred uint64, state TransferState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, exists := m.rows[id]
	createdAt := m.clock.Now()
	if exists {
		createdAt = row.CreatedAt
	}

	m.rows[id] = PersistedTransfer{
		TransferID:       id,
		PeerID:           peerID,
		Direction:        direction,
		Filename:         filename,
		SizeBytes:        size,
		HashHex:          hashHex,
		BytesTransferred: bytesTransferred,
		State:            state,
		CreatedAt:        createdAt,
	}
	return nil
}

// UpdateProgress implements ProgressStore.
func (m *MemoryProgressStore) UpdateProgress(id TransferID, bytesTransferred uint64, state TransferState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil
	}
	row.BytesTransferred = bytesTransferred
	row.State = state
	m.rows[id] = row
	return nil
}

// Get implements ProgressStore.
func (m *MemoryProgressStore) Get(id TransferID) (*PersistedTransfer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	cp := row
	return &cp, true
}

// PendingForPeer implements ProgressStore: transfers not in Complete or
// Cancelled.
func (m *MemoryProgressStore) PendingForPeer(peerID PeerID) []PersistedTransfer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PersistedTransfer
	for _, row := range m.rows {
		if row.PeerID != peerID {
			continue
		}
		if row.State == StateComplete || row.State == StateCancelled {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Delete implements ProgressStore.
func (m *MemoryProgressStore) Delete(id TransferID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}
