package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Sender drives one outbound transfer: hash + metadata, then chunks from
// resume_offset, throttled against the channel's buffered amount. A
// Sender is one-shot; resuming means constructing a new Sender with the
// same TransferID and a non-zero resumeOffset (SPEC_FULL.md S4.3).
type Sender struct {
	channel      Channel
	clock        Clock
	filePath     string
	transferID   TransferID
	resumeOffset uint64

	// OnProgress, OnComplete, and OnError are invoked from the goroutine
	// running Send; callers must not block in them for long.
	OnProgress func(TransferProgress)
	OnComplete func()
	OnError    func(error)

	mu         sync.Mutex
	state      TransferState
	bytesSent  uint64
	totalBytes uint64
	startedAt  time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// NewSender constructs a Sender for filePath, resuming from resumeOffset
// (0 for a fresh transfer).
func NewSender(channel Channel, clock Clock, filePath string, transferID TransferID, resumeOffset uint64) *Sender {
	return &Sender{
		channel:      channel,
		clock:        clock,
		filePath:     filePath,
		transferID:   transferID,
		resumeOffset: resumeOffset,
		state:        StatePending,
		bytesSent:    resumeOffset,
		cancelCh:     make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation. Idempotent; wakes any
// pending backpressure wait.
func (s *Sender) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

func (s *Sender) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// Progress returns a point-in-time snapshot.
func (s *Sender) Progress() TransferProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeProgress(s.transferID, s.bytesSent, s.totalBytes, s.state, s.startedAt, s.clock.Now())
}

func (s *Sender) setState(state TransferState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Sender) reportProgress() {
	if s.OnProgress != nil {
		s.OnProgress(s.Progress())
	}
}

// Send runs the full send algorithm to completion, cancellation, or
// failure. It is terminal: a Sender must not be reused after Send
// returns.
func (s *Sender) Send(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateActive
	s.startedAt = s.clock.Now()
	s.mu.Unlock()

	info, err := StatFile(s.filePath)
	if err != nil {
		return s.fail(err)
	}
	hashHex, err := HashFile(s.filePath)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.totalBytes = info.Size
	s.mu.Unlock()

	meta := FileMetadata{
		TransferID: s.transferID,
		Filename:   info.Filename,
		SizeBytes:  info.Size,
		HashHex:    hashHex,
		MimeType:   info.MimeType,
	}
	frame, err := EncodeMetadata(meta)
	if err != nil {
		return s.fail(fmt.Errorf("%w: encode metadata: %v", ErrProtocolViolation, err))
	}
	if err := s.channel.Send(frame); err != nil {
		return s.fail(err)
	}

	reader, err := NewChunkReader(s.filePath, s.resumeOffset)
	if err != nil {
		return s.fail(err)
	}
	defer reader.Close()

	for {
		if s.cancelled() {
			return s.cancel()
		}

		if err := s.waitForBuffer(ctx); err != nil {
			if err == ErrCancelled {
				return s.cancel()
			}
			return s.fail(err)
		}

		if s.cancelled() {
			return s.cancel()
		}

		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.fail(err)
		}

		if err := s.channel.Send(EncodeChunk(chunk.Bytes)); err != nil {
			return s.fail(err)
		}

		s.mu.Lock()
		s.bytesSent += uint64(len(chunk.Bytes))
		s.mu.Unlock()
		s.reportProgress()
	}

	if err := s.channel.Send(EOFMarker); err != nil {
		return s.fail(err)
	}

	s.setState(StateComplete)
	s.reportProgress()
	if s.OnComplete != nil {
		s.OnComplete()
	}
	return nil
}

// waitForBuffer blocks until the channel's buffered amount falls to or
// below BufferThreshold, preferring a LowWaterChannel's native event
// over polling (SPEC_FULL.md S6, S9.3).
func (s *Sender) waitForBuffer(ctx context.Context) error {
	if s.channel.BufferedAmount() <= BufferThreshold {
		return nil
	}

	if lw, ok := s.channel.(LowWaterChannel); ok {
		low := make(chan struct{})
		var once sync.Once
		lw.SetLowWaterMark(BufferThreshold, func() { once.Do(func() { close(low) }) })
		select {
		case <-low:
			return nil
		case <-s.cancelCh:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ticker := s.clock.NewTicker(BackpressurePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.cancelCh:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if s.channel.BufferedAmount() <= BufferThreshold {
				return nil
			}
		}
	}
}

func (s *Sender) cancel() error {
	_ = s.channel.Send(CancelMarker)
	s.setState(StateCancelled)
	s.reportProgress()
	if s.OnError != nil {
		s.OnError(ErrCancelled)
	}
	return ErrCancelled
}

func (s *Sender) fail(err error) error {
	s.setState(StateFailed)
	s.reportProgress()
	if s.OnError != nil {
		s.OnError(err)
	}
	return err
}
