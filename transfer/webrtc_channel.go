package transfer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// WebRTCChannel adapts a pion/webrtc/v4 *webrtc.DataChannel to the
// Channel (and LowWaterChannel) interface. Grounded on
// quocthang28-yapfs/internal/transport/{sender,receiver}_channel.go,
// which drive the same DataChannel lifecycle (OnOpen/OnMessage/Send)
// for file transfer.
type WebRTCChannel struct {
	dc *webrtc.DataChannel
}

var (
	_ Channel         = (*WebRTCChannel)(nil)
	_ LowWaterChannel = (*WebRTCChannel)(nil)
)

// NewWebRTCChannel wraps an already-created data channel.
func NewWebRTCChannel(dc *webrtc.DataChannel) *WebRTCChannel {
	return &WebRTCChannel{dc: dc}
}

// CreateFileTransferDataChannel creates a new ordered, reliable data
// channel on pc suitable for use as a transfer Channel. Ordered is
// required: SPEC_FULL.md S5 depends on in-order chunk delivery.
func CreateFileTransferDataChannel(pc *webrtc.PeerConnection, label string) (*WebRTCChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return NewWebRTCChannel(dc), nil
}

// Send implements Channel.
func (w *WebRTCChannel) Send(data []byte) error {
	if err := w.dc.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return nil
}

// BufferedAmount implements Channel.
func (w *WebRTCChannel) BufferedAmount() uint64 {
	return uint64(w.dc.BufferedAmount())
}

// OnMessage implements Channel.
func (w *WebRTCChannel) OnMessage(cb func(data []byte)) {
	w.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		cb(msg.Data)
	})
}

// SetLowWaterMark implements LowWaterChannel using pion's native
// bufferedAmountLow event (SPEC_FULL.md S6, S9.3) instead of polling.
func (w *WebRTCChannel) SetLowWaterMark(threshold uint64, onLow func()) {
	var once sync.Once
	w.dc.SetBufferedAmountLowThreshold(threshold)
	w.dc.OnBufferedAmountLow(func() { once.Do(onLow) })
}
