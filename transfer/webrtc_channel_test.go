package transfer

import (
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// signalPair exchanges a full (non-trickle) offer/answer between two
// PeerConnections via GatheringCompletePromise, the same pattern
// pion/webrtc's own test suite uses to avoid trickle-ICE races in a
// unit test.
func signalPair(t *testing.T, offerPC, answerPC *webrtc.PeerConnection) {
	t.Helper()

	offer, err := offerPC.CreateOffer(nil)
	require.NoError(t, err)

	offerGatheringComplete := webrtc.GatheringCompletePromise(offerPC)
	require.NoError(t, offerPC.SetLocalDescription(offer))
	<-offerGatheringComplete

	require.NoError(t, answerPC.SetRemoteDescription(*offerPC.LocalDescription()))

	answer, err := answerPC.CreateAnswer(nil)
	require.NoError(t, err)

	answerGatheringComplete := webrtc.GatheringCompletePromise(answerPC)
	require.NoError(t, answerPC.SetLocalDescription(answer))
	<-answerGatheringComplete

	require.NoError(t, offerPC.SetRemoteDescription(*answerPC.LocalDescription()))
}

// TestWebRTCChannelRoundTrip negotiates a real data channel between two
// in-process pion PeerConnections and drives WebRTCChannel's Send,
// BufferedAmount, OnMessage, and SetLowWaterMark through it — the
// production Channel binding SPEC_FULL.md S6 names, and the same
// capability set Sender and Receiver depend on.
func TestWebRTCChannelRoundTrip(t *testing.T) {
	offerPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer offerPC.Close()

	answerPC, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer answerPC.Close()

	sendChannel, err := CreateFileTransferDataChannel(offerPC, "file-transfer")
	require.NoError(t, err)

	recvOpened := make(chan *WebRTCChannel, 1)
	answerPC.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { recvOpened <- NewWebRTCChannel(dc) })
	})

	sendOpened := make(chan struct{})
	sendChannel.dc.OnOpen(func() { close(sendOpened) })

	signalPair(t, offerPC, answerPC)

	select {
	case <-sendOpened:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for sender data channel to open")
	}

	var recvChannel *WebRTCChannel
	select {
	case recvChannel = <-recvOpened:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for receiver data channel to open")
	}

	received := make(chan []byte, 1)
	recvChannel.OnMessage(func(data []byte) { received <- data })

	metaFrame, err := EncodeMetadata(FileMetadata{
		TransferID: "t-webrtc",
		Filename:   "hello.txt",
		SizeBytes:  5,
		HashHex:    strings.Repeat("a", HashHexLen),
		MimeType:   "text/plain",
	})
	require.NoError(t, err)
	require.NoError(t, sendChannel.Send(metaFrame))

	select {
	case got := <-received:
		require.Equal(t, FrameMetadata, ClassifyFrame(got))
		decoded, err := DecodeMetadata(got)
		require.NoError(t, err)
		require.Equal(t, TransferID("t-webrtc"), decoded.TransferID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	// A low-water mark set below an in-flight message's size must fire
	// once pion drains the buffer back down, exercising the
	// OnBufferedAmountLow wiring SPEC_FULL.md S9.3 prefers over polling.
	lowFired := make(chan struct{}, 1)
	sendChannel.SetLowWaterMark(4, func() {
		select {
		case lowFired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, sendChannel.Send(EncodeChunk([]byte("backpressure probe payload"))))

	select {
	case <-lowFired:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for low-water callback")
	}

	require.Equal(t, uint64(0), sendChannel.BufferedAmount())
}
