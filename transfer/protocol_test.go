package transfer

import (
	"strings"
	"testing"
)

func TestClassifyFrame(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want FrameKind
	}{
		{"metadata", []byte(`{"type":"metadata"}`), FrameMetadata},
		{"chunk", EncodeChunk([]byte("payload")), FrameChunk},
		{"eof", EOFMarker, FrameEOF},
		{"cancel", CancelMarker, FrameCancel},
		{"ack", AckMarker, FrameAck},
		{"error", ErrorMarker, FrameError},
		{"unknown", []byte("garbage"), FrameUnknown},
		{"empty", []byte{}, FrameUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFrame(tc.data); got != tc.want {
				t.Errorf("ClassifyFrame(%q) = %v, want %v", tc.data, got, tc.want)
			}
		})
	}
}

func TestEncodeDecodeMetadataRoundTrip(t *testing.T) {
	meta := FileMetadata{
		TransferID: "t-1",
		Filename:   "hello.txt",
		SizeBytes:  14,
		HashHex:    strings.Repeat("a", HashHexLen),
		MimeType:   "text/plain",
	}

	frame, err := EncodeMetadata(meta)
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	if ClassifyFrame(frame) != FrameMetadata {
		t.Fatalf("encoded metadata not classified as FrameMetadata")
	}

	got, err := DecodeMetadata(frame)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if *got != meta {
		t.Errorf("round trip mismatch: got %+v want %+v", *got, meta)
	}
}

func TestDecodeMetadataRejectsBadSchema(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"wrong type", `{"type":"chunk","filename":"a","hash_hex":"` + strings.Repeat("a", HashHexLen) + `","transfer_id":"t"}`},
		{"missing filename", `{"type":"metadata","hash_hex":"` + strings.Repeat("a", HashHexLen) + `","transfer_id":"t"}`},
		{"short hash", `{"type":"metadata","filename":"a","hash_hex":"abc","transfer_id":"t"}`},
		{"non-hex hash", `{"type":"metadata","filename":"a","hash_hex":"` + strings.Repeat("g", HashHexLen) + `","transfer_id":"t"}`},
		{"uppercase hash", `{"type":"metadata","filename":"a","hash_hex":"` + strings.Repeat("A", HashHexLen) + `","transfer_id":"t"}`},
		{"missing transfer id", `{"type":"metadata","filename":"a","hash_hex":"` + strings.Repeat("a", HashHexLen) + `"}`},
		{"not json", `{not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeMetadata([]byte(tc.json)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestEncodeDecodeChunk(t *testing.T) {
	payload := []byte("some chunk bytes")
	frame := EncodeChunk(payload)
	if frame[0] != ChunkTag {
		t.Fatalf("frame[0] = %x, want %x", frame[0], ChunkTag)
	}

	got, err := DecodeChunk(frame)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("decoded payload = %q, want %q", got, payload)
	}
}

func TestDecodeChunkRejectsNonChunkFrame(t *testing.T) {
	if _, err := DecodeChunk([]byte("not a chunk")); err == nil {
		t.Fatalf("expected error decoding non-chunk frame")
	}
}
