package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	payload := []byte{0x04}
	frame, err := enc.Encode(1, MsgCommand, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[0] != SyncByte || frame[1] != Version {
		t.Fatalf("bad header bytes: % 02x", frame[:2])
	}
	if frame[4] != 1 {
		t.Fatalf("first frame seq = %d, want 1", frame[4])
	}

	pkt, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.DeviceID != 1 || pkt.Type != MsgCommand || pkt.Seq != 1 {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Fatalf("payload mismatch: % 02x", pkt.Payload)
	}
}

func TestEncodeSequenceIncrementsAndWraps(t *testing.T) {
	enc := NewEncoder()
	var last byte
	for i := 0; i < 300; i++ {
		frame, err := enc.Encode(0, MsgStatusUpdate, nil)
		if err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
		last = frame[4]
	}
	// 300 mod 256
	if last != 44 {
		t.Fatalf("seq after 300 frames = %d, want 44", last)
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	enc := NewEncoder()
	if _, err := enc.Encode(0, MsgConfigSet, make([]byte, MaxPayloadSize+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	// The failed attempt must not consume a sequence number.
	frame, err := enc.Encode(0, MsgConfigSet, make([]byte, MaxPayloadSize))
	if err != nil {
		t.Fatalf("encode max payload: %v", err)
	}
	if frame[4] != 1 {
		t.Fatalf("seq = %d, want 1", frame[4])
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	enc := NewEncoder()
	frame, err := enc.Encode(1, MsgStatusUpdate, []byte{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{"truncated below minimum", func(b []byte) []byte { return b[:MinPacketSize-1] }, ErrTruncated},
		{"bad sync", func(b []byte) []byte { b[0] = 0x55; return b }, ErrBadSync},
		{"bad version", func(b []byte) []byte { b[1] = 9; return b }, ErrBadVersion},
		{"declared length too large", func(b []byte) []byte { b[5] = MaxPayloadSize + 1; return b }, ErrBadLength},
		{"declared length beyond buffer", func(b []byte) []byte { b[5] = 100; return b }, ErrTruncated},
		{"payload bit flip", func(b []byte) []byte { b[HeaderSize] ^= 0x01; return b }, ErrBadCRC},
		{"header bit flip", func(b []byte) []byte { b[2] ^= 0x80; return b }, ErrBadCRC},
		{"crc bit flip", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }, ErrBadCRC},
	}
	for _, tc := range cases {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		if _, err := Decode(tc.mutate(cp)); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestDecodeEmptyPayloadFrame(t *testing.T) {
	enc := NewEncoder()
	frame, err := enc.Encode(0, MsgDeviceDiscovery, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) != MinPacketSize {
		t.Fatalf("empty frame length = %d, want %d", len(frame), MinPacketSize)
	}
	pkt, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Payload != nil {
		t.Fatalf("expected nil payload, got % 02x", pkt.Payload)
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// CRC-16/CCITT-FALSE check value for "123456789".
	if got := CRC16([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("CRC16 = %#04x, want 0x29b1", got)
	}
	if got := CRC16(nil); got != 0xFFFF {
		t.Fatalf("CRC16(empty) = %#04x, want 0xffff", got)
	}
}
