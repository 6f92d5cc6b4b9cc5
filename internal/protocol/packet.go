package protocol

import (
	"encoding/binary"
	"sync/atomic"
)

// Packet is one decoded wire frame.
//
// Wire layout, single-byte header fields, CRC little-endian:
//
//	[sync:1][version:1][device_id:1][type:1][seq:1][len:1][payload:len][crc16:2]
//
// The CRC covers header plus payload.
type Packet struct {
	DeviceID byte
	Type     MsgType
	Seq      byte
	Payload  []byte
}

// Encoder frames outbound packets and owns the wrapping sequence counter.
// The counter wraps 0..255 silently; nothing downstream builds ordering or
// dedup on it.
type Encoder struct {
	seq atomic.Uint32
}

func NewEncoder() *Encoder {
	e := &Encoder{}
	// First frame carries seq 1, matching deployed units.
	e.seq.Store(0)
	return e
}

func (e *Encoder) nextSeq() byte {
	return byte(e.seq.Add(1))
}

// Encode builds a complete wire frame. It fails before touching the buffer
// when payload exceeds MaxPayloadSize; nothing is ever partially framed.
func (e *Encoder) Encode(deviceID byte, msgType MsgType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(payload)+CRCSize)
	buf[0] = SyncByte
	buf[1] = Version
	buf[2] = deviceID
	buf[3] = byte(msgType)
	buf[4] = e.nextSeq()
	buf[5] = byte(len(payload))
	copy(buf[HeaderSize:], payload)

	crc := CRC16(buf[:HeaderSize+len(payload)])
	binary.LittleEndian.PutUint16(buf[HeaderSize+len(payload):], crc)
	return buf, nil
}

// Decode parses and validates one frame. Any malformed input yields a typed
// error; callers at the link layer drop the frame without surfacing it,
// since the transport gives no delivery guarantee anyway.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < MinPacketSize {
		return Packet{}, ErrTruncated
	}
	if buf[0] != SyncByte {
		return Packet{}, ErrBadSync
	}
	if buf[1] != Version {
		return Packet{}, ErrBadVersion
	}
	payloadLen := int(buf[5])
	if payloadLen > MaxPayloadSize {
		return Packet{}, ErrBadLength
	}
	if len(buf) < HeaderSize+payloadLen+CRCSize {
		return Packet{}, ErrTruncated
	}

	crcEnd := HeaderSize + payloadLen
	want := binary.LittleEndian.Uint16(buf[crcEnd : crcEnd+CRCSize])
	if got := CRC16(buf[:crcEnd]); got != want {
		return Packet{}, ErrBadCRC
	}

	pkt := Packet{
		DeviceID: buf[2],
		Type:     MsgType(buf[3]),
		Seq:      buf[4],
	}
	if payloadLen > 0 {
		pkt.Payload = make([]byte, payloadLen)
		copy(pkt.Payload, buf[HeaderSize:crcEnd])
	}
	return pkt, nil
}
