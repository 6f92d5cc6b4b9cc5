package protocol

import "errors"

var (
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrTruncated       = errors.New("protocol: truncated frame")
	ErrBadSync         = errors.New("protocol: bad sync byte")
	ErrBadVersion      = errors.New("protocol: unsupported version")
	ErrBadLength       = errors.New("protocol: declared length out of range")
	ErrBadCRC          = errors.New("protocol: crc mismatch")
	ErrShortPayload    = errors.New("protocol: payload shorter than expected")
)
