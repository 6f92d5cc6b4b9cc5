// Package payload defines the fatigue-test payloads that ride inside the
// generic frame payload. The link layer stays payload-agnostic; only the
// application edges (admin surface, unit simulator) use these codecs.
//
// All multi-byte fields are little-endian and serialized field by field;
// nothing relies on in-memory struct layout.
package payload

import (
	"encoding/binary"
	"errors"
	"math"
)

const DeviceIDFatigueTester byte = 1

var ErrShort = errors.New("payload: buffer too short")

// TestState mirrors the test unit's run state.
type TestState byte

const (
	TestIdle TestState = iota
	TestRunning
	TestPaused
	TestCompleted
	TestError
)

func (s TestState) String() string {
	switch s {
	case TestIdle:
		return "idle"
	case TestRunning:
		return "running"
	case TestPaused:
		return "paused"
	case TestCompleted:
		return "completed"
	case TestError:
		return "error"
	default:
		return "unknown"
	}
}

// Command ids carried in the first byte of a Command frame payload.
const (
	CmdStart  byte = 1
	CmdPause  byte = 2
	CmdResume byte = 3
	CmdStop   byte = 4

	// Not implemented by current test-unit firmware; reserved for a
	// dedicated bounds-finding command.
	CmdRunBoundsFinding byte = 5
)

const (
	// ConfigBaseSize covers the always-present fields; older units send
	// and accept only these.
	ConfigBaseSize = 13
	ConfigSize     = ConfigBaseSize + 16
)

// Config is the test-unit configuration payload.
type Config struct {
	CycleAmount     uint32
	TimePerCycleSec uint32
	DwellTimeSec    uint32
	BoundsMethod    byte // 0 = stallguard, 1 = encoder

	// Extended fields; zero when the peer sent the base form only.
	BoundsSearchVelocityRPM  float32
	StallguardMinVelocityRPM float32
	StallCurrentFactor       float32
	BoundsSearchAccelRevS2   float32
}

func (c Config) Encode() []byte {
	buf := make([]byte, ConfigSize)
	binary.LittleEndian.PutUint32(buf[0:4], c.CycleAmount)
	binary.LittleEndian.PutUint32(buf[4:8], c.TimePerCycleSec)
	binary.LittleEndian.PutUint32(buf[8:12], c.DwellTimeSec)
	buf[12] = c.BoundsMethod
	putFloat32(buf[13:17], c.BoundsSearchVelocityRPM)
	putFloat32(buf[17:21], c.StallguardMinVelocityRPM)
	putFloat32(buf[21:25], c.StallCurrentFactor)
	putFloat32(buf[25:29], c.BoundsSearchAccelRevS2)
	return buf
}

// ParseConfig accepts the 13-byte base form or the full extended form;
// missing extended fields default to zero.
func ParseConfig(raw []byte) (Config, error) {
	if len(raw) < ConfigBaseSize {
		return Config{}, ErrShort
	}
	c := Config{
		CycleAmount:     binary.LittleEndian.Uint32(raw[0:4]),
		TimePerCycleSec: binary.LittleEndian.Uint32(raw[4:8]),
		DwellTimeSec:    binary.LittleEndian.Uint32(raw[8:12]),
		BoundsMethod:    raw[12],
	}
	if len(raw) >= ConfigSize {
		c.BoundsSearchVelocityRPM = getFloat32(raw[13:17])
		c.StallguardMinVelocityRPM = getFloat32(raw[17:21])
		c.StallCurrentFactor = getFloat32(raw[21:25])
		c.BoundsSearchAccelRevS2 = getFloat32(raw[25:29])
	}
	return c, nil
}

// StatusSize is the StatusUpdate payload length.
const StatusSize = 6

// Status is the periodic StatusUpdate payload. CycleNumber is the
// consumer's own gap detector; the link guarantees nothing.
type Status struct {
	CycleNumber uint32
	State       TestState
	ErrCode     byte
}

func (s Status) Encode() []byte {
	buf := make([]byte, StatusSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.CycleNumber)
	buf[4] = byte(s.State)
	buf[5] = s.ErrCode
	return buf
}

func ParseStatus(raw []byte) (Status, error) {
	if len(raw) < StatusSize {
		return Status{}, ErrShort
	}
	return Status{
		CycleNumber: binary.LittleEndian.Uint32(raw[0:4]),
		State:       TestState(raw[4]),
		ErrCode:     raw[5],
	}, nil
}

// BoundsResultSize is the BoundsResult payload length.
const BoundsResultSize = 20

// BoundsResult reports a bounds-finding run.
type BoundsResult struct {
	OK        bool
	Bounded   bool
	Cancelled bool

	MinDegreesFromCenter float32
	MaxDegreesFromCenter float32
	GlobalMinDegrees     float32
	GlobalMaxDegrees     float32
}

func (b BoundsResult) Encode() []byte {
	buf := make([]byte, BoundsResultSize)
	buf[0] = boolByte(b.OK)
	buf[1] = boolByte(b.Bounded)
	buf[2] = boolByte(b.Cancelled)
	// buf[3] reserved
	putFloat32(buf[4:8], b.MinDegreesFromCenter)
	putFloat32(buf[8:12], b.MaxDegreesFromCenter)
	putFloat32(buf[12:16], b.GlobalMinDegrees)
	putFloat32(buf[16:20], b.GlobalMaxDegrees)
	return buf
}

func ParseBoundsResult(raw []byte) (BoundsResult, error) {
	if len(raw) < BoundsResultSize {
		return BoundsResult{}, ErrShort
	}
	return BoundsResult{
		OK:                   raw[0] != 0,
		Bounded:              raw[1] != 0,
		Cancelled:            raw[2] != 0,
		MinDegreesFromCenter: getFloat32(raw[4:8]),
		MaxDegreesFromCenter: getFloat32(raw[8:12]),
		GlobalMinDegrees:     getFloat32(raw[12:16]),
		GlobalMaxDegrees:     getFloat32(raw[16:20]),
	}, nil
}

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
