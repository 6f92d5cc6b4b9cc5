package protocol

import "fmt"

const (
	SyncByte       byte = 0xAA
	Version        byte = 1
	MaxPayloadSize      = 200
	HeaderSize          = 6
	CRCSize             = 2

	// MinPacketSize is header plus trailing CRC, the shortest valid frame.
	MinPacketSize = HeaderSize + CRCSize
)

// MsgType tags every frame on the wire.
type MsgType byte

const (
	MsgDeviceDiscovery MsgType = 1
	MsgDeviceInfo      MsgType = 2
	MsgConfigRequest   MsgType = 3
	MsgConfigResponse  MsgType = 4
	MsgConfigSet       MsgType = 5
	MsgConfigAck       MsgType = 6
	MsgCommand         MsgType = 7
	MsgCommandAck      MsgType = 8
	MsgStatusUpdate    MsgType = 9
	MsgError           MsgType = 10
	MsgErrorClear      MsgType = 11
	MsgTestComplete    MsgType = 12

	MsgBoundsResult MsgType = 13

	// Pairing range (20-29).
	MsgPairingRequest  MsgType = 20
	MsgPairingResponse MsgType = 21
	MsgPairingConfirm  MsgType = 22
	MsgPairingReject   MsgType = 23
	MsgUnpair          MsgType = 24
)

func (t MsgType) String() string {
	switch t {
	case MsgDeviceDiscovery:
		return "device_discovery"
	case MsgDeviceInfo:
		return "device_info"
	case MsgConfigRequest:
		return "config_request"
	case MsgConfigResponse:
		return "config_response"
	case MsgConfigSet:
		return "config_set"
	case MsgConfigAck:
		return "config_ack"
	case MsgCommand:
		return "command"
	case MsgCommandAck:
		return "command_ack"
	case MsgStatusUpdate:
		return "status_update"
	case MsgError:
		return "error"
	case MsgErrorClear:
		return "error_clear"
	case MsgTestComplete:
		return "test_complete"
	case MsgBoundsResult:
		return "bounds_result"
	case MsgPairingRequest:
		return "pairing_request"
	case MsgPairingResponse:
		return "pairing_response"
	case MsgPairingConfirm:
		return "pairing_confirm"
	case MsgPairingReject:
		return "pairing_reject"
	case MsgUnpair:
		return "unpair"
	default:
		return fmt.Sprintf("msg_type(%d)", byte(t))
	}
}

// DeviceType is the coarse role tag used to filter pairing and resolve
// the send target.
type DeviceType byte

const (
	DeviceUnknown       DeviceType = 0
	DeviceRemote        DeviceType = 1
	DeviceFatigueTester DeviceType = 2
)

func (d DeviceType) String() string {
	switch d {
	case DeviceRemote:
		return "remote_controller"
	case DeviceFatigueTester:
		return "fatigue_tester"
	default:
		return "unknown"
	}
}

// Addr is a radio-level 6-byte device address.
type Addr [6]byte

// Broadcast is the all-ones broadcast address.
var Broadcast = Addr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (a Addr) IsZero() bool {
	return a == Addr{}
}

func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// ParseAddr parses the colon-separated form produced by Addr.String.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&a[0], &a[1], &a[2], &a[3], &a[4], &a[5])
	if err != nil || n != 6 {
		return Addr{}, fmt.Errorf("protocol: invalid address %q", s)
	}
	return a, nil
}
