package protocol

const (
	ChallengeSize = 8
	HMACSize      = 16
	MaxNameLen    = 16

	PairingRequestSize  = 6 + 1 + 1 + ChallengeSize + 1
	PairingResponseSize = 6 + 1 + ChallengeSize + HMACSize + MaxNameLen
	PairingConfirmSize  = 6 + HMACSize + 1
	PairingRejectSize   = 6 + 1
)

// RejectReason explains a PairingReject frame.
type RejectReason byte

const (
	RejectNotInPairingMode RejectReason = 0
	RejectWrongDeviceType  RejectReason = 1
	RejectHMACFailed       RejectReason = 2
	RejectAlreadyPaired    RejectReason = 3
	RejectProtocolMismatch RejectReason = 4
)

func (r RejectReason) String() string {
	switch r {
	case RejectNotInPairingMode:
		return "not_in_pairing_mode"
	case RejectWrongDeviceType:
		return "wrong_device_type"
	case RejectHMACFailed:
		return "hmac_failed"
	case RejectAlreadyPaired:
		return "already_paired"
	case RejectProtocolMismatch:
		return "protocol_mismatch"
	default:
		return "unknown"
	}
}

// PairingRequest is broadcast to start a pairing attempt.
type PairingRequest struct {
	RequesterAddr    Addr
	DeviceType       DeviceType
	ExpectedPeerType DeviceType
	Challenge        [ChallengeSize]byte
	ProtocolVersion  byte
}

func (p PairingRequest) Encode() []byte {
	buf := make([]byte, PairingRequestSize)
	copy(buf[0:6], p.RequesterAddr[:])
	buf[6] = byte(p.DeviceType)
	buf[7] = byte(p.ExpectedPeerType)
	copy(buf[8:16], p.Challenge[:])
	buf[16] = p.ProtocolVersion
	return buf
}

func ParsePairingRequest(payload []byte) (PairingRequest, error) {
	if len(payload) < PairingRequestSize {
		return PairingRequest{}, ErrShortPayload
	}
	var p PairingRequest
	copy(p.RequesterAddr[:], payload[0:6])
	p.DeviceType = DeviceType(payload[6])
	p.ExpectedPeerType = DeviceType(payload[7])
	copy(p.Challenge[:], payload[8:16])
	p.ProtocolVersion = payload[16]
	return p, nil
}

// PairingResponse answers a broadcast request with the responder's own
// challenge and its HMAC over the requester's challenge.
type PairingResponse struct {
	ResponderAddr Addr
	DeviceType    DeviceType
	Challenge     [ChallengeSize]byte
	HMAC          [HMACSize]byte
	Name          string
}

func (p PairingResponse) Encode() []byte {
	buf := make([]byte, PairingResponseSize)
	copy(buf[0:6], p.ResponderAddr[:])
	buf[6] = byte(p.DeviceType)
	copy(buf[7:15], p.Challenge[:])
	copy(buf[15:31], p.HMAC[:])
	copy(buf[31:47], p.Name) // NUL-padded, silently truncated at 16
	return buf
}

func ParsePairingResponse(payload []byte) (PairingResponse, error) {
	if len(payload) < PairingResponseSize {
		return PairingResponse{}, ErrShortPayload
	}
	var p PairingResponse
	copy(p.ResponderAddr[:], payload[0:6])
	p.DeviceType = DeviceType(payload[6])
	copy(p.Challenge[:], payload[7:15])
	copy(p.HMAC[:], payload[15:31])
	p.Name = trimName(payload[31:47])
	return p, nil
}

// PairingConfirm completes mutual authentication with the requester's HMAC
// over the responder's challenge.
type PairingConfirm struct {
	ConfirmerAddr Addr
	HMAC          [HMACSize]byte
	Success       bool
}

func (p PairingConfirm) Encode() []byte {
	buf := make([]byte, PairingConfirmSize)
	copy(buf[0:6], p.ConfirmerAddr[:])
	copy(buf[6:22], p.HMAC[:])
	if p.Success {
		buf[22] = 1
	}
	return buf
}

func ParsePairingConfirm(payload []byte) (PairingConfirm, error) {
	if len(payload) < PairingConfirmSize {
		return PairingConfirm{}, ErrShortPayload
	}
	var p PairingConfirm
	copy(p.ConfirmerAddr[:], payload[0:6])
	copy(p.HMAC[:], payload[6:22])
	p.Success = payload[22] != 0
	return p, nil
}

// PairingReject tells a requester why this responder will not pair.
type PairingReject struct {
	RejecterAddr Addr
	Reason       RejectReason
}

func (p PairingReject) Encode() []byte {
	buf := make([]byte, PairingRejectSize)
	copy(buf[0:6], p.RejecterAddr[:])
	buf[6] = byte(p.Reason)
	return buf
}

func ParsePairingReject(payload []byte) (PairingReject, error) {
	if len(payload) < PairingRejectSize {
		return PairingReject{}, ErrShortPayload
	}
	var p PairingReject
	copy(p.RejecterAddr[:], payload[0:6])
	p.Reason = RejectReason(payload[6])
	return p, nil
}

func trimName(raw []byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}
