package engine

import (
	"github.com/rs/zerolog/log"

	"github.com/fatiguelab/dialctl/internal/observability"
	"github.com/fatiguelab/dialctl/internal/pairing"
	"github.com/fatiguelab/dialctl/internal/peerstore"
	"github.com/fatiguelab/dialctl/internal/protocol"
	"github.com/fatiguelab/dialctl/internal/security"
)

// sendPacket frames and transmits one message. Fail-fast with no partial
// work: an oversize payload or a missing target produces no transmission.
func (e *Engine) sendPacket(deviceID byte, msgType protocol.MsgType, payload []byte, dst protocol.Addr) bool {
	frame, err := e.enc.Encode(deviceID, msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType.String()).Msg("engine: encode failed")
		return false
	}
	if err := e.driver.Send(dst, frame); err != nil {
		log.Error().Err(err).Str("dst", dst.String()).Str("type", msgType.String()).
			Msg("engine: send failed")
		return false
	}
	observability.RecordFrameSent(msgType.String())
	return true
}

// target resolves the current send destination from the peer store, the
// sole source of truth for addressing.
func (e *Engine) target() (protocol.Addr, bool) {
	addr, ok := e.store.FirstOfType(e.peerType)
	if !ok {
		log.Warn().Str("peer_type", e.peerType.String()).Msg("engine: no paired target")
	}
	return addr, ok
}

func (e *Engine) SendDeviceDiscovery() bool {
	dst, ok := e.target()
	if !ok {
		return false
	}
	return e.sendPacket(0, protocol.MsgDeviceDiscovery, nil, dst)
}

func (e *Engine) SendConfigRequest(deviceID byte) bool {
	dst, ok := e.target()
	if !ok {
		return false
	}
	return e.sendPacket(deviceID, protocol.MsgConfigRequest, nil, dst)
}

func (e *Engine) SendConfigSet(deviceID byte, config []byte) bool {
	if len(config) > protocol.MaxPayloadSize {
		log.Error().Int("len", len(config)).Msg("engine: config payload too large")
		return false
	}
	dst, ok := e.target()
	if !ok {
		return false
	}
	return e.sendPacket(deviceID, protocol.MsgConfigSet, config, dst)
}

// SendCommand prefixes the 1-byte command id to the payload.
func (e *Engine) SendCommand(deviceID, commandID byte, payload []byte) bool {
	if 1+len(payload) > protocol.MaxPayloadSize {
		log.Error().Int("len", len(payload)).Msg("engine: command payload too large")
		return false
	}
	dst, ok := e.target()
	if !ok {
		return false
	}
	buf := make([]byte, 1+len(payload))
	buf[0] = commandID
	copy(buf[1:], payload)
	return e.sendPacket(deviceID, protocol.MsgCommand, buf, dst)
}

func (e *Engine) StartPairing() bool {
	return e.pairing.Start()
}

func (e *Engine) CancelPairing() {
	e.pairing.Cancel()
}

func (e *Engine) PairingState() pairing.State {
	return e.pairing.State()
}

// SecuritySettings reports the pairing-security posture for the admin
// surface; never the secret itself.
func (e *Engine) SecuritySettings() security.Settings {
	return security.SettingsFor(e.secret)
}

func (e *Engine) IsPeerApproved(addr protocol.Addr) bool {
	return e.store.IsApproved(addr)
}

// AddApprovedPeer approves a peer out of band (bench setups, recovery) and
// registers it with the radio.
func (e *Engine) AddApprovedPeer(addr protocol.Addr, devType protocol.DeviceType, name string) bool {
	if !e.store.Add(addr, devType, name) {
		return false
	}
	if err := e.driver.AddPeer(addr); err != nil {
		log.Warn().Err(err).Str("addr", addr.String()).Msg("engine: radio peer registration failed")
	}
	observability.SetApprovedPeers(e.store.Count())
	return true
}

// RemoveApprovedPeer tells the peer it is being unpaired (best effort, the
// link guarantees nothing) and invalidates its slot.
func (e *Engine) RemoveApprovedPeer(addr protocol.Addr) bool {
	if !e.store.IsApproved(addr) {
		return false
	}
	e.sendPacket(0, protocol.MsgUnpair, nil, addr)
	removed := e.store.Remove(addr)
	observability.SetApprovedPeers(e.store.Count())
	return removed
}

// ClearApprovedPeers wipes the whole table, factory-reset style. No unpair
// notifications go out; a mass reset must not depend on radio traffic.
func (e *Engine) ClearApprovedPeers() {
	e.store.ClearAll()
	observability.SetApprovedPeers(0)
}

func (e *Engine) ApprovedPeerCount() int {
	return e.store.Count()
}

func (e *Engine) ApprovedPeers() []peerstore.Peer {
	return e.store.Peers()
}

// TargetDeviceAddr reports the address operational traffic goes to.
func (e *Engine) TargetDeviceAddr() (protocol.Addr, bool) {
	return e.store.FirstOfType(e.peerType)
}

// pairingTx adapts the Engine to the pairing machine's transmitter
// interface without widening the Engine API.
type pairingTx Engine

func (t *pairingTx) Broadcast(msgType protocol.MsgType, payload []byte) bool {
	return (*Engine)(t).sendPacket(0, msgType, payload, protocol.Broadcast)
}

func (t *pairingTx) SendTo(dst protocol.Addr, msgType protocol.MsgType, payload []byte) bool {
	return (*Engine)(t).sendPacket(0, msgType, payload, dst)
}

func (t *pairingTx) RegisterPeer(addr protocol.Addr) bool {
	if err := (*Engine)(t).driver.AddPeer(addr); err != nil {
		log.Error().Err(err).Str("addr", addr.String()).Msg("engine: add radio peer failed")
		return false
	}
	return true
}
