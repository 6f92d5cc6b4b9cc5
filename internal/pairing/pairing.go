// Package pairing implements the challenge/response pairing state machine
// for the dial remote. One session at most is in flight; a successful
// session adds exactly one approved peer.
package pairing

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fatiguelab/dialctl/internal/observability"
	"github.com/fatiguelab/dialctl/internal/peerstore"
	"github.com/fatiguelab/dialctl/internal/protocol"
	"github.com/fatiguelab/dialctl/internal/security"
)

// State of the single pairing session.
type State byte

const (
	StateIdle State = iota
	StateWaitingForResponse
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForResponse:
		return "waiting_for_response"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ResponseTimeout bounds one pairing attempt. There is no background timer;
// expiry is observed lazily when State is queried.
const ResponseTimeout = 10 * time.Second

// Transmitter is the slice of the link layer the machine needs.
type Transmitter interface {
	Broadcast(msgType protocol.MsgType, payload []byte) bool
	SendTo(dst protocol.Addr, msgType protocol.MsgType, payload []byte) bool
	RegisterPeer(addr protocol.Addr) bool
}

// Options configures a Machine.
type Options struct {
	Tx               Transmitter
	Store            *peerstore.Store
	Secret           security.Secret
	LocalAddr        protocol.Addr
	LocalType        protocol.DeviceType
	ExpectedPeerType protocol.DeviceType

	// OnPaired is called after a peer is approved, carrying the peer's
	// advertised name. Optional.
	OnPaired func(peer peerstore.Peer)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Machine is the pairing session owner.
type Machine struct {
	mu sync.Mutex

	tx               Transmitter
	store            *peerstore.Store
	secret           security.Secret
	localAddr        protocol.Addr
	localType        protocol.DeviceType
	expectedPeerType protocol.DeviceType
	onPaired         func(peer peerstore.Peer)
	now              func() time.Time

	state     State
	challenge [protocol.ChallengeSize]byte
	deadline  time.Time
}

func New(opts Options) *Machine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		tx:               opts.Tx,
		store:            opts.Store,
		secret:           opts.Secret,
		localAddr:        opts.LocalAddr,
		localType:        opts.LocalType,
		expectedPeerType: opts.ExpectedPeerType,
		onPaired:         opts.OnPaired,
		now:              now,
		state:            StateIdle,
	}
}

// Start generates a fresh challenge, broadcasts a PairingRequest and arms
// the response deadline. A new attempt may start from any state except
// WaitingForResponse.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stateLocked() == StateWaitingForResponse {
		log.Warn().Msg("pairing: attempt already active")
		return false
	}

	challenge, err := security.GenerateChallenge()
	if err != nil {
		log.Error().Err(err).Msg("pairing: challenge generation failed")
		return false
	}

	req := protocol.PairingRequest{
		RequesterAddr:    m.localAddr,
		DeviceType:       m.localType,
		ExpectedPeerType: m.expectedPeerType,
		Challenge:        challenge,
		ProtocolVersion:  protocol.Version,
	}
	if !m.tx.Broadcast(protocol.MsgPairingRequest, req.Encode()) {
		log.Error().Msg("pairing: broadcast failed")
		return false
	}

	m.challenge = challenge
	m.deadline = m.now().Add(ResponseTimeout)
	m.state = StateWaitingForResponse
	log.Info().Str("expected_peer", m.expectedPeerType.String()).Msg("pairing: started")
	return true
}

// Cancel forces Idle from any state.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateWaitingForResponse {
		observability.RecordPairingOutcome("cancelled")
	}
	m.state = StateIdle
}

// State reports the session state. When the response deadline has elapsed
// while waiting, the first query after the deadline transitions to Failed.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() State {
	if m.state == StateWaitingForResponse && m.now().After(m.deadline) {
		log.Warn().Msg("pairing: response timeout")
		observability.RecordPairingOutcome("timeout")
		m.state = StateFailed
	}
	return m.state
}

// HandleResponse processes a PairingResponse frame. The request went out as
// a broadcast, so responses from devices of the wrong type are ignored
// without failing the session; another device may still answer correctly.
func (m *Machine) HandleResponse(src protocol.Addr, payload []byte) {
	peer, paired := m.handleResponse(src, payload)
	if paired && m.onPaired != nil {
		m.onPaired(peer)
	}
}

func (m *Machine) handleResponse(src protocol.Addr, payload []byte) (peerstore.Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stateLocked() != StateWaitingForResponse {
		return peerstore.Peer{}, false
	}

	resp, err := protocol.ParsePairingResponse(payload)
	if err != nil {
		log.Warn().Int("len", len(payload)).Msg("pairing: response too short")
		m.failLocked("malformed_response")
		return peerstore.Peer{}, false
	}

	if resp.DeviceType != m.expectedPeerType {
		log.Debug().Str("src", src.String()).Str("type", resp.DeviceType.String()).
			Msg("pairing: ignoring response from wrong device type")
		return peerstore.Peer{}, false
	}

	if !security.VerifyHMAC(m.secret, m.challenge[:], resp.HMAC) {
		log.Warn().Str("src", src.String()).
			Msg("pairing: hmac verification failed, likely unauthorized device")
		m.failLocked("hmac_mismatch")
		return peerstore.Peer{}, false
	}

	if !m.tx.RegisterPeer(resp.ResponderAddr) {
		log.Error().Str("addr", resp.ResponderAddr.String()).Msg("pairing: radio peer registration failed")
		m.failLocked("peer_register")
		return peerstore.Peer{}, false
	}

	confirm := protocol.PairingConfirm{
		ConfirmerAddr: m.localAddr,
		HMAC:          security.ComputeHMAC(m.secret, resp.Challenge[:]),
		Success:       true,
	}
	if !m.tx.SendTo(resp.ResponderAddr, protocol.MsgPairingConfirm, confirm.Encode()) {
		log.Error().Msg("pairing: confirm send failed")
		m.failLocked("confirm_send")
		return peerstore.Peer{}, false
	}

	if !m.store.Add(resp.ResponderAddr, resp.DeviceType, resp.Name) {
		log.Error().Msg("pairing: approved peer table full")
		m.failLocked("table_full")
		return peerstore.Peer{}, false
	}

	m.state = StateComplete
	observability.RecordPairingOutcome("complete")
	observability.SetApprovedPeers(m.store.Count())
	log.Info().Str("addr", resp.ResponderAddr.String()).Str("name", resp.Name).
		Msg("pairing: paired")

	return peerstore.Peer{Addr: resp.ResponderAddr, Type: resp.DeviceType, Name: resp.Name, Valid: true}, true
}

// HandleReject logs a PairingReject without touching session state: a
// reject from one responder must not abort a broadcast request another
// device may still answer.
func (m *Machine) HandleReject(src protocol.Addr, payload []byte) {
	reject, err := protocol.ParsePairingReject(payload)
	if err != nil {
		log.Warn().Str("src", src.String()).Msg("pairing: malformed reject")
		return
	}
	log.Warn().Str("src", src.String()).Str("reason", reject.Reason.String()).
		Msg("pairing: rejected by responder")
}

func (m *Machine) failLocked(reason string) {
	observability.RecordPairingOutcome("failed_" + reason)
	m.state = StateFailed
}
