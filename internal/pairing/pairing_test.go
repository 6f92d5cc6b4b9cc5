package pairing

import (
	"testing"
	"time"

	"github.com/fatiguelab/dialctl/internal/peerstore"
	"github.com/fatiguelab/dialctl/internal/protocol"
	"github.com/fatiguelab/dialctl/internal/security"
	"github.com/fatiguelab/dialctl/internal/testutil/testlog"
)

var (
	remoteAddr = protocol.Addr{0x02, 0, 0, 0, 0, 0x01}
	unitAddr   = protocol.Addr{0x02, 0, 0, 0, 0, 0x02}
)

type sent struct {
	dst     protocol.Addr
	msgType protocol.MsgType
	payload []byte
}

// fakeTx records transmissions and lets tests fail specific legs.
type fakeTx struct {
	broadcasts []sent
	directs    []sent
	registered []protocol.Addr

	failBroadcast bool
	failSend      bool
	failRegister  bool
}

func (f *fakeTx) Broadcast(msgType protocol.MsgType, payload []byte) bool {
	if f.failBroadcast {
		return false
	}
	f.broadcasts = append(f.broadcasts, sent{protocol.Broadcast, msgType, payload})
	return true
}

func (f *fakeTx) SendTo(dst protocol.Addr, msgType protocol.MsgType, payload []byte) bool {
	if f.failSend {
		return false
	}
	f.directs = append(f.directs, sent{dst, msgType, payload})
	return true
}

func (f *fakeTx) RegisterPeer(addr protocol.Addr) bool {
	if f.failRegister {
		return false
	}
	f.registered = append(f.registered, addr)
	return true
}

type fixture struct {
	machine *Machine
	tx      *fakeTx
	store   *peerstore.Store
	secret  security.Secret
	clock   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	secret, err := security.ParseSecret("00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("parse secret: %v", err)
	}
	now := time.Unix(1700000000, 0)
	f := &fixture{
		tx:     &fakeTx{},
		store:  peerstore.New(&peerstore.MemBackend{}, protocol.Addr{}, protocol.DeviceUnknown, ""),
		secret: secret,
		clock:  &now,
	}
	f.machine = New(Options{
		Tx:               f.tx,
		Store:            f.store,
		Secret:           secret,
		LocalAddr:        remoteAddr,
		LocalType:        protocol.DeviceRemote,
		ExpectedPeerType: protocol.DeviceFatigueTester,
		Now:              func() time.Time { return *f.clock },
	})
	return f
}

// respond builds a valid PairingResponse to the last broadcast request.
func (f *fixture) respond(t *testing.T) []byte {
	t.Helper()
	if len(f.tx.broadcasts) == 0 {
		t.Fatalf("no pairing request broadcast")
	}
	req, err := protocol.ParsePairingRequest(f.tx.broadcasts[len(f.tx.broadcasts)-1].payload)
	if err != nil {
		t.Fatalf("parse broadcast request: %v", err)
	}
	resp := protocol.PairingResponse{
		ResponderAddr: unitAddr,
		DeviceType:    protocol.DeviceFatigueTester,
		Challenge:     [protocol.ChallengeSize]byte{9, 8, 7, 6, 5, 4, 3, 2},
		HMAC:          security.ComputeHMAC(f.secret, req.Challenge[:]),
		Name:          "bench-unit-1",
	}
	return resp.Encode()
}

func TestPairingHappyPath(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	var paired []peerstore.Peer
	f.machine.onPaired = func(p peerstore.Peer) { paired = append(paired, p) }

	if !f.machine.Start() {
		t.Fatalf("start failed")
	}
	if f.machine.State() != StateWaitingForResponse {
		t.Fatalf("state = %s", f.machine.State())
	}

	f.machine.HandleResponse(unitAddr, f.respond(t))

	if f.machine.State() != StateComplete {
		t.Fatalf("state = %s, want complete", f.machine.State())
	}
	if !f.store.IsApproved(unitAddr) || f.store.Count() != 1 {
		t.Fatalf("peer not approved after pairing")
	}
	if len(f.tx.registered) != 1 || f.tx.registered[0] != unitAddr {
		t.Fatalf("radio peer not registered: %v", f.tx.registered)
	}
	if len(paired) != 1 || paired[0].Name != "bench-unit-1" {
		t.Fatalf("onPaired = %+v", paired)
	}

	// The confirm must carry a valid HMAC over the responder's challenge.
	if len(f.tx.directs) != 1 || f.tx.directs[0].msgType != protocol.MsgPairingConfirm {
		t.Fatalf("directs = %+v", f.tx.directs)
	}
	confirm, err := protocol.ParsePairingConfirm(f.tx.directs[0].payload)
	if err != nil {
		t.Fatalf("parse confirm: %v", err)
	}
	responderChallenge := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	if !confirm.Success || !security.VerifyHMAC(f.secret, responderChallenge, confirm.HMAC) {
		t.Fatalf("confirm HMAC invalid")
	}
}

func TestPairingBadHMACFails(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.machine.Start()

	wrongSecret, _ := security.ParseSecret("ffeeddccbbaa99887766554433221100")
	req, _ := protocol.ParsePairingRequest(f.tx.broadcasts[0].payload)
	resp := protocol.PairingResponse{
		ResponderAddr: unitAddr,
		DeviceType:    protocol.DeviceFatigueTester,
		HMAC:          security.ComputeHMAC(wrongSecret, req.Challenge[:]),
		Name:          "impostor",
	}
	f.machine.HandleResponse(unitAddr, resp.Encode())

	if f.machine.State() != StateFailed {
		t.Fatalf("state = %s, want failed", f.machine.State())
	}
	if f.store.Count() != 0 {
		t.Fatalf("impostor approved")
	}
	if len(f.tx.directs) != 0 {
		t.Fatalf("confirm sent despite bad HMAC")
	}
}

func TestPairingWrongDeviceTypeIgnored(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.machine.Start()

	req, _ := protocol.ParsePairingRequest(f.tx.broadcasts[0].payload)
	resp := protocol.PairingResponse{
		ResponderAddr: unitAddr,
		DeviceType:    protocol.DeviceRemote,
		HMAC:          security.ComputeHMAC(f.secret, req.Challenge[:]),
		Name:          "other-remote",
	}
	f.machine.HandleResponse(unitAddr, resp.Encode())

	// Another device may still answer the broadcast; the session stays open.
	if f.machine.State() != StateWaitingForResponse {
		t.Fatalf("state = %s, want waiting", f.machine.State())
	}
	if f.store.Count() != 0 {
		t.Fatalf("wrong-type peer approved")
	}

	f.machine.HandleResponse(unitAddr, f.respond(t))
	if f.machine.State() != StateComplete {
		t.Fatalf("state = %s after valid response", f.machine.State())
	}
}

func TestPairingMalformedResponseFails(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.machine.Start()
	f.machine.HandleResponse(unitAddr, []byte{1, 2, 3})
	if f.machine.State() != StateFailed {
		t.Fatalf("state = %s, want failed", f.machine.State())
	}
}

func TestPairingTimeoutObservedLazily(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.machine.Start()

	*f.clock = f.clock.Add(ResponseTimeout - time.Second)
	if f.machine.State() != StateWaitingForResponse {
		t.Fatalf("state = %s before deadline", f.machine.State())
	}

	*f.clock = f.clock.Add(2 * time.Second)
	if f.machine.State() != StateFailed {
		t.Fatalf("state = %s after deadline", f.machine.State())
	}

	// A response landing after expiry must not pair.
	f.machine.HandleResponse(unitAddr, f.respond(t))
	if f.store.Count() != 0 {
		t.Fatalf("late response approved a peer")
	}
}

func TestPairingStartWhileWaitingRefused(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if !f.machine.Start() {
		t.Fatalf("first start failed")
	}
	if f.machine.Start() {
		t.Fatalf("second start accepted while waiting")
	}
	// After the deadline a new attempt is allowed again.
	*f.clock = f.clock.Add(ResponseTimeout + time.Second)
	if !f.machine.Start() {
		t.Fatalf("restart after timeout failed")
	}
}

func TestPairingCancel(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.machine.Start()
	f.machine.Cancel()
	if f.machine.State() != StateIdle {
		t.Fatalf("state = %s after cancel", f.machine.State())
	}
	f.machine.HandleResponse(unitAddr, f.respond(t))
	if f.store.Count() != 0 {
		t.Fatalf("response after cancel approved a peer")
	}
}

func TestPairingRejectDoesNotAbortSession(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.machine.Start()

	reject := protocol.PairingReject{RejecterAddr: unitAddr, Reason: protocol.RejectNotInPairingMode}
	f.machine.HandleReject(unitAddr, reject.Encode())
	if f.machine.State() != StateWaitingForResponse {
		t.Fatalf("state = %s after reject", f.machine.State())
	}

	f.machine.HandleResponse(unitAddr, f.respond(t))
	if f.machine.State() != StateComplete {
		t.Fatalf("state = %s after valid response", f.machine.State())
	}
}

func TestPairingTableFullFails(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	for i := 0; i < peerstore.MaxPeers; i++ {
		f.store.Add(protocol.Addr{0x03, 0, 0, 0, 0, byte(i + 1)}, protocol.DeviceRemote, "filler")
	}
	f.machine.Start()
	f.machine.HandleResponse(unitAddr, f.respond(t))
	if f.machine.State() != StateFailed {
		t.Fatalf("state = %s with full table", f.machine.State())
	}
	if f.store.IsApproved(unitAddr) {
		t.Fatalf("peer approved despite full table")
	}
}

func TestPairingBroadcastFailure(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.tx.failBroadcast = true
	if f.machine.Start() {
		t.Fatalf("start succeeded with dead radio")
	}
	if f.machine.State() != StateIdle {
		t.Fatalf("state = %s", f.machine.State())
	}
}
