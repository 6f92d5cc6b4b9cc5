// Command unitsim simulates a fatigue test unit on the bench: it answers
// pairing requests, discovery, config and command traffic, and emits
// periodic status updates while a simulated test runs.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fatiguelab/dialctl/internal/config"
	"github.com/fatiguelab/dialctl/internal/logging"
	"github.com/fatiguelab/dialctl/internal/observability"
	"github.com/fatiguelab/dialctl/internal/payload"
	"github.com/fatiguelab/dialctl/internal/peerstore"
	"github.com/fatiguelab/dialctl/internal/protocol"
	"github.com/fatiguelab/dialctl/internal/security"
	"github.com/fatiguelab/dialctl/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/unitsim.toml", "path to TOML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "unitsim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logging.ConfigureRuntime()
	observability.InitLogger("unitsim")

	cfg, err := config.LoadDialConfig(configPath)
	if err != nil {
		return err
	}
	secret, err := security.LoadSecret()
	if err != nil {
		return err
	}
	store := peerstore.New(
		peerstore.FileBackend{Path: cfg.Store.Path},
		protocol.Addr{}, protocol.DeviceUnknown, "",
	)

	book := make([]transport.UDPEndpoint, 0, len(cfg.Radio.Peers))
	for _, peer := range cfg.Radio.Peers {
		addr, _ := protocol.ParseAddr(peer.Addr)
		book = append(book, transport.UDPEndpoint{Addr: addr, Endpoint: peer.Endpoint})
	}
	driver, err := transport.NewUDPDriver(cfg.LocalAddr(), cfg.Radio.Bind, book)
	if err != nil {
		return err
	}

	unit := &testUnit{
		name:   cfg.Name,
		driver: driver,
		store:  store,
		secret: secret,
		enc:    protocol.NewEncoder(),
		config: payload.Config{
			CycleAmount:     1000,
			TimePerCycleSec: 2,
			DwellTimeSec:    1,
		},
	}
	driver.SetReceiveHandler(unit.onReceive)
	if err := driver.Start(); err != nil {
		return err
	}
	defer driver.Close()
	for _, peer := range store.Peers() {
		if err := driver.AddPeer(peer.Addr); err != nil {
			log.Warn().Err(err).Str("addr", peer.Addr.String()).Msg("unitsim: could not restore peer")
		}
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("addr", cfg.LocalAddr().String()).Msg("unitsim: up")
	for {
		select {
		case <-ticker.C:
			unit.tick()
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("unitsim: shutting down")
			return nil
		}
	}
}

// testUnit holds simulated test state plus the pairing challenge of the
// attempt in flight.
type testUnit struct {
	name   string
	driver transport.Driver
	store  *peerstore.Store
	secret security.Secret
	enc    *protocol.Encoder

	mu           sync.Mutex
	config       payload.Config
	state        payload.TestState
	cycle        uint32
	ownChallenge [protocol.ChallengeSize]byte
	pendingPeer  protocol.Addr
}

func (u *testUnit) onReceive(src protocol.Addr, frame []byte) {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		log.Debug().Err(err).Str("src", src.String()).Msg("unitsim: frame rejected")
		return
	}

	switch pkt.Type {
	case protocol.MsgPairingRequest:
		u.handlePairingRequest(src, pkt.Payload)
		return
	case protocol.MsgPairingConfirm:
		u.handlePairingConfirm(src, pkt.Payload)
		return
	}

	if !u.store.IsApproved(src) {
		log.Warn().Str("src", src.String()).Str("type", pkt.Type.String()).
			Msg("unitsim: frame from unapproved source dropped")
		return
	}

	switch pkt.Type {
	case protocol.MsgDeviceDiscovery:
		u.send(src, protocol.MsgDeviceInfo, []byte(u.name))
	case protocol.MsgConfigRequest:
		u.mu.Lock()
		raw := u.config.Encode()
		u.mu.Unlock()
		u.send(src, protocol.MsgConfigResponse, raw)
	case protocol.MsgConfigSet:
		cfg, err := payload.ParseConfig(pkt.Payload)
		ack := []byte{1}
		if err != nil {
			ack[0] = 0
		} else {
			u.mu.Lock()
			u.config = cfg
			u.mu.Unlock()
		}
		u.send(src, protocol.MsgConfigAck, ack)
	case protocol.MsgCommand:
		u.handleCommand(src, pkt.Payload)
	case protocol.MsgUnpair:
		u.store.Remove(src)
		log.Info().Str("src", src.String()).Msg("unitsim: unpaired by remote")
	default:
		log.Debug().Str("type", pkt.Type.String()).Msg("unitsim: unhandled frame")
	}
}

func (u *testUnit) handlePairingRequest(src protocol.Addr, raw []byte) {
	req, err := protocol.ParsePairingRequest(raw)
	if err != nil {
		log.Debug().Err(err).Msg("unitsim: malformed pairing request")
		return
	}
	if req.ProtocolVersion != protocol.Version {
		u.reject(req.RequesterAddr, protocol.RejectProtocolMismatch)
		return
	}
	if req.ExpectedPeerType != protocol.DeviceFatigueTester {
		u.reject(req.RequesterAddr, protocol.RejectWrongDeviceType)
		return
	}

	challenge, err := security.GenerateChallenge()
	if err != nil {
		log.Error().Err(err).Msg("unitsim: challenge generation failed")
		return
	}
	u.mu.Lock()
	u.ownChallenge = challenge
	u.pendingPeer = req.RequesterAddr
	u.mu.Unlock()

	resp := protocol.PairingResponse{
		ResponderAddr: u.driver.LocalAddr(),
		DeviceType:    protocol.DeviceFatigueTester,
		Challenge:     challenge,
		HMAC:          security.ComputeHMAC(u.secret, req.Challenge[:]),
		Name:          u.name,
	}
	u.send(req.RequesterAddr, protocol.MsgPairingResponse, resp.Encode())
	log.Info().Str("requester", req.RequesterAddr.String()).Msg("unitsim: pairing response sent")
}

func (u *testUnit) handlePairingConfirm(src protocol.Addr, raw []byte) {
	confirm, err := protocol.ParsePairingConfirm(raw)
	if err != nil {
		log.Debug().Err(err).Msg("unitsim: malformed pairing confirm")
		return
	}
	u.mu.Lock()
	pending := u.pendingPeer
	challenge := u.ownChallenge
	u.mu.Unlock()
	if pending.IsZero() || confirm.ConfirmerAddr != pending {
		log.Warn().Str("src", src.String()).Msg("unitsim: unexpected pairing confirm")
		return
	}
	if !confirm.Success || !security.VerifyHMAC(u.secret, challenge[:], confirm.HMAC) {
		u.reject(pending, protocol.RejectHMACFailed)
		return
	}
	if !u.store.Add(confirm.ConfirmerAddr, protocol.DeviceRemote, "remote") {
		u.reject(pending, protocol.RejectAlreadyPaired)
		return
	}
	u.mu.Lock()
	u.pendingPeer = protocol.Addr{}
	u.mu.Unlock()
	log.Info().Str("peer", confirm.ConfirmerAddr.String()).Msg("unitsim: paired")
}

func (u *testUnit) handleCommand(src protocol.Addr, raw []byte) {
	if len(raw) < 1 {
		u.send(src, protocol.MsgCommandAck, []byte{0})
		return
	}
	ok := true
	u.mu.Lock()
	switch raw[0] {
	case payload.CmdStart:
		u.state = payload.TestRunning
		u.cycle = 0
	case payload.CmdPause:
		if u.state == payload.TestRunning {
			u.state = payload.TestPaused
		} else {
			ok = false
		}
	case payload.CmdResume:
		if u.state == payload.TestPaused {
			u.state = payload.TestRunning
		} else {
			ok = false
		}
	case payload.CmdStop:
		u.state = payload.TestIdle
	case payload.CmdRunBoundsFinding:
		ok = u.state == payload.TestIdle
	default:
		ok = false
	}
	u.mu.Unlock()

	ack := []byte{0}
	if ok {
		ack[0] = 1
	}
	u.send(src, protocol.MsgCommandAck, ack)

	if ok && raw[0] == payload.CmdRunBoundsFinding {
		result := payload.BoundsResult{
			OK:                   true,
			Bounded:              true,
			MinDegreesFromCenter: -42.5,
			MaxDegreesFromCenter: 38.0,
			GlobalMinDegrees:     -45.0,
			GlobalMaxDegrees:     45.0,
		}
		u.send(src, protocol.MsgBoundsResult, result.Encode())
	}
}

// tick advances the simulated test one step and pushes a status update to
// the paired remote.
func (u *testUnit) tick() {
	u.mu.Lock()
	if u.state == payload.TestRunning {
		u.cycle++
		if u.cycle >= u.config.CycleAmount {
			u.state = payload.TestCompleted
		}
	}
	status := payload.Status{CycleNumber: u.cycle, State: u.state}
	completed := u.state == payload.TestCompleted
	if completed {
		u.state = payload.TestIdle
	}
	u.mu.Unlock()

	dst, ok := u.store.FirstOfType(protocol.DeviceRemote)
	if !ok {
		return
	}
	u.send(dst, protocol.MsgStatusUpdate, status.Encode())
	if completed {
		u.send(dst, protocol.MsgTestComplete, nil)
	}
}

func (u *testUnit) reject(dst protocol.Addr, reason protocol.RejectReason) {
	frame := protocol.PairingReject{
		RejecterAddr: u.driver.LocalAddr(),
		Reason:       reason,
	}
	u.send(dst, protocol.MsgPairingReject, frame.Encode())
	log.Info().Str("dst", dst.String()).Str("reason", reason.String()).
		Msg("unitsim: pairing rejected")
}

func (u *testUnit) send(dst protocol.Addr, msgType protocol.MsgType, raw []byte) {
	frame, err := u.enc.Encode(payload.DeviceIDFatigueTester, msgType, raw)
	if err != nil {
		log.Error().Err(err).Str("type", msgType.String()).Msg("unitsim: encode failed")
		return
	}
	if err := u.driver.Send(dst, frame); err != nil {
		log.Debug().Err(err).Str("dst", dst.String()).Str("type", msgType.String()).
			Msg("unitsim: send failed")
	}
}
