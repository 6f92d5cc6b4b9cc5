// Package engine owns the link-layer runtime: the two-stage receive
// pipeline and the send facade the application talks to. One Engine
// instance is constructed at startup and passed by reference; there is no
// package-level state.
package engine

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fatiguelab/dialctl/internal/observability"
	"github.com/fatiguelab/dialctl/internal/pairing"
	"github.com/fatiguelab/dialctl/internal/peerstore"
	"github.com/fatiguelab/dialctl/internal/protocol"
	"github.com/fatiguelab/dialctl/internal/security"
	"github.com/fatiguelab/dialctl/internal/transport"
)

// Event is the decoded, authenticated frame representation handed to the
// application. Consumed once per poll; the payload is owned by the event.
type Event struct {
	Type       protocol.MsgType
	DeviceID   byte
	SequenceID byte
	Payload    []byte
	Src        protocol.Addr
}

// rawQueueDepth bounds stage one of the receive pipeline. The radio
// callback never blocks; overflow drops the newest frame.
const rawQueueDepth = 10

type rawMsg struct {
	src   protocol.Addr
	frame []byte
}

// Options configures an Engine.
type Options struct {
	Driver transport.Driver
	Store  *peerstore.Store
	Secret security.Secret

	// LocalType is this device's role; PeerType is the role every send
	// target and pairing partner must have.
	LocalType protocol.DeviceType
	PeerType  protocol.DeviceType

	// Events receives decoded frames that pass the security gate. Pushes
	// are non-blocking; a full queue drops the event.
	Events chan<- Event
}

// Engine is the protocol facade plus receive pipeline.
type Engine struct {
	driver  transport.Driver
	store   *peerstore.Store
	enc     *protocol.Encoder
	pairing *pairing.Machine
	secret  security.Secret

	localType protocol.DeviceType
	peerType  protocol.DeviceType

	events chan<- Event
	raw    chan rawMsg
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func New(opts Options) *Engine {
	e := &Engine{
		driver:    opts.Driver,
		store:     opts.Store,
		enc:       protocol.NewEncoder(),
		secret:    opts.Secret,
		localType: opts.LocalType,
		peerType:  opts.PeerType,
		events:    opts.Events,
		raw:       make(chan rawMsg, rawQueueDepth),
		done:      make(chan struct{}),
	}
	e.pairing = pairing.New(pairing.Options{
		Tx:               (*pairingTx)(e),
		Store:            opts.Store,
		Secret:           opts.Secret,
		LocalAddr:        opts.Driver.LocalAddr(),
		LocalType:        opts.LocalType,
		ExpectedPeerType: opts.PeerType,
		OnPaired:         e.notifyPaired,
	})
	return e
}

// Init brings up the radio, restores every approved peer (the legacy
// fallback included, since the store installs it in slot 0) as a radio
// destination and starts the processing task. An unrecoverable driver
// error fails initialization.
func (e *Engine) Init() error {
	e.driver.SetReceiveHandler(e.onReceive)
	if err := e.driver.Start(); err != nil {
		return err
	}

	for _, peer := range e.store.Peers() {
		if err := e.driver.AddPeer(peer.Addr); err != nil {
			log.Warn().Err(err).Str("addr", peer.Addr.String()).
				Msg("engine: could not restore radio peer")
		}
	}
	observability.SetApprovedPeers(e.store.Count())

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.processLoop()
	log.Info().Str("addr", e.driver.LocalAddr().String()).
		Uint8("protocol_version", uint8(protocol.Version)).
		Msg("engine: link up")
	return nil
}

// Close stops the processing task and shuts the radio down.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	close(e.done)
	err := e.driver.Close()
	e.wg.Wait()
	return err
}

// onReceive runs on the driver's receive context. It only copies the frame
// into the bounded raw queue; validation happens on the processing task.
func (e *Engine) onReceive(src protocol.Addr, frame []byte) {
	if len(frame) < protocol.MinPacketSize ||
		len(frame) > protocol.MinPacketSize+protocol.MaxPayloadSize {
		observability.RecordFrameDropped("length")
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case e.raw <- rawMsg{src: src, frame: cp}:
	default:
		observability.RecordFrameDropped("raw_queue_full")
	}
}

func (e *Engine) processLoop() {
	defer e.wg.Done()
	for {
		select {
		case msg := <-e.raw:
			e.handleFrame(msg)
		case <-e.done:
			return
		}
	}
}

func (e *Engine) handleFrame(msg rawMsg) {
	pkt, err := protocol.Decode(msg.frame)
	if err != nil {
		observability.RecordFrameDropped("decode")
		log.Debug().Err(err).Str("src", msg.src.String()).Msg("engine: frame rejected")
		return
	}
	observability.RecordFrameReceived(pkt.Type.String())

	switch pkt.Type {
	// Pairing replies bypass the approval gate: a device has to be able
	// to answer pairing before it is approved.
	case protocol.MsgPairingResponse:
		e.pairing.HandleResponse(msg.src, pkt.Payload)
		return
	case protocol.MsgPairingReject:
		e.pairing.HandleReject(msg.src, pkt.Payload)
		return
	}

	if !e.store.IsApproved(msg.src) {
		observability.RecordFrameDropped("security_gate")
		log.Warn().Str("src", msg.src.String()).Str("type", pkt.Type.String()).
			Msg("engine: frame from unapproved source dropped")
		return
	}

	e.pushEvent(Event{
		Type:       pkt.Type,
		DeviceID:   pkt.DeviceID,
		SequenceID: pkt.Seq,
		Payload:    pkt.Payload,
		Src:        msg.src,
	})
}

func (e *Engine) pushEvent(evt Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- evt:
	default:
		observability.RecordFrameDropped("event_queue_full")
	}
}

// notifyPaired surfaces a successful pairing to the application as an
// informational event carrying the peer's advertised name.
func (e *Engine) notifyPaired(peer peerstore.Peer) {
	e.pushEvent(Event{
		Type:    protocol.MsgPairingConfirm,
		Payload: []byte(peer.Name),
		Src:     peer.Addr,
	})
}
