package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fatiguelab/dialctl/internal/protocol"
)

// udp datagram layout: [src_addr:6][frame:n]. The 6-byte source address
// rides in front of the frame because a real radio reports it out of band.
const udpAddrPrefix = 6

// UDPDriver is the host-side stand-in for the radio: one datagram socket,
// a static address book mapping 6-byte device addresses to UDP endpoints,
// and broadcast implemented as fan-out over the book.
type UDPDriver struct {
	mu       sync.RWMutex
	local    protocol.Addr
	bindAddr string
	book     map[protocol.Addr]*net.UDPAddr
	peers    map[protocol.Addr]struct{}
	handler  ReceiveHandler
	conn     *net.UDPConn
	done     chan struct{}
}

// UDPEndpoint is one address-book entry.
type UDPEndpoint struct {
	Addr     protocol.Addr
	Endpoint string
}

func NewUDPDriver(local protocol.Addr, bindAddr string, book []UDPEndpoint) (*UDPDriver, error) {
	d := &UDPDriver{
		local:    local,
		bindAddr: bindAddr,
		book:     make(map[protocol.Addr]*net.UDPAddr, len(book)),
		peers:    make(map[protocol.Addr]struct{}),
	}
	for _, entry := range book {
		resolved, err := net.ResolveUDPAddr("udp", entry.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("transport: bad endpoint %q for %s: %w", entry.Endpoint, entry.Addr, err)
		}
		d.book[entry.Addr] = resolved
	}
	return d, nil
}

func (d *UDPDriver) Start() error {
	bind, err := net.ResolveUDPAddr("udp", d.bindAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.conn = conn
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.receiveLoop(conn)
	log.Info().Str("bind", conn.LocalAddr().String()).Str("addr", d.local.String()).
		Msg("transport: udp driver up")
	return nil
}

func (d *UDPDriver) Close() error {
	d.mu.Lock()
	conn := d.conn
	done := d.done
	d.conn = nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}

func (d *UDPDriver) LocalAddr() protocol.Addr { return d.local }

func (d *UDPDriver) AddPeer(addr protocol.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.book[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	d.peers[addr] = struct{}{}
	return nil
}

func (d *UDPDriver) Send(dst protocol.Addr, frame []byte) error {
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		return ErrNotStarted
	}

	datagram := make([]byte, udpAddrPrefix+len(frame))
	copy(datagram[:udpAddrPrefix], d.local[:])
	copy(datagram[udpAddrPrefix:], frame)

	if dst.IsBroadcast() {
		d.mu.RLock()
		targets := make([]*net.UDPAddr, 0, len(d.book))
		for _, ep := range d.book {
			targets = append(targets, ep)
		}
		d.mu.RUnlock()
		for _, ep := range targets {
			if _, err := conn.WriteToUDP(datagram, ep); err != nil {
				log.Debug().Err(err).Str("endpoint", ep.String()).Msg("transport: broadcast leg failed")
			}
		}
		return nil
	}

	d.mu.RLock()
	ep, ok := d.book[dst]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, dst)
	}
	_, err := conn.WriteToUDP(datagram, ep)
	return err
}

func (d *UDPDriver) SetReceiveHandler(h ReceiveHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *UDPDriver) receiveLoop(conn *net.UDPConn) {
	defer close(d.done)
	buf := make([]byte, udpAddrPrefix+protocol.MinPacketSize+protocol.MaxPayloadSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < udpAddrPrefix {
			continue
		}
		var src protocol.Addr
		copy(src[:], buf[:udpAddrPrefix])

		d.mu.RLock()
		handler := d.handler
		d.mu.RUnlock()
		if handler == nil {
			continue
		}
		frame := make([]byte, n-udpAddrPrefix)
		copy(frame, buf[udpAddrPrefix:n])
		handler(src, frame)
	}
}
