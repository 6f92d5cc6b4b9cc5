package transport

import (
	"sync"

	"github.com/fatiguelab/dialctl/internal/protocol"
)

// MemBus connects in-memory drivers for tests and loopback benches.
// Delivery is synchronous on the sender's goroutine, which mirrors the
// radio callback context closely enough: handlers must not block either way.
type MemBus struct {
	mu      sync.RWMutex
	drivers map[protocol.Addr]*MemDriver
}

func NewMemBus() *MemBus {
	return &MemBus{drivers: make(map[protocol.Addr]*MemDriver)}
}

// Attach creates a driver for addr on this bus.
func (b *MemBus) Attach(addr protocol.Addr) *MemDriver {
	d := &MemDriver{bus: b, local: addr, peers: make(map[protocol.Addr]struct{})}
	b.mu.Lock()
	b.drivers[addr] = d
	b.mu.Unlock()
	return d
}

func (b *MemBus) deliver(src, dst protocol.Addr, frame []byte) {
	b.mu.RLock()
	targets := make([]*MemDriver, 0, len(b.drivers))
	if dst.IsBroadcast() {
		for addr, d := range b.drivers {
			if addr != src {
				targets = append(targets, d)
			}
		}
	} else if d, ok := b.drivers[dst]; ok {
		targets = append(targets, d)
	}
	b.mu.RUnlock()

	for _, d := range targets {
		d.receive(src, frame)
	}
}

// MemDriver is a bus-attached Driver used where the real radio is absent.
type MemDriver struct {
	mu      sync.RWMutex
	bus     *MemBus
	local   protocol.Addr
	peers   map[protocol.Addr]struct{}
	handler ReceiveHandler
	started bool
}

func (d *MemDriver) Start() error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *MemDriver) Close() error {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

func (d *MemDriver) LocalAddr() protocol.Addr { return d.local }

func (d *MemDriver) AddPeer(addr protocol.Addr) error {
	d.mu.Lock()
	d.peers[addr] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (d *MemDriver) Send(dst protocol.Addr, frame []byte) error {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.bus.deliver(d.local, dst, cp)
	return nil
}

func (d *MemDriver) SetReceiveHandler(h ReceiveHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *MemDriver) receive(src protocol.Addr, frame []byte) {
	d.mu.RLock()
	handler := d.handler
	started := d.started
	d.mu.RUnlock()
	if handler == nil || !started {
		return
	}
	handler(src, frame)
}
