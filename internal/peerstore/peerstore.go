// Package peerstore keeps the persistent table of pairing-approved peers.
// The table is the sole source of truth for addressing: the current send
// target is always resolved from it, never from separate configuration.
package peerstore

import (
	"encoding/binary"
	"hash/crc32"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fatiguelab/dialctl/internal/protocol"
)

// MaxPeers is the fixed slot capacity of the approved-peer table.
const MaxPeers = 4

const (
	peerRecordSize = 6 + 1 + protocol.MaxNameLen + 4 + 1
	tableSize      = MaxPeers * peerRecordSize

	// BlobSize is the exact persisted length: table bytes plus CRC32.
	BlobSize = tableSize + 4
)

// Peer is one approved-peer slot. Reserved carries the pairing timestamp
// field from the wire contract; nothing reads it yet.
type Peer struct {
	Addr     protocol.Addr
	Type     protocol.DeviceType
	Name     string
	Reserved uint32
	Valid    bool
}

// Backend persists the peer table blob. Load returns (nil, nil) when no
// blob exists yet.
type Backend interface {
	Load() ([]byte, error)
	Save(blob []byte) error
}

// Store is the capacity-bounded approved-peer table. All mutation persists
// immediately; a persistence failure is logged and never propagated, since
// losing pairing state must not take the device down.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	slots   [MaxPeers]Peer
}

// New loads the persisted table from backend. On absence or any corruption
// (wrong length, CRC mismatch, storage error) the table resets to empty
// and, if fallback is non-zero, installs it in slot 0 for compatibility
// with pre-pairing deployments.
func New(backend Backend, fallback protocol.Addr, fallbackType protocol.DeviceType, fallbackName string) *Store {
	s := &Store{backend: backend}

	blob, err := backend.Load()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("peerstore: load failed, starting empty")
	case blob == nil:
		log.Info().Msg("peerstore: no persisted peers")
	case !s.decodeBlob(blob):
		log.Warn().Msg("peerstore: persisted table corrupt, starting empty")
	default:
		log.Info().Int("peers", s.countLocked()).Msg("peerstore: loaded")
		return s
	}

	if !fallback.IsZero() {
		s.slots[0] = Peer{
			Addr:  fallback,
			Type:  fallbackType,
			Name:  clampName(fallbackName),
			Valid: true,
		}
		log.Info().Str("addr", fallback.String()).Msg("peerstore: installed fallback peer")
	}
	return s
}

// Add approves a peer. A zero address is rejected; an existing address is
// overwritten in place; otherwise the first invalid slot is consumed.
// Returns false when the address is zero or all slots are valid.
func (s *Store) Add(addr protocol.Addr, devType protocol.DeviceType, name string) bool {
	if addr.IsZero() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1
	for i := range s.slots {
		if s.slots[i].Valid && s.slots[i].Addr == addr {
			slot = i // overwrite in place
			break
		}
		if slot < 0 && !s.slots[i].Valid {
			slot = i
		}
	}
	if slot < 0 {
		return false
	}

	s.slots[slot] = Peer{Addr: addr, Type: devType, Name: clampName(name), Valid: true}
	s.persistLocked()
	return true
}

// Remove invalidates the matching slot and persists; no-op when absent.
func (s *Store) Remove(addr protocol.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if s.slots[i].Valid && s.slots[i].Addr == addr {
			s.slots[i] = Peer{}
			s.persistLocked()
			return true
		}
	}
	return false
}

// IsApproved reports whether addr occupies a valid slot. Approval is
// unconditional once valid; there is no secondary enable flag.
func (s *Store) IsApproved(addr protocol.Addr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.slots {
		if s.slots[i].Valid && s.slots[i].Addr == addr {
			return true
		}
	}
	return false
}

// FirstOfType resolves the current send target for a device role.
func (s *Store) FirstOfType(devType protocol.DeviceType) (protocol.Addr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.slots {
		if s.slots[i].Valid && s.slots[i].Type == devType {
			return s.slots[i].Addr, true
		}
	}
	return protocol.Addr{}, false
}

// Count returns the number of valid slots.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked()
}

// Peers returns a snapshot of the valid entries.
func (s *Store) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, MaxPeers)
	for i := range s.slots {
		if s.slots[i].Valid {
			out = append(out, s.slots[i])
		}
	}
	return out
}

// ClearAll invalidates every slot and persists the empty table.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = [MaxPeers]Peer{}
	s.persistLocked()
}

func (s *Store) countLocked() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].Valid {
			n++
		}
	}
	return n
}

func (s *Store) persistLocked() {
	if err := s.backend.Save(s.encodeBlob()); err != nil {
		log.Error().Err(err).Msg("peerstore: save failed")
	}
}

func (s *Store) encodeBlob() []byte {
	blob := make([]byte, BlobSize)
	for i := range s.slots {
		rec := blob[i*peerRecordSize:]
		copy(rec[0:6], s.slots[i].Addr[:])
		rec[6] = byte(s.slots[i].Type)
		copy(rec[7:7+protocol.MaxNameLen], s.slots[i].Name)
		binary.LittleEndian.PutUint32(rec[23:27], s.slots[i].Reserved)
		if s.slots[i].Valid {
			rec[27] = 1
		}
	}
	crc := crc32.ChecksumIEEE(blob[:tableSize])
	binary.LittleEndian.PutUint32(blob[tableSize:], crc)
	return blob
}

// decodeBlob validates length and CRC; any deviation leaves the table
// untouched and reports false.
func (s *Store) decodeBlob(blob []byte) bool {
	if len(blob) != BlobSize {
		return false
	}
	want := binary.LittleEndian.Uint32(blob[tableSize:])
	if crc32.ChecksumIEEE(blob[:tableSize]) != want {
		return false
	}
	for i := range s.slots {
		rec := blob[i*peerRecordSize:]
		var p Peer
		copy(p.Addr[:], rec[0:6])
		p.Type = protocol.DeviceType(rec[6])
		p.Name = trimName(rec[7 : 7+protocol.MaxNameLen])
		p.Reserved = binary.LittleEndian.Uint32(rec[23:27])
		p.Valid = rec[27] != 0
		s.slots[i] = p
	}
	return true
}

func clampName(name string) string {
	if len(name) > protocol.MaxNameLen {
		return name[:protocol.MaxNameLen]
	}
	return name
}

func trimName(raw []byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}
