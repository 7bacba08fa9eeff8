package device

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"wgcore/handshake"
)

// Peer is the device-level view of a configured remote endpoint: its
// handshake state machine plus the bookkeeping the status protocol
// reports. The handshake peer's identifier points back here so registry
// callers can recover the owning Peer.
type Peer struct {
	device *Device

	mu         sync.RWMutex
	hs         *handshake.Peer[*Peer]
	allowedIPs []netip.Prefix

	rxBytes       atomic.Uint64
	txBytes       atomic.Uint64
	lastHandshake atomic.Int64 // unix nanoseconds, zero until a handshake completes
}

// Handshake returns the peer's handshake state machine. The pointer is
// replaced when the device's private key changes, so callers should not
// retain it across operations.
func (p *Peer) Handshake() *handshake.Peer[*Peer] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hs
}

// replaceHandshake swaps in a state machine built from a fresh
// DH(static, static), carrying the preshared key over and releasing any
// session identifier the abandoned attempt held.
func (p *Peer) replaceHandshake(hs *handshake.Peer[*Peer], reg handshake.SessionRegistry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hs.SetPresharedKey(p.hs.PresharedKey())
	p.hs.Clear(reg)
	p.hs = hs
}

func (p *Peer) AddAllowedIP(prefix netip.Prefix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedIPs = append(p.allowedIPs, prefix)
}

func (p *Peer) AllowedIPs() []netip.Prefix {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]netip.Prefix(nil), p.allowedIPs...)
}

// AddCounters records transferred byte counts for the status protocol.
func (p *Peer) AddCounters(rx, tx uint64) {
	p.rxBytes.Add(rx)
	p.txBytes.Add(tx)
}

func (p *Peer) Counters() (rx, tx uint64) {
	return p.rxBytes.Load(), p.txBytes.Load()
}

// NoteHandshakeComplete records the instant a handshake finished.
func (p *Peer) NoteHandshakeComplete(at time.Time) {
	p.lastHandshake.Store(at.UnixNano())
}

// LastHandshake returns the instant of the last completed handshake and
// whether one has completed at all.
func (p *Peer) LastHandshake() (time.Time, bool) {
	nanos := p.lastHandshake.Load()
	if nanos == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
