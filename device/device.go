// Package device owns the configured peers of one tunnel endpoint: the
// static identity, the peer registry keyed by public key, the session
// identifier table, and admission of inbound handshake initiations.
package device

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wgcore/handshake"
	"wgcore/ratelimiter"
	"wgcore/tai64n"
)

// MaxPeers bounds the peer map; identifiers and the protocol itself
// impose no tighter limit.
const MaxPeers = 1 << 16

var (
	ErrNoPrivateKey = errors.New("device has no private key")
	ErrPeerExists   = errors.New("peer already configured")
	ErrTooManyPeers = errors.New("too many peers")
	// ErrRateLimited is the address-keyed denial, reported before a
	// message is attributed to any peer.
	ErrRateLimited = errors.New("source address rate limited")
)

type Device struct {
	log *logrus.Logger

	// minimum interval between accepted initiations, fixed at
	// construction and handed to every peer
	initiationInterval time.Duration

	keys struct {
		sync.RWMutex
		privateKey handshake.NoisePrivateKey
		publicKey  handshake.NoisePublicKey
	}

	net struct {
		sync.RWMutex
		listenPort uint16
		fwmark     uint32
	}

	peers struct {
		sync.RWMutex
		m map[handshake.NoisePublicKey]*Peer
	}

	indexTable IndexTable
	rate       ratelimiter.Ratelimiter
}

// NewDevice creates a device with no identity and no peers. A
// non-positive initiationInterval selects the protocol default; a nil
// log selects the logrus standard logger.
func NewDevice(log *logrus.Logger, initiationInterval time.Duration) *Device {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if initiationInterval <= 0 {
		initiationInterval = handshake.TimeBetweenInitiations
	}
	d := &Device{
		log:                log,
		initiationInterval: initiationInterval,
	}
	d.peers.m = make(map[handshake.NoisePublicKey]*Peer)
	d.indexTable.Init()
	d.rate.Init()
	return d
}

// Indices exposes the session-identifier registry.
func (d *Device) Indices() *IndexTable {
	return &d.indexTable
}

// SetPrivateKey installs the local static identity. Every configured
// peer's precomputed DH(static, static) depends on it, so each peer's
// handshake state is rebuilt and in-flight initiations are abandoned.
func (d *Device) SetPrivateKey(sk handshake.NoisePrivateKey) error {
	d.keys.Lock()
	defer d.keys.Unlock()
	if sk.Equals(d.keys.privateKey) {
		return nil
	}
	d.keys.privateKey = sk
	d.keys.publicKey = sk.PublicKey()

	d.peers.RLock()
	defer d.peers.RUnlock()
	for pk, peer := range d.peers.m {
		ss, err := sk.SharedSecret(pk)
		if err != nil {
			return fmt.Errorf("precompute shared secret: %w", err)
		}
		peer.replaceHandshake(handshake.NewPeer(peer, pk, ss, d.initiationInterval), &d.indexTable)
	}
	d.log.Info("device private key updated")
	return nil
}

func (d *Device) SetListenPort(port uint16) {
	d.net.Lock()
	defer d.net.Unlock()
	d.net.listenPort = port
}

func (d *Device) SetFwmark(fwmark uint32) {
	d.net.Lock()
	defer d.net.Unlock()
	d.net.fwmark = fwmark
}

// NewPeer configures a remote endpoint, computing DH(static, static)
// once so the per-handshake path never repeats it.
func (d *Device) NewPeer(pk handshake.NoisePublicKey) (*Peer, error) {
	d.keys.RLock()
	defer d.keys.RUnlock()
	if d.keys.privateKey.IsZero() {
		return nil, ErrNoPrivateKey
	}
	ss, err := d.keys.privateKey.SharedSecret(pk)
	if err != nil {
		return nil, fmt.Errorf("precompute shared secret: %w", err)
	}

	d.peers.Lock()
	defer d.peers.Unlock()
	if _, ok := d.peers.m[pk]; ok {
		return nil, ErrPeerExists
	}
	if len(d.peers.m) >= MaxPeers {
		return nil, ErrTooManyPeers
	}
	peer := &Peer{device: d}
	peer.hs = handshake.NewPeer(peer, pk, ss, d.initiationInterval)
	d.peers.m[pk] = peer

	d.log.WithFields(logrus.Fields{
		"public_key": fmt.Sprintf("%x", pk[:8]),
	}).Info("peer configured")
	return peer, nil
}

func (d *Device) LookupPeer(pk handshake.NoisePublicKey) *Peer {
	d.peers.RLock()
	defer d.peers.RUnlock()
	return d.peers.m[pk]
}

// RemovePeer tears a peer down, releasing any session identifier its
// in-flight initiation holds before the peer is dropped.
func (d *Device) RemovePeer(pk handshake.NoisePublicKey) {
	d.peers.Lock()
	defer d.peers.Unlock()
	peer, ok := d.peers.m[pk]
	if !ok {
		return
	}
	peer.Handshake().Clear(&d.indexTable)
	delete(d.peers.m, pk)
	d.log.WithFields(logrus.Fields{
		"public_key": fmt.Sprintf("%x", pk[:8]),
	}).Info("peer removed")
}

// ConsumeInitiation admits or denies an inbound, already-authenticated
// initiation: first the address-keyed token bucket, then the peer's
// replay/flood gate. Denials are per-message outcomes, logged and
// returned, never escalated.
func (d *Device) ConsumeInitiation(peer *Peer, src netip.Addr, ts tai64n.Timestamp) error {
	if !d.rate.Allow(src) {
		d.log.WithFields(logrus.Fields{
			"source": src,
		}).Debug("initiation dropped: source rate limited")
		return ErrRateLimited
	}
	if err := peer.Handshake().ConsumeInitiation(&d.indexTable, ts); err != nil {
		pk := peer.Handshake().RemoteStatic()
		d.log.WithFields(logrus.Fields{
			"public_key": fmt.Sprintf("%x", pk[:8]),
			"reason":     err,
		}).Debug("initiation denied")
		return err
	}
	return nil
}

// Close removes every peer and stops the rate limiter's bookkeeping.
func (d *Device) Close() {
	d.peers.Lock()
	for pk, peer := range d.peers.m {
		peer.Handshake().Clear(&d.indexTable)
		delete(d.peers.m, pk)
	}
	d.peers.Unlock()
	d.rate.Close()
	d.log.Info("device closed")
}
