package device

import (
	"time"

	"wgcore/handshake"
	"wgcore/uapi"
)

// The device satisfies uapi.Configuration so the status protocol can
// read it directly.

func (d *Device) PrivateKey() (handshake.NoisePrivateKey, bool) {
	d.keys.RLock()
	defer d.keys.RUnlock()
	return d.keys.privateKey, !d.keys.privateKey.IsZero()
}

func (d *Device) ListenPort() (uint16, bool) {
	d.net.RLock()
	defer d.net.RUnlock()
	return d.net.listenPort, d.net.listenPort != 0
}

func (d *Device) Fwmark() (uint32, bool) {
	d.net.RLock()
	defer d.net.RUnlock()
	return d.net.fwmark, d.net.fwmark != 0
}

// PeerStatuses snapshots every peer's reportable fields. The snapshot is
// assembled from short accessor reads; no handshake gate lock is held
// while serialization runs.
func (d *Device) PeerStatuses() []uapi.PeerStatus {
	d.peers.RLock()
	defer d.peers.RUnlock()
	statuses := make([]uapi.PeerStatus, 0, len(d.peers.m))
	for pk, peer := range d.peers.m {
		rx, tx := peer.Counters()
		var last time.Time
		if at, ok := peer.LastHandshake(); ok {
			last = at
		}
		statuses = append(statuses, uapi.PeerStatus{
			PublicKey:     pk,
			PresharedKey:  peer.Handshake().PresharedKey(),
			RxBytes:       rx,
			TxBytes:       tx,
			LastHandshake: last,
			AllowedIPs:    peer.AllowedIPs(),
		})
	}
	return statuses
}
