// Package uapi serializes device status in the line-oriented key=value
// format shared by the cross-platform configuration protocol. Output is
// ASCII only; keys appear in a fixed order so consumers can stream-parse
// the result.
package uapi

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"wgcore/handshake"
)

// PeerStatus is the per-peer snapshot the serializer reports. Producers
// assemble it without holding handshake locks; serialization itself
// takes none.
type PeerStatus struct {
	PublicKey     handshake.NoisePublicKey
	PresharedKey  handshake.NoisePresharedKey
	RxBytes       uint64
	TxBytes       uint64
	LastHandshake time.Time // zero if no handshake has completed
	AllowedIPs    []netip.Prefix
}

// Configuration is what Serialize needs from a device.
type Configuration interface {
	PrivateKey() (handshake.NoisePrivateKey, bool)
	ListenPort() (uint16, bool)
	Fwmark() (uint32, bool)
	PeerStatuses() []PeerStatus
}

type lineWriter struct {
	w   io.Writer
	err error
}

func (lw *lineWriter) write(key, value string) {
	if lw.err != nil {
		return
	}
	logrus.Tracef("uapi: return: %s=%s", key, value)
	_, lw.err = fmt.Fprintf(lw.w, "%s=%s\n", key, value)
}

// Serialize writes the interface fields (each only if present) followed
// by every peer's fields in the fixed order: rx_bytes, tx_bytes,
// last_handshake_time_sec, last_handshake_time_nsec, public_key,
// preshared_key, then one allowed_ip line per prefix.
func Serialize(w io.Writer, cfg Configuration) error {
	lw := &lineWriter{w: w}

	if sk, ok := cfg.PrivateKey(); ok {
		lw.write("private_key", hex.EncodeToString(sk[:]))
	}
	if port, ok := cfg.ListenPort(); ok {
		lw.write("listen_port", strconv.FormatUint(uint64(port), 10))
	}
	if fwmark, ok := cfg.Fwmark(); ok {
		lw.write("fwmark", strconv.FormatUint(uint64(fwmark), 10))
	}

	for _, peer := range cfg.PeerStatuses() {
		lw.write("rx_bytes", strconv.FormatUint(peer.RxBytes, 10))
		lw.write("tx_bytes", strconv.FormatUint(peer.TxBytes, 10))
		// sec and nsec are the two components of the same instant
		var sec, nsec int64
		if !peer.LastHandshake.IsZero() {
			sec = peer.LastHandshake.Unix()
			nsec = int64(peer.LastHandshake.Nanosecond())
		}
		lw.write("last_handshake_time_sec", strconv.FormatInt(sec, 10))
		lw.write("last_handshake_time_nsec", strconv.FormatInt(nsec, 10))
		lw.write("public_key", hex.EncodeToString(peer.PublicKey[:]))
		lw.write("preshared_key", hex.EncodeToString(peer.PresharedKey[:]))
		for _, prefix := range peer.AllowedIPs {
			lw.write("allowed_ip", prefix.String())
		}
	}
	return lw.err
}
