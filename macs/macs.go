// Package macs maintains per-peer state for the mac1/mac2 fields stamped
// onto outgoing handshake messages, and tracks the cookie a remote may
// hand back under load. Cookie creation belongs to the listener side and
// is not implemented here.
package macs

import (
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	labelMAC1   = "mac1----"
	labelCookie = "cookie--"

	// Size of a single MAC field on the wire.
	Size = blake2s.Size128

	// CookieRefreshTime bounds how long a received cookie stays usable
	// for mac2 stamping.
	CookieRefreshTime = time.Second * 120
)

// Generator computes the MAC trailer of handshake messages addressed to
// one peer. Keys are derived from the peer's public key once at Init.
// Safe for concurrent use.
type Generator struct {
	mu                  sync.Mutex
	mac1Key             [blake2s.Size]byte
	cookieDecryptionKey [chacha20poly1305.KeySize]byte
	lastMAC1            [Size]byte
	hasLastMAC1         bool
	cookie              [Size]byte
	cookieSet           time.Time
}

// Init derives the mac1 and cookie keys for the given peer public key
// and discards any previously held cookie.
func (g *Generator) Init(pk [blake2s.Size]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hash, _ := blake2s.New256(nil)
	hash.Write([]byte(labelMAC1))
	hash.Write(pk[:])
	hash.Sum(g.mac1Key[:0])
	hash.Reset()
	hash.Write([]byte(labelCookie))
	hash.Write(pk[:])
	hash.Sum(g.cookieDecryptionKey[:0])
	g.hasLastMAC1 = false
	g.cookieSet = time.Time{}
}

// AddMacs fills the two trailing MAC fields of msg. mac1 covers
// everything before the MAC fields and is always set; mac2 covers
// everything before itself and is set only while a fresh cookie is held,
// otherwise it stays zero.
func (g *Generator) AddMacs(msg []byte) {
	size := len(msg)
	startMac2 := size - Size
	startMac1 := startMac2 - Size
	mac1 := msg[startMac1:startMac2]
	mac2 := msg[startMac2:]

	g.mu.Lock()
	defer g.mu.Unlock()

	mac, _ := blake2s.New128(g.mac1Key[:])
	mac.Write(msg[:startMac1])
	mac.Sum(mac1[:0])
	copy(g.lastMAC1[:], mac1)
	g.hasLastMAC1 = true

	if time.Since(g.cookieSet) > CookieRefreshTime {
		return
	}
	mac, _ = blake2s.New128(g.cookie[:])
	mac.Write(msg[:startMac2])
	mac.Sum(mac2[:0])
}

// ConsumeReply decrypts a cookie reply bound to the last mac1 this
// generator produced. On success the cookie is retained for mac2
// stamping until it expires.
func (g *Generator) ConsumeReply(nonce *[chacha20poly1305.NonceSizeX]byte, sealed []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasLastMAC1 {
		return false
	}
	var cookie [Size]byte
	aead, _ := chacha20poly1305.NewX(g.cookieDecryptionKey[:])
	_, err := aead.Open(cookie[:0], nonce[:], sealed, g.lastMAC1[:])
	if err != nil {
		return false
	}
	g.cookie = cookie
	g.cookieSet = time.Now()
	return true
}
