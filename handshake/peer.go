// Package handshake implements the per-peer state machine guarding the
// key-exchange handshake: the current phase with its ephemeral material,
// replay protection over initiation timestamps, and per-peer flood
// protection. The Diffie-Hellman ratchet itself runs outside this
// package; it reads a cloned phase, performs its mixing, and writes the
// resulting phase back.
package handshake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"

	"wgcore/macs"
	"wgcore/tai64n"
)

// TimeBetweenInitiations is the default minimum interval between
// accepted initiations for a single peer. It bounds how often one peer
// identity can force the expensive handshake path to run, regardless of
// how many source addresses the messages arrive from.
const TimeBetweenInitiations = time.Second / 50

var (
	ErrOldTimestamp    = errors.New("handshake initiation timestamp is stale")
	ErrInitiationFlood = errors.New("handshake initiation rate exceeded")
)

// SessionRegistry hands out and reclaims the numeric sender identifiers
// correlating handshake responses with in-flight initiations. The state
// machine only ever releases; allocation happens wherever initiations
// are created.
type SessionRegistry interface {
	// Release returns an identifier to the registry. Must be safe to
	// call with identifiers the registry no longer tracks.
	Release(id uint32)
}

type Phase int

const (
	PhaseReset Phase = iota
	PhaseInitiationSent
)

func (ph Phase) String() string {
	switch ph {
	case PhaseReset:
		return "Reset"
	case PhaseInitiationSent:
		return "InitiationSent"
	default:
		return fmt.Sprintf("unknown phase: %d", int(ph))
	}
}

// State is a peer's handshake phase together with the material owned by
// an in-flight initiation. Sender, Ephemeral, Hash and ChainKey are
// meaningful only while Phase is PhaseInitiationSent. The zero value is
// the reset state.
type State struct {
	Phase     Phase
	Sender    uint32             // session identifier of the initiation
	Ephemeral NoisePrivateKey    // ephemeral secret of this attempt
	Hash      [blake2s.Size]byte // handshake hash accumulator
	ChainKey  [blake2s.Size]byte // chaining key accumulator
}

// InitiationSent builds the phase recorded after an initiation has been
// created and its ratchet state captured.
func InitiationSent(sender uint32, ephemeral NoisePrivateKey, hash, chainKey [blake2s.Size]byte) State {
	return State{
		Phase:     PhaseInitiationSent,
		Sender:    sender,
		Ephemeral: ephemeral,
		Hash:      hash,
		ChainKey:  chainKey,
	}
}

// Clone returns an independent copy of the state. Every payload field is
// a value array, so the clone shares no memory with the original: the
// ephemeral secret in particular is a fresh copy, never an alias, and a
// later replacement of the peer's state cannot be observed through it.
func (s State) Clone() State {
	return s
}

// Peer is the handshake state for one remote endpoint. T is an opaque
// identifier the owning layer uses to correlate back to its own peer
// bookkeeping; this package never inspects it.
//
// Three independently locked cells (phase, replay timestamp, flood
// marker) keep State and SetState cheap and uncontended by the
// protection bookkeeping. Any operation taking more than one lock takes
// them in declaration order: mu, tsMu, floodMu.
type Peer[T any] struct {
	Identifier T

	mu    sync.Mutex
	state State

	tsMu          sync.Mutex
	lastTimestamp tai64n.Timestamp
	hasTimestamp  bool

	floodMu         sync.Mutex
	lastConsumption time.Time // zero until the first accepted initiation

	macs macs.Generator

	// constant after construction
	pk          NoisePublicKey
	ss          SharedSecret // precomputed DH(static, static)
	psk         NoisePresharedKey
	minInterval time.Duration
}

// NewPeer creates a peer in the reset phase with no recorded timestamp
// or flood marker and an all-zero preshared key. The precomputed
// DH(static, static) is supplied by the owner so the expensive scalar
// multiplication happens once per peer, not per handshake. A
// non-positive minInterval selects TimeBetweenInitiations.
func NewPeer[T any](identifier T, pk NoisePublicKey, ss SharedSecret, minInterval time.Duration) *Peer[T] {
	if minInterval <= 0 {
		minInterval = TimeBetweenInitiations
	}
	p := &Peer[T]{
		Identifier:  identifier,
		pk:          pk,
		ss:          ss,
		minInterval: minInterval,
	}
	p.macs.Init(pk)
	return p
}

// State returns an independent copy of the current phase and payload.
func (p *Peer[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone()
}

// SetState overwrites the phase unconditionally. A caller discarding an
// InitiationSent phase is responsible for releasing its session
// identifier first.
func (p *Peer[T]) SetState(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// RemoteStatic returns the peer's long-term public key.
func (p *Peer[T]) RemoteStatic() NoisePublicKey {
	return p.pk
}

// PrecomputedSharedSecret returns DH(static, static) as computed at
// construction.
func (p *Peer[T]) PrecomputedSharedSecret() SharedSecret {
	return p.ss
}

func (p *Peer[T]) PresharedKey() NoisePresharedKey {
	return p.psk
}

// SetPresharedKey installs a symmetric key mixed into the handshake.
// Configuration-time only; it does not participate in the gate's locking.
func (p *Peer[T]) SetPresharedKey(psk NoisePresharedKey) {
	p.psk = psk
}

// Macs exposes the peer's MAC/cookie generator for stamping outgoing
// handshake messages.
func (p *Peer[T]) Macs() *macs.Generator {
	return &p.macs
}

// LastTimestamp returns the most recently accepted initiation timestamp,
// if any initiation has been accepted.
func (p *Peer[T]) LastTimestamp() (tai64n.Timestamp, bool) {
	p.tsMu.Lock()
	defer p.tsMu.Unlock()
	return p.lastTimestamp, p.hasTimestamp
}

// LastConsumption returns the instant the last initiation was accepted,
// if any has been.
func (p *Peer[T]) LastConsumption() (time.Time, bool) {
	p.floodMu.Lock()
	defer p.floodMu.Unlock()
	return p.lastConsumption, !p.lastConsumption.IsZero()
}

// ConsumeInitiation is the admission gate for an inbound initiation
// carrying timestamp ts. All three cells are locked together so the
// phase, replay timestamp and flood marker change as one unit or not at
// all. The checks run before any mutation: a denied message leaves every
// field exactly as it was.
//
// On admission any in-flight initiation is abandoned, its session
// identifier released to reg, the phase reset, and both protection
// markers advanced. The caller then proceeds to the DH ratchet.
func (p *Peer[T]) ConsumeInitiation(reg SessionRegistry, ts tai64n.Timestamp) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tsMu.Lock()
	defer p.tsMu.Unlock()
	p.floodMu.Lock()
	defer p.floodMu.Unlock()

	// replay
	if p.hasTimestamp && !ts.After(p.lastTimestamp) {
		return ErrOldTimestamp
	}

	// flood
	if !p.lastConsumption.IsZero() && time.Since(p.lastConsumption) < p.minInterval {
		return ErrInitiationFlood
	}

	// reclaim the superseded initiation
	if p.state.Phase == PhaseInitiationSent {
		reg.Release(p.state.Sender)
	}

	p.state = State{}
	p.lastTimestamp = ts
	p.hasTimestamp = true
	p.lastConsumption = time.Now()
	return nil
}

// Clear abandons any in-flight initiation, releasing its session
// identifier, and returns the phase to reset. Called when the peer is
// removed from configuration, so no identifier outlives the peer.
func (p *Peer[T]) Clear(reg SessionRegistry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Phase == PhaseInitiationSent {
		reg.Release(p.state.Sender)
	}
	p.state = State{}
}
