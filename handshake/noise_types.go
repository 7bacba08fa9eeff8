package handshake

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

const (
	NoisePublicKeySize    = 32
	NoisePrivateKeySize   = 32
	NoisePresharedKeySize = 32
)

type (
	NoisePublicKey    [NoisePublicKeySize]byte
	NoisePrivateKey   [NoisePrivateKeySize]byte
	NoisePresharedKey [NoisePresharedKeySize]byte
)

// SharedSecret is the output of a Curve25519 scalar multiplication,
// either the precomputed DH(static, static) stored per peer or an
// ephemeral DH result consumed by the ratchet.
type SharedSecret [NoisePublicKeySize]byte

func hexToBytes(dst []byte, src string) error {
	slice, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	if len(slice) != len(dst) {
		return errors.New("hex string does not fit the slice")
	}
	copy(dst, slice)
	return nil
}

// clamp forces the scalar into the form Curve25519 requires: a multiple
// of the cofactor within the prime field, with the fixed high bit set.
func (key *NoisePrivateKey) clamp() {
	key[0] &= 248
	key[31] = (key[31] & 127) | 64
}

func (key NoisePrivateKey) Equals(key2 NoisePrivateKey) bool {
	return subtle.ConstantTimeCompare(key[:], key2[:]) == 1
}

func (key NoisePrivateKey) IsZero() bool {
	var zero NoisePrivateKey
	return key.Equals(zero)
}

func (key *NoisePrivateKey) FromHex(src string) error {
	err := hexToBytes(key[:], src)
	key.clamp()
	return err
}

func (key NoisePublicKey) Equals(key2 NoisePublicKey) bool {
	return subtle.ConstantTimeCompare(key[:], key2[:]) == 1
}

func (key NoisePublicKey) IsZero() bool {
	var zero NoisePublicKey
	return key.Equals(zero)
}

func (key *NoisePublicKey) FromHex(src string) error {
	return hexToBytes(key[:], src)
}

func (key *NoisePresharedKey) FromHex(src string) error {
	return hexToBytes(key[:], src)
}
