package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"
)

// HKDF chain (RFC 5869) over BLAKE2s, shared by the DH ratchet and the
// admission path's accumulator bookkeeping.

func HMAC1(sum *[blake2s.Size]byte, key, in0 []byte) {
	mac := hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key)
	mac.Write(in0)
	mac.Sum(sum[:0])
}

func HMAC2(sum *[blake2s.Size]byte, key, in0, in1 []byte) {
	mac := hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key)
	mac.Write(in0)
	mac.Write(in1)
	mac.Sum(sum[:0])
}

func KDF1(t0 *[blake2s.Size]byte, key, input []byte) {
	HMAC1(t0, key, input)
	HMAC1(t0, t0[:], []byte{0x1})
}

func KDF2(t0, t1 *[blake2s.Size]byte, key, input []byte) {
	var prk [blake2s.Size]byte
	HMAC1(&prk, key, input)
	HMAC1(t0, prk[:], []byte{0x1})
	HMAC2(t1, prk[:], t0[:], []byte{0x2})
	setZero(prk[:])
}

func KDF3(t0, t1, t2 *[blake2s.Size]byte, key, input []byte) {
	var prk [blake2s.Size]byte
	HMAC1(&prk, key, input)
	HMAC1(t0, prk[:], []byte{0x1})
	HMAC2(t1, prk[:], t0[:], []byte{0x2})
	HMAC2(t2, prk[:], t1[:], []byte{0x3})
	setZero(prk[:])
}

func isZero(val []byte) bool {
	acc := 1
	for _, b := range val {
		acc &= subtle.ConstantTimeByteEq(b, 0)
	}
	return acc == 1
}

func setZero(arr []byte) {
	for i := range arr {
		arr[i] = 0
	}
}

// NewPrivateKey generates a fresh clamped Curve25519 scalar, used both
// for static identities and per-handshake ephemerals.
func NewPrivateKey() (NoisePrivateKey, error) {
	var key NoisePrivateKey
	_, err := rand.Read(key[:])
	key.clamp()
	return key, err
}

func (key *NoisePrivateKey) PublicKey() NoisePublicKey {
	var pub NoisePublicKey
	privBytes := (*[NoisePrivateKeySize]byte)(key)
	pubBytes := (*[NoisePublicKeySize]byte)(&pub)
	curve25519.ScalarBaseMult(pubBytes, privBytes)
	return pub
}

var errInvalidPublicKey = errors.New("invalid public key")

// SharedSecret computes DH(key, pub). The all-zero output of a low-order
// point is rejected by the caller via IsZero on the precomputed secret.
func (key *NoisePrivateKey) SharedSecret(pub NoisePublicKey) (SharedSecret, error) {
	shared, err := curve25519.X25519(key[:], pub[:])
	if err != nil {
		return SharedSecret{}, errInvalidPublicKey
	}
	return SharedSecret(shared), nil
}
