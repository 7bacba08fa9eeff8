package tai64n

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonicOrdering(t *testing.T) {
	base := time.Unix(1700000000, 0)
	earlier := At(base)
	later := At(base.Add(time.Second))

	assert.True(t, later.After(earlier))
	assert.False(t, earlier.After(later))
	assert.False(t, earlier.After(earlier), "a timestamp is never after itself")
}

func TestWhiteningTolerance(t *testing.T) {
	// Two instants closer together than the whitening granularity encode
	// identically, so neither orders after the other.
	base := time.Unix(1700000000, 0)
	a := At(base.Add(time.Millisecond))
	b := At(base.Add(2 * time.Millisecond))

	require.Equal(t, a, b)
	assert.False(t, b.After(a))
	assert.False(t, a.After(b))
}

func TestNanosecondFieldWhitened(t *testing.T) {
	ts := At(time.Unix(1700000000, 999_999_999))
	// The low 24 bits of the nanosecond field must be clear.
	nano := uint32(ts[8])<<24 | uint32(ts[9])<<16 | uint32(ts[10])<<8 | uint32(ts[11])
	assert.Zero(t, nano&whitenerMask)
}

func TestSecondsDominateNanoseconds(t *testing.T) {
	a := At(time.Unix(1700000000, 999_000_000))
	b := At(time.Unix(1700000001, 0))
	assert.True(t, b.After(a))
}

func TestNowIsCurrent(t *testing.T) {
	before := time.Now().Add(-2 * time.Second)
	after := time.Now().Add(2 * time.Second)
	now := Now()
	assert.True(t, now.After(At(before)))
	assert.True(t, At(after).After(now))
}

func TestStringRoundTripsSeconds(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, at.String(), At(at).String())
}
