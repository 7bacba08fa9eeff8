package uapi

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgcore/handshake"
)

type fakeConfig struct {
	privateKey    handshake.NoisePrivateKey
	hasPrivateKey bool
	listenPort    uint16
	fwmark        uint32
	peers         []PeerStatus
}

func (c *fakeConfig) PrivateKey() (handshake.NoisePrivateKey, bool) {
	return c.privateKey, c.hasPrivateKey
}

func (c *fakeConfig) ListenPort() (uint16, bool) {
	return c.listenPort, c.listenPort != 0
}

func (c *fakeConfig) Fwmark() (uint32, bool) {
	return c.fwmark, c.fwmark != 0
}

func (c *fakeConfig) PeerStatuses() []PeerStatus {
	return c.peers
}

func TestSerializeFullConfiguration(t *testing.T) {
	var sk handshake.NoisePrivateKey
	require.NoError(t, sk.FromHex("28965b677fbb38febf3e7e14e396cb866e36d5e9d947a0b22a9e3ea54b6918d8"))
	var pk handshake.NoisePublicKey
	require.NoError(t, pk.FromHex("92f9cb48148a8e31ed37d13e21dd41ee112f0b22ef5857f1a4e50b612b587c53"))
	var psk handshake.NoisePresharedKey
	require.NoError(t, psk.FromHex("5a0a3a5b8b8e9f3c5d1e2f4a6b8c0d1e2f3a4b5c6d7e8f901234567890abcdef"))

	last := time.Unix(1700001234, 567000000)
	cfg := &fakeConfig{
		privateKey:    sk,
		hasPrivateKey: true,
		listenPort:    51820,
		fwmark:        3,
		peers: []PeerStatus{{
			PublicKey:     pk,
			PresharedKey:  psk,
			RxBytes:       1024,
			TxBytes:       2048,
			LastHandshake: last,
			AllowedIPs: []netip.Prefix{
				netip.MustParsePrefix("10.0.0.0/24"),
				netip.MustParsePrefix("fd00::1/128"),
			},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, cfg))

	want := fmt.Sprintf(
		"private_key=%s\n"+
			"listen_port=51820\n"+
			"fwmark=3\n"+
			"rx_bytes=1024\n"+
			"tx_bytes=2048\n"+
			"last_handshake_time_sec=%d\n"+
			"last_handshake_time_nsec=%d\n"+
			"public_key=%s\n"+
			"preshared_key=%s\n"+
			"allowed_ip=10.0.0.0/24\n"+
			"allowed_ip=fd00::1/128\n",
		hex.EncodeToString(sk[:]),
		last.Unix(), last.Nanosecond(),
		hex.EncodeToString(pk[:]),
		hex.EncodeToString(psk[:]),
	)
	assert.Equal(t, want, buf.String())
}

func TestSerializeOmitsAbsentInterfaceFields(t *testing.T) {
	var pk handshake.NoisePublicKey
	require.NoError(t, pk.FromHex("92f9cb48148a8e31ed37d13e21dd41ee112f0b22ef5857f1a4e50b612b587c53"))

	cfg := &fakeConfig{
		peers: []PeerStatus{{PublicKey: pk}},
	}

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, cfg))

	out := buf.String()
	assert.NotContains(t, out, "private_key=")
	assert.NotContains(t, out, "listen_port=")
	assert.NotContains(t, out, "fwmark=")
	// a peer with no completed handshake reports zero for both fields
	assert.Contains(t, out, "last_handshake_time_sec=0\n")
	assert.Contains(t, out, "last_handshake_time_nsec=0\n")
	assert.Contains(t, out, "preshared_key="+hex.EncodeToString(make([]byte, 32))+"\n")
}

func TestSerializeEmptyConfiguration(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, &fakeConfig{}))
	assert.Empty(t, buf.String())
}

type failWriter struct{ wrote int }

func (w *failWriter) Write(p []byte) (int, error) {
	w.wrote++
	return 0, fmt.Errorf("sink closed")
}

func TestSerializeStopsOnWriteError(t *testing.T) {
	cfg := &fakeConfig{listenPort: 1, fwmark: 2}
	w := &failWriter{}
	err := Serialize(w, cfg)
	require.Error(t, err)
	assert.Equal(t, 1, w.wrote, "no further writes after the first failure")
}
