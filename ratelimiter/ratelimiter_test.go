package ratelimiter

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	allowed bool
	text    string
	wait    time.Duration
}

func TestRatelimiterSequence(t *testing.T) {
	var rate Ratelimiter
	var expectedResults []result

	nano := func(nano int64) time.Duration {
		return time.Nanosecond * time.Duration(nano)
	}

	add := func(res result) {
		expectedResults = append(expectedResults, res)
	}

	// a fresh bucket holds maxTokens minus the cost of the packet that
	// created it, and spending stops once a full packet's budget is gone
	for i := 0; i < packetsBurst-1; i++ {
		add(result{allowed: true, text: "initial burst"})
	}
	add(result{allowed: false, text: "after burst"})
	add(result{allowed: true, wait: nano(time.Second.Nanoseconds() / packetsPerSecond), text: "filling tokens for single packet"})
	add(result{allowed: false, text: "not having refilled enough"})
	add(result{allowed: true, wait: 2 * (nano(time.Second.Nanoseconds() / packetsPerSecond)), text: "filling tokens for two packets"})
	add(result{allowed: true, text: "second packet in available tokens"})
	add(result{allowed: false, text: "packet following burst"})

	// deterministic clock
	now := time.Now()
	rate.timeNow = func() time.Time {
		return now
	}
	rate.Init()
	defer rate.Close()

	ips := []netip.Addr{
		netip.MustParseAddr("127.0.0.1"),
		netip.MustParseAddr("192.168.1.1"),
		netip.MustParseAddr("172.167.2.3"),
		netip.MustParseAddr("2001:0db8:0a0b:12f0:0000:0000:0000:0001"),
		netip.MustParseAddr("f5c2:818f:c052:655a:9860:b136:6894:25f0"),
	}

	for _, res := range expectedResults {
		now = now.Add(res.wait)
		for _, ip := range ips {
			allowed := rate.Allow(ip)
			assert.Equalf(t, res.allowed, allowed, "%s: failure for:\t%s", res.text, ip)
		}
	}
}

func TestRatelimiterIndependentAddresses(t *testing.T) {
	var rate Ratelimiter
	rate.Init()
	defer rate.Close()

	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")

	for i := 0; i < packetsBurst-1; i++ {
		require.True(t, rate.Allow(a))
	}
	assert.False(t, rate.Allow(a), "a exhausted its burst")
	assert.True(t, rate.Allow(b), "b has its own bucket")
}
