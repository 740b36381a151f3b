package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// compileRateLimit compiles the given rule and fails the test on an invalid
// configuration.
func compileRateLimit(t *testing.T, rl RateLimit) *compiledRateLimit {
	t.Helper()

	require.NoError(t, rl.compile())
	return rl.compiled
}

// TestRateLimitBurst makes sure the burst is granted immediately and that the
// suggested retry delay matches the steady rate afterwards.
func TestRateLimitBurst(t *testing.T) {
	t.Parallel()

	// One request every 100ms with a burst of two.
	rl := compileRateLimit(t, RateLimit{
		PathRegexp: ".*",
		Requests:   1,
		Per:        100 * time.Millisecond,
		Burst:      2,
	})

	const key = "tokenA"

	// The burst lets two requests through, the third is denied.
	require.True(t, rl.allowFor(key))
	require.True(t, rl.allowFor(key))
	require.False(t, rl.allowFor(key))

	// The suggested retry delay comes from the steady rate, so it should
	// be roughly one interval.
	delay, ok := rl.reserveDelay(key)
	require.True(t, ok)
	require.GreaterOrEqual(t, delay, 95*time.Millisecond)
	require.Less(t, delay, 200*time.Millisecond)

	// Once the delay passed a single request goes through again.
	time.Sleep(delay)
	require.True(t, rl.allowFor(key))
	require.False(t, rl.allowFor(key))
}

// TestRateLimitReserveDelay makes sure that asking for the retry delay does
// not consume tokens of the limiter.
func TestRateLimitReserveDelay(t *testing.T) {
	t.Parallel()

	// One request every 200ms, burst one, on the global limiter.
	rl := compileRateLimit(t, RateLimit{
		PathRegexp: ".*",
		Requests:   1,
		Per:        200 * time.Millisecond,
		Burst:      1,
	})

	// Consume the only burst token, the next request is denied.
	require.True(t, rl.allowFor(""))
	require.False(t, rl.allowFor(""))

	// The first delay should be close to a full interval.
	d1, ok := rl.reserveDelay("")
	require.True(t, ok)
	require.GreaterOrEqual(t, d1, 180*time.Millisecond)
	require.Less(t, d1, 300*time.Millisecond)

	// Asking again must not stack another interval on top, since the
	// first reservation was canceled. Allow some scheduler jitter.
	d2, ok := rl.reserveDelay("")
	require.True(t, ok)
	require.Less(t, d2, d1+50*time.Millisecond)

	// After the suggested delay the limiter admits a request again.
	time.Sleep(d1)
	require.True(t, rl.allowFor(""))
}

// TestRateLimitStrictestRuleGoverns makes sure that when multiple rules match
// a path, a denial of any rule denies the request.
func TestRateLimitStrictestRuleGoverns(t *testing.T) {
	t.Parallel()

	strict := compileRateLimit(t, RateLimit{
		PathRegexp: ".*",
		Requests:   1,
		Per:        200 * time.Millisecond,
		Burst:      1,
	})
	lenient := compileRateLimit(t, RateLimit{
		PathRegexp: ".*",
		Requests:   10,
		Per:        200 * time.Millisecond,
		Burst:      2,
	})

	const key = "tokenA"
	allowsAll := func() bool {
		return strict.allowFor(key) && lenient.allowFor(key)
	}

	// The first request passes both rules. The second is denied by the
	// strict rule even though the lenient one still has budget.
	require.True(t, allowsAll())
	require.False(t, allowsAll())

	// The retry delay of the strict rule governs, roughly one of its
	// intervals.
	delay, ok := strict.reserveDelay(key)
	require.True(t, ok)
	require.GreaterOrEqual(t, delay, 180*time.Millisecond)
	require.Less(t, delay, 300*time.Millisecond)
}

// TestRateLimitKeyIsolation makes sure every token key gets its own bucket
// and that the global limiter is separate from the keyed ones.
func TestRateLimitKeyIsolation(t *testing.T) {
	t.Parallel()

	rl := compileRateLimit(t, RateLimit{
		PathRegexp: ".*",
		Requests:   1,
		Per:        time.Second,
		Burst:      1,
	})

	// Both keys have their own burst token.
	require.True(t, rl.allowFor("A"))
	require.True(t, rl.allowFor("B"))

	// Both buckets are now drained, independently of each other.
	require.False(t, rl.allowFor("A"))
	require.False(t, rl.allowFor("B"))

	// The global bucket is not affected by any keyed bucket.
	require.True(t, rl.allowFor(""))
	require.False(t, rl.allowFor(""))
}
