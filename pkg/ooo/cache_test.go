package ooo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCacheConfig() CacheConfig {
	return CacheConfig{
		SizeBytes:     1024,
		LineBytes:     64,
		Associativity: 2,
		HitLatency:    1,
		MissPenalty:   10,
		WritePolicy:   WriteBackWriteAllocate,
	}
}

func TestCacheConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CacheConfig)
	}{
		{"zero size", func(c *CacheConfig) { c.SizeBytes = 0 }},
		{"zero line", func(c *CacheConfig) { c.LineBytes = 0 }},
		{"indivisible size", func(c *CacheConfig) { c.SizeBytes = 1000 }},
		{"zero hit latency", func(c *CacheConfig) { c.HitLatency = 0 }},
		{"negative miss penalty", func(c *CacheConfig) { c.MissPenalty = -1 }},
		{"non power of two sets", func(c *CacheConfig) { c.SizeBytes = 384 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testCacheConfig()
			tc.mutate(&cfg)
			_, err := NewBlockingCache(cfg)
			assert.Error(t, err)
		})
	}
}

// TestBlockingCacheScenario: a miss blocks further accesses until the
// in-flight countdown drains, after which the first address hits.
func TestBlockingCacheScenario(t *testing.T) {
	c, err := NewBlockingCache(testCacheConfig())
	require.NoError(t, err)

	res := c.Access(0x100, 4, false)
	assert.False(t, res.Hit)
	assert.False(t, res.Blocked)
	assert.Equal(t, 11, res.Latency, "miss latency = hit + penalty")

	res = c.Access(0x180, 4, false)
	assert.True(t, res.Blocked, "second access during in-flight miss")

	// Drain: the miss stays in flight for latency-1 ticks.
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	assert.False(t, c.Blocked())

	res = c.Access(0x100, 4, false)
	assert.True(t, res.Hit)
	assert.Equal(t, 1, res.Latency)
}

func TestCacheLRUEviction(t *testing.T) {
	// 2-way, 8 sets of 64B lines: addresses 64*8 apart share a set.
	c, err := NewBlockingCache(testCacheConfig())
	require.NoError(t, err)

	setStride := uint64(64 * 8)
	fill := func(addr uint64) {
		c.Access(addr, 4, false)
		c.FlushInFlight()
	}

	fill(0)              // way 0
	fill(setStride)      // way 1
	fill(0)              // touch way 0: way 1 becomes LRU
	fill(2 * setStride)  // evicts way 1

	res := c.Access(0, 4, false)
	assert.True(t, res.Hit, "most-recently-used line survives")
	c.FlushInFlight()

	res = c.Access(setStride, 4, false)
	assert.False(t, res.Hit, "LRU line was evicted")
}

func TestCacheDirtyEviction(t *testing.T) {
	c, err := NewBlockingCache(testCacheConfig())
	require.NoError(t, err)

	setStride := uint64(64 * 8)
	c.Access(0, 4, true) // write-allocate, dirty
	c.FlushInFlight()
	c.Access(setStride, 4, false)
	c.FlushInFlight()

	res := c.Access(2*setStride, 4, false) // evicts the dirty line
	assert.True(t, res.DirtyEviction)
}

func TestCacheSetOccupancyBounded(t *testing.T) {
	c, err := NewBlockingCache(testCacheConfig())
	require.NoError(t, err)
	setStride := uint64(64 * 8)
	for i := uint64(0); i < 10; i++ {
		c.Access(i*setStride, 4, false)
		c.FlushInFlight()
	}
	assert.Equal(t, 2, c.SetOccupancy(0), "occupancy capped at associativity")
}

func TestCacheSpanningAccess(t *testing.T) {
	c, err := NewBlockingCache(testCacheConfig())
	require.NoError(t, err)
	// 8-byte access straddling a 64B line boundary touches two lines.
	res := c.Access(60, 8, false)
	assert.False(t, res.Hit)
	c.FlushInFlight()
	res = c.Access(60, 8, false)
	assert.True(t, res.Hit, "both lines were installed")
}

func TestCacheResetIdempotent(t *testing.T) {
	c, err := NewBlockingCache(testCacheConfig())
	require.NoError(t, err)
	c.Access(0x100, 4, true)
	c.Reset()
	res := c.Access(0x100, 4, false)
	assert.False(t, res.Hit)
	c.Reset()
	c.Reset()
	res2 := c.Access(0x100, 4, false)
	assert.False(t, res2.Hit)
}

func TestCacheFlushInFlightKeepsLines(t *testing.T) {
	c, err := NewBlockingCache(testCacheConfig())
	require.NoError(t, err)
	c.Access(0x100, 4, false)
	c.FlushInFlight()
	res := c.Access(0x100, 4, false)
	assert.True(t, res.Hit, "flush clears the miss marker, not the lines")
}
