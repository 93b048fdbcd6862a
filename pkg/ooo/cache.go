package ooo

import "fmt"

// CacheWritePolicy selects the write behaviour of a cache.
type CacheWritePolicy int

const (
	// WriteBackWriteAllocate marks lines dirty on write and allocates on
	// write miss (L1D).
	WriteBackWriteAllocate CacheWritePolicy = iota
	// ReadOnly never dirties lines (L1I).
	ReadOnly
)

// CacheConfig parameterises one blocking L1 cache.
type CacheConfig struct {
	SizeBytes     int
	LineBytes     int
	Associativity int
	HitLatency    int
	MissPenalty   int
	WritePolicy   CacheWritePolicy
}

// DefaultL1IConfig and DefaultL1DConfig are the cache geometries the CLI uses.
func DefaultL1IConfig() CacheConfig {
	return CacheConfig{SizeBytes: 4096, LineBytes: 64, Associativity: 2, HitLatency: 1, MissPenalty: 10, WritePolicy: ReadOnly}
}

func DefaultL1DConfig() CacheConfig {
	return CacheConfig{SizeBytes: 4096, LineBytes: 64, Associativity: 2, HitLatency: 1, MissPenalty: 10, WritePolicy: WriteBackWriteAllocate}
}

// CacheAccess is the result of one cache access.
type CacheAccess struct {
	Hit           bool
	Blocked       bool
	DirtyEviction bool
	Latency       int // hit latency, plus miss penalty on any miss
}

type cacheLine struct {
	valid bool
	dirty bool
	tag   uint64
	lru   uint64
}

// BlockingCache is a set-associative, LRU, blocking cache model. It tracks
// tags and timing only; data always comes from the memory image. A single
// in-flight miss blocks all further accesses until tick() has drained it.
type BlockingCache struct {
	cfg      CacheConfig
	setCount int
	sets     [][]cacheLine
	lruClock uint64

	missInFlight  bool
	missRemaining int
}

// NewBlockingCache validates the geometry (power-of-two set count required)
// and builds the cache.
func NewBlockingCache(cfg CacheConfig) (*BlockingCache, error) {
	if cfg.SizeBytes <= 0 || cfg.LineBytes <= 0 || cfg.Associativity <= 0 {
		return nil, fmt.Errorf("cache config must be positive: %+v", cfg)
	}
	if cfg.SizeBytes%(cfg.LineBytes*cfg.Associativity) != 0 {
		return nil, fmt.Errorf("cache size %d not divisible by line*assoc", cfg.SizeBytes)
	}
	if cfg.HitLatency <= 0 || cfg.MissPenalty < 0 {
		return nil, fmt.Errorf("invalid cache latencies: hit=%d miss=%d", cfg.HitLatency, cfg.MissPenalty)
	}
	setCount := cfg.SizeBytes / (cfg.LineBytes * cfg.Associativity)
	if setCount&(setCount-1) != 0 {
		return nil, fmt.Errorf("set count %d is not a power of two", setCount)
	}
	c := &BlockingCache{cfg: cfg, setCount: setCount}
	c.sets = make([][]cacheLine, setCount)
	for i := range c.sets {
		c.sets[i] = make([]cacheLine, cfg.Associativity)
	}
	return c, nil
}

// Access models one read or write of size bytes at addr. Every line the range
// touches is looked up; any miss makes the whole access a miss and raises the
// in-flight marker.
func (c *BlockingCache) Access(addr uint64, size uint8, write bool) CacheAccess {
	var res CacheAccess
	if c.missInFlight {
		res.Blocked = true
		return res
	}
	if size == 0 {
		size = 1
	}

	overallHit := true
	startLine := addr / uint64(c.cfg.LineBytes)
	endLine := (addr + uint64(size) - 1) / uint64(c.cfg.LineBytes)
	for line := startLine; line <= endLine; line++ {
		if l := c.find(line); l != nil {
			if write && c.cfg.WritePolicy == WriteBackWriteAllocate {
				l.dirty = true
			}
			c.touch(l)
			continue
		}
		overallHit = false
		victim := c.allocate(line, &res.DirtyEviction)
		victim.valid = true
		victim.tag = c.tag(line)
		victim.dirty = write && c.cfg.WritePolicy == WriteBackWriteAllocate
		c.touch(victim)
	}

	res.Hit = overallHit
	res.Latency = c.cfg.HitLatency
	if !overallHit {
		res.Latency += c.cfg.MissPenalty
		// The miss stays in flight for latency-1 ticks: the final cycle
		// of the access and the unblock coincide.
		c.missInFlight = true
		c.missRemaining = res.Latency - 1
		if c.missRemaining <= 0 {
			c.missInFlight = false
		}
	}
	return res
}

// Tick advances the in-flight miss by one cycle.
func (c *BlockingCache) Tick() {
	if !c.missInFlight {
		return
	}
	if c.missRemaining > 0 {
		c.missRemaining--
	}
	if c.missRemaining == 0 {
		c.missInFlight = false
	}
}

// FlushInFlight drops the miss marker without touching the lines.
func (c *BlockingCache) FlushInFlight() {
	c.missInFlight = false
	c.missRemaining = 0
}

// Reset clears everything.
func (c *BlockingCache) Reset() {
	c.FlushInFlight()
	c.lruClock = 0
	for si := range c.sets {
		for li := range c.sets[si] {
			c.sets[si][li] = cacheLine{}
		}
	}
}

// Blocked reports whether a miss is in flight.
func (c *BlockingCache) Blocked() bool { return c.missInFlight }

func (c *BlockingCache) setIndex(line uint64) int { return int(line & uint64(c.setCount-1)) }
func (c *BlockingCache) tag(line uint64) uint64   { return line / uint64(c.setCount) }

func (c *BlockingCache) find(line uint64) *cacheLine {
	set := c.sets[c.setIndex(line)]
	tag := c.tag(line)
	for i := range set {
		if set[i].valid && set[i].tag == tag {
			return &set[i]
		}
	}
	return nil
}

func (c *BlockingCache) allocate(line uint64, dirtyEviction *bool) *cacheLine {
	set := c.sets[c.setIndex(line)]
	for i := range set {
		if !set[i].valid {
			return &set[i]
		}
	}
	victim := &set[0]
	for i := range set {
		if set[i].lru < victim.lru {
			victim = &set[i]
		}
	}
	if victim.valid && victim.dirty {
		*dirtyEviction = true
	}
	return victim
}

func (c *BlockingCache) touch(l *cacheLine) {
	c.lruClock++
	l.lru = c.lruClock
}

// SetOccupancy returns the number of valid lines in a set (test hook).
func (c *BlockingCache) SetOccupancy(set int) int {
	n := 0
	for i := range c.sets[set] {
		if c.sets[set][i].valid {
			n++
		}
	}
	return n
}
