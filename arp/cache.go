package arp

import "github.com/soypat/tinystack/internal"

// DefaultCacheWays and DefaultCacheLines size the zero-configuration cache
// used when [Cache.Reset] is called with ways=0 or lines=0.
const (
	DefaultCacheWays  = 4
	DefaultCacheLines = 256
)

type cacheEntry struct {
	valid bool
	ip    [4]byte
	mac   [6]byte
}

// Cache is a fixed-size, N-way set-associative IPv4-to-MAC resolution
// cache. Entries are hashed into one of [Cache.lines] lines by FNV-1 over
// the four address octets; each line holds [Cache.ways] entries ("ways").
// A lookup scans every way of the hashed line. Insertion updates an
// existing (ip, *) entry in place wherever it is found; otherwise it uses
// the first free way in the line, and if the line is full, evicts the way
// pointed to by a per-line round-robin counter.
//
// The zero value is not usable; call [Cache.Reset] first.
type Cache struct {
	entries       []cacheEntry // len == ways*lines, row-major by line
	ways          int
	lines         int
	nextEvictWay  []uint8 // one round-robin counter per line
	cacheLifetime uint32  // seconds; aging is not implemented, see OnAgingTick
}

// Reset (re)initializes the cache with the given way/line geometry,
// discarding all entries. ways<=0 or lines<=0 select the package defaults.
func (c *Cache) Reset(ways, lines int, lifetimeSeconds uint32) {
	if ways <= 0 {
		ways = DefaultCacheWays
	}
	if lines <= 0 {
		lines = DefaultCacheLines
	}
	if cap(c.entries) < ways*lines {
		c.entries = make([]cacheEntry, ways*lines)
	} else {
		c.entries = c.entries[:ways*lines]
		for i := range c.entries {
			c.entries[i] = cacheEntry{}
		}
	}
	if cap(c.nextEvictWay) < lines {
		c.nextEvictWay = make([]uint8, lines)
	} else {
		c.nextEvictWay = c.nextEvictWay[:lines]
		for i := range c.nextEvictWay {
			c.nextEvictWay[i] = 0
		}
	}
	c.ways = ways
	c.lines = lines
	c.cacheLifetime = lifetimeSeconds
}

func (c *Cache) line(ip [4]byte) int {
	return int(internal.FNV1(ip[0], ip[1], ip[2], ip[3]) % uint32(c.lines))
}

func (c *Cache) wayEntries(line int) []cacheEntry {
	off := line * c.ways
	return c.entries[off : off+c.ways]
}

// Lookup returns the MAC address bound to ip and true iff some way of the
// hashed line holds a valid entry for ip.
func (c *Cache) Lookup(ip [4]byte) (mac [6]byte, ok bool) {
	line := c.line(ip)
	for _, e := range c.wayEntries(line) {
		if e.valid && e.ip == ip {
			return e.mac, true
		}
	}
	return mac, false
}

// Insert binds ip to mac. An existing entry for ip in any way of the
// hashed line is updated in place. Otherwise the first free way is used;
// if the line is full, the way pointed to by that line's round-robin
// evictor is overwritten and the evictor advances.
func (c *Cache) Insert(ip [4]byte, mac [6]byte) {
	line := c.line(ip)
	ways := c.wayEntries(line)
	for i := range ways {
		if ways[i].valid && ways[i].ip == ip {
			ways[i].mac = mac
			return
		}
	}
	for i := range ways {
		if !ways[i].valid {
			ways[i] = cacheEntry{valid: true, ip: ip, mac: mac}
			return
		}
	}
	evict := &c.nextEvictWay[line]
	ways[*evict] = cacheEntry{valid: true, ip: ip, mac: mac}
	*evict++
	if int(*evict) >= c.ways {
		*evict = 0
	}
}

// OnAgingTick is the 1Hz aging hook. This implementation does not expire
// entries: cacheLifetime is stored but no lifetime-based eviction is
// wired to it.
func (c *Cache) OnAgingTick() {}

// Ways and Lines report the cache geometry, mainly for tests and metrics.
func (c *Cache) Ways() int  { return c.ways }
func (c *Cache) Lines() int { return c.lines }
