package ratelimit

import (
	"sync"
	"sync/atomic"
)

// ConnLimiter caps concurrent connections per IP and in total.
type ConnLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
	maxTotal int

	rejected atomic.Uint64
}

// Refusal reasons returned by Acquire.
const (
	ReasonIPLimit  = "ip_limit"
	ReasonCapacity = "capacity"
)

// NewConnLimiter creates a limiter. A non-positive cap disables that check.
func NewConnLimiter(maxPerIP, maxTotal int) *ConnLimiter {
	return &ConnLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// Acquire reserves a slot for ip. On refusal it returns false and the reason.
func (c *ConnLimiter) Acquire(ip string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxTotal > 0 && c.total >= c.maxTotal {
		c.rejected.Add(1)
		return false, ReasonCapacity
	}
	if c.maxPerIP > 0 && c.perIP[ip] >= c.maxPerIP {
		c.rejected.Add(1)
		return false, ReasonIPLimit
	}
	c.perIP[ip]++
	c.total++
	return true, ""
}

// Release frees a slot taken by Acquire.
func (c *ConnLimiter) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.perIP[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(c.perIP, ip)
	} else {
		c.perIP[ip] = n - 1
	}
	c.total--
}

// Count returns the connections held by ip.
func (c *ConnLimiter) Count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perIP[ip]
}

// Total returns all held connections.
func (c *ConnLimiter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Rejected returns how many Acquire calls were refused.
func (c *ConnLimiter) Rejected() uint64 { return c.rejected.Load() }
