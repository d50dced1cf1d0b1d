package stream

import (
	"sync"
)

// planLimiter caps concurrent plan streams per IP and globally. A plan
// stream can hold its connection for minutes while images download, so
// runaway clients are bounded here rather than by request rate.
type planLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newPlanLimiter(maxPerIP int) *planLimiter {
	return &planLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: 200,
	}
}

// acquire registers a stream for ip. Returns false when either limit is hit.
func (l *planLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal {
		return false
	}
	if l.perIP[ip] >= l.maxPerIP {
		return false
	}

	l.perIP[ip]++
	l.total++
	return true
}

// release drops a stream for ip.
func (l *planLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.perIP[ip]--
	l.total--
	if l.perIP[ip] <= 0 {
		delete(l.perIP, ip)
	}
}

// count returns the active stream count for ip.
func (l *planLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}
