package alert

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"perpwatch/models"
)

// Cache throttles repeated alerts for the same finding. The first occurrence
// of a key always fires; later occurrences fire again only after the
// cooldown has elapsed. Every firing decision records the current time,
// regardless of whether delivery later succeeds.
type Cache struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

func NewCache(cooldown time.Duration) *Cache {
	return &Cache{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// ShouldSend reports whether an alert for key may fire now and, if so,
// stamps the key.
func (c *Cache) ShouldSend(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.last[key]; ok && now.Sub(last) <= c.cooldown {
		return false
	}
	c.last[key] = now
	return true
}

// Prune drops entries older than the cooldown so the cache does not grow
// without bound over weeks of uptime.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for key, last := range c.last {
		if now.Sub(last) > c.cooldown {
			delete(c.last, key)
			dropped++
		}
	}
	return dropped
}

// DivergenceKey identifies a price or funding finding by its axis, token and
// exchange pair. The pair is sorted so max/min swapping between scans does
// not defeat the cooldown.
func DivergenceKey(d models.Divergence) string {
	a, b := d.MaxExchange, d.MinExchange
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s:%s:%s", d.Axis, d.Token, a, b)
}

// NextFundingKey identifies a near-term funding finding by its token, the
// grouped exchanges and the settlement bucket. A different group or a later
// settlement is a new alert, not a repeat.
func NextFundingKey(d models.NextFundingDivergence) string {
	names := append([]string(nil), d.Exchanges...)
	sort.Strings(names)
	return fmt.Sprintf("%s:%s:%s:%d", models.AxisNextFunding, d.Token, strings.Join(names, "-"), d.NearestFundingTime)
}
