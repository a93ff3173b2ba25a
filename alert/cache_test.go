package alert

import (
	"testing"
	"time"

	"perpwatch/models"
)

func TestCacheCooldown(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCache(30 * time.Minute)
	c.now = func() time.Time { return now }

	if !c.ShouldSend("price_diff:BTC:a:b") {
		t.Fatalf("first occurrence must fire")
	}
	if c.ShouldSend("price_diff:BTC:a:b") {
		t.Fatalf("immediate repeat must be suppressed")
	}

	now = now.Add(29 * time.Minute)
	if c.ShouldSend("price_diff:BTC:a:b") {
		t.Fatalf("repeat inside cooldown must be suppressed")
	}

	now = now.Add(2 * time.Minute)
	if !c.ShouldSend("price_diff:BTC:a:b") {
		t.Fatalf("repeat after cooldown must fire again")
	}
}

func TestCacheDistinctKeys(t *testing.T) {
	c := NewCache(30 * time.Minute)
	if !c.ShouldSend("price_diff:BTC:a:b") {
		t.Fatalf("first key must fire")
	}
	if !c.ShouldSend("funding_24h_diff:BTC:a:b") {
		t.Fatalf("different axis must not be suppressed by the price alert")
	}
	if !c.ShouldSend("price_diff:BTC:a:c") {
		t.Fatalf("different exchange pair must not be suppressed")
	}
}

func TestDivergenceKeyOrderInsensitive(t *testing.T) {
	d1 := models.Divergence{Axis: models.AxisPrice, Token: "BTC", MaxExchange: "gate", MinExchange: "bybit"}
	d2 := models.Divergence{Axis: models.AxisPrice, Token: "BTC", MaxExchange: "bybit", MinExchange: "gate"}
	if DivergenceKey(d1) != DivergenceKey(d2) {
		t.Fatalf("swapped max/min produced different keys: %q vs %q", DivergenceKey(d1), DivergenceKey(d2))
	}
}

func TestNextFundingKeyIncludesBucket(t *testing.T) {
	base := models.NextFundingDivergence{
		Token:              "BTC",
		Exchanges:          []string{"gate", "bybit"},
		NearestFundingTime: 1700000000000,
	}
	later := base
	later.NearestFundingTime = 1700028800000

	if NextFundingKey(base) == NextFundingKey(later) {
		t.Fatalf("different settlement buckets must produce different keys")
	}

	reordered := base
	reordered.Exchanges = []string{"bybit", "gate"}
	if NextFundingKey(base) != NextFundingKey(reordered) {
		t.Fatalf("exchange order must not affect the key")
	}
}

func TestCachePrune(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCache(30 * time.Minute)
	c.now = func() time.Time { return now }

	c.ShouldSend("k1")
	c.ShouldSend("k2")

	now = now.Add(31 * time.Minute)
	if dropped := c.Prune(); dropped != 2 {
		t.Fatalf("expected 2 pruned entries, got %d", dropped)
	}
	if !c.ShouldSend("k1") {
		t.Fatalf("pruned key must fire again")
	}
}
