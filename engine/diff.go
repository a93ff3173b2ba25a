package engine

import (
	"sort"
	"time"

	"perpwatch/internal/market"
	"perpwatch/models"
)

// Snapshot is the deep copy of the shared state a scan works on.
type Snapshot = market.Snapshot

func tokenSet(snap Snapshot) []string {
	seen := make(map[string]struct{})
	for _, part := range snap {
		for token := range part {
			seen[token] = struct{}{}
		}
	}
	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

func exchangeNames(snap Snapshot) []string {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PriceDivergences compares prices per token across exchanges. The reference
// exchange is always the one reporting the maximum price, so per-exchange
// deviations read as the discount against the richest market. A token
// qualifies when the min-to-max spread meets thresholdPct.
func PriceDivergences(snap Snapshot, thresholdPct float64) []models.Divergence {
	exchanges := exchangeNames(snap)
	var results []models.Divergence

	for _, token := range tokenSet(snap) {
		var quotes []models.Quote
		for _, exchange := range exchanges {
			rec, ok := snap[exchange][token]
			if !ok || rec.Price == nil {
				continue
			}
			q := models.Quote{Exchange: exchange, Price: *rec.Price}
			if f24, ok := rec.Funding24h(); ok {
				q.Funding24h = f24
			}
			quotes = append(quotes, q)
		}
		if len(quotes) < 2 {
			continue
		}

		maxIdx, minIdx := 0, 0
		for i, q := range quotes {
			if q.Price > quotes[maxIdx].Price {
				maxIdx = i
			}
			if q.Price < quotes[minIdx].Price {
				minIdx = i
			}
		}
		maxPrice := quotes[maxIdx].Price
		minPrice := quotes[minIdx].Price
		if minPrice <= 0 {
			continue
		}

		diffPct := (maxPrice - minPrice) / minPrice * 100
		if diffPct < thresholdPct {
			continue
		}

		refFunding := quotes[maxIdx].Funding24h
		for i := range quotes {
			quotes[i].PriceDiff = maxPrice - quotes[i].Price
			quotes[i].PriceDiffPct = (maxPrice - quotes[i].Price) / maxPrice * 100
			quotes[i].Funding24hDiff = refFunding - quotes[i].Funding24h
			quotes[i].Funding24hDiffPct = abs(refFunding-quotes[i].Funding24h) * 100
		}

		d := models.Divergence{
			Token:       token,
			Axis:        models.AxisPrice,
			MaxExchange: quotes[maxIdx].Exchange,
			MinExchange: quotes[minIdx].Exchange,
			MaxValue:    maxPrice,
			MinValue:    minPrice,
			Diff:        maxPrice - minPrice,
			DiffPct:     diffPct,
			Quotes:      quotes,
		}
		sort.SliceStable(d.Quotes, func(i, j int) bool {
			return d.Quotes[i].Price > d.Quotes[j].Price
		})
		results = append(results, d)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DiffPct > results[j].DiffPct
	})
	return results
}

// FundingDivergences compares 24h-normalized funding rates per token. The
// divergence metric is an absolute percentage-point difference of the rate
// itself, not a relative ratio, since rates hover near zero.
func FundingDivergences(snap Snapshot, thresholdPct float64) []models.Divergence {
	exchanges := exchangeNames(snap)
	var results []models.Divergence

	for _, token := range tokenSet(snap) {
		var quotes []models.Quote
		for _, exchange := range exchanges {
			rec, ok := snap[exchange][token]
			if !ok {
				continue
			}
			f24, ok := rec.Funding24h()
			if !ok {
				continue
			}
			q := models.Quote{Exchange: exchange, Funding24h: f24}
			if rec.Price != nil {
				q.Price = *rec.Price
			}
			quotes = append(quotes, q)
		}
		if len(quotes) < 2 {
			continue
		}

		maxIdx, minIdx := 0, 0
		for i, q := range quotes {
			if q.Funding24h > quotes[maxIdx].Funding24h {
				maxIdx = i
			}
			if q.Funding24h < quotes[minIdx].Funding24h {
				minIdx = i
			}
		}
		maxRate := quotes[maxIdx].Funding24h
		minRate := quotes[minIdx].Funding24h

		diffPct := (maxRate - minRate) * 100
		if diffPct < thresholdPct {
			continue
		}

		refPrice := quotes[maxIdx].Price
		for i := range quotes {
			quotes[i].Funding24hDiff = maxRate - quotes[i].Funding24h
			quotes[i].Funding24hDiffPct = abs(maxRate-quotes[i].Funding24h) * 100
			if refPrice > 0 {
				quotes[i].PriceDiff = refPrice - quotes[i].Price
				quotes[i].PriceDiffPct = (refPrice - quotes[i].Price) / refPrice * 100
			}
		}

		d := models.Divergence{
			Token:       token,
			Axis:        models.AxisFunding24h,
			MaxExchange: quotes[maxIdx].Exchange,
			MinExchange: quotes[minIdx].Exchange,
			MaxValue:    maxRate,
			MinValue:    minRate,
			Diff:        maxRate - minRate,
			DiffPct:     diffPct,
			Quotes:      quotes,
		}
		sort.SliceStable(d.Quotes, func(i, j int) bool {
			return d.Quotes[i].Funding24h > d.Quotes[j].Funding24h
		})
		results = append(results, d)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DiffPct > results[j].DiffPct
	})
	return results
}

// NextFundingDivergences compares raw funding rates among exchanges whose
// next settlement lands within tolerance of the nearest upcoming one. Rates
// that charge at different moments are not economically comparable, so
// exchanges outside the window are excluded even when they report the token.
func NextFundingDivergences(snap Snapshot, thresholdPct float64, tolerance time.Duration, now time.Time) []models.NextFundingDivergence {
	exchanges := exchangeNames(snap)
	toleranceMs := tolerance.Milliseconds()
	nowMs := now.UnixMilli()

	type entry struct {
		exchange string
		time     int64
		rate     float64
	}

	var results []models.NextFundingDivergence
	for _, token := range tokenSet(snap) {
		var entries []entry
		for _, exchange := range exchanges {
			rec, ok := snap[exchange][token]
			if !ok || rec.FundingRate == nil || rec.NextFundingTime == nil || rec.FundingIntervalHours == nil {
				continue
			}
			entries = append(entries, entry{
				exchange: exchange,
				time:     *rec.NextFundingTime,
				rate:     *rec.FundingRate,
			})
		}
		if len(entries) < 2 {
			continue
		}

		nearest := entries[0].time
		for _, e := range entries[1:] {
			if e.time < nearest {
				nearest = e.time
			}
		}

		var group []entry
		for _, e := range entries {
			delta := e.time - nearest
			if delta < 0 {
				delta = -delta
			}
			if delta <= toleranceMs {
				group = append(group, e)
			}
		}
		if len(group) == 0 {
			continue
		}

		maxRate, minRate := group[0].rate, group[0].rate
		names := make([]string, 0, len(group))
		for _, e := range group {
			if e.rate > maxRate {
				maxRate = e.rate
			}
			if e.rate < minRate {
				minRate = e.rate
			}
			names = append(names, e.exchange)
		}

		diff := maxRate - minRate
		if len(group) == 1 {
			diff = maxRate
		}
		diffPct := abs(diff) * 100
		if diffPct < thresholdPct {
			continue
		}

		results = append(results, models.NextFundingDivergence{
			Token:              token,
			Exchanges:          names,
			NearestFundingTime: nearest,
			HoursUntilFunding:  float64(nearest-nowMs) / 3.6e6,
			MaxRate:            maxRate,
			MinRate:            minRate,
			Diff:               diff,
			DiffPct:            diffPct,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DiffPct > results[j].DiffPct
	})
	return results
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
