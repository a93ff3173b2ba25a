package models

// Comparison axes produced by the divergence engine. The axis is part of the
// alert cache key, so a price finding never suppresses a funding finding for
// the same token.
const (
	AxisPrice       = "price_diff"
	AxisFunding24h  = "funding_24h_diff"
	AxisNextFunding = "funding_next_diff"
)

// Quote is one exchange's row in a divergence breakdown. Diff fields are
// measured against the reference exchange (the one reporting the maximum
// value on the scanned axis).
type Quote struct {
	Exchange          string  `json:"exchange"`
	Price             float64 `json:"price"`
	PriceDiff         float64 `json:"price_diff"`
	PriceDiffPct      float64 `json:"price_diff_pct"`
	Funding24h        float64 `json:"funding_24h"`
	Funding24hDiff    float64 `json:"funding_24h_diff"`
	Funding24hDiffPct float64 `json:"funding_24h_diff_pct"`
}

// Divergence is one qualifying token on the price or 24h-funding axis.
// It is recomputed from scratch on every scan and carries no identity
// across scans.
type Divergence struct {
	Token       string  `json:"token"`
	Axis        string  `json:"axis"`
	MaxExchange string  `json:"max_exchange"`
	MinExchange string  `json:"min_exchange"`
	MaxValue    float64 `json:"max_value"`
	MinValue    float64 `json:"min_value"`
	Diff        float64 `json:"diff"`
	// DiffPct ranks results: relative spread for the price axis,
	// percentage points of 24h funding for the funding axis.
	DiffPct float64 `json:"diff_pct"`
	Quotes  []Quote `json:"quotes"`
}

// NextFundingDivergence is one qualifying token on the near-term
// funding-event axis: only exchanges whose next settlement falls within the
// tolerance window of the nearest upcoming one are compared.
type NextFundingDivergence struct {
	Token              string   `json:"token"`
	Exchanges          []string `json:"exchanges"`
	NearestFundingTime int64    `json:"nearest_funding_time"` // ms since epoch
	HoursUntilFunding  float64  `json:"hours_until_funding"`
	MaxRate            float64  `json:"max_rate"`
	MinRate            float64  `json:"min_rate"`
	Diff               float64  `json:"diff"`
	DiffPct            float64  `json:"diff_pct"`
}
