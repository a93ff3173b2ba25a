package models

import "time"

// Record holds the latest normalized observation for one token on one
// exchange. Price and funding fields arrive on different channels and
// cadences, so every field is optional: a nil pointer means the exchange has
// not reported that field yet. Fields are only ever overwritten by newer
// observations, never cleared individually; clearing happens at partition
// granularity when an exchange is judged unavailable.
type Record struct {
	Price                *float64 `json:"price,omitempty"`
	FundingRate          *float64 `json:"funding_rate,omitempty"`
	FundingIntervalHours *float64 `json:"funding_interval_hours,omitempty"`
	NextFundingTime      *int64   `json:"next_funding_time,omitempty"` // ms since epoch
	UpdatedAt            time.Time `json:"updated_at"`
}

// Merge overwrites only the fields present in src, leaving the rest
// untouched.
func (r *Record) Merge(src Record) {
	if src.Price != nil {
		r.Price = src.Price
	}
	if src.FundingRate != nil {
		r.FundingRate = src.FundingRate
	}
	if src.FundingIntervalHours != nil {
		r.FundingIntervalHours = src.FundingIntervalHours
	}
	if src.NextFundingTime != nil {
		r.NextFundingTime = src.NextFundingTime
	}
	if !src.UpdatedAt.IsZero() {
		r.UpdatedAt = src.UpdatedAt
	}
}

// Funding24h returns the funding rate normalized to a 24-hour basis, or
// false when the rate or a positive interval is missing.
func (r Record) Funding24h() (float64, bool) {
	if r.FundingRate == nil || r.FundingIntervalHours == nil || *r.FundingIntervalHours == 0 {
		return 0, false
	}
	return *r.FundingRate * (24 / *r.FundingIntervalHours), true
}

// Float returns a pointer to v. Feed decoders use it to mark a field as
// present in a partial update.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
