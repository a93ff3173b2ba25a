package models

import (
	"testing"
	"time"
)

func TestRecordMergePartial(t *testing.T) {
	rec := Record{
		Price:       Float(100),
		FundingRate: Float(0.0001),
	}

	rec.Merge(Record{Price: Float(101), UpdatedAt: time.Now()})

	if rec.Price == nil || *rec.Price != 101 {
		t.Errorf("price not overwritten: %v", rec.Price)
	}
	if rec.FundingRate == nil || *rec.FundingRate != 0.0001 {
		t.Errorf("funding rate should be untouched: %v", rec.FundingRate)
	}
	if rec.FundingIntervalHours != nil {
		t.Errorf("interval should stay unset")
	}

	rec.Merge(Record{
		FundingRate:          Float(0.0002),
		FundingIntervalHours: Float(8),
		NextFundingTime:      Int(1700000000000),
	})

	if *rec.Price != 101 {
		t.Errorf("price should survive funding-only merge, got %v", *rec.Price)
	}
	if *rec.FundingRate != 0.0002 {
		t.Errorf("funding rate not overwritten: %v", *rec.FundingRate)
	}
	if rec.NextFundingTime == nil || *rec.NextFundingTime != 1700000000000 {
		t.Errorf("next funding time not set")
	}
}

func TestFunding24h(t *testing.T) {
	rec := Record{FundingRate: Float(0.0003), FundingIntervalHours: Float(8)}
	got, ok := rec.Funding24h()
	if !ok {
		t.Fatal("expected normalized rate")
	}
	if got != 0.0009 {
		t.Errorf("funding24h = %v, want 0.0009", got)
	}

	cases := []Record{
		{FundingRate: Float(0.0003)},
		{FundingIntervalHours: Float(8)},
		{FundingRate: Float(0.0003), FundingIntervalHours: Float(0)},
	}
	for i, rec := range cases {
		if _, ok := rec.Funding24h(); ok {
			t.Errorf("case %d: expected no normalized rate", i)
		}
	}
}
