package market

import (
	"sync"
	"testing"

	"perpwatch/models"
)

func TestApplyMergesFieldWise(t *testing.T) {
	s := NewState()
	s.Apply("gate", "BTC", models.Record{Price: models.Float(100)})
	s.Apply("gate", "BTC", models.Record{FundingRate: models.Float(0.0001), FundingIntervalHours: models.Float(8)})

	rec, ok := s.Get("gate", "BTC")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Price == nil || *rec.Price != 100 {
		t.Errorf("price lost by funding merge: %v", rec.Price)
	}
	if rec.FundingRate == nil || *rec.FundingRate != 0.0001 {
		t.Errorf("funding rate not merged: %v", rec.FundingRate)
	}
}

func TestClearExchange(t *testing.T) {
	s := NewState()
	s.Apply("gate", "BTC", models.Record{Price: models.Float(100)})
	s.Apply("mexc", "BTC", models.Record{Price: models.Float(101)})

	s.ClearExchange("gate")

	if s.Tokens("gate") != 0 {
		t.Errorf("gate partition should be empty, has %d tokens", s.Tokens("gate"))
	}
	if _, ok := s.Snapshot()["gate"]; ok {
		t.Error("cleared exchange must contribute zero entries to a scan snapshot")
	}
	if s.Tokens("mexc") != 1 {
		t.Errorf("mexc partition should be untouched")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewState()
	s.Apply("gate", "BTC", models.Record{Price: models.Float(100)})

	snap := s.Snapshot()
	s.Apply("gate", "BTC", models.Record{Price: models.Float(200)})

	if *snap["gate"]["BTC"].Price != 100 {
		t.Errorf("snapshot mutated by later write: %v", *snap["gate"]["BTC"].Price)
	}
}

func TestConcurrentWritesAndScans(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(exchange string) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.Apply(exchange, "BTC", models.Record{Price: models.Float(float64(j))})
			}
		}([]string{"a", "b", "c", "d"}[i])
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			_ = s.Snapshot()
			if j%50 == 0 {
				s.ClearAll()
			}
		}
	}()

	wg.Wait()
}
