package engine

import (
	"context"
	"testing"
	"time"

	"perpwatch/internal/channel"
	"perpwatch/internal/market"
	"perpwatch/models"
)

func TestScanSendsQualifyingResults(t *testing.T) {
	state := market.NewState()
	state.Apply("a", "BTC", models.Record{
		Price:                models.Float(100),
		FundingRate:          models.Float(0.0001),
		FundingIntervalHours: models.Float(8),
	})
	state.Apply("b", "BTC", models.Record{
		Price:                models.Float(100.5),
		FundingRate:          models.Float(0.0004),
		FundingIntervalHours: models.Float(8),
	})

	ch := channel.NewChannels(10)
	defer ch.Close()

	s := NewScanner(state, ch, Config{
		ScanInterval:         time.Hour,
		PriceThresholdPct:    0.1,
		FundingThresholdPct:  0.05,
		NextFundingTolerance: time.Minute,
	})

	s.Scan(context.Background())

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case d := <-ch.Divergence:
			got[d.Axis] = true
		case <-time.After(time.Second):
			t.Fatalf("missing divergence result, have %v", got)
		}
	}
	if !got[models.AxisPrice] || !got[models.AxisFunding24h] {
		t.Fatalf("expected both axes, got %v", got)
	}
}

func TestScanAfterClearProducesNothing(t *testing.T) {
	state := market.NewState()
	state.Apply("a", "BTC", models.Record{Price: models.Float(100)})
	state.Apply("b", "BTC", models.Record{Price: models.Float(110)})
	state.ClearExchange("b")

	ch := channel.NewChannels(10)
	defer ch.Close()

	s := NewScanner(state, ch, Config{ScanInterval: time.Hour})
	s.Scan(context.Background())

	select {
	case d := <-ch.Divergence:
		t.Fatalf("cleared exchange still contributed to a result: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScannerStopBeforeChannelClose(t *testing.T) {
	state := market.NewState()
	state.Apply("a", "BTC", models.Record{Price: models.Float(100)})
	state.Apply("b", "BTC", models.Record{Price: models.Float(110)})

	ch := channel.NewChannels(1)

	s := NewScanner(state, ch, Config{
		ScanInterval:      time.Millisecond,
		PriceThresholdPct: 0.1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-ch.Divergence:
	case <-time.After(time.Second):
		t.Fatalf("scanner produced no results")
	}

	// Stop must join the scan loop before returning, so closing the
	// channels afterwards can never race an in-flight send.
	s.Stop()
	ch.Close()
}

func TestScannerStartStop(t *testing.T) {
	state := market.NewState()
	ch := channel.NewChannels(10)
	defer ch.Close()

	s := NewScanner(state, ch, Config{ScanInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error starting twice")
	}
	s.Stop()
}
