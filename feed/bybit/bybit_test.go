package bybit

import (
	"testing"
	"time"

	"perpwatch/feed"
	"perpwatch/internal/market"
	"perpwatch/models"
)

func TestHandleMessageSnapshotThenDelta(t *testing.T) {
	state := market.NewState()
	sink := feed.NewSink("bybit", state)
	sink.SetAvailable(true)

	a := New("", "", []string{"BTCUSDT"}, time.Second)

	snapshot := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"symbol":"BTCUSDT","lastPrice":"65000.5","fundingRate":"0.0001","nextFundingTime":"1700000000000"}}`)
	if err := a.handleMessage(sink, snapshot); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	// Delta carries only the changed price; funding fields must survive.
	delta := []byte(`{"topic":"tickers.BTCUSDT","type":"delta","data":{"symbol":"BTCUSDT","lastPrice":"65100.0"}}`)
	if err := a.handleMessage(sink, delta); err != nil {
		t.Fatalf("delta failed: %v", err)
	}

	rec, ok := state.Get("bybit", "BTC")
	if !ok {
		t.Fatalf("record missing")
	}
	if rec.Price == nil || *rec.Price != 65100.0 {
		t.Errorf("price not updated by delta: %v", rec.Price)
	}
	if rec.FundingRate == nil || *rec.FundingRate != 0.0001 {
		t.Errorf("funding rate lost on delta: %v", rec.FundingRate)
	}
	if rec.NextFundingTime == nil || *rec.NextFundingTime != 1700000000000 {
		t.Errorf("next funding time lost on delta: %v", rec.NextFundingTime)
	}
}

func TestHandleMessageSkipsAcks(t *testing.T) {
	state := market.NewState()
	sink := feed.NewSink("bybit", state)
	sink.SetAvailable(true)

	a := New("", "", nil, time.Second)
	ack := []byte(`{"op":"subscribe","success":true,"ret_msg":""}`)
	if err := a.handleMessage(sink, ack); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if state.Size() != 0 {
		t.Errorf("ack modified state")
	}
}

func TestHandleMessageIgnoredToken(t *testing.T) {
	state := market.NewState()
	sink := feed.NewSink("bybit", state)
	sink.SetAvailable(true)
	sink.SetIgnored(map[string]struct{}{"SCAM": {}})
	state.Apply("bybit", "SCAM", models.Record{})

	a := New("", "", nil, time.Second)
	msg := []byte(`{"topic":"tickers.SCAMUSDT","type":"snapshot","data":{"symbol":"SCAMUSDT","lastPrice":"1.0"}}`)
	if err := a.handleMessage(sink, msg); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}
	rec, _ := state.Get("bybit", "SCAM")
	if rec.Price != nil {
		t.Errorf("ignored token received price update")
	}
}
