package asterdex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perpwatch/feed"
	"perpwatch/internal/market"
)

func TestHandleMessage(t *testing.T) {
	state := market.NewState()
	sink := feed.NewSink("asterdex", state)
	sink.SetAvailable(true)
	sink.SetIgnored(map[string]struct{}{"DELISTED": {}})

	a := New("", "", time.Second, time.Second)

	msg := []byte(`[
		{"e":"markPriceUpdate","s":"BTCUSDT","p":"65000.10","r":"0.0001","T":1700000000000},
		{"e":"markPriceUpdate","s":"ETHBUSD","p":"3000.0","r":"0.0001","T":1700000000000},
		{"e":"markPriceUpdate","s":"DELISTEDUSDT","p":"1.0","r":"0.0001","T":1700000000000}
	]`)
	if err := a.handleMessage(sink, msg); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}

	rec, ok := state.Get("asterdex", "BTC")
	if !ok {
		t.Fatalf("BTC record missing")
	}
	if rec.Price == nil || *rec.Price != 65000.10 {
		t.Errorf("unexpected price: %v", rec.Price)
	}
	if rec.FundingRate == nil || *rec.FundingRate != 0.0001 {
		t.Errorf("unexpected funding rate: %v", rec.FundingRate)
	}
	if rec.NextFundingTime == nil || *rec.NextFundingTime != 1700000000000 {
		t.Errorf("unexpected next funding time: %v", rec.NextFundingTime)
	}

	if _, ok := state.Get("asterdex", "ETHBUSD"); ok {
		t.Errorf("non-USDT symbol recorded")
	}
	if _, ok := state.Get("asterdex", "DELISTED"); ok {
		t.Errorf("ignored symbol recorded")
	}
}

func TestHandleMessageNonArray(t *testing.T) {
	state := market.NewState()
	sink := feed.NewSink("asterdex", state)
	sink.SetAvailable(true)

	a := New("", "", time.Second, time.Second)
	if err := a.handleMessage(sink, []byte(`{"result":null,"id":1}`)); err != nil {
		t.Fatalf("ack frame should be skipped: %v", err)
	}
	if state.Size() != 0 {
		t.Errorf("ack frame modified state")
	}
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			json.NewEncoder(w).Encode(map[string]any{
				"serverTime": 1700000000000,
				"symbols": []map[string]any{
					{"symbol": "BTCUSDT", "status": "TRADING"},
					{"symbol": "OLDUSDT", "status": "SETTLING"},
				},
			})
		case "/fapi/v1/fundingInfo":
			json.NewEncoder(w).Encode([]map[string]any{
				{"symbol": "BTCUSDT", "fundingIntervalHours": 8},
				{"symbol": "OLDUSDT", "fundingIntervalHours": 4},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	state := market.NewState()
	sink := feed.NewSink("asterdex", state)
	a := New(srv.URL, "", time.Second, time.Second)

	if err := a.Refresh(context.Background(), sink); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if !sink.Ignored("OLD") {
		t.Errorf("non-trading symbol not ignored")
	}
	rec, ok := state.Get("asterdex", "BTC")
	if !ok {
		t.Fatalf("BTC metadata missing")
	}
	if rec.FundingIntervalHours == nil || *rec.FundingIntervalHours != 8 {
		t.Errorf("unexpected funding interval: %v", rec.FundingIntervalHours)
	}
	if _, ok := state.Get("asterdex", "OLD"); ok {
		t.Errorf("ignored symbol got metadata")
	}
}

func TestRefreshHealthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	state := market.NewState()
	sink := feed.NewSink("asterdex", state)
	a := New(srv.URL, "", time.Second, time.Second)

	if err := a.Refresh(context.Background(), sink); err == nil {
		t.Fatalf("expected health check error")
	}
}
