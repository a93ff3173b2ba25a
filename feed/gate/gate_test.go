package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perpwatch/feed"
	"perpwatch/internal/market"
	"perpwatch/models"
)

func marketRecordWithPrice(p float64) models.Record {
	return models.Record{Price: models.Float(p)}
}

func TestRefreshFillsContracts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/futures/usdt/contracts" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[
			{"name":"BTC_USDT","last_price":"65000.5","funding_rate":"0.0001","funding_next_apply":1700000000,"funding_interval":28800,"in_delisting":false,"is_pre_market":false,"status":"trading"},
			{"name":"OLD_USDT","last_price":"1.0","funding_rate":"0.0001","funding_next_apply":1700000000,"funding_interval":28800,"in_delisting":true,"is_pre_market":false,"status":"trading"}
		]`))
	}))
	defer srv.Close()

	state := market.NewState()
	sink := feed.NewSink("gate", state)
	a := New(srv.URL, "", time.Second, time.Second)

	if err := a.Refresh(context.Background(), sink); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	rec, ok := state.Get("gate", "BTC")
	if !ok {
		t.Fatalf("BTC record missing")
	}
	if rec.Price == nil || *rec.Price != 65000.5 {
		t.Errorf("unexpected price: %v", rec.Price)
	}
	if rec.NextFundingTime == nil || *rec.NextFundingTime != 1700000000000 {
		t.Errorf("next funding time not converted to ms: %v", rec.NextFundingTime)
	}
	if rec.FundingIntervalHours == nil || *rec.FundingIntervalHours != 8 {
		t.Errorf("funding interval not converted to hours: %v", rec.FundingIntervalHours)
	}
	if _, ok := state.Get("gate", "OLD"); ok {
		t.Errorf("delisting contract recorded")
	}
}

func TestRefreshEmptyListingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	sink := feed.NewSink("gate", market.NewState())
	a := New(srv.URL, "", time.Second, time.Second)
	if err := a.Refresh(context.Background(), sink); err == nil {
		t.Fatalf("expected error for empty listing")
	}
}

func TestHandleMessageUpdatesOnlyKnownContracts(t *testing.T) {
	state := market.NewState()
	sink := feed.NewSink("gate", state)
	sink.SetAvailable(true)
	sink.ApplyMeta("BTC", marketRecordWithPrice(65000))

	a := New("", "", time.Second, time.Second)
	msg := []byte(`{"channel":"futures.tickers","event":"update","result":[
		{"contract":"BTC_USDT","last":"65100.5"},
		{"contract":"NEW_USDT","last":"2.0"}
	]}`)
	if err := a.handleMessage(sink, msg); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}

	rec, _ := state.Get("gate", "BTC")
	if rec.Price == nil || *rec.Price != 65100.5 {
		t.Errorf("price not updated: %v", rec.Price)
	}
	if _, ok := state.Get("gate", "NEW"); ok {
		t.Errorf("unknown contract created by ticker stream")
	}
}
