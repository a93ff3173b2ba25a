package hyperliquid

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perpwatch/feed"
	"perpwatch/internal/market"
)

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		switch string(body) {
		case `{"type":"exchangeStatus"}`:
			w.Write([]byte(`{"time":1700000000000}`))
		case `{"type":"metaAndAssetCtxs"}`:
			w.Write([]byte(`[
				{"universe":[{"name":"BTC"},{"name":"GONE","isDelisted":true},{"name":"ISO","onlyIsolated":true}]},
				[{"funding":"0.0000125"},{"funding":"0.0001"},{"funding":"0.0001"}]
			]`))
		default:
			http.Error(w, "bad request", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	state := market.NewState()
	sink := feed.NewSink("hyperliquid", state)
	a := New(srv.URL, "", time.Second, time.Second)

	if err := a.Refresh(context.Background(), sink); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	rec, ok := state.Get("hyperliquid", "BTC")
	if !ok {
		t.Fatalf("BTC record missing")
	}
	if rec.FundingRate == nil || *rec.FundingRate != 0.0000125 {
		t.Errorf("unexpected funding rate: %v", rec.FundingRate)
	}
	if rec.FundingIntervalHours == nil || *rec.FundingIntervalHours != 1 {
		t.Errorf("expected hourly funding interval, got %v", rec.FundingIntervalHours)
	}
	if rec.NextFundingTime == nil {
		t.Fatalf("next funding time missing")
	}
	next := time.UnixMilli(*rec.NextFundingTime).UTC()
	if next.Minute() != 0 || next.Second() != 0 || !next.After(time.Now().UTC()) {
		t.Errorf("next funding time is not the top of the next hour: %v", next)
	}

	if !sink.Ignored("GONE") || !sink.Ignored("ISO") {
		t.Errorf("flagged assets not ignored")
	}
	if _, ok := state.Get("hyperliquid", "GONE"); ok {
		t.Errorf("delisted asset got metadata")
	}
}

func TestHandleMessage(t *testing.T) {
	state := market.NewState()
	sink := feed.NewSink("hyperliquid", state)
	sink.SetAvailable(true)

	a := New("", "", time.Second, time.Second)
	msg := []byte(`{"channel":"allMids","data":{"mids":{"BTC":"65000.5","@107":"1.5","ETH/USDC":"3000"}}}`)
	if err := a.handleMessage(sink, msg); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}

	rec, ok := state.Get("hyperliquid", "BTC")
	if !ok || rec.Price == nil || *rec.Price != 65000.5 {
		t.Fatalf("BTC price missing or wrong: %+v", rec)
	}
	if state.Tokens("hyperliquid") != 1 {
		t.Errorf("spot and index symbols should be skipped, have %d tokens", state.Tokens("hyperliquid"))
	}
}
