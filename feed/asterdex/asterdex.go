package asterdex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"perpwatch/feed"
	"perpwatch/internal/symbols"
	"perpwatch/logger"
	"perpwatch/models"
)

const exchangeName = "asterdex"

// Adapter streams mark prices and funding data from Asterdex. The venue
// exposes a Binance-compatible futures API, so the REST side reuses the
// binance futures client pointed at the Asterdex endpoint and the stream
// side decodes the same !markPrice@arr event shape.
type Adapter struct {
	apiURL         string
	wsURL          string
	client         *futures.Client
	reconnectDelay time.Duration
	log            *logger.Entry
}

func New(apiURL, wsURL string, timeout, reconnectDelay time.Duration) *Adapter {
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if apiURL != "" {
		client.SetApiEndpoint(apiURL)
	}

	return &Adapter{
		apiURL:         apiURL,
		wsURL:          wsURL,
		client:         client,
		reconnectDelay: reconnectDelay,
		log:            logger.GetLogger().WithComponent("feed_asterdex"),
	}
}

func (a *Adapter) Name() string { return exchangeName }

type exchangeInfo struct {
	ServerTime int64 `json:"serverTime"`
	Symbols    []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

type fundingInfo struct {
	Symbol               string  `json:"symbol"`
	FundingIntervalHours float64 `json:"fundingIntervalHours"`
}

func (a *Adapter) Refresh(ctx context.Context, sink *feed.Sink) error {
	var info exchangeInfo
	if err := a.getJSON(ctx, a.apiURL+"/fapi/v1/exchangeInfo", &info); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if info.ServerTime <= 0 {
		return fmt.Errorf("health check returned unexpected format")
	}

	ignore := make(map[string]struct{})
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			continue
		}
		if tok := symbols.Token(exchangeName, s.Symbol); tok != "" {
			ignore[tok] = struct{}{}
		}
	}
	sink.SetIgnored(ignore)

	var funding []fundingInfo
	if err := a.getJSON(ctx, a.apiURL+"/fapi/v1/fundingInfo", &funding); err != nil {
		// Health passed; a metadata miss leaves the previous intervals in
		// place rather than taking the feed down.
		a.log.WithError(err).Warn("failed to fetch funding info")
		return nil
	}
	for _, f := range funding {
		if symbols.USDMargined(f.Symbol) {
			continue
		}
		tok := symbols.Token(exchangeName, f.Symbol)
		if tok == "" {
			continue
		}
		sink.ApplyMeta(tok, models.Record{
			FundingIntervalHours: models.Float(f.FundingIntervalHours),
		})
	}
	return nil
}

func (a *Adapter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *Adapter) Stream(ctx context.Context, sink *feed.Sink) error {
	feed.RunStream(ctx, feed.StreamConfig{
		URL:            a.wsURL + "/!markPrice@arr",
		ReconnectDelay: a.reconnectDelay,
		Handler: func(msg []byte) error {
			return a.handleMessage(sink, msg)
		},
	}, a.log)
	return ctx.Err()
}

func (a *Adapter) handleMessage(sink *feed.Sink, msg []byte) error {
	var events []*futures.WsMarkPriceEvent
	if err := json.Unmarshal(msg, &events); err != nil {
		// Non-array frames are subscription acks and keepalives.
		return nil
	}

	for _, ev := range events {
		if ev == nil || symbols.USDMargined(ev.Symbol) {
			continue
		}
		tok := symbols.Token(exchangeName, ev.Symbol)
		if tok == "" {
			continue
		}

		price, err := strconv.ParseFloat(ev.MarkPrice, 64)
		if err != nil {
			continue
		}
		rec := models.Record{
			Price:           models.Float(price),
			NextFundingTime: models.Int(ev.NextFundingTime),
		}
		if rate, err := strconv.ParseFloat(ev.FundingRate, 64); err == nil {
			rec.FundingRate = models.Float(rate)
		}
		sink.Apply(tok, rec)
	}

	logger.IncrementStreamRead(exchangeName, len(msg))
	return nil
}
