package binance

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

const exchangeName = "binance"

// Adapter tracks Binance USDT-margined futures. The websocket endpoint is
// managed by the SDK, so only the REST base URL is configurable.
type Adapter struct {
	apiURL         string
	client         *futures.Client
	reconnectDelay time.Duration
	log            *logger.Entry
}

func New(apiURL string, timeout, reconnectDelay time.Duration) *Adapter {
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if apiURL != "" {
		client.SetApiEndpoint(apiURL)
	}

	return &Adapter{
		apiURL:         apiURL,
		client:         client,
		reconnectDelay: reconnectDelay,
		log:            logger.GetLogger().WithComponent("feed_binance"),
	}
}

func (a *Adapter) Name() string { return exchangeName }

type fundingInfo struct {
	Symbol               string  `json:"symbol"`
	FundingIntervalHours float64 `json:"fundingIntervalHours"`
}

func (a *Adapter) Refresh(ctx context.Context, sink *feed.Sink) error {
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
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
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		doneC, stopC, err := futures.WsAllMarkPriceServe(
			func(events futures.WsAllMarkPriceEvent) {
				a.handleEvents(sink, events)
			},
			func(err error) {
				a.log.WithError(err).Warn("mark price stream error")
			},
		)
		if err != nil {
			a.log.WithError(err).Warn("failed to open mark price stream")
			if feed.WaitReconnect(ctx, a.reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return ctx.Err()
		case <-doneC:
			if feed.WaitReconnect(ctx, a.reconnectDelay) {
				return ctx.Err()
			}
		}
	}
}

func (a *Adapter) handleEvents(sink *feed.Sink, events futures.WsAllMarkPriceEvent) {
	size := 0
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
		size += len(ev.Symbol) + len(ev.MarkPrice) + len(ev.FundingRate)
	}
	logger.IncrementStreamRead(exchangeName, size)
}
