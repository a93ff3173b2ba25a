package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"perpwatch/feed"
	"perpwatch/internal/symbols"
	"perpwatch/logger"
	"perpwatch/models"
)

const (
	exchangeName = "mexc"
	pingInterval = 30 * time.Second
)

// Adapter tracks MEXC USDT perpetual contracts. The contract detail listing
// registers tradeable tokens, the funding-rate listing fills their metadata
// and the ticker stream refreshes prices for registered tokens only.
type Adapter struct {
	apiURL         string
	wsURL          string
	httpClient     *http.Client
	reconnectDelay time.Duration
	log            *logger.Entry
}

func New(apiURL, wsURL string, timeout, reconnectDelay time.Duration) *Adapter {
	return &Adapter{
		apiURL:         apiURL,
		wsURL:          wsURL,
		httpClient:     &http.Client{Timeout: timeout},
		reconnectDelay: reconnectDelay,
		log:            logger.GetLogger().WithComponent("feed_mexc"),
	}
}

func (a *Adapter) Name() string { return exchangeName }

func (a *Adapter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type contractDetail struct {
	Data []struct {
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		State     int    `json:"state"`
		Type      int    `json:"type"`
		IsHidden  bool   `json:"isHidden"`
	} `json:"data"`
}

type fundingListing struct {
	Data []struct {
		Symbol         string  `json:"symbol"`
		FundingRate    float64 `json:"fundingRate"`
		NextSettleTime int64   `json:"nextSettleTime"` // ms since epoch
		CollectCycle   float64 `json:"collectCycle"`   // hours
	} `json:"data"`
}

func (a *Adapter) Refresh(ctx context.Context, sink *feed.Sink) error {
	var ping struct {
		Success bool `json:"success"`
	}
	if err := a.getJSON(ctx, a.apiURL+"/api/v1/contract/ping", &ping); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !ping.Success {
		return fmt.Errorf("health check returned unexpected format")
	}

	var detail contractDetail
	if err := a.getJSON(ctx, a.apiURL+"/api/v1/contract/detail", &detail); err != nil {
		a.log.WithError(err).Warn("failed to fetch contract detail")
		return nil
	}
	for _, c := range detail.Data {
		if c.State != 0 || c.IsHidden || c.Type != 1 || c.QuoteCoin != "USDT" {
			continue
		}
		sink.ApplyMeta(c.BaseCoin, models.Record{})
	}

	var funding fundingListing
	if err := a.getJSON(ctx, a.apiURL+"/api/v1/contract/funding_rate", &funding); err != nil {
		a.log.WithError(err).Warn("failed to fetch funding rates")
		return nil
	}
	for _, f := range funding.Data {
		tok := symbols.Token(exchangeName, f.Symbol)
		if tok == "" {
			continue
		}
		sink.ApplyMetaExisting(tok, models.Record{
			FundingRate:          models.Float(f.FundingRate),
			NextFundingTime:      models.Int(f.NextSettleTime),
			FundingIntervalHours: models.Float(f.CollectCycle),
		})
	}
	return nil
}

type tickerMessage struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"lastPrice"`
	} `json:"data"`
}

func (a *Adapter) Stream(ctx context.Context, sink *feed.Sink) error {
	feed.RunStream(ctx, feed.StreamConfig{
		URL:            a.wsURL,
		ReconnectDelay: a.reconnectDelay,
		Subscribe: func(conn *websocket.Conn) error {
			return conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"method":"sub.tickers","param":{}}`))
		},
		KeepAlive: func(ctx context.Context, conn *websocket.Conn) context.CancelFunc {
			return feed.JSONPingLoop(ctx, conn, pingInterval, []byte(`{"method":"ping"}`), a.log)
		},
		Handler: func(msg []byte) error {
			return a.handleMessage(sink, msg)
		},
	}, a.log)
	return ctx.Err()
}

func (a *Adapter) handleMessage(sink *feed.Sink, msg []byte) error {
	var ticker tickerMessage
	if err := json.Unmarshal(msg, &ticker); err != nil {
		return nil
	}
	if ticker.Channel != "push.tickers" {
		return nil
	}

	for _, item := range ticker.Data {
		if item.LastPrice <= 0 {
			continue
		}
		tok := symbols.Token(exchangeName, item.Symbol)
		if tok == "" {
			continue
		}
		sink.ApplyExisting(tok, models.Record{Price: models.Float(item.LastPrice)})
	}

	logger.IncrementStreamRead(exchangeName, len(msg))
	return nil
}
