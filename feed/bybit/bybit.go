package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/gorilla/websocket"

	"perpwatch/feed"
	"perpwatch/internal/symbols"
	"perpwatch/logger"
	"perpwatch/models"
)

const (
	exchangeName = "bybit"
	keepAlive    = 20 * time.Second
)

// Adapter tracks Bybit linear perpetuals. Metadata comes from the v5
// instruments-info endpoint; prices arrive over the public linear ticker
// stream for the configured symbols. Ticker pushes after the first snapshot
// are deltas carrying only changed fields, which the record merge absorbs
// field by field.
type Adapter struct {
	wsURL          string
	symbols        []string
	client         *bybit.Client
	reconnectDelay time.Duration
	log            *logger.Entry
}

func New(apiURL, wsURL string, syms []string, reconnectDelay time.Duration) *Adapter {
	return &Adapter{
		wsURL:          wsURL,
		symbols:        syms,
		client:         bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(apiURL)),
		reconnectDelay: reconnectDelay,
		log:            logger.GetLogger().WithComponent("feed_bybit"),
	}
}

func (a *Adapter) Name() string { return exchangeName }

type instrumentResult struct {
	List []struct {
		Symbol          string `json:"symbol"`
		Status          string `json:"status"`
		QuoteCoin       string `json:"quoteCoin"`
		FundingInterval int    `json:"fundingInterval"` // minutes
	} `json:"list"`
}

func (a *Adapter) Refresh(ctx context.Context, sink *feed.Sink) error {
	params := map[string]interface{}{"category": "linear", "limit": 1000}
	resp, err := a.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("instruments request rejected: %s", resp.RetMsg)
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal instruments result: %w", err)
	}
	var result instrumentResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("failed to decode instruments result: %w", err)
	}
	if len(result.List) == 0 {
		return fmt.Errorf("instruments response is empty")
	}

	ignore := make(map[string]struct{})
	for _, inst := range result.List {
		tok := symbols.Token(exchangeName, inst.Symbol)
		if tok == "" {
			continue
		}
		if inst.Status != "Trading" || inst.QuoteCoin != "USDT" {
			ignore[tok] = struct{}{}
			continue
		}
		if inst.FundingInterval > 0 {
			sink.ApplyMeta(tok, models.Record{
				FundingIntervalHours: models.Float(float64(inst.FundingInterval) / 60),
			})
		}
	}
	sink.SetIgnored(ignore)
	return nil
}

type tickerMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  struct {
		Symbol          string `json:"symbol"`
		LastPrice       string `json:"lastPrice"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	} `json:"data"`
}

func (a *Adapter) Stream(ctx context.Context, sink *feed.Sink) error {
	topics := make([]string, 0, len(a.symbols))
	for _, sym := range a.symbols {
		topics = append(topics, "tickers."+sym)
	}

	feed.RunStream(ctx, feed.StreamConfig{
		URL:            a.wsURL,
		ReconnectDelay: a.reconnectDelay,
		Subscribe: func(conn *websocket.Conn) error {
			req := struct {
				Op    string   `json:"op"`
				Args  []string `json:"args"`
				ReqID string   `json:"req_id"`
			}{
				Op:    "subscribe",
				Args:  topics,
				ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
			}
			return conn.WriteJSON(req)
		},
		KeepAlive: func(ctx context.Context, conn *websocket.Conn) context.CancelFunc {
			return feed.JSONPingLoop(ctx, conn, keepAlive, []byte(`{"op":"ping"}`), a.log)
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
	if ticker.Data.Symbol == "" || symbols.USDMargined(ticker.Data.Symbol) {
		return nil
	}
	tok := symbols.Token(exchangeName, ticker.Data.Symbol)
	if tok == "" {
		return nil
	}

	// Delta pushes omit unchanged fields; only what is present gets merged.
	var rec models.Record
	if ticker.Data.LastPrice != "" {
		if price, err := strconv.ParseFloat(ticker.Data.LastPrice, 64); err == nil {
			rec.Price = models.Float(price)
		}
	}
	if ticker.Data.FundingRate != "" {
		if rate, err := strconv.ParseFloat(ticker.Data.FundingRate, 64); err == nil {
			rec.FundingRate = models.Float(rate)
		}
	}
	if ticker.Data.NextFundingTime != "" {
		if next, err := strconv.ParseInt(ticker.Data.NextFundingTime, 10, 64); err == nil {
			rec.NextFundingTime = models.Int(next)
		}
	}
	if rec.Price == nil && rec.FundingRate == nil && rec.NextFundingTime == nil {
		return nil
	}

	sink.Apply(tok, rec)
	logger.IncrementStreamRead(exchangeName, len(msg))
	return nil
}
