package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"perpwatch/feed"
	"perpwatch/internal/symbols"
	"perpwatch/logger"
	"perpwatch/models"
)

const exchangeName = "hyperliquid"

// Adapter tracks Hyperliquid perpetuals. All REST access goes through the
// single /info endpoint with a typed POST body. Funding settles hourly, so
// the interval is fixed at one hour and the next funding time is the top of
// the next hour.
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
		log:            logger.GetLogger().WithComponent("feed_hyperliquid"),
	}
}

func (a *Adapter) Name() string { return exchangeName }

func (a *Adapter) postInfo(ctx context.Context, body string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/info", bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

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

type universeEntry struct {
	Name string `json:"name"`
	// Presence of either flag marks the asset as untradeable for our
	// purposes, regardless of its value.
	IsDelisted   *bool `json:"isDelisted"`
	OnlyIsolated *bool `json:"onlyIsolated"`
}

type assetMeta struct {
	Universe []universeEntry `json:"universe"`
}

type assetCtx struct {
	Funding string `json:"funding"`
}

func (a *Adapter) Refresh(ctx context.Context, sink *feed.Sink) error {
	var status struct {
		Time int64 `json:"time"`
	}
	if err := a.postInfo(ctx, `{"type":"exchangeStatus"}`, &status); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status.Time <= 0 {
		return fmt.Errorf("health check returned unexpected format")
	}

	var payload []json.RawMessage
	if err := a.postInfo(ctx, `{"type":"metaAndAssetCtxs"}`, &payload); err != nil {
		return fmt.Errorf("failed to fetch asset metadata: %w", err)
	}
	if len(payload) < 2 {
		return fmt.Errorf("asset metadata response is malformed")
	}

	var meta assetMeta
	if err := json.Unmarshal(payload[0], &meta); err != nil {
		return fmt.Errorf("failed to decode asset universe: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(payload[1], &ctxs); err != nil {
		return fmt.Errorf("failed to decode asset contexts: %w", err)
	}

	ignore := make(map[string]struct{})
	for _, entry := range meta.Universe {
		if entry.IsDelisted != nil || entry.OnlyIsolated != nil {
			ignore[entry.Name] = struct{}{}
		}
	}
	sink.SetIgnored(ignore)

	nextFunding := time.Now().UTC().Truncate(time.Hour).Add(time.Hour).UnixMilli()
	for i, c := range ctxs {
		if i >= len(meta.Universe) {
			break
		}
		tok := symbols.Token(exchangeName, meta.Universe[i].Name)
		if tok == "" {
			continue
		}
		rate, err := strconv.ParseFloat(c.Funding, 64)
		if err != nil {
			continue
		}
		sink.ApplyMeta(tok, models.Record{
			FundingRate:          models.Float(rate),
			NextFundingTime:      models.Int(nextFunding),
			FundingIntervalHours: models.Float(1),
		})
	}
	return nil
}

type midsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

func (a *Adapter) Stream(ctx context.Context, sink *feed.Sink) error {
	feed.RunStream(ctx, feed.StreamConfig{
		URL:            a.wsURL,
		ReconnectDelay: a.reconnectDelay,
		Subscribe: func(conn *websocket.Conn) error {
			return conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"method":"subscribe","subscription":{"type":"allMids"}}`))
		},
		Handler: func(msg []byte) error {
			return a.handleMessage(sink, msg)
		},
	}, a.log)
	return ctx.Err()
}

func (a *Adapter) handleMessage(sink *feed.Sink, msg []byte) error {
	var mids midsMessage
	if err := json.Unmarshal(msg, &mids); err != nil {
		return nil
	}
	if mids.Channel != "allMids" {
		return nil
	}

	for sym, raw := range mids.Data.Mids {
		tok := symbols.Token(exchangeName, sym)
		if tok == "" {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		sink.Apply(tok, models.Record{Price: models.Float(price)})
	}

	logger.IncrementStreamRead(exchangeName, len(msg))
	return nil
}
