package gate

import (
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

const exchangeName = "gate"

// Adapter tracks Gate USDT perpetual futures. The contracts listing doubles
// as health check and full metadata fill; the ticker stream only refreshes
// prices for contracts the listing has already registered.
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
		log:            logger.GetLogger().WithComponent("feed_gate"),
	}
}

func (a *Adapter) Name() string { return exchangeName }

type contract struct {
	Name             string  `json:"name"`
	LastPrice        string  `json:"last_price"`
	FundingRate      string  `json:"funding_rate"`
	FundingNextApply int64   `json:"funding_next_apply"` // seconds since epoch
	FundingInterval  float64 `json:"funding_interval"`   // seconds
	InDelisting      bool    `json:"in_delisting"`
	IsPreMarket      bool    `json:"is_pre_market"`
	Status           string  `json:"status"`
}

func (a *Adapter) Refresh(ctx context.Context, sink *feed.Sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+"/futures/usdt/contracts", nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed, status: %d", resp.StatusCode)
	}

	var contracts []contract
	if err := json.NewDecoder(resp.Body).Decode(&contracts); err != nil {
		return fmt.Errorf("failed to decode contracts: %w", err)
	}
	if len(contracts) == 0 {
		return fmt.Errorf("contracts listing is empty")
	}

	for _, c := range contracts {
		if c.InDelisting || c.IsPreMarket || c.Status != "trading" {
			continue
		}
		tok := symbols.Token(exchangeName, c.Name)
		if tok == "" {
			continue
		}

		rec := models.Record{
			NextFundingTime:      models.Int(c.FundingNextApply * 1000),
			FundingIntervalHours: models.Float(c.FundingInterval / 3600),
		}
		if price, err := strconv.ParseFloat(c.LastPrice, 64); err == nil {
			rec.Price = models.Float(price)
		}
		if rate, err := strconv.ParseFloat(c.FundingRate, 64); err == nil {
			rec.FundingRate = models.Float(rate)
		}
		sink.ApplyMeta(tok, rec)
	}
	return nil
}

type tickerMessage struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Result  []struct {
		Contract string `json:"contract"`
		Last     string `json:"last"`
	} `json:"result"`
}

func (a *Adapter) Stream(ctx context.Context, sink *feed.Sink) error {
	feed.RunStream(ctx, feed.StreamConfig{
		URL:            a.wsURL,
		ReconnectDelay: a.reconnectDelay,
		Subscribe: func(conn *websocket.Conn) error {
			req := struct {
				Time    int64    `json:"time"`
				Channel string   `json:"channel"`
				Event   string   `json:"event"`
				Payload []string `json:"payload"`
			}{
				Time:    time.Now().Unix(),
				Channel: "futures.tickers",
				Event:   "subscribe",
				Payload: []string{"!all"},
			}
			return conn.WriteJSON(req)
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
	if ticker.Channel != "futures.tickers" || ticker.Event != "update" {
		return nil
	}

	for _, item := range ticker.Result {
		tok := symbols.Token(exchangeName, item.Contract)
		if tok == "" {
			continue
		}
		price, err := strconv.ParseFloat(item.Last, 64)
		if err != nil {
			continue
		}
		sink.ApplyExisting(tok, models.Record{Price: models.Float(price)})
	}

	logger.IncrementStreamRead(exchangeName, len(msg))
	return nil
}
