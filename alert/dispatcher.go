package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"perpwatch/internal/channel"
	"perpwatch/logger"
	"perpwatch/models"
)

// Sender delivers one formatted alert message. Delivery is fire-and-forget:
// a failed send is logged and never retried.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Dispatcher drains the result channels, filters findings through the
// cooldown cache and hands the survivors to the sender.
type Dispatcher struct {
	channels *channel.Channels
	cache    *Cache
	sender   Sender
	log      *logger.Entry

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(ch *channel.Channels, cache *Cache, sender Sender) *Dispatcher {
	return &Dispatcher{
		channels: ch,
		cache:    cache,
		sender:   sender,
		log:      logger.GetLogger().WithComponent("alert_dispatcher"),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dispatcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.run(runCtx)

	d.log.Info("alert dispatcher started")
	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	d.log.Info("alert dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-d.channels.Divergence:
			if !ok {
				return
			}
			d.handle(ctx, DivergenceKey(res), FormatDivergence(res))
		case res, ok := <-d.channels.NextFunding:
			if !ok {
				return
			}
			d.handle(ctx, NextFundingKey(res), FormatNextFunding(res))
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, key, text string) {
	if !d.cache.ShouldSend(key) {
		logger.IncrementAlertSuppressed()
		d.log.WithField("key", key).Debug("alert suppressed by cooldown")
		return
	}

	logger.IncrementAlertSent()
	if d.sender == nil {
		d.log.WithField("key", key).Info("alert (no sender configured)\n" + text)
		return
	}
	if err := d.sender.Send(ctx, text); err != nil {
		d.log.WithError(err).WithField("key", key).Warn("failed to deliver alert")
	}
}

// FormatDivergence renders one finding as a Markdown alert message.
func FormatDivergence(d models.Divergence) string {
	var b strings.Builder

	switch d.Axis {
	case models.AxisPrice:
		fmt.Fprintf(&b, "📊 *Price divergence* `%s`\n", d.Token)
		fmt.Fprintf(&b, "spread: %.4f%% (%s %.6g vs %s %.6g)\n",
			d.DiffPct, d.MaxExchange, d.MaxValue, d.MinExchange, d.MinValue)
		for _, q := range d.Quotes {
			fmt.Fprintf(&b, "  %-12s price %.6g  Δ%.4f%%\n", q.Exchange, q.Price, q.PriceDiffPct)
		}
	default:
		fmt.Fprintf(&b, "💸 *24h funding divergence* `%s`\n", d.Token)
		fmt.Fprintf(&b, "gap: %.4f points (%s %.6f vs %s %.6f)\n",
			d.DiffPct, d.MaxExchange, d.MaxValue, d.MinExchange, d.MinValue)
		for _, q := range d.Quotes {
			fmt.Fprintf(&b, "  %-12s f24h %.6f  Δ%.4f\n", q.Exchange, q.Funding24h, q.Funding24hDiffPct)
		}
	}
	return b.String()
}

// FormatNextFunding renders a near-term funding finding.
func FormatNextFunding(d models.NextFundingDivergence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏱ *Next funding divergence* `%s`\n", d.Token)
	fmt.Fprintf(&b, "settles %s (in %.2fh) across %s\n",
		time.UnixMilli(d.NearestFundingTime).UTC().Format("15:04 MST"),
		d.HoursUntilFunding, strings.Join(d.Exchanges, ", "))
	fmt.Fprintf(&b, "rate gap: %.4f%% (max %.6f, min %.6f)\n", d.DiffPct, d.MaxRate, d.MinRate)
	return b.String()
}
