package alert

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"perpwatch/internal/channel"
	"perpwatch/models"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestDispatcherSendsAndSuppresses(t *testing.T) {
	ch := channel.NewChannels(10)
	defer ch.Close()

	sender := &fakeSender{}
	d := NewDispatcher(ch, NewCache(30*time.Minute), sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer d.Stop()

	res := models.Divergence{
		Token:       "BTC",
		Axis:        models.AxisPrice,
		MaxExchange: "b",
		MinExchange: "a",
		MaxValue:    100.5,
		MinValue:    100,
		Diff:        0.5,
		DiffPct:     0.5,
	}
	ch.SendDivergence(ctx, res)
	ch.SendDivergence(ctx, res) // same key, inside cooldown

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("alert never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := sender.count(); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if !strings.Contains(sender.sent[0], "BTC") {
		t.Errorf("message missing token: %q", sender.sent[0])
	}
}

func TestDispatcherNextFunding(t *testing.T) {
	ch := channel.NewChannels(10)
	defer ch.Close()

	sender := &fakeSender{}
	d := NewDispatcher(ch, NewCache(30*time.Minute), sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer d.Stop()

	ch.SendNextFunding(ctx, models.NextFundingDivergence{
		Token:              "ETH",
		Exchanges:          []string{"a", "b"},
		NearestFundingTime: time.Now().Add(time.Hour).UnixMilli(),
		HoursUntilFunding:  1,
		MaxRate:            0.0005,
		MinRate:            0.0001,
		Diff:               0.0004,
		DiffPct:            0.04,
	})

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("alert never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(sender.sent[0], "ETH") {
		t.Errorf("message missing token: %q", sender.sent[0])
	}
}
