package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perpwatch/internal/channel"
	"perpwatch/internal/market"
	"perpwatch/logger"
)

// Config carries the scan tunables.
type Config struct {
	ScanInterval         time.Duration
	StartupDelay         time.Duration
	PriceThresholdPct    float64
	FundingThresholdPct  float64
	NextFundingTolerance time.Duration
}

// Scanner runs the divergence scan on a fixed interval and hands qualifying
// results to the alert channels.
type Scanner struct {
	state    *market.State
	channels *channel.Channels
	cfg      Config
	log      *logger.Entry

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScanner(state *market.State, ch *channel.Channels, cfg Config) *Scanner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	return &Scanner{
		state:    state,
		channels: ch,
		cfg:      cfg,
		log:      logger.GetLogger().WithComponent("scanner"),
	}
}

func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scanner already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(runCtx)

	s.log.WithFields(logger.Fields{
		"scan_interval":     s.cfg.ScanInterval.String(),
		"price_threshold":   s.cfg.PriceThresholdPct,
		"funding_threshold": s.cfg.FundingThresholdPct,
	}).Info("scanner started")
	return nil
}

func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("scanner stopped")
}

func (s *Scanner) run(ctx context.Context) {
	defer s.wg.Done()

	// Let the feeds prime metadata before the first scan, otherwise the
	// first cycle compares half-filled records.
	if s.cfg.StartupDelay > 0 {
		timer := time.NewTimer(s.cfg.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		s.Scan(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan runs one full scan cycle over a point-in-time snapshot.
func (s *Scanner) Scan(ctx context.Context) {
	start := time.Now()
	snap := s.state.Snapshot()

	priceDiffs := PriceDivergences(snap, s.cfg.PriceThresholdPct)
	fundingDiffs := FundingDivergences(snap, s.cfg.FundingThresholdPct)
	nextDiffs := NextFundingDivergences(snap, 0, s.cfg.NextFundingTolerance, time.Now())

	for _, d := range priceDiffs {
		s.channels.SendDivergence(ctx, d)
	}
	for _, d := range fundingDiffs {
		s.channels.SendDivergence(ctx, d)
	}
	for _, d := range nextDiffs {
		s.channels.SendNextFunding(ctx, d)
	}

	logger.IncrementScan()
	s.log.WithFields(logger.Fields{
		"exchanges":    len(snap),
		"price_hits":   len(priceDiffs),
		"funding_hits": len(fundingDiffs),
		"next_hits":    len(nextDiffs),
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Debug("scan complete")
}
