package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perpwatch/alert"
	"perpwatch/config"
	"perpwatch/engine"
	"perpwatch/feed"
	"perpwatch/feed/asterdex"
	"perpwatch/feed/binance"
	"perpwatch/feed/bybit"
	"perpwatch/feed/gate"
	"perpwatch/feed/hyperliquid"
	"perpwatch/feed/mexc"
	"perpwatch/internal/channel"
	"perpwatch/internal/market"
	"perpwatch/logger"
	"perpwatch/writer"
)

func buildAdapters(cfg *config.Config) []feed.Adapter {
	feeds := cfg.Feeds
	timeout := feeds.Timeout()
	reconnect := feeds.ReconnectDelay()

	var adapters []feed.Adapter
	if feeds.Asterdex.Enabled {
		adapters = append(adapters, asterdex.New(feeds.Asterdex.APIURL, feeds.Asterdex.WSURL, timeout, reconnect))
	}
	if feeds.Binance.Enabled {
		adapters = append(adapters, binance.New(feeds.Binance.APIURL, timeout, reconnect))
	}
	if feeds.Bybit.Enabled {
		adapters = append(adapters, bybit.New(feeds.Bybit.APIURL, feeds.Bybit.WSURL, feeds.Bybit.Symbols, reconnect))
	}
	if feeds.Gate.Enabled {
		adapters = append(adapters, gate.New(feeds.Gate.APIURL, feeds.Gate.WSURL, timeout, reconnect))
	}
	if feeds.Hyperliquid.Enabled {
		adapters = append(adapters, hyperliquid.New(feeds.Hyperliquid.APIURL, feeds.Hyperliquid.WSURL, timeout, reconnect))
	}
	if feeds.Mexc.Enabled {
		adapters = append(adapters, mexc.New(feeds.Mexc.APIURL, feeds.Mexc.WSURL, timeout, reconnect))
	}
	return adapters
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Perpwatch.Name,
		"version":     cfg.Perpwatch.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting perpwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.CloudWatch {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	state := market.NewState()
	channels := channel.NewChannels(cfg.Channels.AlertBuffer)

	runners := make([]*feed.Runner, 0)
	for _, adapter := range buildAdapters(cfg) {
		runners = append(runners, feed.NewRunner(adapter, state, feed.Options{
			RefreshInterval:  cfg.Feeds.RefreshInterval(),
			ReconnectDelay:   cfg.Feeds.ReconnectDelay(),
			StreamStartDelay: cfg.Feeds.StreamStartDelay(),
		}))
	}
	if len(runners) == 0 {
		log.Error("no feeds enabled")
		os.Exit(1)
	}

	scanner := engine.NewScanner(state, channels, engine.Config{
		ScanInterval:         cfg.Monitor.ScanInterval(),
		StartupDelay:         cfg.Monitor.StartupDelay(),
		PriceThresholdPct:    cfg.Monitor.PriceDiffThresholdPct,
		FundingThresholdPct:  cfg.Monitor.Funding24hDiffThresholdPct,
		NextFundingTolerance: cfg.Monitor.NextFundingTolerance(),
	})

	cache := alert.NewCache(cfg.Monitor.AlertCooldown())
	var sender alert.Sender
	if cfg.Alerting.Telegram.Enabled {
		sender = alert.NewTelegram(
			cfg.Alerting.Telegram.BotToken,
			cfg.Alerting.Telegram.ChatID,
			cfg.Alerting.Telegram.RequestsPerMinute,
			cfg.Feeds.Timeout(),
		)
	}
	dispatcher := alert.NewDispatcher(channels, cache, sender)

	var snapshotWriter *writer.SnapshotWriter
	if cfg.Storage.S3.Enabled || cfg.Storage.File.Enabled {
		snapshotWriter, err = writer.NewSnapshotWriter(cfg.Storage, state)
		if err != nil {
			log.WithError(err).Error("failed to create snapshot writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("snapshot storage disabled; skipping writer")
	}

	for _, r := range runners {
		if err := r.Start(ctx); err != nil {
			log.WithError(err).Error("feed runner failed to start")
			os.Exit(1)
		}
	}
	if err := dispatcher.Start(ctx); err != nil {
		log.WithError(err).Error("alert dispatcher failed to start")
		os.Exit(1)
	}
	if err := scanner.Start(ctx); err != nil {
		log.WithError(err).Error("scanner failed to start")
		os.Exit(1)
	}
	if snapshotWriter != nil {
		if err := snapshotWriter.Start(ctx); err != nil {
			log.WithError(err).Error("snapshot writer failed to start")
			os.Exit(1)
		}
	}

	// Periodic full clear bounds memory growth from delisted symbols; live
	// entries repopulate from the next refresh and stream messages. The alert
	// cache is pruned on the same cadence.
	go func() {
		ticker := time.NewTicker(cfg.Monitor.StateClearInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				size := state.Size()
				state.ClearAll()
				pruned := cache.Prune()
				log.WithComponent("main").WithFields(logger.Fields{
					"records_dropped": size,
					"cache_pruned":    pruned,
				}).Info("periodic state clear")
			}
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		scanner.Stop()
		dispatcher.Stop()
		for _, r := range runners {
			r.Stop()
		}
		if snapshotWriter != nil {
			snapshotWriter.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		// Safe to close only here: the scanner has stopped, so no sends
		// can race the close. On timeout the scanner may still be draining
		// and the channels are left open for the process exit to reap.
		channels.Close()
		log.Info("graceful shutdown complete")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timed out")
	}
}
