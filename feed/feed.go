package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"perpwatch/internal/market"
	"perpwatch/logger"
	"perpwatch/models"
)

// Adapter is implemented once per exchange. Refresh performs the periodic
// health and metadata pass against the REST API and is the sole authority on
// whether the venue is usable. Stream consumes the realtime feed and blocks
// until the context is cancelled, reconnecting internally.
type Adapter interface {
	Name() string
	Refresh(ctx context.Context, sink *Sink) error
	Stream(ctx context.Context, sink *Sink) error
}

// Sink is the single write path from an adapter into the shared market
// state. Updates are dropped while the venue is unavailable or while the
// token is on the ignore list, so stale stream data can never repopulate a
// partition that a failed refresh has cleared.
type Sink struct {
	exchange  string
	state     *market.State
	available atomic.Bool

	mu     sync.RWMutex
	ignore map[string]struct{}
}

func NewSink(exchange string, state *market.State) *Sink {
	return &Sink{
		exchange: exchange,
		state:    state,
		ignore:   make(map[string]struct{}),
	}
}

func (s *Sink) Exchange() string {
	return s.exchange
}

func (s *Sink) Available() bool {
	return s.available.Load()
}

// SetAvailable flips the availability gate. The feed runner is the normal
// caller, after each refresh pass.
func (s *Sink) SetAvailable(ok bool) {
	s.available.Store(ok)
}

// SetIgnored replaces the ignore list with the given token set.
func (s *Sink) SetIgnored(tokens map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignore = make(map[string]struct{}, len(tokens))
	for t := range tokens {
		s.ignore[t] = struct{}{}
	}
}

func (s *Sink) Ignored(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ignore[token]
	return ok
}

// Apply merges upd into the shared state and reports whether the update was
// accepted.
func (s *Sink) Apply(token string, upd models.Record) bool {
	if token == "" || !s.available.Load() || s.Ignored(token) {
		return false
	}
	s.state.Apply(s.exchange, token, upd)
	return true
}

// ApplyMeta merges metadata gathered during a refresh pass. Unlike Apply it
// does not require the venue to be marked available yet: the refresh that
// gathered the data is itself the availability authority, and the runner
// flips the flag only after the whole pass succeeds.
func (s *Sink) ApplyMeta(token string, upd models.Record) bool {
	if token == "" || s.Ignored(token) {
		return false
	}
	s.state.Apply(s.exchange, token, upd)
	return true
}

// ApplyExisting merges upd only into records the refresh pass has already
// created.
func (s *Sink) ApplyExisting(token string, upd models.Record) bool {
	if token == "" || !s.available.Load() || s.Ignored(token) {
		return false
	}
	return s.state.ApplyExisting(s.exchange, token, upd)
}

// ApplyMetaExisting is the refresh-side variant of ApplyExisting.
func (s *Sink) ApplyMetaExisting(token string, upd models.Record) bool {
	if token == "" || s.Ignored(token) {
		return false
	}
	return s.state.ApplyExisting(s.exchange, token, upd)
}

// Options carries the scheduling knobs shared by all runners.
type Options struct {
	RefreshInterval  time.Duration
	ReconnectDelay   time.Duration
	StreamStartDelay time.Duration
}

// Runner drives one adapter: a refresh loop that keeps availability and
// metadata current, and a stream loop that keeps the realtime connection up.
type Runner struct {
	adapter Adapter
	sink    *Sink
	opts    Options
	log     *logger.Entry

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner(adapter Adapter, state *market.State, opts Options) *Runner {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &Runner{
		adapter: adapter,
		sink:    NewSink(adapter.Name(), state),
		opts:    opts,
		log:     logger.GetLogger().WithComponent("feed_" + adapter.Name()),
	}
}

func (r *Runner) Sink() *Sink {
	return r.sink
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("feed runner for %s already running", r.adapter.Name())
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go r.refreshLoop(runCtx)
	go r.streamLoop(runCtx)

	r.log.Info("feed runner started")
	return nil
}

func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.log.Info("feed runner stopped")
}

func (r *Runner) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	r.refresh(ctx)

	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Runner) refresh(ctx context.Context) {
	wasAvailable := r.sink.Available()

	err := r.adapter.Refresh(ctx, r.sink)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.sink.SetAvailable(false)
		r.sink.state.ClearExchange(r.sink.exchange)
		if wasAvailable {
			r.log.WithError(err).Warn("feed became unavailable, cleared exchange state")
		} else {
			r.log.WithError(err).Debug("feed still unavailable")
		}
		return
	}

	r.sink.SetAvailable(true)
	if !wasAvailable {
		r.log.Info("feed available")
	}
	logger.IncrementRefresh(r.adapter.Name())
}

func (r *Runner) streamLoop(ctx context.Context) {
	defer r.wg.Done()

	// Give the first refresh pass time to populate metadata before the
	// stream starts pushing updates.
	if r.opts.StreamStartDelay > 0 {
		if WaitReconnect(ctx, r.opts.StreamStartDelay) {
			return
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		err := r.adapter.Stream(ctx, r.sink)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.log.WithError(err).Warn("stream ended, reconnecting")
		}

		if WaitReconnect(ctx, r.opts.ReconnectDelay) {
			return
		}
	}
}
