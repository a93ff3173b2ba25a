package market

import (
	"sync"
	"time"

	"perpwatch/models"
)

// State is the shared market state: exchange → token → latest record. Each
// exchange partition has exactly one writer (its feed runner); the scanner
// and the snapshot writer read across all partitions. One coarse RWMutex
// keeps merges, scans and clears mutually exclusive, so a scan never observes
// a half-cleared partition and a clear never swallows an in-flight merge.
type State struct {
	mu        sync.RWMutex
	exchanges map[string]map[string]*models.Record
}

func NewState() *State {
	return &State{exchanges: make(map[string]map[string]*models.Record)}
}

// Apply merges a partial update into the record for (exchange, token),
// creating the partition and the record as needed.
func (s *State) Apply(exchange, token string, upd models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.exchanges[exchange]
	if !ok {
		part = make(map[string]*models.Record)
		s.exchanges[exchange] = part
	}
	rec, ok := part[token]
	if !ok {
		rec = &models.Record{}
		part[token] = rec
	}
	rec.Merge(upd)
	rec.UpdatedAt = time.Now()
}

// ApplyExisting merges a partial update only when the record already exists,
// reporting whether a merge happened. Ticker streams that only carry prices
// use this so they never resurrect tokens the metadata refresh has dropped.
func (s *State) ApplyExisting(exchange, token string, upd models.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.exchanges[exchange]
	if !ok {
		return false
	}
	rec, ok := part[token]
	if !ok {
		return false
	}
	rec.Merge(upd)
	rec.UpdatedAt = time.Now()
	return true
}

// ClearExchange wipes one exchange's partition. Called when the exchange is
// judged unavailable so stale entries never reach a comparison.
func (s *State) ClearExchange(exchange string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exchanges, exchange)
}

// ClearAll empties every partition. The orchestrator runs this periodically
// to bound memory growth from delisted symbols; live entries repopulate from
// the next stream messages.
func (s *State) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = make(map[string]map[string]*models.Record)
}

// Snapshot is a point-in-time deep copy of the state: exchange → token →
// record.
type Snapshot = map[string]map[string]models.Record

// Snapshot returns a deep copy of the full state. Scans work on the copy, so
// a write landing mid-scan is simply picked up by the next scan.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]map[string]models.Record, len(s.exchanges))
	for exchange, part := range s.exchanges {
		tokens := make(map[string]models.Record, len(part))
		for token, rec := range part {
			tokens[token] = *rec
		}
		snap[exchange] = tokens
	}
	return snap
}

// Get returns a copy of one record, if present.
func (s *State) Get(exchange, token string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, ok := s.exchanges[exchange]
	if !ok {
		return models.Record{}, false
	}
	rec, ok := part[token]
	if !ok {
		return models.Record{}, false
	}
	return *rec, true
}

// Tokens returns the number of tokens tracked for one exchange.
func (s *State) Tokens(exchange string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exchanges[exchange])
}

// Size returns total record count across all partitions, for reporting.
func (s *State) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, part := range s.exchanges {
		n += len(part)
	}
	return n
}
