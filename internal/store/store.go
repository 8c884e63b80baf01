package store

import (
	"sync"

	"solarb/internal/venue"
)

// PoolRecord is the tracked state of one pool.
type PoolRecord struct {
	Address   string
	Venue     venue.Venue
	BaseMint  string
	QuoteMint string

	// Price is the quote-per-base spot price. Zero until first observed.
	Price float64
	// Fee is the swap fee in percent.
	Fee float64

	ReserveBase   float64
	ReserveQuote  float64
	BaseDecimals  uint8
	QuoteDecimals uint8

	// Accounts is the resolved per-hop account list for this pool, base
	// mint first. Empty until resolution completes.
	Accounts []string
}

// Store holds all tracked pools keyed by address, preserving first-seen
// insertion order so scans over a pair group are deterministic.
type Store struct {
	mu    sync.RWMutex
	order []string
	pools map[string]PoolRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{pools: make(map[string]PoolRecord)}
}

// Upsert inserts or replaces a pool record.
func (s *Store) Upsert(rec PoolRecord) {
	s.mu.Lock()
	if _, ok := s.pools[rec.Address]; !ok {
		s.order = append(s.order, rec.Address)
	}
	s.pools[rec.Address] = rec
	s.mu.Unlock()
}

// Get returns the record for a pool address.
func (s *Store) Get(address string) (PoolRecord, bool) {
	s.mu.RLock()
	rec, ok := s.pools[address]
	s.mu.RUnlock()
	return rec, ok
}

// SetPrice updates a pool's spot price. Unknown addresses are ignored.
func (s *Store) SetPrice(address string, price float64) {
	s.mu.Lock()
	if rec, ok := s.pools[address]; ok {
		rec.Price = price
		s.pools[address] = rec
	}
	s.mu.Unlock()
}

// SetFee updates a pool's swap fee in percent.
func (s *Store) SetFee(address string, fee float64) {
	s.mu.Lock()
	if rec, ok := s.pools[address]; ok {
		rec.Fee = fee
		s.pools[address] = rec
	}
	s.mu.Unlock()
}

// SetReserves updates a pool's vault reserves.
func (s *Store) SetReserves(address string, base, quote float64) {
	s.mu.Lock()
	if rec, ok := s.pools[address]; ok {
		rec.ReserveBase = base
		rec.ReserveQuote = quote
		s.pools[address] = rec
	}
	s.mu.Unlock()
}

// SetAccounts replaces a pool's resolved account list.
func (s *Store) SetAccounts(address string, accounts []string) {
	s.mu.Lock()
	if rec, ok := s.pools[address]; ok {
		rec.Accounts = accounts
		s.pools[address] = rec
	}
	s.mu.Unlock()
}

// Remove drops a pool from the store.
func (s *Store) Remove(address string) {
	s.mu.Lock()
	if _, ok := s.pools[address]; ok {
		delete(s.pools, address)
		for i, addr := range s.order {
			if addr == address {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
}

// Keys returns all pool addresses in insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	s.mu.RUnlock()
	return keys
}

// Len returns the number of tracked pools.
func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.order)
	s.mu.RUnlock()
	return n
}

// Group returns the pools sharing a base mint, in insertion order.
func (s *Store) Group(baseMint string) []PoolRecord {
	s.mu.RLock()
	var out []PoolRecord
	for _, addr := range s.order {
		if rec := s.pools[addr]; rec.BaseMint == baseMint {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	return out
}

// Groups returns every pair group with at least two pools, keyed by
// base mint. Group members keep insertion order.
func (s *Store) Groups() map[string][]PoolRecord {
	s.mu.RLock()
	groups := make(map[string][]PoolRecord)
	for _, addr := range s.order {
		rec := s.pools[addr]
		groups[rec.BaseMint] = append(groups[rec.BaseMint], rec)
	}
	s.mu.RUnlock()
	for mint, pools := range groups {
		if len(pools) < 2 {
			delete(groups, mint)
		}
	}
	return groups
}

// ReplaceAll swaps the full pool set atomically, preserving the price,
// fee, reserve, and account state of pools that survive the refresh.
func (s *Store) ReplaceAll(recs []PoolRecord) {
	s.mu.Lock()
	order := make([]string, 0, len(recs))
	pools := make(map[string]PoolRecord, len(recs))
	for _, rec := range recs {
		if _, ok := pools[rec.Address]; ok {
			continue
		}
		if prev, ok := s.pools[rec.Address]; ok {
			rec.Price = prev.Price
			rec.Fee = prev.Fee
			rec.ReserveBase = prev.ReserveBase
			rec.ReserveQuote = prev.ReserveQuote
			rec.Accounts = prev.Accounts
		}
		order = append(order, rec.Address)
		pools[rec.Address] = rec
	}
	s.order = order
	s.pools = pools
	s.mu.Unlock()
}
