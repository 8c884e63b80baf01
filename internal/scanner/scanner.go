package scanner

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"solarb/internal/store"
	"solarb/internal/venue"
)

// Opportunity is a detected cross-venue spread on one base mint.
type Opportunity struct {
	BaseMint string
	// Buy is the pool with the lower price, Sell the higher.
	Buy  store.PoolRecord
	Sell store.PoolRecord

	// Ratio is the relative spread (maxPrice-minPrice)/minPrice.
	Ratio float64
	// TotalFee is the combined buy and sell fee as a fraction.
	TotalFee float64
	// TradeLamports is the sized quote notional in lamports.
	TradeLamports float64
	// ProfitLamports is the estimated profit in lamports.
	ProfitLamports float64
}

// Config tunes opportunity sizing and filtering.
type Config struct {
	// DefaultNotionalSOL sizes trades when pool reserves are unknown.
	DefaultNotionalSOL float64
	// ReserveFraction divides the smaller quote reserve to bound trade
	// size against pool depth.
	ReserveFraction float64
	// MinProfitLamports drops opportunities below this estimate.
	MinProfitLamports float64
}

// DefaultConfig matches live trading settings.
func DefaultConfig() Config {
	return Config{
		DefaultNotionalSOL: 0.1,
		ReserveFraction:    10,
		MinProfitLamports:  7000,
	}
}

// edgeScale quantizes the net edge to six decimal places before sizing.
const edgeScale = 1_000_000

// Scanner detects arbitrage opportunities across the pools of each base
// mint and hands them to an emit callback.
type Scanner struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
	emit   func(Opportunity)

	mu       sync.Mutex
	lastSize map[string]float64
}

// New builds a scanner over the pool store.
func New(st *store.Store, cfg Config, logger *zap.Logger, emit func(Opportunity)) *Scanner {
	return &Scanner{
		store:    st,
		cfg:      cfg,
		logger:   logger,
		emit:     emit,
		lastSize: make(map[string]float64),
	}
}

// ScanMint evaluates the pair group of a single base mint and emits at
// most one opportunity. It reports whether one was emitted.
func (s *Scanner) ScanMint(baseMint string) bool {
	pools := s.store.Group(baseMint)

	var buy, sell *store.PoolRecord
	for i := range pools {
		rec := &pools[i]
		if rec.Price <= 0 {
			continue
		}
		if buy == nil || rec.Price < buy.Price {
			buy = rec
		}
		if sell == nil || rec.Price > sell.Price {
			sell = rec
		}
	}
	if buy == nil || sell == nil || buy.Address == sell.Address {
		return false
	}

	ratio := (sell.Price - buy.Price) / buy.Price
	totalFee := (buy.Fee + sell.Fee) / 100
	if totalFee >= ratio {
		return false
	}

	edge := math.Floor((ratio-totalFee)*edgeScale) / edgeScale
	trade := s.cfg.DefaultNotionalSOL * venue.LamportsPerSOL
	if buy.ReserveQuote > 0 && sell.ReserveQuote > 0 {
		trade = math.Min(buy.ReserveQuote, sell.ReserveQuote) / s.cfg.ReserveFraction * edge
	}

	s.mu.Lock()
	dup := s.lastSize[baseMint] == trade
	s.mu.Unlock()
	if dup {
		return false
	}

	profit := trade * (ratio - totalFee) / 100
	if profit < s.cfg.MinProfitLamports {
		return false
	}

	s.mu.Lock()
	s.lastSize[baseMint] = trade
	s.mu.Unlock()

	opp := Opportunity{
		BaseMint:       baseMint,
		Buy:            *buy,
		Sell:           *sell,
		Ratio:          ratio,
		TotalFee:       totalFee,
		TradeLamports:  trade,
		ProfitLamports: profit,
	}
	s.logger.Info("arbitrage opportunity",
		zap.String("base_mint", baseMint),
		zap.String("buy_pool", buy.Address),
		zap.String("sell_pool", sell.Address),
		zap.Float64("ratio", ratio),
		zap.Float64("total_fee", totalFee),
		zap.Float64("trade_lamports", trade),
		zap.Float64("profit_lamports", profit),
	)
	s.emit(opp)
	return true
}

// ScanAll evaluates every pair group in the store and returns how many
// opportunities were emitted.
func (s *Scanner) ScanAll() int {
	emitted := 0
	for baseMint := range s.store.Groups() {
		if s.ScanMint(baseMint) {
			emitted++
		}
	}
	return emitted
}
