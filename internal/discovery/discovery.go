package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"solarb/internal/retry"
	"solarb/internal/store"
	"solarb/internal/venue"
)

// DefaultBaseURL is the public pair screener API.
const DefaultBaseURL = "https://api.dexscreener.com"

// minLiquidityUSD filters out pools too shallow to arb against.
const minLiquidityUSD = 500

// Pair is one discovered pool for a tracked token.
type Pair struct {
	Token  string
	Venue  venue.Venue
	Pool   string
	Supply float64
}

// Client queries the pair screener API for a token's pools.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient builds a discovery client. An empty baseURL selects the
// public API.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		logger:     logger,
	}
}

type pairInfo struct {
	DexID       string   `json:"dexId"`
	Labels      []string `json:"labels"`
	PairAddress string   `json:"pairAddress"`
	PriceUsd    string   `json:"priceUsd"`
	MarketCap   float64  `json:"marketCap"`
	Liquidity   *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	BaseToken struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	QuoteToken struct {
		Address string `json:"address"`
	} `json:"quoteToken"`
}

// TokenPairs returns the token's SOL-quoted pools on supported venues
// with enough liquidity.
func (c *Client) TokenPairs(ctx context.Context, token string) ([]Pair, error) {
	url := fmt.Sprintf("%s/token-pairs/v1/solana/%s", c.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pairs for %s: %w", token, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pair api status %d for token %s", resp.StatusCode, token)
	}

	var infos []pairInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("decode pair response for %s: %w", token, err)
	}

	var out []Pair
	for _, info := range infos {
		if info.BaseToken.Address != venue.WrappedSOLMint && info.QuoteToken.Address != venue.WrappedSOLMint {
			continue
		}
		if info.Liquidity == nil || info.Liquidity.USD < minLiquidityUSD || info.PairAddress == "" {
			continue
		}
		v, ok := classify(info.DexID, info.Labels)
		if !ok {
			continue
		}
		supply := 0.0
		if price, err := strconv.ParseFloat(info.PriceUsd, 64); err == nil && price > 0 {
			supply = info.MarketCap / price
		}
		out = append(out, Pair{Token: token, Venue: v, Pool: info.PairAddress, Supply: supply})
	}
	return out, nil
}

// classify maps the screener's dex id and labels onto a venue.
func classify(dexID string, labels []string) (venue.Venue, bool) {
	has := func(label string) bool {
		for _, l := range labels {
			if l == label {
				return true
			}
		}
		return false
	}
	switch dexID {
	case "pumpswap":
		return venue.PumpSwap, true
	case "meteora":
		if has("DLMM") {
			return venue.MeteoraDlmm, true
		}
	case "raydium":
		switch {
		case len(labels) == 0:
			return venue.RaydiumAmmV4, true
		case has("CLMM"):
			return venue.RaydiumClmm, true
		case has("CPMM"):
			return venue.RaydiumCpmm, true
		}
	case "orca":
		if has("wp") {
			return venue.OrcaWhirlpool, true
		}
	}
	return 0, false
}

// RefresherConfig tunes the periodic re-discovery sweep.
type RefresherConfig struct {
	Interval   time.Duration
	BatchSize  int
	BatchPause time.Duration
}

// DefaultRefresherConfig matches live rate limits.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:   10 * time.Minute,
		BatchSize:  290,
		BatchPause: 65 * time.Second,
	}
}

// Refresher rebuilds the tracked pool universe from the durable token
// list on a fixed interval.
type Refresher struct {
	client *Client
	tokens *store.TokenList
	store  *store.Store
	cfg    RefresherConfig
	logger *zap.Logger
}

// NewRefresher wires the discovery sweep.
func NewRefresher(client *Client, tokens *store.TokenList, st *store.Store, cfg RefresherConfig, logger *zap.Logger) *Refresher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 290
	}
	return &Refresher{client: client, tokens: tokens, store: st, cfg: cfg, logger: logger}
}

// RefreshOnce sweeps every tracked token and atomically replaces the
// pool universe. Tokens with fewer than two live pools are left out.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	tokens := r.tokens.Snapshot()
	byToken := make(map[string][]Pair)

	for i := 0; i < len(tokens); i += r.cfg.BatchSize {
		if i > 0 && r.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.BatchPause):
			}
		}
		end := i + r.cfg.BatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		for _, token := range tokens[i:end] {
			var pairs []Pair
			err := retry.Do(ctx, 2, 500*time.Millisecond, func(ctx context.Context) error {
				var err error
				pairs, err = r.client.TokenPairs(ctx, token)
				return err
			})
			if err != nil {
				r.logger.Warn("pair discovery failed", zap.String("token", token), zap.Error(err))
				continue
			}
			if len(pairs) > 0 {
				byToken[token] = pairs
			}
		}
	}

	var recs []store.PoolRecord
	for _, token := range tokens {
		pairs := byToken[token]
		if len(pairs) < 2 {
			continue
		}
		for _, p := range pairs {
			recs = append(recs, store.PoolRecord{
				Address:   p.Pool,
				Venue:     p.Venue,
				BaseMint:  p.Token,
				QuoteMint: venue.WrappedSOLMint,
			})
		}
	}
	r.store.ReplaceAll(recs)
	r.logger.Info("pool universe refreshed",
		zap.Int("tokens", len(byToken)),
		zap.Int("pools", len(recs)))
	return nil
}

// Run sweeps on every interval tick until the context is cancelled.
// The caller does the first sweep itself so account priming can happen
// before the loop starts.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Warn("discovery sweep failed", zap.Error(err))
			}
		}
	}
}
