package ingest

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"solarb/internal/chain"
	"solarb/internal/store"
	"solarb/internal/venue"
)

// Vault address offsets inside the constant-product pool accounts.
const (
	pumpBaseVaultOffset   = 139
	pumpQuoteVaultOffset  = 171
	ammV4BaseVaultOffset  = 336
	ammV4QuoteVaultOffset = 368
	cpmmBaseVaultOffset   = 72
	cpmmQuoteVaultOffset  = 104
)

// SPL token account layout: amount u64 LE past mint and owner.
const tokenAmountOffset = 64

// WSFeed streams pool updates over the node's websocket endpoint.
// Concentrated venues get their pool account subscribed directly;
// constant-product venues get both vault token accounts subscribed so
// reserve changes arrive as balance updates.
type WSFeed struct {
	url    string
	store  *store.Store
	chain  *chain.Client
	logger *zap.Logger
}

// NewWSFeed builds a feed against the given websocket RPC endpoint.
func NewWSFeed(url string, st *store.Store, ch *chain.Client, logger *zap.Logger) *WSFeed {
	return &WSFeed{url: url, store: st, chain: ch, logger: logger}
}

// target is one subscribed account and the pool it reports on.
type target struct {
	address string
	pool    string
	venue   venue.Venue

	// vault subscriptions carry which side of the pool they hold.
	isVault bool
	isBase  bool
}

// vaultState tracks the last known balances of a pool's two vaults.
type vaultState struct {
	base, quote   float64
	haveBase      bool
	haveQuote     bool
	baseDecimals  uint8
	quoteDecimals uint8
}

type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params *struct {
		Subscription int `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Data []string `json:"data"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// Events subscribes to every tracked pool and returns the update
// stream. The channel closes when the connection drops.
func (f *WSFeed) Events(ctx context.Context, pools []string) (<-chan Event, error) {
	targets, vaults, err := f.buildTargets(ctx, pools)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no subscribable pools")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	byRequest := make(map[int]target, len(targets))
	for i, t := range targets {
		req := subscribeRequest{
			JSONRPC: "2.0",
			ID:      i + 1,
			Method:  "accountSubscribe",
			Params: []interface{}{
				t.address,
				map[string]string{"encoding": "base64", "commitment": "processed"},
			},
		}
		if err := conn.WriteJSON(req); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", t.address, err)
		}
		byRequest[i+1] = t
	}

	events := make(chan Event, 256)
	go f.read(ctx, conn, byRequest, vaults, events)
	return events, nil
}

// buildTargets maps pools onto the accounts to subscribe. For the
// constant-product venues the pool account is fetched once to locate
// the vaults and seed their current balances.
func (f *WSFeed) buildTargets(ctx context.Context, pools []string) ([]target, map[string]*vaultState, error) {
	var targets []target
	vaults := make(map[string]*vaultState)

	for _, pool := range pools {
		rec, ok := f.store.Get(pool)
		if !ok {
			continue
		}
		if !rec.Venue.ConstantProduct() {
			targets = append(targets, target{address: pool, pool: pool, venue: rec.Venue})
			continue
		}

		data, err := f.chain.AccountData(ctx, pool)
		if err != nil {
			f.logger.Warn("cannot locate vaults, skipping pool",
				zap.String("pool", pool), zap.Error(err))
			continue
		}
		baseVault, quoteVault, ok := vaultAddresses(rec.Venue, data)
		if !ok {
			f.logger.Warn("pool account too short for vaults",
				zap.String("pool", pool), zap.Int("bytes", len(data)))
			continue
		}

		state := &vaultState{quoteDecimals: 9}
		if dec, err := f.chain.MintDecimals(ctx, rec.BaseMint); err == nil {
			state.baseDecimals = dec
		}
		if amount, _, err := f.chain.TokenBalance(ctx, baseVault); err == nil {
			state.base, state.haveBase = amount, true
		}
		if amount, _, err := f.chain.TokenBalance(ctx, quoteVault); err == nil {
			state.quote, state.haveQuote = amount, true
		}
		vaults[pool] = state

		targets = append(targets,
			target{address: baseVault, pool: pool, venue: rec.Venue, isVault: true, isBase: true},
			target{address: quoteVault, pool: pool, venue: rec.Venue, isVault: true})
	}
	return targets, vaults, nil
}

func vaultAddresses(v venue.Venue, data []byte) (string, string, bool) {
	var baseOff, quoteOff int
	switch v {
	case venue.PumpSwap:
		baseOff, quoteOff = pumpBaseVaultOffset, pumpQuoteVaultOffset
	case venue.RaydiumAmmV4:
		baseOff, quoteOff = ammV4BaseVaultOffset, ammV4QuoteVaultOffset
	case venue.RaydiumCpmm:
		baseOff, quoteOff = cpmmBaseVaultOffset, cpmmQuoteVaultOffset
	default:
		return "", "", false
	}
	if len(data) < quoteOff+32 {
		return "", "", false
	}
	base := base58.Encode(data[baseOff : baseOff+32])
	quote := base58.Encode(data[quoteOff : quoteOff+32])
	return base, quote, true
}

func (f *WSFeed) read(ctx context.Context, conn *websocket.Conn, byRequest map[int]target, vaults map[string]*vaultState, events chan<- Event) {
	defer close(events)
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	bySub := make(map[int]target, len(byRequest))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("feed read failed", zap.Error(err))
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		// Subscription confirmations map request ids to subscription ids.
		if msg.ID != 0 {
			t, ok := byRequest[msg.ID]
			if !ok {
				continue
			}
			var subID int
			if err := json.Unmarshal(msg.Result, &subID); err != nil {
				f.logger.Warn("subscribe rejected",
					zap.String("account", t.address),
					zap.ByteString("result", msg.Result))
				continue
			}
			bySub[subID] = t
			continue
		}

		if msg.Method != "accountNotification" || msg.Params == nil {
			continue
		}
		t, ok := bySub[msg.Params.Subscription]
		if !ok {
			continue
		}
		if len(msg.Params.Result.Value.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(msg.Params.Result.Value.Data[0])
		if err != nil {
			continue
		}

		ev, ok := f.buildEvent(t, data, msg.Params.Result.Context.Slot, vaults)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (f *WSFeed) buildEvent(t target, data []byte, slot uint64, vaults map[string]*vaultState) (Event, bool) {
	if !t.isVault {
		return Event{
			Signature:   fmt.Sprintf("%s:%d", t.address, slot),
			Pool:        t.pool,
			Venue:       t.venue,
			AccountData: data,
		}, true
	}

	if len(data) < tokenAmountOffset+8 {
		return Event{}, false
	}
	amount := float64(binary.LittleEndian.Uint64(data[tokenAmountOffset : tokenAmountOffset+8]))

	state, ok := vaults[t.pool]
	if !ok {
		return Event{}, false
	}
	if t.isBase {
		state.base, state.haveBase = amount, true
	} else {
		state.quote, state.haveQuote = amount, true
	}
	if !state.haveBase || !state.haveQuote {
		return Event{}, false
	}
	return Event{
		Signature:     fmt.Sprintf("%s:%d:%t", t.address, slot, t.isBase),
		Pool:          t.pool,
		Venue:         t.venue,
		ReserveBase:   state.base,
		ReserveQuote:  state.quote,
		BaseDecimals:  state.baseDecimals,
		QuoteDecimals: state.quoteDecimals,
	}, true
}
