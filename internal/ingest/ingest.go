package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"solarb/internal/decode"
	"solarb/internal/fees"
	"solarb/internal/scanner"
	"solarb/internal/store"
	"solarb/internal/venue"
)

// Event is one observed pool update, either raw account bytes for the
// venues priced from pool state or balance deltas from a transaction
// for the constant-product venues.
type Event struct {
	Signature string
	Pool      string
	Venue     venue.Venue

	// AccountData carries the pool's raw bytes when the update came from
	// an account notification.
	AccountData []byte

	// Reserves carry post-transaction vault balances when the update
	// came from a transaction's token balance deltas.
	ReserveBase   float64
	ReserveQuote  float64
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// Feed is a stream of pool updates for a set of tracked pools.
type Feed interface {
	// Events subscribes and returns the event channel. The channel
	// closes when the subscription drops.
	Events(ctx context.Context, pools []string) (<-chan Event, error)
}

// State is the coordinator's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	}
	return "unknown"
}

// seenLimit bounds the signature dedup window.
const seenLimit = 8192

// Coordinator consumes a feed and drives the decode, store, and scan
// path. Events are processed one at a time so store writes stay
// serialized.
type Coordinator struct {
	feed    Feed
	store   *store.Store
	fees    *fees.Resolver
	scanner *scanner.Scanner
	logger  *zap.Logger

	reconnectDelay time.Duration
	state          atomic.Int32

	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

// NewCoordinator wires the ingestion path together.
func NewCoordinator(feed Feed, st *store.Store, fr *fees.Resolver, sc *scanner.Scanner, logger *zap.Logger, reconnectDelay time.Duration) *Coordinator {
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Coordinator{
		feed:           feed,
		store:          st,
		fees:           fr,
		scanner:        sc,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		seen:           make(map[string]struct{}),
	}
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// Run subscribes to the feed and processes events until the context is
// cancelled, resubscribing whenever the stream drops.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		c.setState(StateConnecting)
		events, err := c.feed.Events(ctx, c.store.Keys())
		if err != nil {
			c.setState(StateError)
			c.logger.Warn("feed subscribe failed", zap.Error(err))
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
			continue
		}

		c.setState(StateSubscribed)
		c.logger.Info("feed subscribed", zap.Int("pools", c.store.Len()))
		c.consume(ctx, events)

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		c.setState(StateError)
		c.logger.Warn("feed stream dropped, resubscribing")
	}
}

func (c *Coordinator) consume(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Handle(ctx, ev)
		}
	}
}

// Handle applies one event: dedup, state update, fee refresh, scan.
func (c *Coordinator) Handle(ctx context.Context, ev Event) {
	if ev.Signature != "" && c.isDuplicate(ev.Signature) {
		return
	}

	rec, ok := c.store.Get(ev.Pool)
	if !ok {
		return
	}

	if ev.AccountData != nil {
		st, ok := decode.Decode(ev.Venue, ev.AccountData)
		if !ok {
			c.logger.Debug("undecodable account update",
				zap.String("pool", ev.Pool),
				zap.Stringer("venue", ev.Venue),
				zap.Int("bytes", len(ev.AccountData)))
			return
		}
		if st.Priced {
			c.store.SetPrice(ev.Pool, st.Price)
		}
		c.store.SetFee(ev.Pool, c.fees.Fee(ctx, fees.PoolInput{
			Venue:   ev.Venue,
			Address: ev.Pool,
			Data:    ev.AccountData,
		}))
	} else {
		if ev.ReserveBase <= 0 || ev.ReserveQuote <= 0 {
			return
		}
		c.store.SetReserves(ev.Pool, ev.ReserveBase, ev.ReserveQuote)
		c.store.SetPrice(ev.Pool, ev.ReserveQuote/ev.ReserveBase)
		c.store.SetFee(ev.Pool, c.fees.Fee(ctx, fees.PoolInput{
			Venue:         ev.Venue,
			Address:       ev.Pool,
			ReserveBase:   ev.ReserveBase,
			ReserveQuote:  ev.ReserveQuote,
			BaseDecimals:  ev.BaseDecimals,
			QuoteDecimals: ev.QuoteDecimals,
		}))
	}

	c.scanner.ScanMint(rec.BaseMint)
}

// isDuplicate records a signature and reports whether it was already
// seen. The window is bounded so long-running streams do not grow the
// map without limit.
func (c *Coordinator) isDuplicate(sig string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[sig]; ok {
		return true
	}
	c.seen[sig] = struct{}{}
	c.seenOrder = append(c.seenOrder, sig)
	if len(c.seenOrder) > seenLimit {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}
	return false
}
