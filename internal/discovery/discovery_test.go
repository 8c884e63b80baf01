package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solarb/internal/store"
	"solarb/internal/venue"
)

const wsol = venue.WrappedSOLMint

func pairJSON(dexID, labels, pool, base, quote string, liq float64) string {
	return fmt.Sprintf(`{
		"dexId": %q,
		"labels": [%s],
		"pairAddress": %q,
		"priceUsd": "2.0",
		"marketCap": 2000000,
		"liquidity": {"usd": %f},
		"baseToken": {"address": %q},
		"quoteToken": {"address": %q}
	}`, dexID, labels, pool, liq, base, quote)
}

func pairServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		token := parts[len(parts)-1]
		body, ok := responses[token]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenPairsClassifiesVenues(t *testing.T) {
	token := "Mint11111111111111111111111111111111111111"
	body := "[" + strings.Join([]string{
		pairJSON("pumpswap", "", "PoolA", token, wsol, 1000),
		pairJSON("raydium", "", "PoolB", token, wsol, 1000),
		pairJSON("raydium", `"CLMM"`, "PoolC", wsol, token, 1000),
		pairJSON("raydium", `"CPMM"`, "PoolD", token, wsol, 1000),
		pairJSON("orca", `"wp"`, "PoolE", token, wsol, 1000),
		pairJSON("meteora", `"DLMM"`, "PoolF", token, wsol, 1000),
	}, ",") + "]"
	srv := pairServer(t, map[string]string{token: body})

	client := NewClient(srv.URL, zap.NewNop())
	pairs, err := client.TokenPairs(context.Background(), token)
	if err != nil {
		t.Fatalf("TokenPairs: %v", err)
	}
	if len(pairs) != 6 {
		t.Fatalf("expected 6 pairs, got %d", len(pairs))
	}
	want := []venue.Venue{
		venue.PumpSwap, venue.RaydiumAmmV4, venue.RaydiumClmm,
		venue.RaydiumCpmm, venue.OrcaWhirlpool, venue.MeteoraDlmm,
	}
	for i, p := range pairs {
		if p.Venue != want[i] {
			t.Errorf("pair %d: venue %s, want %s", i, p.Venue, want[i])
		}
		if p.Token != token {
			t.Errorf("pair %d: token %s", i, p.Token)
		}
	}
	if pairs[0].Supply != 1_000_000 {
		t.Errorf("supply = %f, want 1000000", pairs[0].Supply)
	}
}

func TestTokenPairsFilters(t *testing.T) {
	token := "Mint11111111111111111111111111111111111111"
	other := "Other1111111111111111111111111111111111111"
	body := "[" + strings.Join([]string{
		pairJSON("pumpswap", "", "Shallow", token, wsol, 100),
		pairJSON("pumpswap", "", "NotSOL", token, other, 1000),
		pairJSON("meteora", "", "NoLabel", token, wsol, 1000),
		pairJSON("somedex", "", "Unknown", token, wsol, 1000),
		pairJSON("raydium", "", "Kept", token, wsol, 500),
	}, ",") + "]"
	srv := pairServer(t, map[string]string{token: body})

	client := NewClient(srv.URL, zap.NewNop())
	pairs, err := client.TokenPairs(context.Background(), token)
	if err != nil {
		t.Fatalf("TokenPairs: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Pool != "Kept" {
		t.Fatalf("expected only the liquid raydium pool, got %+v", pairs)
	}
}

func TestTokenPairsBadStatus(t *testing.T) {
	srv := pairServer(t, nil)
	client := NewClient(srv.URL, zap.NewNop())
	if _, err := client.TokenPairs(context.Background(), "missing"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestRefreshOnceReplacesUniverse(t *testing.T) {
	tokenA := "MintA1111111111111111111111111111111111111"
	tokenB := "MintB1111111111111111111111111111111111111"
	srv := pairServer(t, map[string]string{
		tokenA: "[" + strings.Join([]string{
			pairJSON("pumpswap", "", "PoolA1", tokenA, wsol, 1000),
			pairJSON("raydium", "", "PoolA2", tokenA, wsol, 1000),
		}, ",") + "]",
		// one pool only: not enough venues to cross.
		tokenB: "[" + pairJSON("pumpswap", "", "PoolB1", tokenB, wsol, 1000) + "]",
	})

	tokens := store.NewTokenList(filepath.Join(t.TempDir(), "tokens.txt"))
	for _, m := range []string{tokenA, tokenB} {
		if _, err := tokens.Add(m); err != nil {
			t.Fatalf("add token: %v", err)
		}
	}
	st := store.New()
	st.Upsert(store.PoolRecord{Address: "Stale", Venue: venue.PumpSwap, BaseMint: "Gone", QuoteMint: wsol})

	cfg := RefresherConfig{Interval: time.Minute, BatchSize: 1}
	ref := NewRefresher(NewClient(srv.URL, zap.NewNop()), tokens, st, cfg, zap.NewNop())
	if err := ref.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	if st.Len() != 2 {
		t.Fatalf("store has %d pools, want 2", st.Len())
	}
	if _, ok := st.Get("Stale"); ok {
		t.Error("stale pool survived the refresh")
	}
	if _, ok := st.Get("PoolB1"); ok {
		t.Error("single-pool token should not be tracked")
	}
	rec, ok := st.Get("PoolA2")
	if !ok {
		t.Fatal("PoolA2 missing")
	}
	if rec.Venue != venue.RaydiumAmmV4 || rec.BaseMint != tokenA || rec.QuoteMint != wsol {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestMigrationListenerRecordsMints(t *testing.T) {
	mint := "Migrated11111111111111111111111111111111111"
	upgrader := websocket.Upgrader{}
	subscribed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub["method"] != "subscribeMigration" {
			t.Errorf("subscribe method = %q", sub["method"])
		}
		close(subscribed)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"signature":"x"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"mint": %q}`, mint)))
	}))
	t.Cleanup(srv.Close)

	tokens := store.NewTokenList(filepath.Join(t.TempDir(), "tokens.txt"))
	listener := NewMigrationListener("ws"+strings.TrimPrefix(srv.URL, "http"), tokens, zap.NewNop())

	got := make(chan string, 1)
	listener.OnMint = func(m string) { got <- m }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		listener.Run(ctx)
		close(done)
	}()

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never subscribed")
	}
	select {
	case m := <-got:
		if m != mint {
			t.Fatalf("recorded mint %q, want %q", m, mint)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mint never recorded")
	}
	if !tokens.Contains(mint) {
		t.Error("mint missing from token list")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}
