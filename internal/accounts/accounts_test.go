package accounts

import (
	"context"
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"solarb/internal/store"
	"solarb/internal/venue"
)

type fakeFetcher struct {
	accounts map[string][]byte
}

func (f *fakeFetcher) AccountData(_ context.Context, address string) ([]byte, error) {
	data, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("account %s not found", address)
	}
	return data, nil
}

func seedKey(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	return base58.Encode(raw)
}

func put(data []byte, off int, addr string) {
	raw, _ := base58.Decode(addr)
	copy(data[off:off+32], raw)
}

func testWallet() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(seedKey(99))
}

func TestResolveAmmV4(t *testing.T) {
	pool := seedKey(1)
	data := make([]byte, venue.RaydiumAmmV4.AccountSize())
	put(data, 400, seedKey(2)) // base mint
	put(data, 336, seedKey(3)) // base vault
	put(data, 368, seedKey(4)) // quote vault

	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	got, err := r.Resolve(context.Background(), venue.RaydiumAmmV4, pool)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{seedKey(2), pool, ammV4Authority, seedKey(3), seedKey(4)}
	if len(got) != len(want) {
		t.Fatalf("got %d accounts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("account %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestResolveCpmm(t *testing.T) {
	pool := seedKey(1)
	data := make([]byte, venue.RaydiumCpmm.AccountSize())
	put(data, 168, seedKey(2)) // lead mint
	put(data, 8, seedKey(3))   // fee config
	put(data, 72, seedKey(4))  // input vault
	put(data, 104, seedKey(5)) // output vault
	put(data, 296, seedKey(6)) // observation

	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	got, err := r.Resolve(context.Background(), venue.RaydiumCpmm, pool)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("got %d accounts, want 7", len(got))
	}
	if got[0] != seedKey(2) || got[1] != cpmmAuthority || got[2] != seedKey(3) || got[3] != pool {
		t.Fatalf("account order wrong: %v", got)
	}
}

func TestResolvePumpSwap(t *testing.T) {
	pool := seedKey(1)
	data := make([]byte, venue.PumpSwap.AccountSize())
	put(data, 43, seedKey(2))  // base mint
	put(data, 139, seedKey(3)) // base vault
	put(data, 171, seedKey(4)) // quote vault
	put(data, 211, seedKey(5)) // coin creator

	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	got, err := r.Resolve(context.Background(), venue.PumpSwap, pool)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 14 {
		t.Fatalf("got %d accounts, want 14", len(got))
	}
	if got[0] != seedKey(2) || got[1] != pool || got[2] != pumpGlobalConfig {
		t.Fatalf("account order wrong: %v", got[:3])
	}
	if got[13] != pumpFeeProgram || got[10] != pumpEventAuthority {
		t.Fatalf("fixed accounts misplaced: %v", got)
	}
	for _, i := range []int{8, 9, 11} {
		if _, err := solana.PublicKeyFromBase58(got[i]); err != nil {
			t.Fatalf("derived account %d invalid: %v", i, err)
		}
	}

	// PDA derivation must be deterministic.
	again, err := r.Resolve(context.Background(), venue.PumpSwap, pool)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again[8] != got[8] || again[11] != got[11] {
		t.Fatalf("derived accounts not stable")
	}
}

// markTickArray flips the bitmap bit for the array starting at start.
func markTickArray(data []byte, span, start int32) {
	i := int(start/span) + 512
	data[clmmBitmapOffset+i/8] |= 1 << (i % 8)
}

func clmmPoolData(t *testing.T, tickSpacing int32, tickCurrent int32, arrayStarts ...int32) []byte {
	t.Helper()
	data := make([]byte, venue.RaydiumClmm.AccountSize())
	put(data, 73, seedKey(2)) // lead mint
	put(data, 9, seedKey(3))  // amm config
	binary.LittleEndian.PutUint16(data[235:], uint16(tickSpacing))
	binary.LittleEndian.PutUint32(data[269:], uint32(tickCurrent))
	span := tickSpacing * clmmTicksPerArray
	for _, start := range arrayStarts {
		markTickArray(data, span, start)
	}
	return data
}

func TestResolveClmmTickArrays(t *testing.T) {
	pool := seedKey(1)
	// Spacing 60, so arrays span 3600 ticks. Current and neighbor
	// arrays are all initialized.
	data := clmmPoolData(t, 60, 100, -7200, -3600, 0, 3600, 7200)

	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	got, err := r.Resolve(context.Background(), venue.RaydiumClmm, pool)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 13 {
		t.Fatalf("got %d accounts, want 13", len(got))
	}
	if got[6] != venue.MemoProgramID {
		t.Fatalf("memo program misplaced: %v", got[6])
	}
	// Both directions start from the current tick array.
	if got[7] != got[10] {
		t.Fatalf("buy and sell anchors differ: %s vs %s", got[7], got[10])
	}
	if got[8] == got[11] {
		t.Fatalf("directional arrays should diverge")
	}
}

func TestResolveClmmSkipsUninitializedArrays(t *testing.T) {
	pool := seedKey(1)
	// Only the current array and two far-away arrays below it are
	// initialized. Arrays above the price run out immediately, so the
	// buy side repeats the anchor.
	data := clmmPoolData(t, 60, 100, -18000, -10800, 0)

	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	got, err := r.Resolve(context.Background(), venue.RaydiumClmm, pool)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got[7] != got[8] || got[8] != got[9] {
		t.Fatalf("buy side should repeat the anchor: %v", got[7:10])
	}
	if got[10] != got[7] {
		t.Fatalf("sell anchor should match the current array")
	}
	if got[11] == got[7] || got[12] == got[11] {
		t.Fatalf("sell side should walk initialized arrays below: %v", got[10:13])
	}
}

func TestResolveClmmEmptyBitmap(t *testing.T) {
	pool := seedKey(1)
	data := clmmPoolData(t, 60, 100)
	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	if _, err := r.Resolve(context.Background(), venue.RaydiumClmm, pool); err == nil {
		t.Fatal("pool with no initialized tick arrays accepted")
	}
}

func TestClmmInitializedStarts(t *testing.T) {
	data := make([]byte, venue.RaydiumClmm.AccountSize())
	span := int32(3600)
	for _, start := range []int32{-7200, 0, 10800} {
		markTickArray(data, span, start)
	}
	got := clmmInitializedStarts(data, span)
	want := []int32{-7200, 0, 10800}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("initialized starts = %v, want %v", got, want)
	}
}

func TestClmmSelectArrays(t *testing.T) {
	cases := []struct {
		name         string
		starts       []int32
		currentStart int32
		wantBuy      []int32
		wantSell     []int32
		wantErr      bool
	}{
		{
			name:         "current initialized with neighbors",
			starts:       []int32{-7200, -3600, 0, 3600, 7200},
			currentStart: 0,
			wantBuy:      []int32{0, 3600, 7200},
			wantSell:     []int32{0, -3600, -7200},
		},
		{
			name:         "current initialized at top edge",
			starts:       []int32{-3600, 0},
			currentStart: 0,
			wantBuy:      []int32{0, 0, 0},
			wantSell:     []int32{0, -3600, -3600},
		},
		{
			name:         "current uninitialized",
			starts:       []int32{-7200, 3600, 7200},
			currentStart: 0,
			wantBuy:      []int32{3600, 7200, 7200},
			wantSell:     []int32{-7200, -7200, -7200},
		},
		{
			name:         "current uninitialized with nothing below",
			starts:       []int32{3600},
			currentStart: 0,
			wantBuy:      []int32{3600, 3600, 3600},
			wantSell:     []int32{3600, 3600, 3600},
		},
		{
			name:         "nothing above current",
			starts:       []int32{-3600},
			currentStart: 0,
			wantErr:      true,
		},
		{
			name:    "empty bitmap",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		buy, sell, err := clmmSelectArrays(tc.starts, tc.currentStart)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !reflect.DeepEqual(buy, tc.wantBuy) {
			t.Fatalf("%s: buy = %v, want %v", tc.name, buy, tc.wantBuy)
		}
		if !reflect.DeepEqual(sell, tc.wantSell) {
			t.Fatalf("%s: sell = %v, want %v", tc.name, sell, tc.wantSell)
		}
	}
}

func TestResolveWhirlpoolShape(t *testing.T) {
	pool := seedKey(1)
	data := make([]byte, venue.OrcaWhirlpool.AccountSize())
	put(data, 101, seedKey(2)) // mint A
	put(data, 133, seedKey(3)) // vault A
	put(data, 213, seedKey(4)) // vault B
	binary.LittleEndian.PutUint16(data[41:], 64)
	binary.LittleEndian.PutUint32(data[81:], uint32(1000))

	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	got, err := r.Resolve(context.Background(), venue.OrcaWhirlpool, pool)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("got %d accounts, want 12", len(got))
	}
	// Positions 7 and 8 repeat the second and first forward arrays.
	if got[7] != got[5] || got[8] != got[4] {
		t.Fatalf("tick array repeats wrong: %v", got[4:9])
	}
	if got[11] != venue.MemoProgramID {
		t.Fatalf("memo program misplaced")
	}
}

func TestResolveDlmmShape(t *testing.T) {
	pool := seedKey(1)
	data := make([]byte, venue.MeteoraDlmm.AccountSize())
	put(data, 88, seedKey(2)) // mint X
	binary.LittleEndian.PutUint32(data[76:], uint32(140))

	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: data}}, testWallet())
	got, err := r.Resolve(context.Background(), venue.MeteoraDlmm, pool)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 15 {
		t.Fatalf("got %d accounts, want 15", len(got))
	}
	if got[2] != venue.MeteoraDlmm.ProgramID() || got[6] != venue.MeteoraDlmm.ProgramID() {
		t.Fatalf("program placeholders misplaced: %v", got)
	}
	if got[7] != venue.MemoProgramID || got[8] != dlmmEventAuthority {
		t.Fatalf("fixed accounts misplaced: %v", got[7:9])
	}
	// Both directions anchor on the active bin array.
	if got[9] != got[12] {
		t.Fatalf("bin array anchors differ")
	}
}

func TestResolveRejectsWrongSize(t *testing.T) {
	pool := seedKey(1)
	r := NewRPCResolver(&fakeFetcher{accounts: map[string][]byte{pool: make([]byte, 10)}}, testWallet())
	if _, err := r.Resolve(context.Background(), venue.RaydiumAmmV4, pool); err == nil {
		t.Fatalf("wrong-size pool data accepted")
	}
}

type fakeResolver struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (f *fakeResolver) Resolve(_ context.Context, _ venue.Venue, pool string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[pool]++
	if f.fail[pool] {
		return nil, fmt.Errorf("resolve %s failed", pool)
	}
	return []string{"mint", pool}, nil
}

func TestCacheSkipsPrimedImmutableVenues(t *testing.T) {
	st := store.New()
	st.Upsert(store.PoolRecord{Address: "pump", Venue: venue.PumpSwap})
	st.Upsert(store.PoolRecord{Address: "clmm", Venue: venue.RaydiumClmm})

	resolver := &fakeResolver{calls: map[string]int{}, fail: map[string]bool{}}
	cache := NewCache(resolver, st, zap.NewNop(), 2, time.Second)

	cache.Refresh(context.Background())
	cache.Refresh(context.Background())

	if resolver.calls["pump"] != 1 {
		t.Fatalf("immutable pool resolved %d times, want 1", resolver.calls["pump"])
	}
	if resolver.calls["clmm"] != 2 {
		t.Fatalf("mutable pool resolved %d times, want 2", resolver.calls["clmm"])
	}

	rec, _ := st.Get("pump")
	if len(rec.Accounts) == 0 {
		t.Fatalf("resolved accounts not stored")
	}
}

func TestCacheKeepsPreviousOnFailure(t *testing.T) {
	st := store.New()
	st.Upsert(store.PoolRecord{Address: "dlmm", Venue: venue.MeteoraDlmm})

	resolver := &fakeResolver{calls: map[string]int{}, fail: map[string]bool{}}
	cache := NewCache(resolver, st, zap.NewNop(), 1, time.Second)

	cache.PrimeAll(context.Background())
	rec, _ := st.Get("dlmm")
	if len(rec.Accounts) != 2 {
		t.Fatalf("prime did not store accounts: %+v", rec)
	}

	resolver.fail["dlmm"] = true
	cache.Refresh(context.Background())
	rec, _ = st.Get("dlmm")
	if len(rec.Accounts) != 2 {
		t.Fatalf("failed refresh dropped previous accounts")
	}
}

func TestCacheRetriesUnprimedImmutable(t *testing.T) {
	st := store.New()
	st.Upsert(store.PoolRecord{Address: "pump", Venue: venue.PumpSwap})

	resolver := &fakeResolver{calls: map[string]int{}, fail: map[string]bool{"pump": true}}
	cache := NewCache(resolver, st, zap.NewNop(), 1, time.Second)

	cache.Refresh(context.Background())
	resolver.fail["pump"] = false
	cache.Refresh(context.Background())
	cache.Refresh(context.Background())

	if resolver.calls["pump"] != 2 {
		t.Fatalf("immutable pool resolved %d times, want 2", resolver.calls["pump"])
	}
}
