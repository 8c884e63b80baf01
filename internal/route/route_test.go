package route

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gagliardetto/solana-go"

	"solarb/internal/venue"
)

func key(seed byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	return solana.PublicKeyFromBytes(raw).String()
}

func keys(first byte, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = key(first + byte(i))
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := Payload{
		InitialAmount: 123_456_789,
		MinimumOut:    1,
		Hops: []Hop{
			{Venue: venue.PumpSwap, OutTokenIs2022: true, IsBaseSwap: true, PoolIndex: 0, DexProgramIndex: 17},
			{Venue: venue.MeteoraDlmm, InTokenIs2022: true, PoolIndex: 13, DexProgramIndex: 18},
		},
	}
	data, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != headerSize+2*hopSize {
		t.Fatalf("payload length = %d, want %d", len(data), headerSize+2*hopSize)
	}
	if data[0] != payloadTag {
		t.Fatalf("tag = %d, want %d", data[0], payloadTag)
	}

	got, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestEncodeDecodeLongerRoutes(t *testing.T) {
	for _, n := range []int{3, 4} {
		hops := make([]Hop, n)
		for i := range hops {
			hops[i] = Hop{
				Venue:           venue.All[i],
				IsBaseSwap:      i%2 == 0,
				PoolIndex:       uint8(i * 9),
				DexProgramIndex: uint8(40 + i),
			}
		}
		p := Payload{InitialAmount: 42, MinimumOut: 7, Hops: hops}

		data, err := Encode(p)
		if err != nil {
			t.Fatalf("%d hops: encode: %v", n, err)
		}
		if len(data) != headerSize+n*hopSize {
			t.Fatalf("%d hops: payload length = %d", n, len(data))
		}
		got, err := DecodePayload(data)
		if err != nil {
			t.Fatalf("%d hops: decode: %v", n, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Fatalf("%d hops: round trip mismatch:\n got %+v\nwant %+v", n, got, p)
		}
	}
}

func TestEncodeRejectsBadHopCount(t *testing.T) {
	if _, err := Encode(Payload{Hops: []Hop{{Venue: venue.PumpSwap}}}); err == nil {
		t.Fatalf("single hop accepted")
	}
	if _, err := Encode(Payload{Hops: make([]Hop, 5)}); err == nil {
		t.Fatalf("five hops accepted")
	}
}

func testRoute() Route {
	return Route{
		BaseMint: key(200),
		Buy: Pool{
			Venue:    venue.RaydiumAmmV4,
			Accounts: append([]string{venue.WrappedSOLMint}, keys(10, 4)...),
		},
		Sell: Pool{
			Venue:    venue.RaydiumCpmm,
			Accounts: append([]string{key(200)}, keys(20, 6)...),
		},
		InitialAmount: 5_000_000,
		MinimumOut:    1,
	}
}

func TestBuildAccountLayout(t *testing.T) {
	wallet := key(1)
	ix, err := Build(wallet, testRoute())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Header, 2 mints, 2 ATAs, 4+6 pool accounts, 2 program ids.
	if len(ix.Accounts) != 5+2+2+4+6+2 {
		t.Fatalf("account count = %d, want 21", len(ix.Accounts))
	}
	if ix.Accounts[0].PublicKey.String() != wallet || !ix.Accounts[0].IsSigner || !ix.Accounts[0].IsWritable {
		t.Fatalf("authority meta wrong: %+v", ix.Accounts[0])
	}
	if ix.Accounts[1].PublicKey.String() != venue.SystemProgramID {
		t.Fatalf("account 1 = %s, want system program", ix.Accounts[1].PublicKey)
	}
	if ix.Accounts[5].PublicKey.String() != venue.WrappedSOLMint {
		t.Fatalf("first mint = %s, want wrapped SOL", ix.Accounts[5].PublicKey)
	}
	if ix.Accounts[6].PublicKey.String() != key(200) {
		t.Fatalf("second mint = %s, want base mint", ix.Accounts[6].PublicKey)
	}
	for i := 7; i <= 8; i++ {
		if !ix.Accounts[i].IsWritable {
			t.Fatalf("ata meta %d not writable", i)
		}
	}
	// Pool accounts follow the ATAs in hop order.
	if ix.Accounts[9].PublicKey.String() != key(10) {
		t.Fatalf("first pool account = %s, want %s", ix.Accounts[9].PublicKey, key(10))
	}
	if ix.Accounts[13].PublicKey.String() != key(20) {
		t.Fatalf("sell pool accounts out of place")
	}
	// Program ids trail the pool accounts.
	if ix.Accounts[19].PublicKey.String() != venue.RaydiumAmmV4.ProgramID() {
		t.Fatalf("program id section wrong: %s", ix.Accounts[19].PublicKey)
	}
	if ix.Accounts[20].PublicKey.String() != venue.RaydiumCpmm.ProgramID() {
		t.Fatalf("program id section wrong: %s", ix.Accounts[20].PublicKey)
	}

	hops := ix.Payload.Hops
	if hops[0].PoolIndex != 0 || hops[1].PoolIndex != 4 {
		t.Fatalf("pool indexes = %d, %d, want 0, 4", hops[0].PoolIndex, hops[1].PoolIndex)
	}
	if hops[0].DexProgramIndex != 10 || hops[1].DexProgramIndex != 11 {
		t.Fatalf("program indexes = %d, %d, want 10, 11", hops[0].DexProgramIndex, hops[1].DexProgramIndex)
	}
	if !hops[0].IsBaseSwap {
		t.Fatalf("buy leg with SOL-led accounts must be a base swap")
	}
	if !hops[1].IsBaseSwap {
		t.Fatalf("sell leg with token-led accounts must be a base swap")
	}
}

func TestBuildDeduplicatesProgramIDs(t *testing.T) {
	r := testRoute()
	r.Sell = Pool{
		Venue:    venue.RaydiumAmmV4,
		Accounts: append([]string{key(200)}, keys(30, 4)...),
	}
	ix, err := Build(key(1), r)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// 5 header + 2 mints + 2 ATAs + 8 pool accounts + 1 shared program.
	if len(ix.Accounts) != 18 {
		t.Fatalf("account count = %d, want 18", len(ix.Accounts))
	}
	hops := ix.Payload.Hops
	if hops[0].DexProgramIndex != 8 || hops[1].DexProgramIndex != 8 {
		t.Fatalf("shared program indexes = %d, %d, want 8, 8", hops[0].DexProgramIndex, hops[1].DexProgramIndex)
	}
}

func TestBuildClmmLegSelection(t *testing.T) {
	base := key(210)
	r := Route{
		BaseMint: base,
		Buy: Pool{
			Venue:    venue.RaydiumClmm,
			Accounts: append([]string{venue.WrappedSOLMint}, keys(40, 12)...),
		},
		Sell: Pool{
			Venue:    venue.RaydiumClmm,
			Accounts: append([]string{base}, keys(60, 12)...),
		},
		InitialAmount: 1000,
		MinimumOut:    1,
	}
	ix, err := Build(key(1), r)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	hops := ix.Payload.Hops
	// Buy keeps everything but the reverse tick arrays: 9 accounts.
	if hops[1].PoolIndex != 9 {
		t.Fatalf("sell pool index = %d, want 9", hops[1].PoolIndex)
	}
	if !hops[0].OutTokenIs2022 || !hops[1].InTokenIs2022 {
		t.Fatalf("swap_v2 token flags not forced: %+v", hops)
	}
	// Sell leg swaps in the reverse tick arrays at positions 6..8.
	sellStart := 9 + 9
	if ix.Accounts[sellStart+6].PublicKey.String() != key(69) {
		t.Fatalf("sell tick array = %s, want %s", ix.Accounts[sellStart+6].PublicKey, key(69))
	}
}

func TestBuildRejectsIncompleteAccounts(t *testing.T) {
	r := testRoute()
	accts := append([]string{venue.WrappedSOLMint}, keys(40, 12)...)
	accts[4] = ""
	r.Buy = Pool{Venue: venue.RaydiumClmm, Accounts: accts}
	if _, err := Build(key(1), r); !errors.Is(err, ErrIncompleteAccounts) {
		t.Fatalf("err = %v, want ErrIncompleteAccounts", err)
	}

	r = testRoute()
	whirl := append([]string{venue.WrappedSOLMint}, keys(40, 10)...)
	whirl[4] = "" // second of the forward tick arrays
	r.Buy = Pool{Venue: venue.OrcaWhirlpool, Accounts: whirl}
	if _, err := Build(key(1), r); !errors.Is(err, ErrIncompleteAccounts) {
		t.Fatalf("err = %v, want ErrIncompleteAccounts", err)
	}

	r = testRoute()
	r.Sell = Pool{Venue: venue.MeteoraDlmm, Accounts: append([]string{key(200)}, keys(40, 9)...)}
	if _, err := Build(key(1), r); !errors.Is(err, ErrIncompleteAccounts) {
		t.Fatalf("err = %v, want ErrIncompleteAccounts", err)
	}
}

func TestBuildDlmmLegSelection(t *testing.T) {
	base := key(220)
	dlmmAccts := append([]string{base}, keys(100, 14)...)
	r := Route{
		BaseMint: base,
		Buy: Pool{
			Venue:    venue.RaydiumAmmV4,
			Accounts: append([]string{venue.WrappedSOLMint}, keys(10, 4)...),
		},
		Sell:          Pool{Venue: venue.MeteoraDlmm, Accounts: dlmmAccts},
		InitialAmount: 1000,
		MinimumOut:    1,
	}
	ix, err := Build(key(1), r)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Sell leg without Token-2022: 6 leading accounts plus the event
	// authority and the sell-side bin arrays.
	hops := ix.Payload.Hops
	if hops[1].PoolIndex != 4 {
		t.Fatalf("sell pool index = %d, want 4", hops[1].PoolIndex)
	}
	sellStart := 9 + 4
	wantTail := []string{key(107), key(111), key(112), key(113)}
	for i, want := range wantTail {
		got := ix.Accounts[sellStart+6+i].PublicKey.String()
		if got != want {
			t.Fatalf("dlmm sell account %d = %s, want %s", 6+i, got, want)
		}
	}
}
