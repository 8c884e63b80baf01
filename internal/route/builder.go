package route

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"solarb/internal/venue"
)

// ErrIncompleteAccounts is returned when a pool's resolved account list
// is missing accounts the leg needs, such as tick or bin arrays.
var ErrIncompleteAccounts = errors.New("pool account set incomplete")

// Pool is one leg's resolved on-chain account set. Accounts starts with
// the pool's non-SOL mint, as produced by account resolution.
type Pool struct {
	Venue    venue.Venue
	Accounts []string
}

// Route is a two-leg buy/sell arbitrage to encode for the executor.
type Route struct {
	BaseMint string
	// Base2022 is true when the base mint is a Token-2022 mint.
	Base2022 bool
	Buy      Pool
	Sell     Pool

	InitialAmount uint64
	MinimumOut    uint64
}

// Instruction is a fully built executor call: the ordered account metas
// and the serialized payload.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  solana.AccountMetaSlice
	Data      []byte
	Payload   Payload
}

// Build assembles the executor instruction for a route.
//
// Account layout:
//
//	0: user authority (signer, payer)
//	1: system program
//	2: associated token program
//	3: token program
//	4: token-2022 program
//	5..: one mint per hop, then one user ATA per hop
//	then: pool accounts per hop, then deduplicated DEX program ids
func Build(wallet string, r Route) (*Instruction, error) {
	walletKey, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	baseKey, err := solana.PublicKeyFromBase58(r.BaseMint)
	if err != nil {
		return nil, fmt.Errorf("parse base mint: %w", err)
	}

	buyAccounts, err := legAccounts(r.Buy, legBuy, r.Base2022)
	if err != nil {
		return nil, fmt.Errorf("buy leg %s: %w", r.Buy.Venue, err)
	}
	sellAccounts, err := legAccounts(r.Sell, legSell, r.Base2022)
	if err != nil {
		return nil, fmt.Errorf("sell leg %s: %w", r.Sell.Venue, err)
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(walletKey, true, true),
		solana.Meta(solana.MustPublicKeyFromBase58(venue.SystemProgramID)),
		solana.Meta(solana.MustPublicKeyFromBase58(venue.AssociatedTokenProgram)),
		solana.Meta(solana.MustPublicKeyFromBase58(venue.TokenProgramID)),
		solana.Meta(solana.MustPublicKeyFromBase58(venue.Token2022ProgramID)),
	}

	mints := []struct {
		key    solana.PublicKey
		is2022 bool
	}{
		{solana.MustPublicKeyFromBase58(venue.WrappedSOLMint), false},
		{baseKey, r.Base2022},
	}
	for _, m := range mints {
		metas = append(metas, solana.Meta(m.key))
	}
	for _, m := range mints {
		ata, err := associatedTokenAddress(walletKey, m.key, m.is2022)
		if err != nil {
			return nil, fmt.Errorf("derive ata for %s: %w", m.key, err)
		}
		metas = append(metas, solana.Meta(ata).WRITE())
	}

	hops := make([]Hop, 0, 2)
	var programIDs []solana.PublicKey
	poolOffset := 0
	for i, leg := range []struct {
		pool     Pool
		accounts []string
	}{
		{r.Buy, buyAccounts},
		{r.Sell, sellAccounts},
	} {
		programKey := solana.MustPublicKeyFromBase58(leg.pool.Venue.ProgramID())
		programIdx := -1
		for j, id := range programIDs {
			if id.Equals(programKey) {
				programIdx = j
				break
			}
		}
		if programIdx == -1 {
			programIdx = len(programIDs)
			programIDs = append(programIDs, programKey)
		}

		in2022, out2022 := legTokenFlags(leg.pool.Venue, i == 0, r.Base2022)
		hops = append(hops, Hop{
			Venue:           leg.pool.Venue,
			InTokenIs2022:   in2022,
			OutTokenIs2022:  out2022,
			IsBaseSwap:      legIsBaseSwap(leg.pool, i == 0),
			PoolIndex:       uint8(poolOffset),
			DexProgramIndex: uint8(programIdx),
		})

		for _, addr := range leg.accounts {
			key, err := solana.PublicKeyFromBase58(addr)
			if err != nil {
				return nil, fmt.Errorf("parse pool account %s: %w", addr, err)
			}
			metas = append(metas, solana.Meta(key).WRITE())
		}
		poolOffset += len(leg.accounts)
	}

	// Program id indexes are relative to the pool-accounts section, past
	// all pool accounts.
	for i := range hops {
		hops[i].DexProgramIndex += uint8(poolOffset)
	}
	for _, id := range programIDs {
		metas = append(metas, solana.Meta(id))
	}

	payload := Payload{
		InitialAmount: r.InitialAmount,
		MinimumOut:    r.MinimumOut,
		Hops:          hops,
	}
	data, err := Encode(payload)
	if err != nil {
		return nil, err
	}

	return &Instruction{
		ProgramID: solana.MustPublicKeyFromBase58(venue.ExecutorProgramID),
		Accounts:  metas,
		Data:      data,
		Payload:   payload,
	}, nil
}

// Solana wants the ATA derived with the mint's own token program.
func associatedTokenAddress(wallet, mint solana.PublicKey, is2022 bool) (solana.PublicKey, error) {
	tokenProgram := solana.MustPublicKeyFromBase58(venue.TokenProgramID)
	if is2022 {
		tokenProgram = solana.MustPublicKeyFromBase58(venue.Token2022ProgramID)
	}
	ata, _, err := solana.FindProgramAddress(
		[][]byte{wallet.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		solana.MustPublicKeyFromBase58(venue.AssociatedTokenProgram),
	)
	return ata, err
}

type legSide int

const (
	legBuy legSide = iota
	legSell
)

// legAccounts selects the accounts a leg passes to the executor from
// the pool's resolved list. The leading mint entry is dropped first;
// concentrated-liquidity venues then keep only their direction's tick
// or bin arrays.
func legAccounts(p Pool, side legSide, base2022 bool) ([]string, error) {
	if len(p.Accounts) == 0 {
		return nil, ErrIncompleteAccounts
	}
	rest := p.Accounts[1:]

	switch p.Venue {
	case venue.PumpSwap, venue.RaydiumCpmm, venue.MeteoraDammV2, venue.RaydiumAmmV4:
		return requireAll(rest)

	case venue.RaydiumClmm:
		if side == legBuy {
			if len(rest) < 3 {
				return nil, ErrIncompleteAccounts
			}
			return requireAll(rest[:len(rest)-3])
		}
		return pick(rest, 0, 1, 2, 3, 4, 5, 9, 10, 11)

	case venue.OrcaWhirlpool:
		idx := []int{0, 1, 2, 3, 4, 5, 9}
		if side == legSell {
			idx = []int{0, 1, 2, 6, 7, 8, 9}
		}
		if base2022 {
			idx = append(idx, 10)
		}
		return pick(rest, idx...)

	case venue.MeteoraDlmm:
		if side == legBuy {
			if err := present(rest, 7, 8, 9); err != nil {
				return nil, err
			}
			if len(rest) < 3 {
				return nil, ErrIncompleteAccounts
			}
			kept := append([]string(nil), rest[:len(rest)-3]...)
			if !base2022 && len(kept) > 6 {
				kept = append(kept[:6], kept[7:]...)
			}
			return requireAll(kept)
		}
		if err := present(rest, 12, 10, 11); err != nil {
			return nil, err
		}
		idx := []int{0, 1, 2, 3, 4, 5}
		if base2022 {
			idx = append(idx, 6)
		}
		idx = append(idx, 7, 11, 12, 13)
		return pick(rest, idx...)
	}
	return nil, fmt.Errorf("no account selection for venue %s", p.Venue)
}

func pick(accounts []string, idx ...int) ([]string, error) {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		if i >= len(accounts) || accounts[i] == "" {
			return nil, ErrIncompleteAccounts
		}
		out = append(out, accounts[i])
	}
	return out, nil
}

func present(accounts []string, idx ...int) error {
	for _, i := range idx {
		if i >= len(accounts) || accounts[i] == "" {
			return ErrIncompleteAccounts
		}
	}
	return nil
}

func requireAll(accounts []string) ([]string, error) {
	for _, addr := range accounts {
		if addr == "" {
			return nil, ErrIncompleteAccounts
		}
	}
	return accounts, nil
}

// legTokenFlags mirrors the executor's expectations: wrapped SOL is
// never a Token-2022 mint, and CLMM swap_v2 always treats the non-SOL
// side as Token-2022.
func legTokenFlags(v venue.Venue, buy bool, base2022 bool) (in, out bool) {
	if buy {
		in, out = false, base2022
		if v == venue.RaydiumClmm {
			out = true
		}
		return in, out
	}
	in, out = base2022, false
	if v == venue.RaydiumClmm {
		in = true
	}
	return in, out
}

// legIsBaseSwap derives the swap direction from which mint leads the
// pool's account list.
func legIsBaseSwap(p Pool, buy bool) bool {
	solFirst := len(p.Accounts) > 0 && p.Accounts[0] == venue.WrappedSOLMint
	if buy {
		return solFirst
	}
	return !solFirst
}
