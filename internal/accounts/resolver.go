package accounts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"solarb/internal/venue"
)

// Resolver produces the ordered executor account list for a pool. The
// first entry is always the pool's non-derived lead mint.
type Resolver interface {
	Resolve(ctx context.Context, v venue.Venue, pool string) ([]string, error)
}

// Fetcher loads raw account data from the chain.
type Fetcher interface {
	AccountData(ctx context.Context, address string) ([]byte, error)
}

// Fixed helper accounts referenced by the executor account lists.
const (
	pumpGlobalConfig       = "ADyA8hdefvWN2dbGGWFotbzWxrAvLW83WG6QCVXvJKqw"
	pumpProtocolFeeRecip   = "G5UZAVbAf46s7cKWoyKu8kYTip9DGTpbLZ2qa9Aq69dP"
	pumpProtocolFeeRecip2  = "BWXT6RUhit9FfJQM3pBmqeFLPYmuxgmyhMGC5sGr8RbA"
	pumpProtocolFeeRecip3  = "GS4CU59F31iL7aR2Q8zVS8DRrcRnXX1yjQ66TqNVQnaR"
	pumpEventAuthority     = "C2aFPdENg4A2HQsmrd5rTw5TaYBX5Ku887cWjbFKtZpw"
	pumpGlobalVolumeAcc    = "5PHirr8joyTMp9JMm6nW7hNDVyEYdkzDqazxPD7RaTjx"
	pumpFeeProgram         = "pfeeUxB6jkeY1Hxd7CsFCAjcbHA9rWtchMGdZ6VojVZ"
	cpmmAuthority          = "GpMZbSM2GgvTKHJirzeGfMFoaZ8UR2X7F4v8vHTvxFbL"
	ammV4Authority         = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
	dammV2PoolAuthority    = "HLnpSz9h2S4hiLQ43rnSD9XkcUThA7B8hQMKmDaiTLcC"
	dammV2EventAuthority   = "3rmHSu74h1ZcmAisVcWerTCiRDQbUrBKmcwptYGjHfet"
	dlmmEventAuthority     = "D1ZN9Wj1fRSUQfCjhvnu1hqDMT7hzjzBBpi12nVniYD6"
)

// Concentrated-liquidity array geometry.
const (
	whirlpoolTicksPerArray = 88
	clmmTicksPerArray      = 60
	dlmmBinsPerArray       = 70
)

// RPCResolver resolves account lists from on-chain pool state.
type RPCResolver struct {
	fetcher Fetcher
	wallet  solana.PublicKey
}

// NewRPCResolver builds a resolver for the given trading wallet.
func NewRPCResolver(fetcher Fetcher, wallet solana.PublicKey) *RPCResolver {
	return &RPCResolver{fetcher: fetcher, wallet: wallet}
}

// Resolve fetches the pool account and assembles the venue's account
// list.
func (r *RPCResolver) Resolve(ctx context.Context, v venue.Venue, pool string) ([]string, error) {
	data, err := r.fetcher.AccountData(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("fetch pool %s: %w", pool, err)
	}
	if len(data) != v.AccountSize() {
		return nil, fmt.Errorf("pool %s has %d bytes, want %d", pool, len(data), v.AccountSize())
	}

	switch v {
	case venue.PumpSwap:
		return r.pumpSwap(pool, data)
	case venue.RaydiumAmmV4:
		return ammV4(pool, data)
	case venue.RaydiumCpmm:
		return cpmm(pool, data)
	case venue.RaydiumClmm:
		return clmm(pool, data)
	case venue.OrcaWhirlpool:
		return whirlpool(pool, data)
	case venue.MeteoraDlmm:
		return dlmm(pool, data)
	case venue.MeteoraDammV2:
		return dammV2(pool, data)
	}
	return nil, fmt.Errorf("no account resolution for venue %s", v)
}

func (r *RPCResolver) pumpSwap(pool string, data []byte) ([]string, error) {
	mint := addrAt(data, 43)
	baseVault := addrAt(data, 139)
	quoteVault := addrAt(data, 171)
	creator := addrAt(data, 211)

	program := solana.MustPublicKeyFromBase58(venue.PumpSwap.ProgramID())
	creatorKey, err := solana.PublicKeyFromBase58(creator)
	if err != nil {
		return nil, fmt.Errorf("parse coin creator: %w", err)
	}
	vaultAuthority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("creator_vault"), creatorKey.Bytes()}, program)
	if err != nil {
		return nil, fmt.Errorf("derive creator vault authority: %w", err)
	}
	vaultAta, _, err := solana.FindProgramAddress(
		[][]byte{
			vaultAuthority.Bytes(),
			solana.MustPublicKeyFromBase58(venue.TokenProgramID).Bytes(),
			solana.MustPublicKeyFromBase58(venue.WrappedSOLMint).Bytes(),
		},
		solana.MustPublicKeyFromBase58(venue.AssociatedTokenProgram))
	if err != nil {
		return nil, fmt.Errorf("derive creator vault ata: %w", err)
	}
	volumeAcc, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("user_volume_accumulator"), r.wallet.Bytes()}, program)
	if err != nil {
		return nil, fmt.Errorf("derive user volume accumulator: %w", err)
	}

	return []string{
		mint,
		pool,
		pumpGlobalConfig,
		baseVault,
		quoteVault,
		pumpProtocolFeeRecip,
		pumpProtocolFeeRecip2,
		pumpProtocolFeeRecip3,
		vaultAta.String(),
		vaultAuthority.String(),
		pumpEventAuthority,
		volumeAcc.String(),
		pumpGlobalVolumeAcc,
		pumpFeeProgram,
	}, nil
}

func ammV4(pool string, data []byte) ([]string, error) {
	return []string{
		addrAt(data, 400),
		pool,
		ammV4Authority,
		addrAt(data, 336),
		addrAt(data, 368),
	}, nil
}

func cpmm(pool string, data []byte) ([]string, error) {
	return []string{
		addrAt(data, 168),
		cpmmAuthority,
		addrAt(data, 8),
		pool,
		addrAt(data, 72),
		addrAt(data, 104),
		addrAt(data, 296),
	}, nil
}

// Pool state keeps a 1024-bit tick array bitmap after the reward info
// block; bit i marks array index i-512 as initialized.
const (
	clmmBitmapOffset = 904
	clmmBitmapWords  = 16
)

func clmm(pool string, data []byte) ([]string, error) {
	tickSpacing := int32(binary.LittleEndian.Uint16(data[235:]))
	tickCurrent := int32(binary.LittleEndian.Uint32(data[269:]))
	program := solana.MustPublicKeyFromBase58(venue.RaydiumClmm.ProgramID())
	poolKey, err := solana.PublicKeyFromBase58(pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool: %w", err)
	}

	span := tickSpacing * clmmTicksPerArray
	currentStart := floorDiv(tickCurrent, span) * span
	buy, sell, err := clmmSelectArrays(clmmInitializedStarts(data, span), currentStart)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", pool, err)
	}

	arrayAt := func(start int32) (string, error) {
		seed := make([]byte, 4)
		binary.BigEndian.PutUint32(seed, uint32(start))
		key, _, err := solana.FindProgramAddress(
			[][]byte{[]byte("tick_array"), poolKey.Bytes(), seed}, program)
		if err != nil {
			return "", fmt.Errorf("derive tick array: %w", err)
		}
		return key.String(), nil
	}

	out := []string{
		addrAt(data, 73),
		addrAt(data, 9),
		pool,
		addrAt(data, 137),
		addrAt(data, 169),
		addrAt(data, 201),
		venue.MemoProgramID,
	}
	// Buy arrays first, then sell arrays.
	for _, start := range append(buy, sell...) {
		addr, err := arrayAt(start)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// clmmInitializedStarts lists the initialized tick array start indexes
// recorded in the pool's bitmap, ascending.
func clmmInitializedStarts(data []byte, span int32) []int32 {
	var starts []int32
	for w := 0; w < clmmBitmapWords; w++ {
		word := binary.LittleEndian.Uint64(data[clmmBitmapOffset+8*w:])
		for b := 0; b < 64; b++ {
			if word&(1<<b) == 0 {
				continue
			}
			starts = append(starts, int32(w*64+b-512)*span)
		}
	}
	return starts
}

// clmmSelectArrays picks three initialized array start indexes walking
// up from the current price and three walking down, repeating the edge
// array when the initialized set runs out in a direction.
func clmmSelectArrays(starts []int32, currentStart int32) (buy, sell []int32, err error) {
	at := func(i int) (int32, bool) {
		if i < 0 || i >= len(starts) {
			return 0, false
		}
		return starts[i], true
	}

	idx := -1
	for i, s := range starts {
		if s == currentStart {
			idx = i
			break
		}
	}

	if idx >= 0 {
		anchor := starts[idx]
		buy = append(buy, anchor)
		if next, ok := at(idx + 1); ok {
			buy = append(buy, next)
			if next2, ok := at(idx + 2); ok {
				buy = append(buy, next2)
			} else {
				buy = append(buy, next)
			}
		} else {
			buy = append(buy, anchor, anchor)
		}
		sell = append(sell, anchor)
		if prev, ok := at(idx - 1); ok {
			sell = append(sell, prev)
			if prev2, ok := at(idx - 2); ok {
				sell = append(sell, prev2)
			} else {
				sell = append(sell, prev)
			}
		} else {
			sell = append(sell, anchor, anchor)
		}
		return buy, sell, nil
	}

	// The current array is uninitialized. Anchor on the first
	// initialized array above the price; sells start one below it.
	for i, s := range starts {
		if s <= currentStart {
			continue
		}
		buy = append(buy, s)
		if next, ok := at(i + 1); ok {
			buy = append(buy, next)
			if next2, ok := at(i + 2); ok {
				buy = append(buy, next2)
			} else {
				buy = append(buy, next)
			}
		} else {
			buy = append(buy, s, s)
		}
		if prev, ok := at(i - 1); ok {
			sell = append(sell, prev)
			if prev2, ok := at(i - 2); ok {
				sell = append(sell, prev2)
				if prev3, ok := at(i - 3); ok {
					sell = append(sell, prev3)
				} else {
					sell = append(sell, prev2)
				}
			} else {
				sell = append(sell, prev, prev)
			}
		} else {
			sell = append(sell, s, s, s)
		}
		break
	}
	if len(buy) < 3 || len(sell) < 3 {
		return nil, nil, errors.New("no initialized tick arrays around tick")
	}
	return buy, sell, nil
}

func whirlpool(pool string, data []byte) ([]string, error) {
	tickSpacing := int32(binary.LittleEndian.Uint16(data[41:]))
	tickCurrent := int32(binary.LittleEndian.Uint32(data[81:]))
	program := solana.MustPublicKeyFromBase58(venue.OrcaWhirlpool.ProgramID())
	poolKey, err := solana.PublicKeyFromBase58(pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool: %w", err)
	}

	span := tickSpacing * whirlpoolTicksPerArray
	arrayAt := func(tick int32, offset int32) (string, error) {
		start := (floorDiv(tick, span) + offset) * span
		seed := []byte(strconv.FormatInt(int64(start), 10))
		key, _, err := solana.FindProgramAddress(
			[][]byte{[]byte("tick_array"), poolKey.Bytes(), seed}, program)
		if err != nil {
			return "", fmt.Errorf("derive tick array: %w", err)
		}
		return key.String(), nil
	}

	// a-to-b arrays walk the price down from the current tick, b-to-a
	// arrays walk it up from one spacing above.
	var aToB, bToA [3]string
	for i := int32(0); i < 3; i++ {
		addr, err := arrayAt(tickCurrent, -i)
		if err != nil {
			return nil, err
		}
		aToB[i] = addr
		addr, err = arrayAt(tickCurrent+tickSpacing, i)
		if err != nil {
			return nil, err
		}
		bToA[i] = addr
	}

	oracle, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("oracle"), poolKey.Bytes()}, program)
	if err != nil {
		return nil, fmt.Errorf("derive oracle: %w", err)
	}

	return []string{
		addrAt(data, 101),
		pool,
		addrAt(data, 133),
		addrAt(data, 213),
		aToB[0],
		aToB[1],
		aToB[2],
		aToB[1],
		aToB[0],
		bToA[1],
		oracle.String(),
		venue.MemoProgramID,
	}, nil
}

func dlmm(pool string, data []byte) ([]string, error) {
	rawID := binary.LittleEndian.Uint32(data[76:])
	activeID := int32(rawID)
	program := solana.MustPublicKeyFromBase58(venue.MeteoraDlmm.ProgramID())
	poolKey, err := solana.PublicKeyFromBase58(pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool: %w", err)
	}

	arrayAt := func(step int32) (string, error) {
		idx := int64(floorDiv(activeID, dlmmBinsPerArray) + step)
		seed := make([]byte, 8)
		binary.LittleEndian.PutUint64(seed, uint64(idx))
		key, _, err := solana.FindProgramAddress(
			[][]byte{[]byte("bin_array"), poolKey.Bytes(), seed}, program)
		if err != nil {
			return "", fmt.Errorf("derive bin array: %w", err)
		}
		return key.String(), nil
	}

	out := []string{
		addrAt(data, 88),
		pool,
		venue.MeteoraDlmm.ProgramID(),
		addrAt(data, 152),
		addrAt(data, 184),
		addrAt(data, 408),
		venue.MeteoraDlmm.ProgramID(),
		venue.MemoProgramID,
		dlmmEventAuthority,
	}
	// Buy arrays walk down through the bins, sell arrays walk up.
	for _, step := range []int32{0, -1, -2, 0, 1, 2} {
		addr, err := arrayAt(step)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func dammV2(pool string, data []byte) ([]string, error) {
	return []string{
		addrAt(data, 168),
		dammV2PoolAuthority,
		pool,
		addrAt(data, 232),
		addrAt(data, 264),
		dammV2EventAuthority,
	}, nil
}

func addrAt(data []byte, off int) string {
	return base58.Encode(data[off : off+32])
}

// floorDiv divides rounding toward negative infinity, matching the tick
// and bin array indexing of the on-chain programs.
func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
