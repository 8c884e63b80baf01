package fees

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"solarb/internal/venue"
)

// Fetcher loads raw account data from the chain.
type Fetcher interface {
	AccountData(ctx context.Context, address string) ([]byte, error)
}

// PoolInput carries everything the resolver may need to price a pool's
// swap fee. Reserve and decimal fields are only read for PumpSwap.
type PoolInput struct {
	Venue   venue.Venue
	Address string
	Data    []byte

	ReserveBase   float64
	ReserveQuote  float64
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// Defaults returned when a venue's fee cannot be resolved.
const (
	defaultCpmmFee      = 4
	defaultClmmFee      = 4
	defaultDlmmFee      = 10
	defaultWhirlpoolFee = 2
	defaultDammV2Fee    = 6

	ammV4Fee = 0.25
)

// Resolver computes per-pool swap fees in percent. Fees that require a
// separate config account fetch are cached per pool for the process
// lifetime, since fee configs do not change after pool creation.
type Resolver struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu     sync.Mutex
	cached map[string]float64
}

// NewResolver builds a fee resolver on top of an account fetcher.
func NewResolver(fetcher Fetcher, logger *zap.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logger,
		cached:  make(map[string]float64),
	}
}

// Fee returns the pool's swap fee in percent. Resolution failures fall
// back to a conservative per-venue default instead of failing the scan.
func (r *Resolver) Fee(ctx context.Context, in PoolInput) float64 {
	switch in.Venue {
	case venue.PumpSwap:
		return pumpSwapFee(in)
	case venue.RaydiumAmmV4:
		return ammV4Fee
	case venue.RaydiumCpmm:
		fee, err := r.cpmmFee(ctx, in)
		if err != nil {
			r.logger.Warn("cpmm fee resolution failed", zap.String("pool", in.Address), zap.Error(err))
			return defaultCpmmFee
		}
		return fee
	case venue.RaydiumClmm:
		fee, err := r.clmmFee(ctx, in)
		if err != nil {
			r.logger.Warn("clmm fee resolution failed", zap.String("pool", in.Address), zap.Error(err))
			return defaultClmmFee
		}
		return fee
	case venue.MeteoraDlmm:
		fee, err := dlmmFee(in.Data)
		if err != nil {
			r.logger.Warn("dlmm fee resolution failed", zap.String("pool", in.Address), zap.Error(err))
			return defaultDlmmFee
		}
		return fee
	case venue.OrcaWhirlpool:
		fee, err := whirlpoolFee(in.Data)
		if err != nil {
			r.logger.Warn("whirlpool fee resolution failed", zap.String("pool", in.Address), zap.Error(err))
			return defaultWhirlpoolFee
		}
		return fee
	case venue.MeteoraDammV2:
		// Dynamic fee pools are not priced; the default is high enough
		// to keep marginal spreads out.
		return defaultDammV2Fee
	}
	return defaultDammV2Fee
}

// pumpSwapFee applies the market-cap tiered creator fee schedule. The
// schedule keys off mc = spot price in SOL times the 1B token supply.
var pumpTiers = []struct {
	below float64
	fee   float64
}{
	{420, 1.25},
	{1470, 1.2},
	{2460, 1.15},
	{3440, 1.1},
	{4420, 1.05},
	{9820, 1},
	{14740, 0.95},
	{19650, 0.9},
	{24560, 0.85},
	{29470, 0.8},
	{34380, 0.75},
	{39300, 0.7},
	{44210, 0.65},
	{49120, 0.6},
	{54030, 0.55},
	{58940, 0.525},
	{63860, 0.5},
	{68770, 0.475},
	{73681, 0.45},
	{78590, 0.425},
	{83500, 0.4},
	{88400, 0.375},
	{93330, 0.35},
	{98240, 0.325},
}

func pumpSwapFee(in PoolInput) float64 {
	if in.ReserveBase == 0 {
		return pumpTiers[0].fee
	}
	spot := in.ReserveQuote / in.ReserveBase * math.Pow(10, float64(in.BaseDecimals)-float64(in.QuoteDecimals))
	mc := spot * 1_000_000_000
	for _, tier := range pumpTiers {
		if mc < tier.below {
			return tier.fee
		}
	}
	return 0.3
}

// Config account field offsets.
const (
	cpmmConfigRefOff  = 8
	cpmmConfigFeeOff  = 12
	clmmConfigRefOff  = 9
	clmmConfigFeeOff  = 47
	whirlpoolFeeOff   = 45
	feeRateDenom      = 10000
)

func (r *Resolver) cpmmFee(ctx context.Context, in PoolInput) (float64, error) {
	return r.configFee(ctx, in, cpmmConfigRefOff, func(config []byte) (float64, error) {
		if len(config) < cpmmConfigFeeOff+8 {
			return 0, fmt.Errorf("config account too short: %d bytes", len(config))
		}
		rate := binary.LittleEndian.Uint64(config[cpmmConfigFeeOff:])
		return float64(rate) / feeRateDenom, nil
	})
}

func (r *Resolver) clmmFee(ctx context.Context, in PoolInput) (float64, error) {
	return r.configFee(ctx, in, clmmConfigRefOff, func(config []byte) (float64, error) {
		if len(config) < clmmConfigFeeOff+4 {
			return 0, fmt.Errorf("config account too short: %d bytes", len(config))
		}
		rate := binary.LittleEndian.Uint32(config[clmmConfigFeeOff:])
		return float64(rate) / feeRateDenom, nil
	})
}

// configFee resolves a fee via the pool's fee-config account, caching
// the result per pool address.
func (r *Resolver) configFee(ctx context.Context, in PoolInput, refOff int, extract func([]byte) (float64, error)) (float64, error) {
	r.mu.Lock()
	fee, ok := r.cached[in.Address]
	r.mu.Unlock()
	if ok {
		return fee, nil
	}

	poolData := in.Data
	if len(poolData) < refOff+32 {
		var err error
		poolData, err = r.fetcher.AccountData(ctx, in.Address)
		if err != nil {
			return 0, fmt.Errorf("fetch pool %s: %w", in.Address, err)
		}
		if len(poolData) < refOff+32 {
			return 0, fmt.Errorf("pool account too short: %d bytes", len(poolData))
		}
	}
	configAddr := base58.Encode(poolData[refOff : refOff+32])
	config, err := r.fetcher.AccountData(ctx, configAddr)
	if err != nil {
		return 0, fmt.Errorf("fetch fee config %s: %w", configAddr, err)
	}
	fee, err = extract(config)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.cached[in.Address] = fee
	r.mu.Unlock()
	return fee, nil
}

func whirlpoolFee(data []byte) (float64, error) {
	if len(data) < whirlpoolFeeOff+2 {
		return 0, fmt.Errorf("pool account too short: %d bytes", len(data))
	}
	rate := binary.LittleEndian.Uint16(data[whirlpoolFeeOff:])
	return float64(rate) / feeRateDenom, nil
}

const (
	dlmmParamsOff  = 8
	dlmmBinStepOff = 80

	dlmmMaxFeeRate = 100_000_000
	dlmmFeeDenom   = 1_000_000_000
)

// dlmmParameters mirrors the pair account's static and variable fee
// parameter block, which follows the discriminator.
type dlmmParameters struct {
	BaseFactor               uint16
	FilterPeriod             uint16
	DecayPeriod              uint16
	ReductionFactor          uint16
	VariableFeeControl       uint32
	MaxVolatilityAccumulator uint32
	MinBinID                 int32
	MaxBinID                 int32
	ProtocolShare            uint16
	BaseFeePowerFactor       uint8
	Padding                  [5]uint8
	VolatilityAccumulator    uint32
}

// dlmmFee reproduces the pair's total fee: a base fee from the bin step
// and base factor plus a variable fee from the volatility accumulator,
// capped at 10%.
func dlmmFee(data []byte) (float64, error) {
	if len(data) < dlmmBinStepOff+2 {
		return 0, fmt.Errorf("pool account too short: %d bytes", len(data))
	}
	var params dlmmParameters
	if err := bin.NewBinDecoder(data[dlmmParamsOff:]).Decode(&params); err != nil {
		return 0, fmt.Errorf("decode fee parameters: %w", err)
	}
	binStep := uint64(binary.LittleEndian.Uint16(data[dlmmBinStepOff:]))
	baseFactor := uint64(params.BaseFactor)
	basePower := uint64(params.BaseFeePowerFactor)
	varFeeControl := uint64(params.VariableFeeControl)
	volAccumulator := uint64(params.VolatilityAccumulator)

	baseFee := new(big.Int).SetUint64(binStep * baseFactor * 10)
	baseFee.Mul(baseFee, new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(basePower), nil))

	total := baseFee
	if varFeeControl > 0 {
		// The product exceeds 64 bits at high volatility.
		vfaBin := new(big.Int).SetUint64(volAccumulator * binStep)
		variable := new(big.Int).Mul(vfaBin, vfaBin)
		variable.Mul(variable, new(big.Int).SetUint64(varFeeControl))
		variable.Add(variable, big.NewInt(99_999_999_999))
		variable.Quo(variable, big.NewInt(100_000_000_000))
		total.Add(total, variable)
	}
	if total.Cmp(big.NewInt(dlmmMaxFeeRate)) > 0 {
		total.SetInt64(dlmmMaxFeeRate)
	}
	return float64(total.Int64()) / dlmmFeeDenom * 100, nil
}
