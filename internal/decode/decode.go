package decode

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"solarb/internal/venue"
)

// State holds the fields extracted from a raw pool account.
type State struct {
	BaseMint  string
	QuoteMint string
	// Price is the quote-per-base spot price. Zero when Priced is false.
	Price float64
	// Priced is false for constant-product venues, whose spot price is
	// derived from vault reserves instead of the account data.
	Priced bool
}

// Byte offsets into each venue's pool account layout.
const (
	pumpBaseMintOff  = 43
	pumpQuoteMintOff = 75

	ammV4BaseMintOff  = 400
	ammV4QuoteMintOff = 432

	cpmmMint0Off = 168
	cpmmMint1Off = 200

	clmmMint0Off     = 73
	clmmMint1Off     = 105
	clmmSqrtPriceOff = 253

	whirlpoolSqrtPriceOff = 65
	whirlpoolMintAOff     = 101
	whirlpoolMintBOff     = 181

	dlmmActiveIDOff = 76
	dlmmBinStepOff  = 80
	dlmmMintXOff    = 88
	dlmmMintYOff    = 120

	dammV2MintAOff     = 168
	dammV2MintBOff     = 200
	dammV2SqrtPriceOff = 456
)

var two128 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 128), 0)

// Decode extracts the priced state from a raw pool account of venue v.
// It returns false when the account data is the wrong length for the
// venue.
func Decode(v venue.Venue, data []byte) (State, bool) {
	if len(data) != v.AccountSize() {
		return State{}, false
	}

	switch v {
	case venue.PumpSwap:
		return orient(State{}, mintAt(data, pumpBaseMintOff), mintAt(data, pumpQuoteMintOff)), true
	case venue.RaydiumAmmV4:
		return orient(State{}, mintAt(data, ammV4BaseMintOff), mintAt(data, ammV4QuoteMintOff)), true
	case venue.RaydiumCpmm:
		return orient(State{}, mintAt(data, cpmmMint0Off), mintAt(data, cpmmMint1Off)), true
	case venue.RaydiumClmm:
		st := sqrtPriceState(data, clmmSqrtPriceOff)
		return orient(st, mintAt(data, clmmMint0Off), mintAt(data, clmmMint1Off)), true
	case venue.OrcaWhirlpool:
		st := sqrtPriceState(data, whirlpoolSqrtPriceOff)
		return orient(st, mintAt(data, whirlpoolMintAOff), mintAt(data, whirlpoolMintBOff)), true
	case venue.MeteoraDammV2:
		st := sqrtPriceState(data, dammV2SqrtPriceOff)
		return orient(st, mintAt(data, dammV2MintAOff), mintAt(data, dammV2MintBOff)), true
	case venue.MeteoraDlmm:
		st := State{Price: dlmmPrice(data), Priced: true}
		return orient(st, mintAt(data, dlmmMintXOff), mintAt(data, dlmmMintYOff)), true
	}
	return State{}, false
}

// orient fixes the price so it is always quoted in wrapped SOL per base
// token. When the venue stores wrapped SOL as its first mint the decoded
// price is the reciprocal of what the scanner needs.
func orient(st State, mintA, mintB string) State {
	if mintA == venue.WrappedSOLMint {
		st.BaseMint = mintB
		st.QuoteMint = mintA
		if st.Priced && st.Price != 0 {
			st.Price = 1 / st.Price
		}
		return st
	}
	st.BaseMint = mintA
	st.QuoteMint = mintB
	return st
}

func mintAt(data []byte, off int) string {
	return base58.Encode(data[off : off+32])
}

// sqrtPriceState converts a Q64.64 sqrt price into a spot price:
// price = sqrtX64^2 / 2^128.
func sqrtPriceState(data []byte, off int) State {
	sqrt := u128LE(data[off : off+16])
	sq := decimal.NewFromBigInt(new(big.Int).Mul(sqrt, sqrt), 0)
	price, _ := sq.Div(two128).Float64()
	return State{Price: price, Priced: true}
}

func u128LE(b []byte) *big.Int {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return new(big.Int).SetBytes(be)
}

// dlmmPrice computes (1 + binStep/10000)^activeID. The active bin id is
// a signed 32-bit integer, and the bin step is stored big-endian at its
// offset.
func dlmmPrice(data []byte) float64 {
	raw := binary.LittleEndian.Uint32(data[dlmmActiveIDOff:])
	activeID := int64(raw)
	if raw > 0xFFFF0000 {
		activeID = int64(raw) - (1 << 32)
	}
	binStep := binary.BigEndian.Uint16(data[dlmmBinStepOff:])
	return math.Pow(1+float64(binStep)/10000, float64(activeID))
}
