package venue

import "fmt"

// Venue identifies one of the supported AMM programs.
type Venue uint8

const (
	PumpSwap Venue = iota
	RaydiumAmmV4
	RaydiumCpmm
	RaydiumClmm
	OrcaWhirlpool
	MeteoraDlmm
	MeteoraDammV2
)

// All lists every supported venue in a stable order.
var All = []Venue{
	PumpSwap,
	RaydiumAmmV4,
	RaydiumCpmm,
	RaydiumClmm,
	OrcaWhirlpool,
	MeteoraDlmm,
	MeteoraDammV2,
}

var names = map[Venue]string{
	PumpSwap:      "pumpswap",
	RaydiumAmmV4:  "raydium",
	RaydiumCpmm:   "cpmm",
	RaydiumClmm:   "clmm",
	OrcaWhirlpool: "orcawp",
	MeteoraDlmm:   "dlmm",
	MeteoraDammV2: "dyn2",
}

var byName = func() map[string]Venue {
	m := make(map[string]Venue, len(names))
	for v, n := range names {
		m[n] = v
	}
	return m
}()

func (v Venue) String() string {
	if n, ok := names[v]; ok {
		return n
	}
	return fmt.Sprintf("venue(%d)", uint8(v))
}

// Parse maps a venue name to its Venue. The second return is false for
// unknown names.
func Parse(name string) (Venue, bool) {
	v, ok := byName[name]
	return v, ok
}

// ProgramID returns the base58 on-chain program address of the venue.
func (v Venue) ProgramID() string {
	return programIDs[v]
}

var programIDs = map[Venue]string{
	PumpSwap:      "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA",
	RaydiumAmmV4:  "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8",
	RaydiumCpmm:   "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C",
	RaydiumClmm:   "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK",
	OrcaWhirlpool: "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
	MeteoraDlmm:   "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo",
	MeteoraDammV2: "cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG",
}

var byProgramID = func() map[string]Venue {
	m := make(map[string]Venue, len(programIDs))
	for v, id := range programIDs {
		m[id] = v
	}
	return m
}()

// FromProgramID maps an owner program address back to its venue.
func FromProgramID(programID string) (Venue, bool) {
	v, ok := byProgramID[programID]
	return v, ok
}

// AccountSize returns the exact byte length of the venue's pool account
// data. Account updates of any other length are rejected before decoding.
func (v Venue) AccountSize() int {
	return accountSizes[v]
}

var accountSizes = map[Venue]int{
	PumpSwap:      301,
	RaydiumAmmV4:  752,
	RaydiumCpmm:   637,
	RaydiumClmm:   1544,
	OrcaWhirlpool: 653,
	MeteoraDlmm:   904,
	MeteoraDammV2: 1112,
}

// WireCode is the one-byte venue discriminant used in the executor
// instruction payload.
func (v Venue) WireCode() uint8 {
	return wireCodes[v]
}

var wireCodes = map[Venue]uint8{
	PumpSwap:      0,
	OrcaWhirlpool: 1,
	MeteoraDammV2: 3,
	MeteoraDlmm:   4,
	RaydiumAmmV4:  5,
	RaydiumClmm:   6,
	RaydiumCpmm:   7,
}

// ConstantProduct reports whether the venue prices from vault reserves
// rather than from an encoded sqrt price or bin id.
func (v Venue) ConstantProduct() bool {
	switch v {
	case PumpSwap, RaydiumAmmV4, RaydiumCpmm:
		return true
	}
	return false
}

// Immutable reports whether the venue's priced pool fields never change
// after pool creation, so periodic account refresh can skip it.
func (v Venue) Immutable() bool {
	switch v {
	case PumpSwap, RaydiumCpmm, MeteoraDammV2, RaydiumAmmV4:
		return true
	}
	return false
}

// Well-known program and mint addresses shared across venues.
const (
	WrappedSOLMint          = "So11111111111111111111111111111111111111112"
	ExecutorProgramID       = "6UZznePGgoykwAutgJFmQce2QQzfYjVcsQesZbRq9Y3b"
	TokenProgramID          = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID      = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgram  = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	MemoProgramID           = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	SystemProgramID         = "11111111111111111111111111111111"
	LamportsPerSOL          = 1_000_000_000
)
