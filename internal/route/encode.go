package route

import (
	"encoding/binary"
	"fmt"

	"solarb/internal/venue"
)

// Hop describes one swap leg of the executor instruction.
type Hop struct {
	Venue          venue.Venue
	InTokenIs2022  bool
	OutTokenIs2022 bool
	// IsBaseSwap is true when the leg's input token is the pool's base
	// side rather than wrapped SOL.
	IsBaseSwap bool
	// PoolIndex is the offset of the hop's first account within the
	// pool-accounts section of the instruction account list.
	PoolIndex uint8
	// DexProgramIndex locates the hop's program id past the pool
	// accounts.
	DexProgramIndex uint8
}

// Payload is the executor instruction data.
type Payload struct {
	InitialAmount uint64
	MinimumOut    uint64
	Hops          []Hop
}

// Route payload framing.
const (
	payloadTag = 0
	minHops    = 2
	maxHops    = 4
	hopSize    = 6
	headerSize = 1 + 8 + 8 + 1
)

// Encode serializes the payload into executor instruction data.
func Encode(p Payload) ([]byte, error) {
	if len(p.Hops) < minHops || len(p.Hops) > maxHops {
		return nil, fmt.Errorf("route has %d hops, want %d to %d", len(p.Hops), minHops, maxHops)
	}

	out := make([]byte, headerSize+hopSize*len(p.Hops))
	out[0] = payloadTag
	binary.LittleEndian.PutUint64(out[1:], p.InitialAmount)
	binary.LittleEndian.PutUint64(out[9:], p.MinimumOut)
	out[17] = uint8(len(p.Hops))

	off := headerSize
	for _, hop := range p.Hops {
		out[off] = hop.Venue.WireCode()
		out[off+1] = boolByte(hop.InTokenIs2022)
		out[off+2] = boolByte(hop.OutTokenIs2022)
		out[off+3] = boolByte(hop.IsBaseSwap)
		out[off+4] = hop.PoolIndex
		out[off+5] = hop.DexProgramIndex
		off += hopSize
	}
	return out, nil
}

// DecodePayload parses executor instruction data back into a payload.
func DecodePayload(data []byte) (Payload, error) {
	if len(data) < headerSize {
		return Payload{}, fmt.Errorf("payload too short: %d bytes", len(data))
	}
	if data[0] != payloadTag {
		return Payload{}, fmt.Errorf("unknown payload tag %d", data[0])
	}

	hopCount := int(data[17])
	if hopCount < minHops || hopCount > maxHops {
		return Payload{}, fmt.Errorf("payload has %d hops, want %d to %d", hopCount, minHops, maxHops)
	}
	if len(data) != headerSize+hopSize*hopCount {
		return Payload{}, fmt.Errorf("payload length %d does not match %d hops", len(data), hopCount)
	}

	p := Payload{
		InitialAmount: binary.LittleEndian.Uint64(data[1:]),
		MinimumOut:    binary.LittleEndian.Uint64(data[9:]),
		Hops:          make([]Hop, hopCount),
	}
	for i := 0; i < hopCount; i++ {
		off := headerSize + i*hopSize
		v, ok := venueFromWire(data[off])
		if !ok {
			return Payload{}, fmt.Errorf("hop %d has unknown venue code %d", i, data[off])
		}
		p.Hops[i] = Hop{
			Venue:           v,
			InTokenIs2022:   data[off+1] != 0,
			OutTokenIs2022:  data[off+2] != 0,
			IsBaseSwap:      data[off+3] != 0,
			PoolIndex:       data[off+4],
			DexProgramIndex: data[off+5],
		}
	}
	return p, nil
}

func venueFromWire(code uint8) (venue.Venue, bool) {
	for _, v := range venue.All {
		if v.WireCode() == code {
			return v, true
		}
	}
	return 0, false
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
