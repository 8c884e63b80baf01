package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"solarb/internal/route"
	"solarb/internal/venue"
)

// newEncodeCommand builds the offline payload inspection command.
// With a hex argument it decodes; with --hop flags it encodes.
func newEncodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode [payload-hex]",
		Short: "Encode or decode a swap payload offline",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEncode,
	}

	cmd.Flags().Uint64("initial", 0, "initial amount in lamports")
	cmd.Flags().Uint64("min-out", 1, "minimum final output in lamports")
	cmd.Flags().StringSlice("hop", nil,
		"hop spec venue:poolIndex:dexProgramIndex[:base][:in2022][:out2022], repeatable")

	return cmd
}

func runEncode(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return decodePayloadHex(cmd, args[0])
	}

	initial, _ := cmd.Flags().GetUint64("initial")
	minOut, _ := cmd.Flags().GetUint64("min-out")
	hopSpecs, _ := cmd.Flags().GetStringSlice("hop")
	if len(hopSpecs) == 0 {
		return fmt.Errorf("either a payload-hex argument or --hop flags are required")
	}

	hops := make([]route.Hop, 0, len(hopSpecs))
	for _, spec := range hopSpecs {
		hop, err := parseHop(spec)
		if err != nil {
			return err
		}
		hops = append(hops, hop)
	}

	data, err := route.Encode(route.Payload{
		InitialAmount: initial,
		MinimumOut:    minOut,
		Hops:          hops,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
	return nil
}

func decodePayloadHex(cmd *cobra.Command, arg string) error {
	data, err := hex.DecodeString(strings.TrimPrefix(arg, "0x"))
	if err != nil {
		return fmt.Errorf("parse payload hex: %w", err)
	}
	p, err := route.DecodePayload(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "initial: %d\n", p.InitialAmount)
	fmt.Fprintf(out, "min out: %d\n", p.MinimumOut)
	for i, hop := range p.Hops {
		fmt.Fprintf(out, "hop %d: %s pool=%d program=%d base=%t in2022=%t out2022=%t\n",
			i+1, hop.Venue, hop.PoolIndex, hop.DexProgramIndex,
			hop.IsBaseSwap, hop.InTokenIs2022, hop.OutTokenIs2022)
	}
	return nil
}

func parseHop(spec string) (route.Hop, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 {
		return route.Hop{}, fmt.Errorf("hop %q: want venue:poolIndex:dexProgramIndex", spec)
	}
	v, ok := venue.Parse(parts[0])
	if !ok {
		return route.Hop{}, fmt.Errorf("hop %q: unknown venue %q", spec, parts[0])
	}
	poolIndex, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return route.Hop{}, fmt.Errorf("hop %q: pool index: %w", spec, err)
	}
	dexIndex, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return route.Hop{}, fmt.Errorf("hop %q: program index: %w", spec, err)
	}

	hop := route.Hop{
		Venue:           v,
		PoolIndex:       uint8(poolIndex),
		DexProgramIndex: uint8(dexIndex),
	}
	for _, flag := range parts[3:] {
		switch flag {
		case "base":
			hop.IsBaseSwap = true
		case "in2022":
			hop.InTokenIs2022 = true
		case "out2022":
			hop.OutTokenIs2022 = true
		default:
			return route.Hop{}, fmt.Errorf("hop %q: unknown flag %q", spec, flag)
		}
	}
	return hop, nil
}
