package submit

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"solarb/internal/chain"
	"solarb/internal/route"
)

// Broadcaster submits a built swap instruction. Implementations do not
// retry; a missed slot makes the opportunity stale anyway.
type Broadcaster interface {
	Submit(ctx context.Context, ix *route.Instruction) (string, error)
}

// Config tunes transaction assembly.
type Config struct {
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64

	// TipAccount, when set, gets a tip transfer prepended for
	// bundle-relay submission.
	TipAccount  string
	TipLamports uint64
}

// DefaultConfig matches live tuning.
func DefaultConfig() Config {
	return Config{
		ComputeUnitLimit: 700_000,
		ComputeUnitPrice: 1000,
		TipLamports:      10_000,
	}
}

// DryRun logs the built instruction without sending anything.
type DryRun struct {
	logger *zap.Logger
}

func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logger}
}

func (d *DryRun) Submit(_ context.Context, ix *route.Instruction) (string, error) {
	d.logger.Info("dry run, not broadcasting",
		zap.Stringer("program", ix.ProgramID),
		zap.Int("accounts", len(ix.Accounts)),
		zap.Uint64("initial_amount", ix.Payload.InitialAmount),
		zap.Int("hops", len(ix.Payload.Hops)))
	return "", nil
}

// RPCBroadcaster signs and fires transactions over JSON-RPC.
type RPCBroadcaster struct {
	client *chain.Client
	signer solana.PrivateKey
	cfg    Config
	logger *zap.Logger
}

// NewRPCBroadcaster builds a broadcaster signing with the given key.
func NewRPCBroadcaster(client *chain.Client, signer solana.PrivateKey, cfg Config, logger *zap.Logger) *RPCBroadcaster {
	return &RPCBroadcaster{client: client, signer: signer, cfg: cfg, logger: logger}
}

// Submit assembles, signs, and sends the transaction with preflight
// skipped, returning the signature.
func (b *RPCBroadcaster) Submit(ctx context.Context, ix *route.Instruction) (string, error) {
	instructions, err := b.assemble(ix)
	if err != nil {
		return "", err
	}

	blockhash, err := b.client.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(b.signer.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(b.signer.PublicKey()) {
			return &b.signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := b.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	b.logger.Info("transaction sent",
		zap.String("signature", sig.String()),
		zap.Int("hops", len(ix.Payload.Hops)))
	return sig.String(), nil
}

func (b *RPCBroadcaster) assemble(ix *route.Instruction) ([]solana.Instruction, error) {
	cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(b.cfg.ComputeUnitLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute limit: %w", err)
	}
	cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(b.cfg.ComputeUnitPrice).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute price: %w", err)
	}
	instructions := []solana.Instruction{cuLimitIx, cuPriceIx}

	if b.cfg.TipAccount != "" {
		tipTo, err := solana.PublicKeyFromBase58(b.cfg.TipAccount)
		if err != nil {
			return nil, fmt.Errorf("parse tip account: %w", err)
		}
		tipIx := system.NewTransferInstruction(b.cfg.TipLamports, b.signer.PublicKey(), tipTo).Build()
		instructions = append(instructions, tipIx)
	}

	instructions = append(instructions, solana.NewInstruction(ix.ProgramID, ix.Accounts, ix.Data))
	return instructions, nil
}
