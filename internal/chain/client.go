package chain

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"solarb/internal/venue"
)

// Client wraps Solana JSON-RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client

	mu             sync.RWMutex
	decimalsCache  map[string]uint8
	token2022Cache map[string]bool
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(rpcURL string) *Client {
	return &Client{
		rpcClient:      rpc.New(rpcURL),
		decimalsCache:  make(map[string]uint8),
		token2022Cache: make(map[string]bool),
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// RPC exposes the raw RPC client.
func (c *Client) RPC() *rpc.Client {
	return c.rpcClient
}

// AccountData returns the raw data of a single account.
func (c *Client) AccountData(ctx context.Context, address string) ([]byte, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("parse account %s: %w", address, err)
	}
	res, err := c.rpcClient.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("account %s not found", address)
	}
	return res.Value.Data.GetBinary(), nil
}

// MultipleAccountData returns raw account data keyed by address. Missing
// accounts are absent from the result rather than an error.
func (c *Client) MultipleAccountData(ctx context.Context, addresses []string) (map[string][]byte, error) {
	if len(addresses) == 0 {
		return map[string][]byte{}, nil
	}
	keys := make([]solana.PublicKey, 0, len(addresses))
	for _, addr := range addresses {
		key, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("parse account %s: %w", addr, err)
		}
		keys = append(keys, key)
	}

	res, err := c.rpcClient.GetMultipleAccounts(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("get multiple accounts: %w", err)
	}
	out := make(map[string][]byte, len(addresses))
	for i, acc := range res.Value {
		if acc == nil {
			continue
		}
		out[addresses[i]] = acc.Data.GetBinary()
	}
	return out, nil
}

// TokenBalance returns a token account's raw balance and decimals.
func (c *Client) TokenBalance(ctx context.Context, address string) (float64, uint8, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, 0, fmt.Errorf("parse token account %s: %w", address, err)
	}
	res, err := c.rpcClient.GetTokenAccountBalance(ctx, key, rpc.CommitmentProcessed)
	if err != nil {
		return 0, 0, fmt.Errorf("get token balance %s: %w", address, err)
	}
	if res == nil || res.Value == nil {
		return 0, 0, fmt.Errorf("token account %s not found", address)
	}
	amount, err := strconv.ParseFloat(res.Value.Amount, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse token amount %q: %w", res.Value.Amount, err)
	}
	return amount, res.Value.Decimals, nil
}

// Mint account layout stores decimals one byte past the supply field.
const mintDecimalsOffset = 44

// MintDecimals returns a mint's decimals, using an in-memory cache.
func (c *Client) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	c.mu.RLock()
	dec, ok := c.decimalsCache[mint]
	c.mu.RUnlock()
	if ok {
		return dec, nil
	}

	data, err := c.AccountData(ctx, mint)
	if err != nil {
		return 0, err
	}
	if len(data) <= mintDecimalsOffset {
		return 0, fmt.Errorf("mint %s account too short: %d bytes", mint, len(data))
	}

	dec = data[mintDecimalsOffset]
	c.mu.Lock()
	c.decimalsCache[mint] = dec
	c.mu.Unlock()

	return dec, nil
}

// MintIsToken2022 reports whether a mint is owned by the Token-2022
// program. Mint ownership never changes, so results are cached.
func (c *Client) MintIsToken2022(ctx context.Context, mint string) (bool, error) {
	c.mu.RLock()
	is2022, ok := c.token2022Cache[mint]
	c.mu.RUnlock()
	if ok {
		return is2022, nil
	}

	key, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return false, fmt.Errorf("parse mint %s: %w", mint, err)
	}
	res, err := c.rpcClient.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return false, fmt.Errorf("get mint %s: %w", mint, err)
	}
	if res == nil || res.Value == nil {
		return false, fmt.Errorf("mint %s not found", mint)
	}

	is2022 = res.Value.Owner.String() == venue.Token2022ProgramID
	c.mu.Lock()
	c.token2022Cache[mint] = is2022
	c.mu.Unlock()

	return is2022, nil
}

// LatestBlockhash returns the most recent blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	res, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction, skipping preflight.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}
