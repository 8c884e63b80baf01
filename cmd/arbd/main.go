package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"solarb/internal/accounts"
	"solarb/internal/chain"
	"solarb/internal/config"
	"solarb/internal/discovery"
	"solarb/internal/fees"
	"solarb/internal/ingest"
	"solarb/internal/journal"
	"solarb/internal/route"
	"solarb/internal/scanner"
	"solarb/internal/store"
	"solarb/internal/submit"
	"solarb/internal/venue"
)

func main() {
	root := &cobra.Command{
		Use:          "arbd",
		Short:        "Cross-venue Solana arbitrage engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine",
		RunE:  runEngine,
	}

	runCmd.Flags().String("rpc", "", "Solana RPC URL")
	runCmd.Flags().String("ws", "", "websocket RPC URL (derived from --rpc when empty)")
	runCmd.Flags().String("discovery-url", "", "pair discovery API base URL")
	runCmd.Flags().String("migration-url", "", "migration stream websocket URL")
	runCmd.Flags().String("keypair", "", "signing keypair file (required with --broadcast)")
	runCmd.Flags().String("token-file", "./data/tokens.txt", "tracked token list path")
	runCmd.Flags().String("journal", "./data/opportunities.jsonl", "opportunity journal JSONL path")
	runCmd.Flags().Bool("broadcast", false, "sign and send transactions instead of dry running")
	runCmd.Flags().String("tip-account", "", "tip recipient for bundle relays")
	runCmd.Flags().Uint64("tip-lamports", 10_000, "tip amount in lamports")
	runCmd.Flags().Float64("notional-sol", 0.1, "fallback trade size in SOL")
	runCmd.Flags().Float64("min-profit-lamports", 7000, "minimum estimated profit to act on")
	runCmd.Flags().Duration("refresh-interval", 10*time.Minute, "pool discovery sweep interval")
	runCmd.Flags().Duration("resolve-interval", 30*time.Second, "account resolution refresh interval")
	runCmd.Flags().Duration("resolve-timeout", 120*time.Second, "account resolution batch timeout")
	runCmd.Flags().Int("resolve-workers", 4, "account resolution worker count")
	runCmd.Flags().Duration("reconnect-delay", 5*time.Second, "feed reconnect delay")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	root.AddCommand(newEncodeCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	signer, err := loadSigner(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient := chain.NewClient(cfg.RPCURL)
	defer chainClient.Close()

	tokens := store.NewTokenList(cfg.TokenFile)
	if err := tokens.Load(); err != nil {
		return err
	}
	if tokens.Len() == 0 {
		logger.Warn("token list is empty, waiting on migrations", zap.String("path", cfg.TokenFile))
	}

	st := store.New()
	feeResolver := fees.NewResolver(chainClient, logger)
	journalSink := journal.NewJsonlJournal(cfg.JournalPath)

	var caster submit.Broadcaster
	if cfg.Broadcast {
		submitCfg := submit.DefaultConfig()
		submitCfg.TipAccount = cfg.TipAccount
		submitCfg.TipLamports = cfg.TipLamports
		caster = submit.NewRPCBroadcaster(chainClient, signer, submitCfg, logger)
	} else {
		caster = submit.NewDryRun(logger)
	}

	resolver := accounts.NewRPCResolver(chainClient, signer.PublicKey())
	cache := accounts.NewCache(resolver, st, logger, cfg.ResolveWorkers, cfg.ResolveTimeout)

	wallet := signer.PublicKey().String()
	emit := func(op scanner.Opportunity) {
		base2022, err := chainClient.MintIsToken2022(ctx, op.BaseMint)
		if err != nil {
			logger.Warn("token program lookup failed", zap.String("mint", op.BaseMint), zap.Error(err))
		}

		signature := ""
		ix, err := route.Build(wallet, route.Route{
			BaseMint:      op.BaseMint,
			Base2022:      base2022,
			Buy:           route.Pool{Venue: op.Buy.Venue, Accounts: op.Buy.Accounts},
			Sell:          route.Pool{Venue: op.Sell.Venue, Accounts: op.Sell.Accounts},
			InitialAmount: uint64(op.TradeLamports),
			MinimumOut:    1,
		})
		if err != nil {
			logger.Warn("route build failed",
				zap.String("mint", op.BaseMint),
				zap.String("buy", op.Buy.Address),
				zap.String("sell", op.Sell.Address),
				zap.Error(err))
		} else if signature, err = caster.Submit(ctx, ix); err != nil {
			logger.Warn("submit failed", zap.String("mint", op.BaseMint), zap.Error(err))
		}

		if err := journalSink.Put([]journal.Record{journal.FromOpportunity(op, signature)}); err != nil {
			logger.Warn("journal write failed", zap.Error(err))
		}
	}

	scanCfg := scanner.DefaultConfig()
	scanCfg.DefaultNotionalSOL = cfg.NotionalSOL
	scanCfg.MinProfitLamports = cfg.MinProfitLamports
	sc := scanner.New(st, scanCfg, logger, emit)

	discoveryClient := discovery.NewClient(cfg.DiscoveryURL, logger)
	refresherCfg := discovery.DefaultRefresherConfig()
	refresherCfg.Interval = cfg.RefreshInterval
	refresher := discovery.NewRefresher(discoveryClient, tokens, st, refresherCfg, logger)

	logger.Info("engine start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("ws", cfg.WSURL),
		zap.String("wallet", wallet),
		zap.Bool("broadcast", cfg.Broadcast),
		zap.Int("tokens", tokens.Len()),
	)

	if err := refresher.RefreshOnce(ctx); err != nil {
		return fmt.Errorf("initial discovery sweep: %w", err)
	}
	cache.PrimeAll(ctx)

	listener := discovery.NewMigrationListener(cfg.MigrationURL, tokens, logger)
	listener.OnMint = func(mint string) {
		pairs, err := discoveryClient.TokenPairs(ctx, mint)
		if err != nil {
			logger.Warn("pair lookup for migrated mint failed", zap.String("mint", mint), zap.Error(err))
			return
		}
		if len(pairs) < 2 {
			return
		}
		for _, p := range pairs {
			st.Upsert(store.PoolRecord{
				Address:   p.Pool,
				Venue:     p.Venue,
				BaseMint:  p.Token,
				QuoteMint: venue.WrappedSOLMint,
			})
		}
		cache.Refresh(ctx)
	}

	go refresher.Run(ctx)
	go cache.Run(ctx, cfg.ResolveInterval)
	go listener.Run(ctx)

	feed := ingest.NewWSFeed(cfg.WSURL, st, chainClient, logger)
	coordinator := ingest.NewCoordinator(feed, st, feeResolver, sc, logger, cfg.ReconnectDelay)

	if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadSigner reads the keypair file, or generates a throwaway identity
// for dry runs.
func loadSigner(cfg config.Config) (solana.PrivateKey, error) {
	if cfg.KeypairPath != "" {
		signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("load keypair: %w", err)
		}
		return signer, nil
	}
	if cfg.Broadcast {
		return nil, fmt.Errorf("broadcast requires a keypair file")
	}
	return solana.NewRandomPrivateKey()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
