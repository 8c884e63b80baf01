package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL       string
	WSURL        string
	DiscoveryURL string
	MigrationURL string

	KeypairPath string
	TokenFile   string
	JournalPath string

	Broadcast   bool
	TipAccount  string
	TipLamports uint64

	NotionalSOL       float64
	MinProfitLamports float64

	RefreshInterval time.Duration
	ResolveInterval time.Duration
	ResolveTimeout  time.Duration
	ResolveWorkers  int
	ReconnectDelay  time.Duration

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOLARB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("token-file", "./data/tokens.txt")
	v.SetDefault("journal", "./data/opportunities.jsonl")
	v.SetDefault("broadcast", false)
	v.SetDefault("tip-lamports", uint64(10_000))
	v.SetDefault("notional-sol", 0.1)
	v.SetDefault("min-profit-lamports", float64(7000))
	v.SetDefault("refresh-interval", 10*time.Minute)
	v.SetDefault("resolve-interval", 30*time.Second)
	v.SetDefault("resolve-timeout", 120*time.Second)
	v.SetDefault("resolve-workers", 4)
	v.SetDefault("reconnect-delay", 5*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		WSURL:             v.GetString("ws"),
		DiscoveryURL:      v.GetString("discovery-url"),
		MigrationURL:      v.GetString("migration-url"),
		KeypairPath:       v.GetString("keypair"),
		TokenFile:         v.GetString("token-file"),
		JournalPath:       v.GetString("journal"),
		Broadcast:         v.GetBool("broadcast"),
		TipAccount:        v.GetString("tip-account"),
		TipLamports:       v.GetUint64("tip-lamports"),
		NotionalSOL:       v.GetFloat64("notional-sol"),
		MinProfitLamports: v.GetFloat64("min-profit-lamports"),
		RefreshInterval:   v.GetDuration("refresh-interval"),
		ResolveInterval:   v.GetDuration("resolve-interval"),
		ResolveTimeout:    v.GetDuration("resolve-timeout"),
		ResolveWorkers:    v.GetInt("resolve-workers"),
		ReconnectDelay:    v.GetDuration("reconnect-delay"),
		LogLevel:          v.GetString("log-level"),
	}

	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc endpoint is required")
	}
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.RPCURL)
	}

	return cfg, nil
}

// deriveWSURL turns an HTTP RPC endpoint into its websocket twin.
func deriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	}
	return rpcURL
}
