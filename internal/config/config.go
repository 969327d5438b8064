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
	SourceRPCURL      string
	DestinationRPCURL string

	SourcePrivateKey      string
	DestinationPrivateKey string

	SourceToken        string
	TokenMessenger     string
	MessageTransmitter string
	DestinationDomain  uint32
	AttestationURL     string

	AssetToken      string
	LoanToken       string
	StakingContract string

	Listen      string
	PGDSN       string
	HistoryPath string

	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	AttestationTimeout  time.Duration
	SettlementDelay     time.Duration
	AutomaticCompletion bool

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("history", "./data/operations.jsonl")
	v.SetDefault("max-attempts", 5)
	v.SetDefault("initial-backoff", 500*time.Millisecond)
	v.SetDefault("max-backoff", 10*time.Second)
	v.SetDefault("backoff-multiplier", 2.0)
	v.SetDefault("attestation-timeout", 60*time.Second)
	v.SetDefault("settlement-delay", 30*time.Second)
	v.SetDefault("automatic-completion", false)
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
		SourceRPCURL:          v.GetString("source-rpc"),
		DestinationRPCURL:     v.GetString("dest-rpc"),
		SourcePrivateKey:      v.GetString("source-key"),
		DestinationPrivateKey: v.GetString("dest-key"),
		SourceToken:           v.GetString("source-token"),
		TokenMessenger:        v.GetString("token-messenger"),
		MessageTransmitter:    v.GetString("message-transmitter"),
		DestinationDomain:     v.GetUint32("destination-domain"),
		AttestationURL:        v.GetString("attestation-url"),
		AssetToken:            v.GetString("asset-token"),
		LoanToken:             v.GetString("loan-token"),
		StakingContract:       v.GetString("staking-contract"),
		Listen:                v.GetString("listen"),
		PGDSN:                 v.GetString("pg-dsn"),
		HistoryPath:           v.GetString("history"),
		MaxAttempts:           v.GetInt("max-attempts"),
		InitialBackoff:        v.GetDuration("initial-backoff"),
		MaxBackoff:            v.GetDuration("max-backoff"),
		BackoffMultiplier:     v.GetFloat64("backoff-multiplier"),
		AttestationTimeout:    v.GetDuration("attestation-timeout"),
		SettlementDelay:       v.GetDuration("settlement-delay"),
		AutomaticCompletion:   v.GetBool("automatic-completion"),
		LogLevel:              v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the fields every command needs.
func (c Config) Validate() error {
	if c.SourceRPCURL == "" {
		return fmt.Errorf("source rpc url is required")
	}
	if c.DestinationRPCURL == "" {
		return fmt.Errorf("destination rpc url is required")
	}
	if c.AttestationURL == "" {
		return fmt.Errorf("attestation url is required")
	}
	for name, addr := range map[string]string{
		"source-token":        c.SourceToken,
		"token-messenger":     c.TokenMessenger,
		"message-transmitter": c.MessageTransmitter,
		"asset-token":         c.AssetToken,
		"loan-token":          c.LoanToken,
		"staking-contract":    c.StakingContract,
	} {
		if addr == "" {
			return fmt.Errorf("%s address is required", name)
		}
	}
	return nil
}
