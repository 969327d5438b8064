package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stakebridge/internal/api"
	"stakebridge/internal/bridge"
	"stakebridge/internal/chain"
	"stakebridge/internal/config"
	"stakebridge/internal/contracts"
	"stakebridge/internal/logbus"
	"stakebridge/internal/model"
	"stakebridge/internal/retry"
	"stakebridge/internal/stake"
	"stakebridge/internal/store"
	"stakebridge/internal/store/postgres"
	"stakebridge/internal/transfer"
	"stakebridge/internal/workflow"
)

func main() {
	root := &cobra.Command{
		Use:          "stakebridge",
		Short:        "Cross-chain stake orchestrator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE:  runServe,
	}
	addCommonFlags(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	root.AddCommand(serveCmd)

	stakeCmd := &cobra.Command{
		Use:   "stake",
		Short: "Bridge an amount to the destination chain and stake it",
		RunE:  runStake,
	}
	addCommonFlags(stakeCmd)
	stakeCmd.Flags().String("amount", "", "amount to bridge and stake (decimal string)")
	root.AddCommand(stakeCmd)

	unstakeCmd := &cobra.Command{
		Use:   "unstake",
		Short: "Unwind the full stake position",
		RunE:  runUnstake,
	}
	addCommonFlags(unstakeCmd)
	root.AddCommand(unstakeCmd)

	positionCmd := &cobra.Command{
		Use:   "position",
		Short: "Show the current stake position",
		RunE:  runPosition,
	}
	addCommonFlags(positionCmd)
	root.AddCommand(positionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("source-rpc", "", "source chain RPC URL")
	cmd.Flags().String("dest-rpc", "", "destination chain RPC URL")
	cmd.Flags().String("source-key", "", "source chain private key (hex)")
	cmd.Flags().String("dest-key", "", "destination chain private key (hex)")
	cmd.Flags().String("source-token", "", "source chain asset token address")
	cmd.Flags().String("token-messenger", "", "source chain token messenger address")
	cmd.Flags().String("message-transmitter", "", "destination chain message transmitter address")
	cmd.Flags().Uint32("destination-domain", 0, "bridge destination domain id")
	cmd.Flags().String("attestation-url", "", "attestation service base URL")
	cmd.Flags().String("asset-token", "", "destination chain wrapped asset address")
	cmd.Flags().String("loan-token", "", "destination chain loan token address")
	cmd.Flags().String("staking-contract", "", "destination chain staking contract address")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for operation history (optional)")
	cmd.Flags().String("history", "./data/operations.jsonl", "JSONL history path when no DSN is set")
	cmd.Flags().Int("max-attempts", 5, "maximum retry attempts per remote call")
	cmd.Flags().Duration("initial-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Duration("max-backoff", 10*time.Second, "retry backoff cap")
	cmd.Flags().Float64("backoff-multiplier", 2.0, "retry backoff multiplier")
	cmd.Flags().Duration("attestation-timeout", 60*time.Second, "bounded attestation wait")
	cmd.Flags().Duration("settlement-delay", 30*time.Second, "wait between bridge completion and staking")
	cmd.Flags().Bool("automatic-completion", false, "request relayer auto-completion from the bridge")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func parseAddress(name, input string) (common.Address, error) {
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, input)
	}
	return common.HexToAddress(input), nil
}

type app struct {
	orchestrator *workflow.Orchestrator
	bus          *logbus.Broadcaster
	cleanup      func()
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	bus := logbus.New(logger)

	sourceClient, err := chain.NewClient(ctx, cfg.SourceRPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect source rpc: %w", err)
	}
	destClient, err := chain.NewClient(ctx, cfg.DestinationRPCURL)
	if err != nil {
		sourceClient.Close()
		return nil, fmt.Errorf("connect destination rpc: %w", err)
	}

	cleanup := func() {
		sourceClient.Close()
		destClient.Close()
	}

	sourceSigner, err := chain.NewSigner(cfg.SourcePrivateKey)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("source signer: %w", err)
	}
	destSigner, err := chain.NewSigner(cfg.DestinationPrivateKey)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("destination signer: %w", err)
	}

	addresses := map[string]string{
		"source-token":        cfg.SourceToken,
		"token-messenger":     cfg.TokenMessenger,
		"message-transmitter": cfg.MessageTransmitter,
		"asset-token":         cfg.AssetToken,
		"loan-token":          cfg.LoanToken,
		"staking-contract":    cfg.StakingContract,
	}
	parsed := make(map[string]common.Address, len(addresses))
	for name, input := range addresses {
		addr, err := parseAddress(name, input)
		if err != nil {
			cleanup()
			return nil, err
		}
		parsed[name] = addr
	}

	ledger := contracts.NewEVMLedger(destClient, destSigner,
		parsed["asset-token"], parsed["loan-token"], parsed["staking-contract"])

	decimals, err := ledger.AssetDecimals(ctx)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("read asset decimals: %w", err)
	}

	cctp := bridge.NewCCTPBridge(bridge.CCTPConfig{
		SourceToken:        parsed["source-token"],
		TokenMessenger:     parsed["token-messenger"],
		MessageTransmitter: parsed["message-transmitter"],
		DestinationDomain:  cfg.DestinationDomain,
		AttestationBaseURL: cfg.AttestationURL,
	}, sourceClient, destClient, sourceSigner, destSigner, bus, logger)

	exec := retry.NewExecutor(retry.Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialBackoff,
		MaxDelay:     cfg.MaxBackoff,
		Multiplier:   cfg.BackoffMultiplier,
	}, bus, logger)

	coordinator := transfer.NewCoordinator(cctp, exec, bus, logger, cfg.AttestationTimeout)
	manager := stake.NewManager(ledger, destSigner.Address(), exec, bus, logger)

	var history store.Store
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			cleanup()
			return nil, err
		}
		prev := cleanup
		cleanup = func() {
			pg.Close()
			prev()
		}
		history = pg
	} else if cfg.HistoryPath != "" {
		history = store.NewJsonlStore(cfg.HistoryPath)
	}

	orchestrator := workflow.New(workflow.Config{
		SourceAddress:       sourceSigner.Address(),
		DestinationAddress:  destSigner.Address(),
		AssetDecimals:       decimals,
		SettlementDelay:     cfg.SettlementDelay,
		AutomaticCompletion: cfg.AutomaticCompletion,
	}, coordinator, manager, history, bus, logger)

	return &app{orchestrator: orchestrator, bus: bus, cleanup: cleanup}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.cleanup()

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.Routes(api.NewHandlers(a.orchestrator, a.bus, logger)),
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runStake(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	amount, _ := cmd.Flags().GetString("amount")
	if amount == "" {
		return fmt.Errorf("amount is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.cleanup()

	result, err := a.orchestrator.StakeCrossChain(ctx, amount)
	if err != nil {
		return err
	}

	decimals := a.orchestrator.Decimals()
	if result.Position == nil {
		logger.Info("transfer complete, nothing to stake",
			zap.String("bridge_tx", result.Transfer.BridgeTx))
		return nil
	}
	logger.Info("cross-chain stake complete",
		zap.String("bridge_tx", result.Transfer.BridgeTx),
		zap.String("staked", model.FormatUnits(result.Position.Staked, decimals)),
		zap.String("loaned", model.FormatUnits(result.Position.Loaned, decimals)),
	)
	return nil
}

func runUnstake(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.cleanup()

	result, err := a.orchestrator.Unstake(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		logger.Info("nothing to unstake")
		return nil
	}

	decimals := a.orchestrator.Decimals()
	logger.Info("unstake complete",
		zap.String("withdrawn", model.FormatUnits(result.Withdrawn, decimals)),
		zap.String("new_staked", model.FormatUnits(result.NewStaked, decimals)),
		zap.String("new_loaned", model.FormatUnits(result.NewLoaned, decimals)),
	)
	return nil
}

func runPosition(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.cleanup()

	position, err := a.orchestrator.Position(ctx)
	if err != nil {
		return err
	}

	decimals := a.orchestrator.Decimals()
	logger.Info("stake position",
		zap.String("staked", model.FormatUnits(position.Staked, decimals)),
		zap.String("loaned", model.FormatUnits(position.Loaned, decimals)),
	)
	return nil
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
