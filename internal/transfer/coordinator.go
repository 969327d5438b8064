package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stakebridge/internal/bridge"
	"stakebridge/internal/logbus"
	"stakebridge/internal/model"
	"stakebridge/internal/retry"
)

// ErrFeeExceedsAmount is returned when the bridge's completion fee quote
// would consume the whole transfer.
var ErrFeeExceedsAmount = errors.New("bridge fee meets or exceeds transfer amount")

// CompletionError wraps a terminal failure of the destination-chain
// completion call.
type CompletionError struct {
	Cause error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("bridge completion failed: %v", e.Cause)
}

func (e *CompletionError) Unwrap() error { return e.Cause }

// Coordinator drives one bridge transfer through its three phases: initiate
// (retried), attest (single bounded wait), complete (with the
// already-completed race remapped to success).
type Coordinator struct {
	bridge             bridge.Bridge
	exec               *retry.Executor
	bus                *logbus.Broadcaster
	logger             *zap.Logger
	attestationTimeout time.Duration
}

func NewCoordinator(b bridge.Bridge, exec *retry.Executor, bus *logbus.Broadcaster, logger *zap.Logger, attestationTimeout time.Duration) *Coordinator {
	if bus == nil {
		bus = logbus.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if attestationTimeout <= 0 {
		attestationTimeout = 60 * time.Second
	}
	return &Coordinator{
		bridge:             b,
		exec:               exec,
		bus:                bus,
		logger:             logger,
		attestationTimeout: attestationTimeout,
	}
}

// Transfer runs the full pipeline for one request and returns the result fed
// to the staking step.
func (c *Coordinator) Transfer(ctx context.Context, req model.TransferRequest) (model.TransferResult, error) {
	c.bus.Publishf("bridging %s base units from %s to %s", req.Amount, req.SourceAddress, req.DestinationAddress)

	recipient := common.HexToAddress(req.DestinationAddress)

	var xfer bridge.Transfer
	err := c.exec.Do(ctx, "bridge initiate", func(ctx context.Context) error {
		var err error
		xfer, err = c.bridge.Initiate(ctx, recipient, req.Amount, req.AutomaticCompletion)
		return err
	})
	if err != nil {
		return model.TransferResult{}, fmt.Errorf("initiate transfer: %w", err)
	}
	c.bus.Publishf("transfer initiated (source tx %s)", xfer.SourceTx())

	if req.AutomaticCompletion {
		if fee := xfer.FeeQuote(); fee != nil && fee.Cmp(req.Amount) >= 0 {
			c.bus.Publishf("aborting: quoted fee %s >= amount %s", fee, req.Amount)
			return model.TransferResult{}, fmt.Errorf("%w: fee %s, amount %s", ErrFeeExceedsAmount, fee, req.Amount)
		}
	}

	c.bus.Publishf("waiting for attestation (up to %s)", c.attestationTimeout)
	if err := xfer.AwaitAttestation(ctx, c.attestationTimeout); err != nil {
		return model.TransferResult{}, fmt.Errorf("await attestation: %w", err)
	}

	completionTxs, err := xfer.Complete(ctx)
	switch {
	case err == nil:
		c.bus.Publishf("transfer completed on destination chain (txs %v)", completionTxs)
	case bridge.IsAlreadyCompleted(err):
		// A relayer or a prior attempt beat us to the mint. That is success.
		c.bus.Publishf("transfer already completed elsewhere: %v", err)
		c.logger.Info("completion race resolved as success", zap.String("source_tx", xfer.SourceTx()), zap.Error(err))
	default:
		return model.TransferResult{}, &CompletionError{Cause: err}
	}

	return model.TransferResult{
		SourceAddress:      req.SourceAddress,
		DestinationAddress: req.DestinationAddress,
		Amount:             req.Amount,
		BridgeTx:           xfer.SourceTx(),
	}, nil
}
