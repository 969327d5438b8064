package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stakebridge/internal/logbus"
	"stakebridge/internal/model"
	"stakebridge/internal/store"
)

var (
	// ErrInvalidAmount rejects amounts that are not positive decimals.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrOperationInProgress rejects a workflow that overlaps another one for
	// the same credential. The contracts tolerate concurrent calls, but two
	// interleaved workflows from one account race on approvals and balances.
	ErrOperationInProgress = errors.New("operation already in progress for this account")
)

// TransferRunner is the bridge pipeline consumed by the orchestrator.
type TransferRunner interface {
	Transfer(ctx context.Context, req model.TransferRequest) (model.TransferResult, error)
}

// StakeRunner is the destination-chain sequencer consumed by the
// orchestrator.
type StakeRunner interface {
	StakeFor(ctx context.Context, destination common.Address) (*model.StakePosition, error)
	Unstake(ctx context.Context) (*model.UnstakeResult, error)
	Position(ctx context.Context, account common.Address) (model.StakePosition, error)
}

// Config carries the orchestrator's fixed parameters.
type Config struct {
	SourceAddress       common.Address
	DestinationAddress  common.Address
	AssetDecimals       uint8
	SettlementDelay     time.Duration
	AutomaticCompletion bool
}

// Orchestrator composes the transfer pipeline and the staking sequencer into
// the end-to-end cross-chain stake and unstake operations.
type Orchestrator struct {
	cfg       Config
	transfers TransferRunner
	stakes    StakeRunner
	history   store.Store
	bus       *logbus.Broadcaster
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[common.Address]bool
}

func New(cfg Config, transfers TransferRunner, stakes StakeRunner, history store.Store, bus *logbus.Broadcaster, logger *zap.Logger) *Orchestrator {
	if bus == nil {
		bus = logbus.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettlementDelay < 0 {
		cfg.SettlementDelay = 0
	}
	return &Orchestrator{
		cfg:       cfg,
		transfers: transfers,
		stakes:    stakes,
		history:   history,
		bus:       bus,
		logger:    logger,
		inflight:  make(map[common.Address]bool),
	}
}

func (o *Orchestrator) acquire(account common.Address) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[account] {
		return false
	}
	o.inflight[account] = true
	return true
}

func (o *Orchestrator) release(account common.Address) {
	o.mu.Lock()
	delete(o.inflight, account)
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, rec model.OperationRecord) {
	if o.history == nil {
		return
	}
	if err := o.history.RecordOperation(ctx, rec); err != nil {
		o.logger.Warn("record operation failed", zap.String("operation_id", rec.ID), zap.Error(err))
	}
}

// StakeCrossChain bridges amount (a decimal string in asset units) from the
// source chain and stakes whatever arrives at the destination address. A nil
// Position in the result means the destination balance was zero after the
// transfer, which is still overall success.
func (o *Orchestrator) StakeCrossChain(ctx context.Context, amount string) (*model.CombinedResult, error) {
	units, err := model.ParseUnits(amount, o.cfg.AssetDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	if !o.acquire(o.cfg.DestinationAddress) {
		return nil, ErrOperationInProgress
	}
	defer o.release(o.cfg.DestinationAddress)

	rec := model.OperationRecord{
		ID:        uuid.NewString(),
		Kind:      model.OpStake,
		Amount:    amount,
		StartedAt: time.Now().UTC(),
	}

	o.bus.Publishf("starting cross-chain stake of %s", amount)

	result, err := o.transfers.Transfer(ctx, model.TransferRequest{
		SourceAddress:       o.cfg.SourceAddress.Hex(),
		DestinationAddress:  o.cfg.DestinationAddress.Hex(),
		Amount:              units,
		AutomaticCompletion: o.cfg.AutomaticCompletion,
	})
	if err != nil {
		rec.Status = model.StatusFailed
		rec.Detail = err.Error()
		rec.FinishedAt = time.Now().UTC()
		o.record(ctx, rec)
		o.bus.Publishf("cross-chain stake failed: %v", err)
		return nil, err
	}
	rec.BridgeTx = result.BridgeTx
	result.AmountText = model.FormatUnits(result.Amount, o.cfg.AssetDecimals)

	if o.cfg.SettlementDelay > 0 {
		o.bus.Publishf("waiting %s for destination chain to settle", o.cfg.SettlementDelay)
		timer := time.NewTimer(o.cfg.SettlementDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			rec.Status = model.StatusFailed
			rec.Detail = ctx.Err().Error()
			rec.FinishedAt = time.Now().UTC()
			o.record(ctx, rec)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	position, err := o.stakes.StakeFor(ctx, o.cfg.DestinationAddress)
	if err != nil {
		rec.Status = model.StatusFailed
		rec.Detail = err.Error()
		rec.FinishedAt = time.Now().UTC()
		o.record(ctx, rec)
		o.bus.Publishf("staking after transfer failed: %v", err)
		return nil, err
	}

	rec.Status = model.StatusSucceeded
	if position == nil {
		rec.Detail = "nothing to stake"
	}
	rec.FinishedAt = time.Now().UTC()
	o.record(ctx, rec)

	o.bus.Publish("cross-chain stake finished")
	return &model.CombinedResult{Transfer: result, Position: position}, nil
}

// Unstake unwinds the destination account's position. A nil result means
// there was nothing staked; callers report that as a distinguished outcome
// rather than success-with-data.
func (o *Orchestrator) Unstake(ctx context.Context) (*model.UnstakeResult, error) {
	if !o.acquire(o.cfg.DestinationAddress) {
		return nil, ErrOperationInProgress
	}
	defer o.release(o.cfg.DestinationAddress)

	rec := model.OperationRecord{
		ID:        uuid.NewString(),
		Kind:      model.OpUnstake,
		StartedAt: time.Now().UTC(),
	}

	result, err := o.stakes.Unstake(ctx)
	rec.FinishedAt = time.Now().UTC()
	switch {
	case err != nil:
		rec.Status = model.StatusFailed
		rec.Detail = err.Error()
	case result == nil:
		rec.Status = model.StatusNoop
		rec.Detail = "nothing to unstake"
	default:
		rec.Status = model.StatusSucceeded
		rec.Amount = result.Withdrawn.String()
	}
	o.record(ctx, rec)

	return result, err
}

// Position re-reads the destination account's stake.
func (o *Orchestrator) Position(ctx context.Context) (model.StakePosition, error) {
	return o.stakes.Position(ctx, o.cfg.DestinationAddress)
}

// Decimals exposes the asset precision for presentation layers.
func (o *Orchestrator) Decimals() uint8 {
	return o.cfg.AssetDecimals
}
