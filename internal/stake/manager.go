package stake

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stakebridge/internal/contracts"
	"stakebridge/internal/logbus"
	"stakebridge/internal/model"
	"stakebridge/internal/retry"
)

// InsufficientLoanBalanceError means the caller does not hold enough loan
// tokens to repay the loan and unwind the stake. Retrying cannot fix it.
type InsufficientLoanBalanceError struct {
	Need *big.Int
	Have *big.Int
}

func (e *InsufficientLoanBalanceError) Error() string {
	return fmt.Sprintf("insufficient loan token balance: need %s, have %s", e.Need, e.Have)
}

// Manager sequences the destination-chain contract calls for staking and
// unstaking. Each approval is confirmed before the dependent call is
// submitted; the contract would revert on insufficient allowance otherwise.
type Manager struct {
	ledger contracts.Ledger
	self   common.Address
	exec   *retry.Executor
	bus    *logbus.Broadcaster
	logger *zap.Logger
}

func NewManager(ledger contracts.Ledger, self common.Address, exec *retry.Executor, bus *logbus.Broadcaster, logger *zap.Logger) *Manager {
	if bus == nil {
		bus = logbus.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{ledger: ledger, self: self, exec: exec, bus: bus, logger: logger}
}

// submitAndConfirm runs one state-changing call to confirmation under the
// retry policy as a single unit.
func (m *Manager) submitAndConfirm(ctx context.Context, name string, submit func(context.Context) (contracts.TxHandle, error)) error {
	return m.exec.Do(ctx, name, func(ctx context.Context) error {
		tx, err := submit(ctx)
		if err != nil {
			return err
		}
		if err := tx.Wait(ctx); err != nil {
			return err
		}
		m.bus.Publishf("%s confirmed (tx %s)", name, tx.Hash().Hex())
		return nil
	})
}

// StakeFor stakes the destination account's full wrapped-asset balance. A
// zero balance is a normal no-op reported as a nil position.
func (m *Manager) StakeFor(ctx context.Context, destination common.Address) (*model.StakePosition, error) {
	staking := m.ledger.StakingAddress()

	var isMinter bool
	err := m.exec.Do(ctx, "check minter authorization", func(ctx context.Context) error {
		var err error
		isMinter, err = m.ledger.IsLoanMinter(ctx, staking)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("check minter authorization: %w", err)
	}

	if !isMinter {
		m.bus.Publishf("staking contract %s is not a loan minter, granting authorization", staking.Hex())
		if err := m.submitAndConfirm(ctx, "grant minter authorization", func(ctx context.Context) (contracts.TxHandle, error) {
			return m.ledger.AddLoanMinter(ctx, staking)
		}); err != nil {
			return nil, fmt.Errorf("grant minter authorization: %w", err)
		}
	}

	var balance *big.Int
	err = m.exec.Do(ctx, "read wrapped asset balance", func(ctx context.Context) error {
		var err error
		balance, err = m.ledger.AssetBalance(ctx, destination)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read wrapped asset balance: %w", err)
	}

	var decimals uint8
	err = m.exec.Do(ctx, "read asset decimals", func(ctx context.Context) error {
		var err error
		decimals, err = m.ledger.AssetDecimals(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read asset decimals: %w", err)
	}

	if balance.Sign() == 0 {
		m.bus.Publishf("nothing to stake: %s holds no wrapped asset", destination.Hex())
		return nil, nil
	}

	m.bus.Publishf("staking %s for %s", model.FormatUnits(balance, decimals), destination.Hex())

	if err := m.submitAndConfirm(ctx, "approve staking contract", func(ctx context.Context) (contracts.TxHandle, error) {
		return m.ledger.ApproveAsset(ctx, staking, balance)
	}); err != nil {
		return nil, fmt.Errorf("approve staking contract: %w", err)
	}

	if err := m.submitAndConfirm(ctx, "stake", func(ctx context.Context) (contracts.TxHandle, error) {
		return m.ledger.Stake(ctx, balance)
	}); err != nil {
		return nil, fmt.Errorf("stake: %w", err)
	}

	var position model.StakePosition
	err = m.exec.Do(ctx, "read stake position", func(ctx context.Context) error {
		var err error
		position, err = m.ledger.UserStake(ctx, destination)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read stake position: %w", err)
	}

	m.bus.Publishf("stake complete: staked %s, loaned %s",
		model.FormatUnits(position.Staked, decimals),
		model.FormatUnits(position.Loaned, decimals),
	)
	return &position, nil
}

// Unstake unwinds the caller's full position. A zero stake is a normal no-op
// reported as a nil result. The loan token balance must cover the amount
// loaned against the stake; if it does not, the operation fails immediately.
func (m *Manager) Unstake(ctx context.Context) (*model.UnstakeResult, error) {
	staking := m.ledger.StakingAddress()

	var position model.StakePosition
	err := m.exec.Do(ctx, "read stake position", func(ctx context.Context) error {
		var err error
		position, err = m.ledger.UserStake(ctx, m.self)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read stake position: %w", err)
	}

	if position.Staked.Sign() == 0 {
		m.bus.Publishf("nothing to unstake for %s", m.self.Hex())
		return nil, nil
	}

	var loanBalance *big.Int
	err = m.exec.Do(ctx, "read loan token balance", func(ctx context.Context) error {
		var err error
		loanBalance, err = m.ledger.LoanBalance(ctx, m.self)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read loan token balance: %w", err)
	}

	if loanBalance.Cmp(position.Loaned) < 0 {
		err := &InsufficientLoanBalanceError{Need: position.Loaned, Have: loanBalance}
		m.bus.Publishf("cannot unstake: %v", err)
		return nil, err
	}

	withdrawn := new(big.Int).Set(position.Staked)
	m.bus.Publishf("unstaking %s base units (repaying %s loan tokens)", withdrawn, position.Loaned)

	if err := m.submitAndConfirm(ctx, "approve loan repayment", func(ctx context.Context) (contracts.TxHandle, error) {
		return m.ledger.ApproveLoan(ctx, staking, position.Loaned)
	}); err != nil {
		return nil, fmt.Errorf("approve loan repayment: %w", err)
	}

	if err := m.submitAndConfirm(ctx, "unstake", func(ctx context.Context) (contracts.TxHandle, error) {
		return m.ledger.Unstake(ctx, withdrawn)
	}); err != nil {
		return nil, fmt.Errorf("unstake: %w", err)
	}

	var assetBalance *big.Int
	err = m.exec.Do(ctx, "read wrapped asset balance", func(ctx context.Context) error {
		var err error
		assetBalance, err = m.ledger.AssetBalance(ctx, m.self)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read wrapped asset balance: %w", err)
	}

	var fresh model.StakePosition
	err = m.exec.Do(ctx, "read stake position", func(ctx context.Context) error {
		var err error
		fresh, err = m.ledger.UserStake(ctx, m.self)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read stake position: %w", err)
	}

	m.bus.Publishf("unstake complete: withdrew %s, remaining staked %s, remaining loaned %s",
		withdrawn, fresh.Staked, fresh.Loaned)

	return &model.UnstakeResult{
		Withdrawn:    withdrawn,
		NewStaked:    fresh.Staked,
		NewLoaned:    fresh.Loaned,
		AssetBalance: assetBalance,
	}, nil
}

// Position re-reads the account's stake from the contract.
func (m *Manager) Position(ctx context.Context, account common.Address) (model.StakePosition, error) {
	return m.ledger.UserStake(ctx, account)
}
