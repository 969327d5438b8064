package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stakebridge/internal/model"
)

// TxHandle is a submitted state-changing call awaiting confirmation.
type TxHandle interface {
	Hash() common.Hash
	Wait(ctx context.Context) error
}

// Ledger is the destination-chain contract surface consumed by the staking
// sequencer: the wrapped asset token, the loan token, and the staking
// contract behind one interface so the orchestration layer never touches ABI
// plumbing directly.
type Ledger interface {
	// Wrapped asset token.
	AssetBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	AssetDecimals(ctx context.Context) (uint8, error)
	ApproveAsset(ctx context.Context, spender common.Address, amount *big.Int) (TxHandle, error)

	// Loan token.
	LoanBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	ApproveLoan(ctx context.Context, spender common.Address, amount *big.Int) (TxHandle, error)
	IsLoanMinter(ctx context.Context, account common.Address) (bool, error)
	AddLoanMinter(ctx context.Context, account common.Address) (TxHandle, error)

	// Staking contract.
	Stake(ctx context.Context, amount *big.Int) (TxHandle, error)
	Unstake(ctx context.Context, amount *big.Int) (TxHandle, error)
	UserStake(ctx context.Context, account common.Address) (model.StakePosition, error)
	LoanRatio(ctx context.Context) (*big.Int, error)

	// StakingAddress is the spender for approvals and the minter candidate.
	StakingAddress() common.Address
}
