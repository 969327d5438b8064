package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"stakebridge/internal/chain"
	"stakebridge/internal/model"
)

// EVMLedger implements Ledger against live contracts through a chain client.
type EVMLedger struct {
	client    *chain.Client
	signer    *chain.Signer
	asset     common.Address
	loanToken common.Address
	staking   common.Address
}

func NewEVMLedger(client *chain.Client, signer *chain.Signer, asset, loanToken, staking common.Address) *EVMLedger {
	return &EVMLedger{
		client:    client,
		signer:    signer,
		asset:     asset,
		loanToken: loanToken,
		staking:   staking,
	}
}

func (l *EVMLedger) StakingAddress() common.Address { return l.staking }

func (l *EVMLedger) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := l.client.CallContract(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (l *EVMLedger) transact(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...any) (TxHandle, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	tx, err := l.client.Transact(ctx, l.signer, to, data)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", method, err)
	}
	return &evmTxHandle{tx: tx, client: l.client}, nil
}

func (l *EVMLedger) AssetBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	tokenABI, err := assetABIInstance()
	if err != nil {
		return nil, err
	}
	values, err := l.call(ctx, tokenABI, l.asset, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func (l *EVMLedger) AssetDecimals(ctx context.Context) (uint8, error) {
	tokenABI, err := assetABIInstance()
	if err != nil {
		return 0, err
	}
	values, err := l.call(ctx, tokenABI, l.asset, "decimals")
	if err != nil {
		return 0, err
	}
	dec, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	return dec, nil
}

func (l *EVMLedger) ApproveAsset(ctx context.Context, spender common.Address, amount *big.Int) (TxHandle, error) {
	tokenABI, err := assetABIInstance()
	if err != nil {
		return nil, err
	}
	return l.transact(ctx, tokenABI, l.asset, "approve", spender, amount)
}

func (l *EVMLedger) LoanBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	tokenABI, err := loanTokenABIInstance()
	if err != nil {
		return nil, err
	}
	values, err := l.call(ctx, tokenABI, l.loanToken, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func (l *EVMLedger) ApproveLoan(ctx context.Context, spender common.Address, amount *big.Int) (TxHandle, error) {
	tokenABI, err := loanTokenABIInstance()
	if err != nil {
		return nil, err
	}
	return l.transact(ctx, tokenABI, l.loanToken, "approve", spender, amount)
}

func (l *EVMLedger) IsLoanMinter(ctx context.Context, account common.Address) (bool, error) {
	tokenABI, err := loanTokenABIInstance()
	if err != nil {
		return false, err
	}
	values, err := l.call(ctx, tokenABI, l.loanToken, "minters", account)
	if err != nil {
		return false, err
	}
	isMinter, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("minters: unexpected type %T", values[0])
	}
	return isMinter, nil
}

func (l *EVMLedger) AddLoanMinter(ctx context.Context, account common.Address) (TxHandle, error) {
	tokenABI, err := loanTokenABIInstance()
	if err != nil {
		return nil, err
	}
	return l.transact(ctx, tokenABI, l.loanToken, "addMinter", account)
}

func (l *EVMLedger) Stake(ctx context.Context, amount *big.Int) (TxHandle, error) {
	sABI, err := stakingABIInstance()
	if err != nil {
		return nil, err
	}
	return l.transact(ctx, sABI, l.staking, "stake", amount)
}

func (l *EVMLedger) Unstake(ctx context.Context, amount *big.Int) (TxHandle, error) {
	sABI, err := stakingABIInstance()
	if err != nil {
		return nil, err
	}
	return l.transact(ctx, sABI, l.staking, "unstake", amount)
}

func (l *EVMLedger) UserStake(ctx context.Context, account common.Address) (model.StakePosition, error) {
	sABI, err := stakingABIInstance()
	if err != nil {
		return model.StakePosition{}, err
	}
	values, err := l.call(ctx, sABI, l.staking, "getUserStake", account)
	if err != nil {
		return model.StakePosition{}, err
	}
	if len(values) != 2 {
		return model.StakePosition{}, fmt.Errorf("getUserStake: expected 2 values, got %d", len(values))
	}
	staked, err := asBigInt(values[0])
	if err != nil {
		return model.StakePosition{}, fmt.Errorf("staked: %w", err)
	}
	loaned, err := asBigInt(values[1])
	if err != nil {
		return model.StakePosition{}, fmt.Errorf("loaned: %w", err)
	}
	return model.StakePosition{Staked: staked, Loaned: loaned}, nil
}

func (l *EVMLedger) LoanRatio(ctx context.Context) (*big.Int, error) {
	sABI, err := stakingABIInstance()
	if err != nil {
		return nil, err
	}
	values, err := l.call(ctx, sABI, l.staking, "loanRatio")
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func asBigInt(value any) (*big.Int, error) {
	n, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T", value)
	}
	return n, nil
}

type evmTxHandle struct {
	tx     *types.Transaction
	client *chain.Client
}

func (h *evmTxHandle) Hash() common.Hash { return h.tx.Hash() }

func (h *evmTxHandle) Wait(ctx context.Context) error {
	_, err := h.client.WaitMined(ctx, h.tx)
	return err
}
