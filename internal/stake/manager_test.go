package stake

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakebridge/internal/contracts"
	"stakebridge/internal/model"
	"stakebridge/internal/retry"
)

var (
	stakingAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	selfAddr    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	destAddr    = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	oneUnit = func() *big.Int {
		n, _ := new(big.Int).SetString("1000000000000000000", 10)
		return n
	}()
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneUnit)
}

type fakeTx struct{}

func (fakeTx) Hash() common.Hash              { return common.Hash{} }
func (fakeTx) Wait(ctx context.Context) error { return nil }

// fakeLedger mimics the staking contract's accounting: stake mints
// amount*loanRatio loan tokens, unstake burns floor(amount*loaned/staked).
type fakeLedger struct {
	minter        bool
	decimals      uint8
	loanRatio     int64
	assetBalances map[common.Address]*big.Int
	loanBalances  map[common.Address]*big.Int
	staked        map[common.Address]*big.Int
	loaned        map[common.Address]*big.Int

	assetAllowance *big.Int
	loanAllowance  *big.Int

	calls []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		minter:         true,
		decimals:       18,
		loanRatio:      10,
		assetBalances:  map[common.Address]*big.Int{},
		loanBalances:   map[common.Address]*big.Int{},
		staked:         map[common.Address]*big.Int{},
		loaned:         map[common.Address]*big.Int{},
		assetAllowance: new(big.Int),
		loanAllowance:  new(big.Int),
	}
}

func (l *fakeLedger) get(m map[common.Address]*big.Int, a common.Address) *big.Int {
	if v, ok := m[a]; ok {
		return v
	}
	return new(big.Int)
}

func (l *fakeLedger) StakingAddress() common.Address { return stakingAddr }

func (l *fakeLedger) AssetBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	l.calls = append(l.calls, "assetBalance")
	return new(big.Int).Set(l.get(l.assetBalances, owner)), nil
}

func (l *fakeLedger) AssetDecimals(context.Context) (uint8, error) {
	return l.decimals, nil
}

func (l *fakeLedger) ApproveAsset(_ context.Context, _ common.Address, amount *big.Int) (contracts.TxHandle, error) {
	l.calls = append(l.calls, "approveAsset")
	l.assetAllowance = new(big.Int).Set(amount)
	return fakeTx{}, nil
}

func (l *fakeLedger) LoanBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	l.calls = append(l.calls, "loanBalance")
	return new(big.Int).Set(l.get(l.loanBalances, owner)), nil
}

func (l *fakeLedger) ApproveLoan(_ context.Context, _ common.Address, amount *big.Int) (contracts.TxHandle, error) {
	l.calls = append(l.calls, "approveLoan")
	l.loanAllowance = new(big.Int).Set(amount)
	return fakeTx{}, nil
}

func (l *fakeLedger) IsLoanMinter(context.Context, common.Address) (bool, error) {
	l.calls = append(l.calls, "isMinter")
	return l.minter, nil
}

func (l *fakeLedger) AddLoanMinter(context.Context, common.Address) (contracts.TxHandle, error) {
	l.calls = append(l.calls, "addMinter")
	l.minter = true
	return fakeTx{}, nil
}

func (l *fakeLedger) Stake(_ context.Context, amount *big.Int) (contracts.TxHandle, error) {
	l.calls = append(l.calls, "stake")
	if l.assetAllowance.Cmp(amount) < 0 {
		return nil, errors.New("execution reverted: insufficient allowance")
	}
	// The test treats the destination account as the staker, matching how the
	// manager stakes a just-bridged balance.
	owner := destAddr
	l.assetBalances[owner] = new(big.Int).Sub(l.get(l.assetBalances, owner), amount)
	l.staked[owner] = new(big.Int).Add(l.get(l.staked, owner), amount)
	minted := new(big.Int).Mul(amount, big.NewInt(l.loanRatio))
	l.loaned[owner] = new(big.Int).Add(l.get(l.loaned, owner), minted)
	l.loanBalances[owner] = new(big.Int).Add(l.get(l.loanBalances, owner), minted)
	return fakeTx{}, nil
}

func (l *fakeLedger) Unstake(_ context.Context, amount *big.Int) (contracts.TxHandle, error) {
	l.calls = append(l.calls, "unstake")
	owner := selfAddr
	staked := l.get(l.staked, owner)
	loaned := l.get(l.loaned, owner)
	if staked.Cmp(amount) < 0 {
		return nil, errors.New("execution reverted: unstake exceeds stake")
	}
	burn := new(big.Int).Div(new(big.Int).Mul(amount, loaned), staked)
	if l.loanAllowance.Cmp(burn) < 0 {
		return nil, errors.New("execution reverted: insufficient allowance")
	}
	l.staked[owner] = new(big.Int).Sub(staked, amount)
	l.loaned[owner] = new(big.Int).Sub(loaned, burn)
	l.loanBalances[owner] = new(big.Int).Sub(l.get(l.loanBalances, owner), burn)
	l.assetBalances[owner] = new(big.Int).Add(l.get(l.assetBalances, owner), amount)
	return fakeTx{}, nil
}

func (l *fakeLedger) UserStake(_ context.Context, account common.Address) (model.StakePosition, error) {
	l.calls = append(l.calls, "userStake")
	return model.StakePosition{
		Staked: new(big.Int).Set(l.get(l.staked, account)),
		Loaned: new(big.Int).Set(l.get(l.loaned, account)),
	}, nil
}

func (l *fakeLedger) LoanRatio(context.Context) (*big.Int, error) {
	return big.NewInt(l.loanRatio), nil
}

func (l *fakeLedger) countCalls(name string) int {
	n := 0
	for _, c := range l.calls {
		if c == name {
			n++
		}
	}
	return n
}

func testManager(l contracts.Ledger) *Manager {
	exec := retry.NewExecutor(retry.Policy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}, nil, nil)
	return NewManager(l, selfAddr, exec, nil, nil)
}

func TestStakeForFullBalance(t *testing.T) {
	l := newFakeLedger()
	l.assetBalances[destAddr] = units(1)
	m := testManager(l)

	position, err := m.StakeFor(context.Background(), destAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if position == nil {
		t.Fatalf("expected a position, got nil")
	}
	if position.Staked.Cmp(units(1)) != 0 {
		t.Fatalf("staked = %s, want %s", position.Staked, units(1))
	}
	if position.Loaned.Cmp(units(10)) != 0 {
		t.Fatalf("loaned = %s, want %s (ratio 10)", position.Loaned, units(10))
	}
}

func TestStakeForApprovesBeforeStaking(t *testing.T) {
	l := newFakeLedger()
	l.assetBalances[destAddr] = units(2)
	m := testManager(l)

	if _, err := m.StakeFor(context.Background(), destAddr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	approveAt, stakeAt := -1, -1
	for i, c := range l.calls {
		switch c {
		case "approveAsset":
			if approveAt == -1 {
				approveAt = i
			}
		case "stake":
			if stakeAt == -1 {
				stakeAt = i
			}
		}
	}
	if approveAt == -1 || stakeAt == -1 || approveAt > stakeAt {
		t.Fatalf("approve must precede stake, calls: %v", l.calls)
	}
}

func TestStakeForZeroBalanceIsNoop(t *testing.T) {
	l := newFakeLedger()
	m := testManager(l)

	position, err := m.StakeFor(context.Background(), destAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if position != nil {
		t.Fatalf("expected nil position for zero balance, got %+v", position)
	}
	if l.countCalls("approveAsset") != 0 || l.countCalls("stake") != 0 {
		t.Fatalf("zero balance must not approve or stake, calls: %v", l.calls)
	}
}

func TestStakeForGrantsMinterWhenMissing(t *testing.T) {
	l := newFakeLedger()
	l.minter = false
	l.assetBalances[destAddr] = units(1)
	m := testManager(l)

	if _, err := m.StakeFor(context.Background(), destAddr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.countCalls("addMinter") != 1 {
		t.Fatalf("addMinter called %d times, want 1", l.countCalls("addMinter"))
	}
}

func TestStakeForSkipsGrantWhenAuthorized(t *testing.T) {
	l := newFakeLedger()
	l.assetBalances[destAddr] = units(1)
	m := testManager(l)

	if _, err := m.StakeFor(context.Background(), destAddr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.countCalls("addMinter") != 0 {
		t.Fatalf("addMinter should not run when already authorized")
	}
}

func TestUnstakeFullPosition(t *testing.T) {
	l := newFakeLedger()
	l.staked[selfAddr] = units(2)
	l.loaned[selfAddr] = units(20)
	l.loanBalances[selfAddr] = units(20)
	m := testManager(l)

	result, err := m.Unstake(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a result, got nil")
	}
	if result.Withdrawn.Cmp(units(2)) != 0 {
		t.Fatalf("withdrawn = %s, want %s", result.Withdrawn, units(2))
	}
	if result.NewStaked.Sign() != 0 || result.NewLoaned.Sign() != 0 {
		t.Fatalf("position should be empty after full unstake: %+v", result)
	}
	if result.AssetBalance.Cmp(units(2)) != 0 {
		t.Fatalf("asset balance = %s, want %s", result.AssetBalance, units(2))
	}
}

func TestUnstakeBurnTruncation(t *testing.T) {
	// Partial unstake of 1.0 from staked=2.0/loaned=20.0 burns
	// floor(1*20/2) = 10.0, leaving 1.0 staked and 10.0 loaned. The manager
	// never computes that itself; the contract does, and the fresh read
	// reflects it.
	l := newFakeLedger()
	l.staked[selfAddr] = units(2)
	l.loaned[selfAddr] = units(20)
	l.loanAllowance = units(20)

	if _, err := l.Unstake(context.Background(), units(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _ := l.UserStake(context.Background(), selfAddr)
	if pos.Staked.Cmp(units(1)) != 0 {
		t.Fatalf("staked = %s, want %s", pos.Staked, units(1))
	}
	if pos.Loaned.Cmp(units(10)) != 0 {
		t.Fatalf("loaned = %s, want %s", pos.Loaned, units(10))
	}
}

func TestUnstakeNothingStaked(t *testing.T) {
	l := newFakeLedger()
	m := testManager(l)

	result, err := m.Unstake(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result when nothing is staked, got %+v", result)
	}
}

func TestUnstakeInsufficientLoanBalance(t *testing.T) {
	l := newFakeLedger()
	l.staked[selfAddr] = units(2)
	l.loaned[selfAddr] = units(20)
	l.loanBalances[selfAddr] = units(5)
	m := testManager(l)

	_, err := m.Unstake(context.Background())
	var insufficient *InsufficientLoanBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientLoanBalanceError, got %v", err)
	}
	if insufficient.Need.Cmp(units(20)) != 0 || insufficient.Have.Cmp(units(5)) != 0 {
		t.Fatalf("need/have = %s/%s, want 20/5 units", insufficient.Need, insufficient.Have)
	}
	if l.countCalls("approveLoan") != 0 || l.countCalls("unstake") != 0 {
		t.Fatalf("insufficient balance must not approve or unstake, calls: %v", l.calls)
	}
}
