package model

import "math/big"

// StakePosition mirrors the staking contract's view of one account. Values
// are integer base units and are always re-read from chain, never projected
// locally.
type StakePosition struct {
	Staked *big.Int
	Loaned *big.Int
}

// UnstakeResult reports the outcome of a full unstake.
type UnstakeResult struct {
	Withdrawn    *big.Int
	NewStaked    *big.Int
	NewLoaned    *big.Int
	AssetBalance *big.Int
}

// CombinedResult is the end-to-end outcome of a cross-chain stake. Position
// is nil when the destination balance was zero and nothing was staked.
type CombinedResult struct {
	Transfer TransferResult
	Position *StakePosition
}
