package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const assetABIJSON = `[
  {"inputs": [{"name": "owner", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "approve", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"}
]`

const loanTokenABIJSON = `[
  {"inputs": [{"name": "owner", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "approve", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "minters", "outputs": [{"type": "bool"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "addMinter", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`

const stakingABIJSON = `[
  {"inputs": [{"name": "amount", "type": "uint256"}], "name": "stake", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"name": "amount", "type": "uint256"}], "name": "unstake", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"name": "account", "type": "address"}], "name": "getUserStake", "outputs": [{"name": "staked", "type": "uint256"}, {"name": "loaned", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "loanRatio", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	assetABI         abi.ABI
	assetABIOnce     sync.Once
	assetABIErr      error
	loanTokenABI     abi.ABI
	loanTokenABIOnce sync.Once
	loanTokenABIErr  error
	stakingABI       abi.ABI
	stakingABIOnce   sync.Once
	stakingABIErr    error
)

func assetABIInstance() (abi.ABI, error) {
	assetABIOnce.Do(func() {
		assetABI, assetABIErr = abi.JSON(strings.NewReader(assetABIJSON))
	})
	return assetABI, assetABIErr
}

func loanTokenABIInstance() (abi.ABI, error) {
	loanTokenABIOnce.Do(func() {
		loanTokenABI, loanTokenABIErr = abi.JSON(strings.NewReader(loanTokenABIJSON))
	})
	return loanTokenABI, loanTokenABIErr
}

func stakingABIInstance() (abi.ABI, error) {
	stakingABIOnce.Do(func() {
		stakingABI, stakingABIErr = abi.JSON(strings.NewReader(stakingABIJSON))
	})
	return stakingABI, stakingABIErr
}
