package model

import "math/big"

// TransferRequest describes one bridge transfer from the source chain to the
// destination chain. Amount is in the asset's integer base units.
type TransferRequest struct {
	SourceAddress       string
	DestinationAddress  string
	Amount              *big.Int
	AutomaticCompletion bool
}

// TransferResult is produced once per successful transfer and feeds the
// staking step.
type TransferResult struct {
	SourceAddress      string   `json:"source_address"`
	DestinationAddress string   `json:"destination_address"`
	Amount             *big.Int `json:"-"`
	AmountText         string   `json:"amount"`
	BridgeTx           string   `json:"bridge_tx"`
}
