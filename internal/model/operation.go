package model

import "time"

// OperationRecord is one workflow invocation as persisted to the history
// store.
type OperationRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Amount     string    `json:"amount,omitempty"`
	BridgeTx   string    `json:"bridge_tx,omitempty"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Operation kinds and statuses used in history records.
const (
	OpStake   = "stake"
	OpUnstake = "unstake"

	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusNoop      = "noop"
)
