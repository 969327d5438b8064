package store

import (
	"context"

	"stakebridge/internal/model"
)

// Store defines a sink for workflow operation records.
type Store interface {
	RecordOperation(ctx context.Context, rec model.OperationRecord) error
}
