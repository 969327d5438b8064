package bridge

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAttestationTimeout is returned when the attestation service does not
// produce a signature within the bounded wait.
var ErrAttestationTimeout = errors.New("attestation timed out")

// Transfer is one in-flight bridge transfer: initiated on the source chain,
// waiting on attestation, then completable on the destination chain.
type Transfer interface {
	// SourceTx is the primary source-chain transaction id.
	SourceTx() string
	// DestinationTx is the id the destination side confirms against. Bridges
	// that return a single id report it here too.
	DestinationTx() string
	// FeeQuote is the bridge's quoted completion fee in asset base units, or
	// nil when no quote applies.
	FeeQuote() *big.Int
	// AwaitAttestation blocks until the transfer is attested or the timeout
	// elapses, in which case it returns ErrAttestationTimeout.
	AwaitAttestation(ctx context.Context, timeout time.Duration) error
	// Complete submits the destination-chain completion and returns its
	// transaction ids. It may fail with an "already completed" condition when
	// a relayer got there first; detect that with IsAlreadyCompleted.
	Complete(ctx context.Context) ([]string, error)
}

// Bridge initiates transfers toward a destination-chain recipient.
type Bridge interface {
	Initiate(ctx context.Context, recipient common.Address, amount *big.Int, automatic bool) (Transfer, error)
}

// alreadyCompletedMarkers are the revert strings bridges emit when a
// completion races a relayer or a prior attempt.
var alreadyCompletedMarkers = []string{
	"nonce already used",
	"already completed",
	"already received",
	"message already processed",
}

// IsAlreadyCompleted reports whether a completion failure means the transfer
// was finished by someone else, which callers treat as success.
func IsAlreadyCompleted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range alreadyCompletedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
