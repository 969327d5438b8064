package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"stakebridge/internal/chain"
	"stakebridge/internal/logbus"
)

const tokenMessengerABIJSON = `[
  {"inputs": [{"name": "amount", "type": "uint256"}, {"name": "destinationDomain", "type": "uint32"}, {"name": "mintRecipient", "type": "bytes32"}, {"name": "burnToken", "type": "address"}], "name": "depositForBurn", "outputs": [{"name": "nonce", "type": "uint64"}], "stateMutability": "nonpayable", "type": "function"}
]`

const messageTransmitterABIJSON = `[
  {"inputs": [{"name": "message", "type": "bytes"}, {"name": "attestation", "type": "bytes"}], "name": "receiveMessage", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
  {"anonymous": false, "inputs": [{"indexed": false, "name": "message", "type": "bytes"}], "name": "MessageSent", "type": "event"}
]`

const burnTokenABIJSON = `[
  {"inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "approve", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	messengerABI     abi.ABI
	transmitterABI   abi.ABI
	burnTokenABI     abi.ABI
	cctpABIOnce      sync.Once
	cctpABIErr       error
	messageSentTopic common.Hash
)

func cctpABIs() error {
	cctpABIOnce.Do(func() {
		messengerABI, cctpABIErr = abi.JSON(strings.NewReader(tokenMessengerABIJSON))
		if cctpABIErr != nil {
			return
		}
		transmitterABI, cctpABIErr = abi.JSON(strings.NewReader(messageTransmitterABIJSON))
		if cctpABIErr != nil {
			return
		}
		burnTokenABI, cctpABIErr = abi.JSON(strings.NewReader(burnTokenABIJSON))
		if cctpABIErr != nil {
			return
		}
		messageSentTopic = crypto.Keccak256Hash([]byte("MessageSent(bytes)"))
	})
	return cctpABIErr
}

// CCTPConfig wires a burn-and-mint bridge: the source-chain token messenger
// burns, an off-chain attestation service signs, and the destination-chain
// message transmitter mints.
type CCTPConfig struct {
	SourceToken          common.Address
	TokenMessenger       common.Address
	MessageTransmitter   common.Address
	DestinationDomain    uint32
	AttestationBaseURL   string
	AttestationPollEvery time.Duration
}

// CCTPBridge implements Bridge over two chain clients and the attestation
// HTTP API.
type CCTPBridge struct {
	cfg          CCTPConfig
	source       *chain.Client
	destination  *chain.Client
	sourceSigner *chain.Signer
	destSigner   *chain.Signer
	attestations *AttestationClient
	bus          *logbus.Broadcaster
	logger       *zap.Logger
}

func NewCCTPBridge(
	cfg CCTPConfig,
	source, destination *chain.Client,
	sourceSigner, destSigner *chain.Signer,
	bus *logbus.Broadcaster,
	logger *zap.Logger,
) *CCTPBridge {
	if bus == nil {
		bus = logbus.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AttestationPollEvery <= 0 {
		cfg.AttestationPollEvery = 2 * time.Second
	}
	return &CCTPBridge{
		cfg:          cfg,
		source:       source,
		destination:  destination,
		sourceSigner: sourceSigner,
		destSigner:   destSigner,
		attestations: NewAttestationClient(cfg.AttestationBaseURL),
		bus:          bus,
		logger:       logger,
	}
}

// Initiate approves the token messenger, burns the amount toward the
// recipient, and extracts the bridge message from the burn receipt.
func (b *CCTPBridge) Initiate(ctx context.Context, recipient common.Address, amount *big.Int, automatic bool) (Transfer, error) {
	if err := cctpABIs(); err != nil {
		return nil, err
	}
	if b.sourceSigner == nil {
		return nil, chain.ErrMissingCredential
	}

	approveData, err := burnTokenABI.Pack("approve", b.cfg.TokenMessenger, amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	approveTx, err := b.source.Transact(ctx, b.sourceSigner, b.cfg.SourceToken, approveData)
	if err != nil {
		return nil, fmt.Errorf("approve token messenger: %w", err)
	}
	if _, err := b.source.WaitMined(ctx, approveTx); err != nil {
		return nil, fmt.Errorf("approve token messenger: %w", err)
	}
	b.bus.Publishf("approved token messenger for %s base units (tx %s)", amount, approveTx.Hash().Hex())

	mintRecipient := common.BytesToHash(recipient.Bytes())
	burnData, err := messengerABI.Pack("depositForBurn", amount, b.cfg.DestinationDomain, mintRecipient, b.cfg.SourceToken)
	if err != nil {
		return nil, fmt.Errorf("pack depositForBurn: %w", err)
	}
	burnTx, err := b.source.Transact(ctx, b.sourceSigner, b.cfg.TokenMessenger, burnData)
	if err != nil {
		return nil, fmt.Errorf("deposit for burn: %w", err)
	}
	receipt, err := b.source.WaitMined(ctx, burnTx)
	if err != nil {
		return nil, fmt.Errorf("deposit for burn: %w", err)
	}
	b.bus.Publishf("burn submitted on source chain (tx %s)", burnTx.Hash().Hex())

	message, err := extractBridgeMessage(receipt)
	if err != nil {
		return nil, err
	}
	messageHash := crypto.Keccak256Hash(message)

	var fee *big.Int
	if automatic {
		fee, err = b.attestations.FeeQuote(ctx, amount)
		if err != nil {
			b.logger.Warn("fee quote unavailable", zap.Error(err))
		}
	}

	return &cctpTransfer{
		bridge:      b,
		sourceTx:    burnTx.Hash().Hex(),
		message:     message,
		messageHash: messageHash,
		fee:         fee,
	}, nil
}

func extractBridgeMessage(receipt *types.Receipt) ([]byte, error) {
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != messageSentTopic {
			continue
		}
		values, err := transmitterABI.Events["MessageSent"].Inputs.Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack MessageSent: %w", err)
		}
		message, ok := values[0].([]byte)
		if !ok {
			return nil, fmt.Errorf("MessageSent: unexpected type %T", values[0])
		}
		return message, nil
	}
	return nil, fmt.Errorf("burn receipt %s has no MessageSent event", receipt.TxHash.Hex())
}

type cctpTransfer struct {
	bridge      *CCTPBridge
	sourceTx    string
	message     []byte
	messageHash common.Hash
	fee         *big.Int

	attestation []byte
}

func (t *cctpTransfer) SourceTx() string { return t.sourceTx }

// DestinationTx reports the message hash the destination confirms against.
func (t *cctpTransfer) DestinationTx() string { return t.messageHash.Hex() }

func (t *cctpTransfer) FeeQuote() *big.Int { return t.fee }

func (t *cctpTransfer) AwaitAttestation(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	b := t.bridge

	for {
		attestation, done, err := b.attestations.Fetch(ctx, t.messageHash)
		if err != nil {
			b.logger.Warn("attestation poll failed", zap.Error(err))
		} else if done {
			t.attestation = attestation
			b.bus.Publishf("attestation received for message %s", t.messageHash.Hex())
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s (message %s)", ErrAttestationTimeout, timeout, t.messageHash.Hex())
		}

		timer := time.NewTimer(b.cfg.AttestationPollEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *cctpTransfer) Complete(ctx context.Context) ([]string, error) {
	b := t.bridge
	if b.destSigner == nil {
		return nil, chain.ErrMissingCredential
	}
	if t.attestation == nil {
		return nil, fmt.Errorf("complete before attestation for message %s", t.messageHash.Hex())
	}

	data, err := transmitterABI.Pack("receiveMessage", t.message, t.attestation)
	if err != nil {
		return nil, fmt.Errorf("pack receiveMessage: %w", err)
	}
	tx, err := b.destination.Transact(ctx, b.destSigner, b.cfg.MessageTransmitter, data)
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if _, err := b.destination.WaitMined(ctx, tx); err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}

	b.bus.Publishf("mint completed on destination chain (tx %s)", tx.Hash().Hex())
	return []string{tx.Hash().Hex()}, nil
}
