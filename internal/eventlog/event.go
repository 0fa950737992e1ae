// Package eventlog implements the durable append-only event log that is
// the sole source of truth for minter state: Append is the only mutator,
// Iter replays in insertion order, and the full typed event taxonomy
// lives here as the closed EventType union.
package eventlog

import (
	"fmt"

	"github.com/erigontech/erigon-lib/common"
	"github.com/ugorji/go/codec"
)

// EventSource globally identifies an on-chain log record: the primary
// dedup key for deposits. log_index is narrowed from the
// spec's u256 to uint64 — EVM blocks cannot contain enough logs to need
// wider range, and a fixed-width comparable struct lets EventSource be used
// directly as a Go map key, which the dedup invariants (I1, I3) depend on.
type EventSource struct {
	TxHash common.Hash
	LogIndex uint64
}

func (s EventSource) String() string {
	return fmt.Sprintf("%s:%d", s.TxHash.Hex(), s.LogIndex)
}

// Tag is the stable wire identifier for an EventType variant.
type Tag uint8

const (
	TagInit Tag = iota + 1
	TagUpgrade
	TagAcceptedErc20Deposit
	TagInvalidDeposit
	TagMintedCkErc20
	TagQuarantinedDeposit
	TagSyncedErc20ToBlock
	TagSkippedBlockForContract
	TagAcceptedErc20WithdrawalRequest
	TagCreatedTransaction
	TagSignedTransaction
	TagReplacedTransaction
	TagFinalizedTransaction
	TagQuarantinedReimbursement
	TagErc20TransferCompleted
	TagRescheduledWithdrawal
)

// EventType is the closed sum of every state transition the minter can
// record. Each payload struct below (Init, Upgrade, ...,
// RescheduledWithdrawal) implements it with its own Tag.
type EventType interface {
	Tag() Tag
}

// Init is the mandatory first event of every log; its
// payload is the validated init configuration.
type Init struct {
	EthereumNetwork string
	ErdsHelperContractAddress common.Address
	CkErc20TokenAddress common.Address
	CkErc20TokenSymbol string
	EthereumBlockHeight string
	MinimumWithdrawalAmount [32]byte
	NextTransactionNonce uint64
	LastScrapedBlockNumber uint64
	Admin string
	WithdrawFeeValue [32]byte
}

func (Init) Tag() Tag { return TagInit }

// Upgrade carries the same shape as Init but every field is optional;
// ApplyStateTransition overrides only the fields explicitly set.
type Upgrade struct {
	ErdsHelperContractAddress *common.Address
	EthereumBlockHeight *string
	MinimumWithdrawalAmount *[32]byte
	WithdrawFeeValue *[32]byte
	Admin *string
}

func (Upgrade) Tag() Tag { return TagUpgrade }

// AcceptedErc20Deposit records a deposit log that passed validation and was
// inserted into events_to_mint.
type AcceptedErc20Deposit struct {
	Source EventSource
	BlockNumber uint64
	FromAddress common.Address
	Value [32]byte
	Principal string
	Erc20Contract common.Address
}

func (AcceptedErc20Deposit) Tag() Tag { return TagAcceptedErc20Deposit }

// InvalidDeposit records a log that was rejected (blocklisted source,
// malformed log) and filed into invalid_events.
type InvalidDeposit struct {
	Source EventSource
	Reason string
}

func (InvalidDeposit) Tag() Tag { return TagInvalidDeposit }

// MintedCkErc20 records a successful credit of the balance ledger.
type MintedCkErc20 struct {
	Source EventSource
	Principal string
	Amount [32]byte
}

func (MintedCkErc20) Tag() Tag { return TagMintedCkErc20 }

// QuarantinedDeposit sidelines a deposit whose processing may have
// partially completed, per the at-most-once mint guard.
type QuarantinedDeposit struct {
	Source EventSource
}

func (QuarantinedDeposit) Tag() Tag { return TagQuarantinedDeposit }

// SyncedErc20ToBlock advances the scraper's persisted cursor. It is the
// sole writer of last_erc20_scraped_block_number.
type SyncedErc20ToBlock struct {
	Block uint64
}

func (SyncedErc20ToBlock) Tag() Tag { return TagSyncedErc20ToBlock }

// SkippedBlockForContract records a single block whose logs could not be
// fetched even at minimum range.
type SkippedBlockForContract struct {
	Contract common.Address
	Block uint64
}

func (SkippedBlockForContract) Tag() Tag { return TagSkippedBlockForContract }

// AcceptedErc20WithdrawalRequest enqueues a new withdrawal.
type AcceptedErc20WithdrawalRequest struct {
	ID uint64
	MaxTransactionFee [32]byte
	WithdrawalAmount [32]byte
	Destination common.Address
	From string
	FromSubaccount *[32]byte
	CreatedAt uint64
}

func (AcceptedErc20WithdrawalRequest) Tag() Tag { return TagAcceptedErc20WithdrawalRequest }

// CreatedTransaction records an unsigned EIP-1559 transaction built for a
// withdrawal at a specific nonce.
type CreatedTransaction struct {
	WithdrawalID uint64
	Tx UnsignedTx
}

func (CreatedTransaction) Tag() Tag { return TagCreatedTransaction }

// SignedTransaction records the signature produced by the signing oracle
// over a previously created transaction.
type SignedTransaction struct {
	WithdrawalID uint64
	SignedTx SignedTx
}

func (SignedTransaction) Tag() Tag { return TagSignedTransaction }

// ReplacedTransaction records a fee-bumped resubmission at the same nonce.
type ReplacedTransaction struct {
	WithdrawalID uint64
	Tx UnsignedTx
}

func (ReplacedTransaction) Tag() Tag { return TagReplacedTransaction }

// FinalizedTransaction records the receipt of a mined transaction.
type FinalizedTransaction struct {
	WithdrawalID uint64
	Receipt Receipt
}

func (FinalizedTransaction) Tag() Tag { return TagFinalizedTransaction }

// QuarantinedReimbursement sidelines a reimbursement request whose
// processing may have partially completed.
type QuarantinedReimbursement struct {
	Index uint64
}

func (QuarantinedReimbursement) Tag() Tag { return TagQuarantinedReimbursement }

// Erc20TransferCompleted records an internal ledger transfer between two
// principals (not an on-chain event).
type Erc20TransferCompleted struct {
	From string
	To string
	Amount [32]byte
}

func (Erc20TransferCompleted) Tag() Tag { return TagErc20TransferCompleted }

// RescheduledWithdrawal records a withdrawal sent back to the pending
// queue after its sent transaction's fee budget could no longer cover a
// resubmission (InsufficientTransactionFee) — the stale sent transaction
// is left untouched in case the mempool includes it anyway.
type RescheduledWithdrawal struct {
	WithdrawalID uint64
}

func (RescheduledWithdrawal) Tag() Tag { return TagRescheduledWithdrawal }

// UnsignedTx, SignedTx and Receipt are the minimal shapes the event log
// needs to persist; internal/evmtx and internal/withdrawal carry the richer
// in-memory representations and convert to/from these at the log boundary.
type UnsignedTx struct {
	ChainID uint64
	Nonce uint64
	MaxPriorityFeePerGas [32]byte
	MaxFeePerGas [32]byte
	GasLimit uint64
	Destination common.Address
	Amount [32]byte
	Data []byte
}

type SignedTx struct {
	Unsigned UnsignedTx
	Signature [65]byte
	RawHash common.Hash
}

type Receipt struct {
	TransactionHash common.Hash
	BlockNumber uint64
	Status uint64 // 1 = success, 0 = failure
	EffectiveGasUsed uint64
}

// Event pairs a payload with the wall-clock time it was recorded.
type Event struct {
	Timestamp uint64
	Payload EventType
}

// envelope is the wire shape Event is encoded as: a stable tag plus the
// CBOR-encoded payload captured as raw bytes, decoded in a second pass once
// the concrete type is known from the tag. This is what lets unknown tags
// be detected and panicked on before any attempt is made to decode a
// payload whose shape isn't known yet.
type envelope struct {
	Timestamp uint64 `codec:"timestamp"`
	Tag uint8 `codec:"tag"`
	Payload codec.Raw `codec:"payload"`
}

func cborHandle() *codec.CborHandle {
	h := new(codec.CborHandle)
	h.Canonical = true
	return h
}

func encodeEvent(e Event) ([]byte, error) {
	var payloadBuf []byte
	if err := codec.NewEncoderBytes(&payloadBuf, cborHandle()).Encode(e.Payload); err != nil {
		return nil, fmt.Errorf("eventlog: encode payload: %w", err)
	}
	env := envelope{Timestamp: e.Timestamp, Tag: uint8(e.Payload.Tag()), Payload: payloadBuf}
	var out []byte
	if err := codec.NewEncoderBytes(&out, cborHandle()).Encode(env); err != nil {
		return nil, fmt.Errorf("eventlog: encode envelope: %w", err)
	}
	return out, nil
}

func decodeEvent(b []byte) (Event, error) {
	var env envelope
	if err := codec.NewDecoderBytes(b, cborHandle()).Decode(&env); err != nil {
		return Event{}, fmt.Errorf("eventlog: decode envelope: %w", err)
	}
	payload, err := decodePayload(Tag(env.Tag), env.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Timestamp: env.Timestamp, Payload: payload}, nil
}

func decodePayload(tag Tag, raw []byte) (EventType, error) {
	var target EventType
	switch tag {
	case TagInit:
		target = &Init{}
	case TagUpgrade:
		target = &Upgrade{}
	case TagAcceptedErc20Deposit:
		target = &AcceptedErc20Deposit{}
	case TagInvalidDeposit:
		target = &InvalidDeposit{}
	case TagMintedCkErc20:
		target = &MintedCkErc20{}
	case TagQuarantinedDeposit:
		target = &QuarantinedDeposit{}
	case TagSyncedErc20ToBlock:
		target = &SyncedErc20ToBlock{}
	case TagSkippedBlockForContract:
		target = &SkippedBlockForContract{}
	case TagAcceptedErc20WithdrawalRequest:
		target = &AcceptedErc20WithdrawalRequest{}
	case TagCreatedTransaction:
		target = &CreatedTransaction{}
	case TagSignedTransaction:
		target = &SignedTransaction{}
	case TagReplacedTransaction:
		target = &ReplacedTransaction{}
	case TagFinalizedTransaction:
		target = &FinalizedTransaction{}
	case TagQuarantinedReimbursement:
		target = &QuarantinedReimbursement{}
	case TagErc20TransferCompleted:
		target = &Erc20TransferCompleted{}
	case TagRescheduledWithdrawal:
		target = &RescheduledWithdrawal{}
	default:
		panic(fmt.Sprintf("eventlog: unknown event tag %d in log", tag))
	}
	if err := codec.NewDecoderBytes(raw, cborHandle()).Decode(target); err != nil {
		return nil, fmt.Errorf("eventlog: decode payload tag %d: %w", tag, err)
	}
	return derefEventType(target), nil
}

// derefEventType turns the pointer-to-struct used for decoding back into
// the value type that Tag() is defined on, so callers can type-switch on
// the same value shapes they construct by hand when appending events.
func derefEventType(p EventType) EventType {
	switch v := p.(type) {
	case *Init:
		return *v
	case *Upgrade:
		return *v
	case *AcceptedErc20Deposit:
		return *v
	case *InvalidDeposit:
		return *v
	case *MintedCkErc20:
		return *v
	case *QuarantinedDeposit:
		return *v
	case *SyncedErc20ToBlock:
		return *v
	case *SkippedBlockForContract:
		return *v
	case *AcceptedErc20WithdrawalRequest:
		return *v
	case *CreatedTransaction:
		return *v
	case *SignedTransaction:
		return *v
	case *ReplacedTransaction:
		return *v
	case *FinalizedTransaction:
		return *v
	case *QuarantinedReimbursement:
		return *v
	case *Erc20TransferCompleted:
		return *v
	case *RescheduledWithdrawal:
		return *v
	default:
		panic("eventlog: unreachable event variant")
	}
}
