// Package withdrawal implements the per-nonce transaction state machine
// that is the heart of the minter: a FIFO queue of pending
// withdrawal requests, a nonce-indexed lifecycle
// (Pending -> Created -> Signed -> Sent* -> Finalized -> (Reimbursed)),
// fee-bump resubmission and nonce-gap tolerance. Every exported method here
// is meant to be called only from inside internal/state's
// ApplyStateTransition, so that the machine's state is always a pure fold
// of the event log.
package withdrawal

import (
	"github.com/erigontech/erigon-lib/common"

	"github.com/chainbridge-go/erc20minter/internal/evmtx"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

// ID is a withdrawal's process-wide unique identifier, assigned when the
// request is accepted.
type ID = uint64

// Tx and SignedTx alias the EVM transaction envelope types so the rest of
// this package can talk about "a transaction" without every call site
// spelling out the evmtx package name.
type Tx = evmtx.Eip1559TransactionRequest
type SignedTx = evmtx.SignedTransaction

// Request is an accepted ERC-20 withdrawal request.
type Request struct {
	ID ID
	MaxTransactionFee units.Amount // TagWei
	WithdrawalAmount units.Amount // TagErc20Value
	Destination common.Address
	From string // principal
	FromSubaccount *[32]byte
	CreatedAt uint64
}

// Stage is the logical owner of a withdrawal ID at a point in time. A
// withdrawal transitions left to right, except that InsufficientTransactionFee
// sends it from Sent back to Pending for re-creation at a fresh nonce — see
// Machine.RescheduleToPending's doc comment for why this does not violate
// the ID-partition property the way it might first appear to.
type Stage uint8

const (
	StagePending Stage = iota + 1
	StageCreated
	StageSent
	StageFinalized
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageCreated:
		return "created"
	case StageSent:
		return "sent"
	case StageFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// TxStatus mirrors an EVM receipt's status field.
type TxStatus uint8

const (
	StatusFailure TxStatus = 0
	StatusSuccess TxStatus = 1
)

// Receipt is the minimal on-chain confirmation the machine needs to
// finalize a transaction.
type Receipt struct {
	TransactionHash common.Hash
	BlockNumber uint64
	Status TxStatus
}

// FinalizedTx records a withdrawal's terminal on-chain outcome.
type FinalizedTx struct {
	ID ID
	Tx evmtx.Eip1559TransactionRequest
	Receipt Receipt
}

// ReimbursementRequest is produced (recorded only, never executed) when a
// finalized withdrawal transaction reverted.
type ReimbursementRequest struct {
	WithdrawalID ID
	ReimbursedAmount units.Amount // TagErc20Value
}

// GasFeeEstimate is the current network fee suggestion the driver refreshes
// once per tick.
type GasFeeEstimate struct {
	MaxFeePerGas units.Amount // TagWei
	MaxPriorityFeePerGas units.Amount // TagWei
}

// MinMaxFeePerGas is the minimum max_fee_per_gas the network is currently
// expected to accept — below this, inclusion isn't guaranteed regardless of
// what the withdrawal's fee budget allows.
func (e GasFeeEstimate) MinMaxFeePerGas() units.Amount {
	return e.MaxFeePerGas
}

// InsufficientFee reports that a withdrawal's pre-paid fee budget can no
// longer cover the network's current price, at the given gas limit
//.
type InsufficientFee struct {
	ID ID
	Nonce uint64
	Allowed units.Amount // TagWei
	Actual units.Amount // TagWei
}

// ResubmitProposal is a candidate fee-bumped replacement transaction for an
// already-sent withdrawal, produced by Machine.CreateResubmitTransactions.
type ResubmitProposal struct {
	ID ID
	Nonce uint64
	Tx evmtx.Eip1559TransactionRequest
}

type sentEntry struct {
	ID ID
	Signed evmtx.SignedTransaction
}

type createdEntry struct {
	ID ID
	Tx evmtx.Eip1559TransactionRequest
}

func exactEqualTx(a, b evmtx.Eip1559TransactionRequest) bool {
	if a.ChainID != b.ChainID || a.Nonce != b.Nonce || a.MaxPriorityFeePerGas != b.MaxPriorityFeePerGas ||
		a.MaxFeePerGas != b.MaxFeePerGas || a.GasLimit != b.GasLimit || a.Destination != b.Destination ||
		a.Amount != b.Amount {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
