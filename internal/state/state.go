// Package state folds the event log into the in-memory view every other
// package reads from: the balance ledger, the
// withdrawal state machine, the scraper's cursor, and the handful of small
// maps (events_to_mint, invalid_events, skipped_blocks) that don't warrant
// their own package. ApplyStateTransition is a pure fold — given the same
// prefix of events it always produces the same State — and Replay
// rebuilds a State from an existing log, mirroring the
// migrations.go/stageloop.go pattern of driving all durable mutation from a
// single ordered log rather than scattering writes across callers.
package state

import (
	"fmt"

	"github.com/erigontech/erigon-lib/common"

	"github.com/chainbridge-go/erc20minter/internal/eventlog"
	"github.com/chainbridge-go/erc20minter/internal/evmtx"
	"github.com/chainbridge-go/erc20minter/internal/ledger"
	"github.com/chainbridge-go/erc20minter/internal/mintapplier"
	"github.com/chainbridge-go/erc20minter/internal/scraper"
	"github.com/chainbridge-go/erc20minter/internal/taskguard"
	"github.com/chainbridge-go/erc20minter/internal/units"
	"github.com/chainbridge-go/erc20minter/internal/withdrawal"
)

// State is the full in-memory view derived from the event log. Every field
// here except Tasks is mutated only from ApplyStateTransition; Tasks holds
// the running-task guards, which cmd/bridgeminter acquires and releases
// directly.
type State struct {
	Machine *withdrawal.Machine
	Ledger *ledger.Ledger
	Cursor scraper.Cursor
	Tasks taskguard.Set

	EthereumNetwork string
	ErdsHelperContractAddress common.Address
	CkErc20TokenAddress common.Address
	CkErc20TokenSymbol string
	EthereumBlockHeight string
	MinimumWithdrawalAmount units.Amount // TagErc20Value
	Admin string
	WithdrawFeeValue units.Amount // TagErc20Value
	WithdrawCount uint64

	// EventsToMint holds accepted deposits not yet minted; InvalidDeposit
	// and MintedCkErc20 move a source out of it into InvalidEvents or
	// MintedEvents. A quarantined deposit is removed from EventsToMint and
	// recorded in none of the three maps.
	EventsToMint map[eventlog.EventSource]mintapplier.Deposit
	InvalidEvents map[eventlog.EventSource]string
	MintedEvents map[eventlog.EventSource]struct{}

	// SkippedBlocks is skipped_blocks: contract -> sorted set of block
	// numbers whose logs could never be fetched even at minimum range.
	SkippedBlocks map[common.Address]map[uint64]struct{}

	initialized bool
}

// New returns an empty State, not yet initialized — the first event
// Replay/ProcessEvent folds into it must be an Init.
func New() *State {
	return &State{
		Ledger: ledger.New(),
		EventsToMint: make(map[eventlog.EventSource]mintapplier.Deposit),
		InvalidEvents: make(map[eventlog.EventSource]string),
		MintedEvents: make(map[eventlog.EventSource]struct{}),
		SkippedBlocks: make(map[common.Address]map[uint64]struct{}),
	}
}

// Initialized reports whether Init has been applied yet.
func (s *State) Initialized() bool { return s.initialized }

// IsBlockSkipped reports whether block was ever filed into skipped_blocks
// for contract. It is unrelated to blocklisting of deposit sources, which
// is internal/registry's concern.
func (s *State) IsBlockSkipped(contract common.Address, block uint64) bool {
	set, ok := s.SkippedBlocks[contract]
	if !ok {
		return false
	}
	_, ok = set[block]
	return ok
}

// ApplyStateTransition folds one event into s. It is a pure function of
// (s, ev): calling it twice with the same starting state and event always
// produces the same resulting state, and it is the only place State's
// fields other than Tasks are mutated.
func ApplyStateTransition(s *State, ev eventlog.EventType) {
	switch v := normalize(ev).(type) {
	case eventlog.Init:
		if s.initialized {
			panic("state: Init replayed on an already-initialized log")
		}
		applyInit(s, v)
		s.initialized = true

	case eventlog.Upgrade:
		requireInitialized(s)
		applyUpgrade(s, v)

	case eventlog.AcceptedErc20Deposit:
		requireInitialized(s)
		value, err := units.FromBigEndian(units.TagErc20Value, v.Value[:])
		if err != nil {
			panic(fmt.Sprintf("state: deposit value overflow: %v", err))
		}
		s.EventsToMint[v.Source] = mintapplier.Deposit{Source: v.Source, Principal: v.Principal, Value: value}

	case eventlog.InvalidDeposit:
		requireInitialized(s)
		delete(s.EventsToMint, v.Source)
		s.InvalidEvents[v.Source] = v.Reason

	case eventlog.MintedCkErc20:
		requireInitialized(s)
		amount, err := units.FromBigEndian(units.TagErc20Value, v.Amount[:])
		if err != nil {
			panic(fmt.Sprintf("state: mint amount overflow: %v", err))
		}
		if err := s.Ledger.Credit(v.Principal, amount); err != nil {
			panic(fmt.Sprintf("state: credit %s: %v", v.Principal, err))
		}
		delete(s.EventsToMint, v.Source)
		s.MintedEvents[v.Source] = struct{}{}

	case eventlog.QuarantinedDeposit:
		requireInitialized(s)
		delete(s.EventsToMint, v.Source)

	case eventlog.SyncedErc20ToBlock:
		requireInitialized(s)
		s.Cursor.LastScraped = units.New(units.TagBlockNumber, v.Block)

	case eventlog.SkippedBlockForContract:
		requireInitialized(s)
		set, ok := s.SkippedBlocks[v.Contract]
		if !ok {
			set = make(map[uint64]struct{})
			s.SkippedBlocks[v.Contract] = set
		}
		set[v.Block] = struct{}{}
		s.Cursor.LastScraped = units.New(units.TagBlockNumber, v.Block)

	case eventlog.AcceptedErc20WithdrawalRequest:
		requireInitialized(s)
		req := toWithdrawalRequest(v)
		total, err := units.CheckedAdd(req.WithdrawalAmount, s.WithdrawFeeValue)
		if err != nil {
			panic(fmt.Sprintf("state: withdrawal debit total overflow: %v", err))
		}
		if err := s.Ledger.Debit(req.From, total); err != nil {
			panic(fmt.Sprintf("state: debit %s: %v", req.From, err))
		}
		s.Machine.RecordWithdrawalRequest(req)
		s.WithdrawCount++

	case eventlog.CreatedTransaction:
		requireInitialized(s)
		s.Machine.RecordCreatedTransaction(v.WithdrawalID, toTx(v.Tx))

	case eventlog.SignedTransaction:
		requireInitialized(s)
		s.Machine.RecordSignedTransaction(toSignedTx(v.SignedTx))

	case eventlog.ReplacedTransaction:
		requireInitialized(s)
		s.Machine.RecordResubmitTransaction(v.WithdrawalID, toTx(v.Tx))

	case eventlog.FinalizedTransaction:
		requireInitialized(s)
		s.Machine.RecordFinalizedTransaction(v.WithdrawalID, toReceipt(v.Receipt))

	case eventlog.QuarantinedReimbursement:
		requireInitialized(s)
		// Bookkeeping marker only; the reimbursement request itself was
		// already filed by RecordFinalizedTransaction on the reverted
		// receipt.

	case eventlog.RescheduledWithdrawal:
		requireInitialized(s)
		s.Machine.RescheduleToPending(v.WithdrawalID)

	case eventlog.Erc20TransferCompleted:
		requireInitialized(s)
		amount, err := units.FromBigEndian(units.TagErc20Value, v.Amount[:])
		if err != nil {
			panic(fmt.Sprintf("state: transfer amount overflow: %v", err))
		}
		if err := s.Ledger.Transfer(v.From, v.To, amount); err != nil {
			panic(fmt.Sprintf("state: transfer %s->%s: %v", v.From, v.To, err))
		}

	default:
		panic(fmt.Sprintf("state: unhandled event type %T", ev))
	}
}

func requireInitialized(s *State) {
	if !s.initialized {
		panic("state: event applied before Init")
	}
}

func applyInit(s *State, init eventlog.Init) {
	s.EthereumNetwork = init.EthereumNetwork
	s.ErdsHelperContractAddress = init.ErdsHelperContractAddress
	s.CkErc20TokenAddress = init.CkErc20TokenAddress
	s.CkErc20TokenSymbol = init.CkErc20TokenSymbol
	s.EthereumBlockHeight = init.EthereumBlockHeight
	minAmount, err := units.FromBigEndian(units.TagErc20Value, init.MinimumWithdrawalAmount[:])
	if err != nil {
		panic(fmt.Sprintf("state: init minimum_withdrawal_amount overflow: %v", err))
	}
	s.MinimumWithdrawalAmount = minAmount
	s.Admin = init.Admin
	fee, err := units.FromBigEndian(units.TagErc20Value, init.WithdrawFeeValue[:])
	if err != nil {
		panic(fmt.Sprintf("state: init withdraw_fee_value overflow: %v", err))
	}
	s.WithdrawFeeValue = fee
	s.Cursor.LastScraped = units.New(units.TagBlockNumber, init.LastScrapedBlockNumber)
	s.Machine = withdrawal.NewMachine(init.NextTransactionNonce)
}

func applyUpgrade(s *State, up eventlog.Upgrade) {
	if up.ErdsHelperContractAddress != nil {
		s.ErdsHelperContractAddress = *up.ErdsHelperContractAddress
	}
	if up.EthereumBlockHeight != nil {
		s.EthereumBlockHeight = *up.EthereumBlockHeight
	}
	if up.MinimumWithdrawalAmount != nil {
		amount, err := units.FromBigEndian(units.TagErc20Value, (*up.MinimumWithdrawalAmount)[:])
		if err != nil {
			panic(fmt.Sprintf("state: upgrade minimum_withdrawal_amount overflow: %v", err))
		}
		s.MinimumWithdrawalAmount = amount
	}
	if up.WithdrawFeeValue != nil {
		fee, err := units.FromBigEndian(units.TagErc20Value, (*up.WithdrawFeeValue)[:])
		if err != nil {
			panic(fmt.Sprintf("state: upgrade withdraw_fee_value overflow: %v", err))
		}
		s.WithdrawFeeValue = fee
	}
	if up.Admin != nil {
		s.Admin = *up.Admin
	}
}

func toWithdrawalRequest(v eventlog.AcceptedErc20WithdrawalRequest) withdrawal.Request {
	fee, err := units.FromBigEndian(units.TagWei, v.MaxTransactionFee[:])
	if err != nil {
		panic(fmt.Sprintf("state: withdrawal max_transaction_fee overflow: %v", err))
	}
	amount, err := units.FromBigEndian(units.TagErc20Value, v.WithdrawalAmount[:])
	if err != nil {
		panic(fmt.Sprintf("state: withdrawal amount overflow: %v", err))
	}
	return withdrawal.Request{
		ID: v.ID,
		MaxTransactionFee: fee,
		WithdrawalAmount: amount,
		Destination: v.Destination,
		From: v.From,
		FromSubaccount: v.FromSubaccount,
		CreatedAt: v.CreatedAt,
	}
}

func toTx(w eventlog.UnsignedTx) evmtx.Eip1559TransactionRequest {
	return evmtx.Eip1559TransactionRequest{
		ChainID: w.ChainID,
		Nonce: units.New(units.TagTransactionNonce, w.Nonce),
		MaxPriorityFeePerGas: mustWei(w.MaxPriorityFeePerGas),
		MaxFeePerGas: mustWei(w.MaxFeePerGas),
		GasLimit: units.New(units.TagGasAmount, w.GasLimit),
		Destination: w.Destination,
		Amount: mustWei(w.Amount),
		Data: w.Data,
	}
}

func toSignedTx(w eventlog.SignedTx) evmtx.SignedTransaction {
	var sig evmtx.Signature
	copy(sig.R[:], w.Signature[0:32])
	copy(sig.S[:], w.Signature[32:64])
	sig.YParity = uint64(w.Signature[64])
	return evmtx.SignedTransaction{Unsigned: toTx(w.Unsigned), Signature: sig}
}

func toReceipt(r eventlog.Receipt) withdrawal.Receipt {
	return withdrawal.Receipt{
		TransactionHash: r.TransactionHash,
		BlockNumber: r.BlockNumber,
		Status: withdrawal.TxStatus(r.Status),
	}
}

func mustWei(b [32]byte) units.Amount {
	amount, err := units.FromBigEndian(units.TagWei, b[:])
	if err != nil {
		panic(fmt.Sprintf("state: wei field overflow: %v", err))
	}
	return amount
}

// normalize turns a pointer-to-EventType (the shape every Sink.Emit caller
// in this module uses) into the value shape ApplyStateTransition's type
// switch matches against — the same value shape eventlog.Log.Iter returns
// after replay, so callers never need to know which form they hold.
func normalize(ev eventlog.EventType) eventlog.EventType {
	switch v := ev.(type) {
	case *eventlog.Init:
		return *v
	case *eventlog.Upgrade:
		return *v
	case *eventlog.AcceptedErc20Deposit:
		return *v
	case *eventlog.InvalidDeposit:
		return *v
	case *eventlog.MintedCkErc20:
		return *v
	case *eventlog.QuarantinedDeposit:
		return *v
	case *eventlog.SyncedErc20ToBlock:
		return *v
	case *eventlog.SkippedBlockForContract:
		return *v
	case *eventlog.AcceptedErc20WithdrawalRequest:
		return *v
	case *eventlog.CreatedTransaction:
		return *v
	case *eventlog.SignedTransaction:
		return *v
	case *eventlog.ReplacedTransaction:
		return *v
	case *eventlog.FinalizedTransaction:
		return *v
	case *eventlog.QuarantinedReimbursement:
		return *v
	case *eventlog.Erc20TransferCompleted:
		return *v
	case *eventlog.RescheduledWithdrawal:
		return *v
	default:
		return ev
	}
}

// Replay rebuilds a State from scratch by folding every event in log, in
// order. By design, the first event must be Init — ApplyStateTransition
// itself enforces this by panicking on any non-Init event seen before
// initialization.
func Replay(log *eventlog.Log) (*State, error) {
	s := New()
	for _, ev := range log.Iter() {
		ApplyStateTransition(s, ev.Payload)
	}
	return s, nil
}

// ProcessEvent is process_event(): apply then append, so that an event is
// only ever durably recorded once it has proven to be a valid transition.
// ApplyStateTransition panics on an invariant violation rather than
// returning an error; appending only after it returns keeps such a panic
// from ever reaching the log, which would otherwise poison every future
// replay with the same panic forever.
func ProcessEvent(s *State, log *eventlog.Log, timestamp uint64, payload eventlog.EventType) error {
	ApplyStateTransition(s, payload)
	if err := log.Append(eventlog.Event{Timestamp: timestamp, Payload: payload}); err != nil {
		return fmt.Errorf("state: append: %w", err)
	}
	return nil
}
