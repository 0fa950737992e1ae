// Package driver implements process_retrieve_eth_requests(): the withdrawal pipeline's once-per-tick pass over
// resubmit -> create -> sign -> send -> finalize. It follows the same
// fixed-stage-order, persisted-cursor shape as internal/scraper, grounded
// on the same eth/stagedsync/stagebuilder.go staged-pipeline pattern, here
// applied to nonce-indexed withdrawals instead of block ranges.
package driver

import (
	"context"

	"github.com/erigontech/erigon-lib/common"
	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/chainbridge-go/erc20minter/internal/eventlog"
	"github.com/chainbridge-go/erc20minter/internal/ethrpc"
	"github.com/chainbridge-go/erc20minter/internal/evmtx"
	"github.com/chainbridge-go/erc20minter/internal/units"
	"github.com/chainbridge-go/erc20minter/internal/withdrawal"
)

const maxPerTick = 5

// RPC is the subset of ethrpc.Pool the driver depends on.
type RPC interface {
	EstimateFees(ctx context.Context) (ethrpc.FeeEstimate, error)
	TransactionCount(ctx context.Context, addr common.Address, tag string) (units.Amount, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, ethrpc.SendOutcome, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (ethrpc.TransactionReceipt, error)
}

// Signer is the external threshold-ECDSA oracle (internal/signer).
type Signer interface {
	Sign(ctx context.Context, tx evmtx.Eip1559TransactionRequest) (evmtx.Signature, error)
}

// Sink emits the events the driver's steps produce; internal/state applies
// each one to the withdrawal.Machine before the next step runs, since
// Machine's own mutators are meant to be driven only from event apply.
type Sink interface {
	Emit(eventlog.EventType)
}

// Machine is the subset of *withdrawal.Machine the driver reads to decide
// what work remains, kept as an interface so tests can substitute a smaller
// fake.
type Machine interface {
	Pending() []withdrawal.Request
	NextNonce() uint64
	CreateResubmitTransactions(latestTxCount uint64, estimate withdrawal.GasFeeEstimate) ([]withdrawal.ResubmitProposal, *withdrawal.InsufficientFee)
	CreatedTransactions() []withdrawal.ResubmitProposal
	SentTransactions() []withdrawal.SignedTx
	SentTransactionsToFinalize(finalizedCount uint64) map[common.Hash]withdrawal.ID
}

// Config carries the minter's own address and chain id, needed to build
// and sign new transactions.
type Config struct {
	MinterAddress common.Address
	ChainID uint64
	GasLimit units.Amount // TagGasAmount, fixed per this module's single transfer() call shape
}

// Tick runs one process_retrieve_eth_requests() pass. The
// caller holds the RetrieveEth task guard before calling this.
func Tick(ctx context.Context, rpc RPC, signer Signer, m Machine, cfg Config, sink Sink, logger log.Logger) {
	// step 1 (no pending requests and no in-flight transactions: return) is
	// the caller's job: cmd/bridgeminter checks the machine before the task
	// guard is even acquired, so Tick itself always runs steps 2-8.

	// step 2: refresh gas fee estimate.
	estimate, err := rpc.EstimateFees(ctx)
	if err != nil {
		if logger != nil {
			logger.Info("driver: fee estimate unavailable, retrying next tick", "err", err)
		}
		return
	}
	feeEstimate := withdrawal.GasFeeEstimate{
		MaxFeePerGas: estimate.MaxFeePerGas,
		MaxPriorityFeePerGas: estimate.MaxPriorityFeePerGas,
	}

	// step 3: latest transaction count.
	latestCount, err := rpc.TransactionCount(ctx, cfg.MinterAddress, "latest")
	if err != nil {
		if logger != nil {
			logger.Info("driver: latest transaction count unavailable, retrying next tick", "err", err)
		}
		return
	}

	// step 4: resubmit stuck sent transactions.
	resubmitStep(m, cfg, latestCount.Uint64(), feeEstimate, sink, logger)

	// step 5: create new transactions from pending, up to maxPerTick.
	createStep(m, cfg, feeEstimate, sink, logger)

	// step 6: sign every transaction steps 4-5 left created-but-unsigned.
	// internal/state applies each SignedTransaction as it is emitted, so by
	// the time step 7 runs m reflects every signature produced here.
	SignStep(ctx, signer, m.CreatedTransactions(), sink, logger)

	// step 7: (re)send every outstanding signed transaction; resending an
	// already-landed one is idempotent under NonceTooLow.
	SendStep(ctx, rpc, m.SentTransactions(), latestCount.Uint64(), sink, logger)

	// step 8: finalize sent transactions the finalized transaction count
	// confirms are mined.
	finalizedCount, err := rpc.TransactionCount(ctx, cfg.MinterAddress, "finalized")
	if err != nil {
		if logger != nil {
			logger.Info("driver: finalized transaction count unavailable, retrying next tick", "err", err)
		}
		return
	}
	FinalizeStep(ctx, rpc, m.SentTransactionsToFinalize(finalizedCount.Uint64()), sink, logger)
}

// resubmitStep implements step 4. On InsufficientTransactionFee the
// withdrawal is rescheduled to the back of the pending queue via the
// RescheduledWithdrawal event, matching the law that only internal/state's
// apply is allowed to mutate the machine.
func resubmitStep(m Machine, cfg Config, latestCount uint64, estimate withdrawal.GasFeeEstimate, sink Sink, logger log.Logger) {
	proposals, insufficient := m.CreateResubmitTransactions(latestCount, estimate)
	for _, p := range proposals {
		sink.Emit(&eventlog.ReplacedTransaction{WithdrawalID: p.ID, Tx: toWireTx(p.Tx)})
	}
	if insufficient != nil {
		if logger != nil {
			logger.Info("driver: withdrawal rescheduled, fee budget exhausted", "id", insufficient.ID, "nonce", insufficient.Nonce)
		}
		sink.Emit(&eventlog.RescheduledWithdrawal{WithdrawalID: insufficient.ID})
	}
}

// createStep implements step 5: up to 5 new transactions built
// from the pending FIFO queue, each priced from its own pre-paid budget.
func createStep(m Machine, cfg Config, estimate withdrawal.GasFeeEstimate, sink Sink, logger log.Logger) {
	pending := m.Pending()
	if len(pending) > maxPerTick {
		pending = pending[:maxPerTick]
	}
	nonce := m.NextNonce()
	for _, req := range pending {
		maxFeePerGas, maxPriorityFeePerGas, err := withdrawal.BuildTransactionFee(req.ID, req.MaxTransactionFee, cfg.GasLimit, estimate)
		if err != nil {
			if logger != nil {
				logger.Info("driver: withdrawal fee budget too small to create", "id", req.ID, "err", err)
			}
			continue
		}
		tx := evmtx.Eip1559TransactionRequest{
			ChainID: cfg.ChainID,
			Nonce: units.New(units.TagTransactionNonce, nonce),
			MaxPriorityFeePerGas: maxPriorityFeePerGas,
			MaxFeePerGas: maxFeePerGas,
			GasLimit: cfg.GasLimit,
			Destination: req.Destination,
			Amount: units.New(units.TagWei, 0),
			Data: evmtx.EncodeErc20Transfer(evmtx.Erc20Transfer{To: req.Destination, Value: req.WithdrawalAmount}),
		}
		sink.Emit(&eventlog.CreatedTransaction{WithdrawalID: req.ID, Tx: toWireTx(tx)})
		nonce++
	}
}

// SignStep implements step 6: sign up to 5 created
// transactions in parallel via the signing oracle. The signing calls run
// concurrently; the resulting SignedTransaction events are emitted one at a
// time from the calling goroutine, which returns once every call has
// answered.
func SignStep(ctx context.Context, signer Signer, created []withdrawal.ResubmitProposal, sink Sink, logger log.Logger) {
	type result struct {
		id withdrawal.ID
		tx evmtx.Eip1559TransactionRequest
		sig evmtx.Signature
		err error
	}
	if len(created) > maxPerTick {
		created = created[:maxPerTick]
	}
	results := make(chan result, len(created))
	for _, c := range created {
		c := c
		go func() {
			sig, err := signer.Sign(ctx, c.Tx)
			results <- result{id: c.ID, tx: c.Tx, sig: sig, err: err}
		}()
	}
	for range created {
		r := <-results
		if r.err != nil {
			if logger != nil {
				logger.Info("driver: signing failed, leaving a gap", "id", r.id, "err", r.err)
			}
			continue
		}
		sink.Emit(&eventlog.SignedTransaction{WithdrawalID: r.id, SignedTx: toWireSignedTx(r.tx, r.sig)})
	}
}

// SendStep implements step 7: send signed transactions whose
// nonce >= latestCount, idempotent under NonceTooLow.
func SendStep(ctx context.Context, rpc RPC, signed []evmtx.SignedTransaction, latestCount uint64, sink Sink, logger log.Logger) {
	count := 0
	for _, s := range signed {
		if s.Unsigned.Nonce.Uint64() < latestCount {
			continue
		}
		if count >= maxPerTick {
			break
		}
		_, outcome, err := rpc.SendRawTransaction(ctx, s.RawBytes())
		count++
		if err != nil {
			if logger != nil {
				logger.Info("driver: send failed, retrying next tick", "nonce", s.Unsigned.Nonce.Uint64(), "err", err)
			}
			continue
		}
		switch outcome {
		case ethrpc.SendNonceTooLow:
			// benign: this transaction, or a resubmission of it, already landed.
		case ethrpc.SendOk, ethrpc.SendNonceTooHigh, ethrpc.SendInsufficientFunds:
		}
	}
}

// FinalizeStep implements step 8: finalize sent transactions
// below finalizedCount using receipts from the RPC fleet.
func FinalizeStep(ctx context.Context, rpc RPC, toFinalize map[common.Hash]withdrawal.ID, sink Sink, logger log.Logger) {
	for hash, id := range toFinalize {
		receipt, err := rpc.TransactionReceipt(ctx, hash)
		if err != nil || !receipt.Found {
			continue // not yet mined or transient RPC failure; retry next tick
		}
		sink.Emit(&eventlog.FinalizedTransaction{
			WithdrawalID: id,
			Receipt: eventlog.Receipt{
				TransactionHash: hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				Status: receipt.Status,
			},
		})
	}
}

func toWireTx(tx evmtx.Eip1559TransactionRequest) eventlog.UnsignedTx {
	return eventlog.UnsignedTx{
		ChainID: tx.ChainID,
		Nonce: tx.Nonce.Uint64(),
		MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas.ToBeBytes32(),
		MaxFeePerGas: tx.MaxFeePerGas.ToBeBytes32(),
		GasLimit: tx.GasLimit.Uint64(),
		Destination: tx.Destination,
		Amount: tx.Amount.ToBeBytes32(),
		Data: tx.Data,
	}
}

func toWireSignedTx(tx evmtx.Eip1559TransactionRequest, sig evmtx.Signature) eventlog.SignedTx {
	signed := evmtx.SignedTransaction{Unsigned: tx, Signature: sig}
	var packed [65]byte
	copy(packed[0:32], sig.R[:])
	copy(packed[32:64], sig.S[:])
	packed[64] = byte(sig.YParity)
	return eventlog.SignedTx{Unsigned: toWireTx(tx), Signature: packed, RawHash: signed.Hash()}
}
