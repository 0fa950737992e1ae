// Package scraper implements the deposit log-ingestion pipeline: advance a
// monotonic per-contract block cursor, fetch logs from the
// RPC fleet, decode deposit events, and tolerate "response too large" by
// adaptive range bisection. It is grounded on the staged-pipeline shape of
// eth/stagedsync/stagebuilder.go and turbo/stages/stageloop.go — a fixed
// ordered sequence of steps run once per tick, each step either advancing a
// persisted cursor or leaving it untouched on failure — generalized here
// from syncing a local chain copy to syncing an L1 deposit window.
package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/erigontech/erigon-lib/common"
	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/chainbridge-go/erc20minter/internal/eventlog"
	"github.com/chainbridge-go/erc20minter/internal/ethrpc"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

// DepositTopic0 is the fixed ERC-20 deposit event topic.
var DepositTopic0 = common.HexToHash("0x4d69d0bd4287b7f66c548f90154dc81bc98f65a1b362775df5ae171a2ccd262b")

// CommitmentTag names an EVM block-finality level. Config carries one, but
// ScrapeLogs does not read it: the head is always observed through
// LatestBlockNumber (eth_blockNumber), i.e. at the latest block.
type CommitmentTag string

const (
	TagLatest CommitmentTag = "latest"
	TagSafe CommitmentTag = "safe"
	TagFinalized CommitmentTag = "finalized"
)

// RPC is the subset of ethrpc.Pool the scraper depends on, kept as an
// interface so tests can supply a scripted fake without spinning up HTTP
// servers.
type RPC interface {
	LatestBlockNumber(ctx context.Context) (units.Amount, error)
	GetLogs(ctx context.Context, contract common.Address, fromBlock, toBlock units.Amount, topic0 common.Hash) ([]ethrpc.LogEntry, error)
}

// Blocklist reports whether a deposit's source address is barred from
// crediting.
type Blocklist interface {
	IsBlocked(addr common.Address) bool
}

// Sink is how the scraper emits events; in production this is
// internal/state's process_event, keeping event-log append the sole writer
// of durable state.
type Sink interface {
	Emit(eventlog.EventType)
}

// Cursor is the subset of mutable scraper state that survives a tick,
// exposed by internal/state so bisection and resumption are observable
// without the scraper owning persistence itself.
type Cursor struct {
	LastObserved units.Amount // TagBlockNumber, best-effort, updated step 1
	LastScraped units.Amount // TagBlockNumber, committed only via SyncedErc20ToBlock
}

// Config is the scraper's tunable policy.
type Config struct {
	Contract common.Address
	TokenAddress common.Address
	MaxBlockSpread uint64 // typical O(500)
	Commitment CommitmentTag
}

// ErrResponseTooLarge classifies an RPC failure as the bisectable
// "response too large" condition versus any other transient error.
var ErrResponseTooLarge = errors.New("scraper: response too large")

// ScrapeLogs runs one full scrape_logs() tick. The caller is
// responsible for task-guard mutual exclusion before calling this.
func ScrapeLogs(ctx context.Context, rpc RPC, cfg Config, cursor *Cursor, blocklist Blocklist, sink Sink, logger log.Logger) error {
	// Step 1: observe head, best-effort.
	if head, err := rpc.LatestBlockNumber(ctx); err != nil {
		if logger != nil {
			logger.Info("scraper: observe head failed, continuing with stale value", "err", err)
		}
	} else {
		cursor.LastObserved = head
	}

	// Step 2: advance cursor bounds.
	from, err := units.CheckedIncrement(cursor.LastScraped)
	if err != nil {
		return fmt.Errorf("scraper: cursor overflow: %w", err)
	}
	to := cursor.LastObserved
	if units.Gt(from, to) {
		return nil // nothing to do
	}

	return scrapeRangeInclusive(ctx, rpc, cfg, from, to, cursor, blocklist, sink, logger)
}

// scrapeRangeInclusive implements step 3 (range walk with bisection) and
// steps 4-5 (apply, commit cursor); minting is not triggered here but by
// cmd/bridgeminter's own mint ticker. A single call to
// scrape_logs() processes exactly one MAX_BLOCK_SPREAD-sized segment — the
// segment may shrink several times under bisection before it commits, but
// once it commits the tick is done; catching up further to `to` happens on
// a later tick.
func scrapeRangeInclusive(ctx context.Context, rpc RPC, cfg Config, from, to units.Amount, cursor *Cursor, blocklist Blocklist, sink Sink, logger log.Logger) error {
	last := minAmount(addSpread(from, cfg.MaxBlockSpread), to)

	for {
		logs, err := rpc.GetLogs(ctx, cfg.Contract, from, last, DepositTopic0)
		if err == nil {
			applyLogs(logs, cfg, blocklist, sink)
			sink.Emit(&eventlog.SyncedErc20ToBlock{Block: last.Uint64()})
			cursor.LastScraped = last
			return nil
		}
		if !errors.Is(err, ErrResponseTooLarge) && !isResponseTooLarge(err) {
			// Any other failure aborts the walk; cursor unchanged.
			return fmt.Errorf("scraper: get_logs(%d,%d) failed: %w", from.Uint64(), last.Uint64(), err)
		}
		if from == last {
			sink.Emit(&eventlog.SkippedBlockForContract{Contract: cfg.Contract, Block: last.Uint64()})
			if logger != nil {
				logger.Warn("scraper: skipping pathologically large block", "block", last.Uint64())
			}
			cursor.LastScraped = last
			return nil
		}
		span, serr := units.CheckedSub(last, from)
		if serr != nil {
			return serr
		}
		last, err = units.CheckedAdd(from, units.DivByTwo(span))
		if err != nil {
			return err
		}
	}
}

// applyLogs implements step 4: blocklist filtering and event emission, in
// the order the RPC returned the logs; they are not re-sorted here.
func applyLogs(logs []ethrpc.LogEntry, cfg Config, blocklist Blocklist, sink Sink) {
	for _, l := range logs {
		deposit, err := decodeDepositLog(l, cfg.TokenAddress)
		if err != nil {
			sink.Emit(&eventlog.InvalidDeposit{
				Source: eventlog.EventSource{TxHash: l.TxHash, LogIndex: l.LogIndex},
				Reason: err.Error(),
			})
			continue
		}
		if blocklist != nil && blocklist.IsBlocked(deposit.FromAddress) {
			sink.Emit(&eventlog.InvalidDeposit{
				Source: eventlog.EventSource{TxHash: l.TxHash, LogIndex: l.LogIndex},
				Reason: fmt.Sprintf("blocked address %s", deposit.FromAddress.Hex()),
			})
			continue
		}
		sink.Emit(deposit)
	}
}

// decodedDeposit is an AcceptedErc20Deposit in the shape decodeDepositLog
// produces, before the caller decides blocklist/malformed handling.
type decodedDeposit = eventlog.AcceptedErc20Deposit

// decodeDepositLog parses one matching log into an AcceptedErc20Deposit.
// The log's data layout is implementation-defined by the helper contract;
// here it is {from_address: 32, value: 32, principal: 32} following the
// left-padded-word ABI convention every other call-data decoder in this
// module uses (internal/evmtx/erc20.go).
func decodeDepositLog(l ethrpc.LogEntry, tokenAddress common.Address) (*decodedDeposit, error) {
	if len(l.Data) < 96 {
		return nil, fmt.Errorf("deposit log data too short: %d bytes", len(l.Data))
	}
	var from common.Address
	copy(from[:], l.Data[12:32])
	value, err := units.FromBigEndian(units.TagErc20Value, l.Data[32:64])
	if err != nil {
		return nil, fmt.Errorf("deposit value overflow: %w", err)
	}
	principal := fmt.Sprintf("%x", l.Data[64:96])

	return &eventlog.AcceptedErc20Deposit{
		Source: eventlog.EventSource{TxHash: l.TxHash, LogIndex: l.LogIndex},
		BlockNumber: l.BlockNumber.Uint64(),
		FromAddress: from,
		Value: value.ToBeBytes32(),
		Principal: principal,
		Erc20Contract: tokenAddress,
	}, nil
}

func isResponseTooLarge(err error) bool {
	var outcall *ethrpc.HttpOutcallError
	if errors.As(err, &outcall) {
		return errors.Is(outcall.Err, ethrpc.ErrResponseTooLarge)
	}
	return false
}

func addSpread(from units.Amount, spread uint64) units.Amount {
	sum, err := units.CheckedAdd(from, units.New(units.TagBlockNumber, spread))
	if err != nil {
		return units.New(units.TagBlockNumber, ^uint64(0))
	}
	return sum
}

func minAmount(a, b units.Amount) units.Amount {
	if units.Lt(a, b) {
		return a
	}
	return b
}
