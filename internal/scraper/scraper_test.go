package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/erigontech/erigon-lib/common"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-go/erc20minter/internal/eventlog"
	"github.com/chainbridge-go/erc20minter/internal/ethrpc"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

type scriptedRPC struct {
	head     uint64
	onLogs   func(from, to uint64) ([]ethrpc.LogEntry, error)
	calls    []([2]uint64)
}

func (s *scriptedRPC) LatestBlockNumber(ctx context.Context) (units.Amount, error) {
	return units.New(units.TagBlockNumber, s.head), nil
}

func (s *scriptedRPC) GetLogs(ctx context.Context, contract common.Address, fromBlock, toBlock units.Amount, topic0 common.Hash) ([]ethrpc.LogEntry, error) {
	s.calls = append(s.calls, [2]uint64{fromBlock.Uint64(), toBlock.Uint64()})
	return s.onLogs(fromBlock.Uint64(), toBlock.Uint64())
}

type recordingSink struct {
	events []eventlog.EventType
}

func (r *recordingSink) Emit(e eventlog.EventType) { r.events = append(r.events, e) }

func depositLog(block, logIndex uint64, from common.Address, value uint64, principal string) ethrpc.LogEntry {
	data := make([]byte, 96)
	copy(data[12:32], from.Bytes())
	v := units.New(units.TagErc20Value, value).ToBeBytes32()
	copy(data[32:64], v[:])
	copy(data[64:96], []byte(principal))
	return ethrpc.LogEntry{
		Data:        data,
		BlockNumber: units.New(units.TagBlockNumber, block),
		TxHash:      common.HexToHash("0xaa"),
		LogIndex:    logIndex,
	}
}

func respTooLarge() error {
	return &ethrpc.HttpOutcallError{Provider: "x", Err: ethrpc.ErrResponseTooLarge}
}

func TestHappyPathDeposit(t *testing.T) {
	from := common.HexToAddress("0x0000000000000000000000000000000000000f")
	rpc := &scriptedRPC{head: 150, onLogs: func(f, t uint64) ([]ethrpc.LogEntry, error) {
		return []ethrpc.LogEntry{depositLog(120, 0, from, 1000, "P")}, nil
	}}
	sink := &recordingSink{}
	cursor := &Cursor{LastScraped: units.New(units.TagBlockNumber, 100)}
	cfg := Config{MaxBlockSpread: 500, TokenAddress: common.HexToAddress("0x01")}

	err := ScrapeLogs(context.Background(), rpc, cfg, cursor, nil, sink, nil)
	require.NoError(t, err)

	var synced, minted int
	for _, e := range sink.events {
		switch e.(type) {
		case *eventlog.SyncedErc20ToBlock:
			synced++
			require.Equal(t, uint64(150), e.(*eventlog.SyncedErc20ToBlock).Block)
		case *eventlog.AcceptedErc20Deposit:
			minted++
		case *eventlog.InvalidDeposit:
			t.Fatalf("unexpected invalid deposit")
		}
	}
	require.Equal(t, 1, synced)
	require.Equal(t, 1, minted)
}

type alwaysBlocked struct{}

func (alwaysBlocked) IsBlocked(common.Address) bool { return true }

func TestBlocklistedSourceStillAdvancesCursor(t *testing.T) {
	from := common.HexToAddress("0x0000000000000000000000000000000000000f")
	rpc := &scriptedRPC{head: 150, onLogs: func(f, t uint64) ([]ethrpc.LogEntry, error) {
		return []ethrpc.LogEntry{depositLog(120, 0, from, 1000, "P")}, nil
	}}
	sink := &recordingSink{}
	cursor := &Cursor{LastScraped: units.New(units.TagBlockNumber, 100)}
	cfg := Config{MaxBlockSpread: 500, TokenAddress: common.HexToAddress("0x01")}

	err := ScrapeLogs(context.Background(), rpc, cfg, cursor, alwaysBlocked{}, sink, nil)
	require.NoError(t, err)

	var invalid, accepted, syncedTo uint64
	for _, e := range sink.events {
		switch v := e.(type) {
		case *eventlog.InvalidDeposit:
			invalid++
		case *eventlog.AcceptedErc20Deposit:
			accepted++
		case *eventlog.SyncedErc20ToBlock:
			syncedTo = v.Block
		}
	}
	require.Equal(t, uint64(1), invalid)
	require.Equal(t, uint64(0), accepted)
	require.Equal(t, uint64(150), syncedTo)
}

func TestResponseTooLargeBisects(t *testing.T) {
	attempts := 0
	rpc := &scriptedRPC{head: 150, onLogs: func(f, t uint64) ([]ethrpc.LogEntry, error) {
		attempts++
		if f == 101 && t == 150 {
			return nil, respTooLarge()
		}
		if f == 101 && t == 125 {
			return nil, respTooLarge()
		}
		if f == 101 && t == 113 {
			return nil, nil
		}
		t.Fatalf("unexpected range [%d,%d]", f, t)
		return nil, nil
	}}
	sink := &recordingSink{}
	cursor := &Cursor{LastScraped: units.New(units.TagBlockNumber, 100)}
	cfg := Config{MaxBlockSpread: 500, TokenAddress: common.HexToAddress("0x01")}

	err := ScrapeLogs(context.Background(), rpc, cfg, cursor, nil, sink, nil)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	found := false
	for _, e := range sink.events {
		if s, ok := e.(*eventlog.SyncedErc20ToBlock); ok {
			require.Equal(t, uint64(113), s.Block)
			found = true
		}
	}
	require.True(t, found)
}

func TestSingleOversizedBlockIsSkipped(t *testing.T) {
	rpc := &scriptedRPC{head: 150, onLogs: func(f, t uint64) ([]ethrpc.LogEntry, error) {
		// too large at every range, down to the single block [142,142]
		return nil, respTooLarge()
	}}
	sink := &recordingSink{}
	cursor := &Cursor{LastScraped: units.New(units.TagBlockNumber, 141)}
	cfg := Config{MaxBlockSpread: 500, TokenAddress: common.HexToAddress("0x01")}

	err := ScrapeLogs(context.Background(), rpc, cfg, cursor, nil, sink, nil)
	require.NoError(t, err)

	var skipped bool
	for _, e := range sink.events {
		if s, ok := e.(*eventlog.SkippedBlockForContract); ok {
			require.Equal(t, uint64(142), s.Block)
			skipped = true
		}
	}
	require.True(t, skipped)
}

func TestOtherFailureAbortsWalkWithoutAdvancingCursor(t *testing.T) {
	rpc := &scriptedRPC{head: 150, onLogs: func(f, t uint64) ([]ethrpc.LogEntry, error) {
		return nil, errors.New("boom")
	}}
	sink := &recordingSink{}
	cursor := &Cursor{LastScraped: units.New(units.TagBlockNumber, 100)}
	cfg := Config{MaxBlockSpread: 500, TokenAddress: common.HexToAddress("0x01")}

	err := ScrapeLogs(context.Background(), rpc, cfg, cursor, nil, sink, nil)
	require.Error(t, err)
	require.Equal(t, uint64(100), cursor.LastScraped.Uint64())
	require.Empty(t, sink.events)
}
