package ethrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/erigontech/erigon-lib/common"

	"github.com/chainbridge-go/erc20minter/internal/units"
)

// LogEntry is the subset of an eth_getLogs result the scraper needs
//.
type LogEntry struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber units.Amount // TagBlockNumber
	TxHash      common.Hash
	LogIndex    uint64
}

type rawLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
}

// LatestBlockNumber returns the fleet's agreed-upon chain head
// (eth_blockNumber).
func (p *Pool) LatestBlockNumber(ctx context.Context) (units.Amount, error) {
	raw, err := p.Call(ctx, "eth_blockNumber")
	if err != nil {
		return units.Amount{}, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return units.Amount{}, err
	}
	n, err := parseQuantity(hexStr)
	if err != nil {
		return units.Amount{}, err
	}
	return units.New(units.TagBlockNumber, n), nil
}

// GetLogs fetches logs for [fromBlock, toBlock] filtered by contract and
// topic0. A response-too-large failure surfaces as an *HttpOutcallError
// wrapping ErrResponseTooLarge from at least one provider even when quorum
// could not be reached — the scraper inspects that to decide whether to
// bisect.
func (p *Pool) GetLogs(ctx context.Context, contract common.Address, fromBlock, toBlock units.Amount, topic0 common.Hash) ([]LogEntry, error) {
	filter := map[string]interface{}{
		"address":   contract.Hex(),
		"fromBlock": toQuantity(fromBlock.Uint64()),
		"toBlock":   toQuantity(toBlock.Uint64()),
		"topics":    []string{topic0.Hex()},
	}
	raw, err := p.Call(ctx, "eth_getLogs", filter)
	if err != nil {
		return nil, err
	}
	var entries []rawLog
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		entry, err := decodeRawLog(e)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func decodeRawLog(e rawLog) (LogEntry, error) {
	blockNum, err := parseQuantity(e.BlockNumber)
	if err != nil {
		return LogEntry{}, err
	}
	logIdx, err := parseQuantity(e.LogIndex)
	if err != nil {
		return LogEntry{}, err
	}
	data, err := hex.DecodeString(strings.TrimPrefix(e.Data, "0x"))
	if err != nil {
		return LogEntry{}, err
	}
	topics := make([]common.Hash, len(e.Topics))
	for i, t := range e.Topics {
		topics[i] = common.HexToHash(t)
	}
	return LogEntry{
		Address:     common.HexToAddress(e.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: units.New(units.TagBlockNumber, blockNum),
		TxHash:      common.HexToHash(e.TxHash),
		LogIndex:    logIdx,
	}, nil
}

// TransactionCount is eth_getTransactionCount against either "latest" or
// "finalized".
func (p *Pool) TransactionCount(ctx context.Context, addr common.Address, tag string) (units.Amount, error) {
	raw, err := p.Call(ctx, "eth_getTransactionCount", addr.Hex(), tag)
	if err != nil {
		return units.Amount{}, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return units.Amount{}, err
	}
	n, err := parseQuantity(hexStr)
	if err != nil {
		return units.Amount{}, err
	}
	return units.New(units.TagTransactionCount, n), nil
}

// SendOutcome classifies eth_sendRawTransaction's result: a raw send is idempotent under NonceTooLow (the tx already landed).
type SendOutcome int

const (
	SendOk SendOutcome = iota
	SendNonceTooLow
	SendNonceTooHigh
	SendInsufficientFunds
)

// SendRawTransaction submits a signed, RLP-encoded transaction.
func (p *Pool) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, SendOutcome, error) {
	hexRaw := "0x" + hex.EncodeToString(raw)
	result, err := p.Call(ctx, "eth_sendRawTransaction", hexRaw)
	if err == nil {
		var txHash string
		if uerr := json.Unmarshal(result, &txHash); uerr != nil {
			return common.Hash{}, SendOk, uerr
		}
		return common.HexToHash(txHash), SendOk, nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "nonce too low"):
		return common.Hash{}, SendNonceTooLow, nil
	case strings.Contains(msg, "nonce too high"):
		return common.Hash{}, SendNonceTooHigh, nil
	case strings.Contains(msg, "insufficient funds"):
		return common.Hash{}, SendInsufficientFunds, nil
	default:
		return common.Hash{}, SendOk, err
	}
}

// TransactionReceipt is the minimal receipt view the withdrawal driver
// needs to finalize a sent transaction.
type TransactionReceipt struct {
	TransactionHash common.Hash
	BlockNumber     units.Amount // TagBlockNumber
	Status          uint64       // 1 success, 0 failure
	Found           bool
}

func (p *Pool) TransactionReceipt(ctx context.Context, hash common.Hash) (TransactionReceipt, error) {
	raw, err := p.Call(ctx, "eth_getTransactionReceipt", hash.Hex())
	if err != nil {
		return TransactionReceipt{}, err
	}
	if string(raw) == "null" {
		return TransactionReceipt{Found: false}, nil
	}
	var r struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		Status          string `json:"status"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return TransactionReceipt{}, err
	}
	blockNum, err := parseQuantity(r.BlockNumber)
	if err != nil {
		return TransactionReceipt{}, err
	}
	status, err := parseQuantity(r.Status)
	if err != nil {
		return TransactionReceipt{}, err
	}
	return TransactionReceipt{
		TransactionHash: common.HexToHash(r.TransactionHash),
		BlockNumber:     units.New(units.TagBlockNumber, blockNum),
		Status:          status,
		Found:           true,
	}, nil
}

// FeeEstimate is eth_feeHistory-derived gas pricing, reported in Wei.
type FeeEstimate struct {
	MaxFeePerGas         units.Amount
	MaxPriorityFeePerGas units.Amount
}

func (p *Pool) EstimateFees(ctx context.Context) (FeeEstimate, error) {
	raw, err := p.Call(ctx, "eth_feeHistory", toQuantity(10), "latest", []float64{50})
	if err != nil {
		return FeeEstimate{}, err
	}
	var resp struct {
		BaseFeePerGas []string   `json:"baseFeePerGas"`
		Reward        [][]string `json:"reward"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return FeeEstimate{}, err
	}
	if len(resp.BaseFeePerGas) == 0 {
		return FeeEstimate{}, fmt.Errorf("ethrpc: empty fee history")
	}
	baseFee, err := parseQuantity(resp.BaseFeePerGas[len(resp.BaseFeePerGas)-1])
	if err != nil {
		return FeeEstimate{}, err
	}
	var tipSum, tipCount uint64
	for _, rewardsAtBlock := range resp.Reward {
		for _, r := range rewardsAtBlock {
			tip, err := parseQuantity(r)
			if err != nil {
				continue
			}
			tipSum += tip
			tipCount++
		}
	}
	tip := uint64(1_000_000_000) // 1 gwei floor
	if tipCount > 0 {
		tip = tipSum / tipCount
	}
	maxFee := baseFee*2 + tip
	return FeeEstimate{
		MaxFeePerGas:         units.New(units.TagWei, maxFee),
		MaxPriorityFeePerGas: units.New(units.TagWei, tip),
	}, nil
}

func parseQuantity(hexStr string) (uint64, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	if hexStr == "" {
		return 0, nil
	}
	return strconv.ParseUint(hexStr, 16, 64)
}

func toQuantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}
