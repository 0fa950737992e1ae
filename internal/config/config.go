// Package config parses and validates the minter's init and upgrade
// arguments. Files are TOML,
// decoded with github.com/pelletier/go-toml/v2, the same config-parsing
// dependency used elsewhere in this module rather than a stdlib flag/env
// scheme.
package config

import (
	"fmt"
	"os"

	"github.com/erigontech/erigon-lib/common"
	"github.com/pelletier/go-toml/v2"

	"github.com/chainbridge-go/erc20minter/internal/chainparams"
	"github.com/chainbridge-go/erc20minter/internal/eventlog"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

// maxSymbolLen bounds ckerc20_token_symbol's display length, chosen to
// match ERC-20's own conventional symbol length (most deployed tokens use
// 3-5 characters, a handful run longer — 32 covers every symbol seen in
// the wild without inviting a UI that can't render it).
const maxSymbolLen = 32

// BlockHeightTag selects the commitment level the scraper observes the
// chain head at.
type BlockHeightTag string

const (
	Latest BlockHeightTag = "latest"
	Safe BlockHeightTag = "safe"
	Finalized BlockHeightTag = "finalized"
)

func parseBlockHeightTag(s string) (BlockHeightTag, error) {
	switch BlockHeightTag(s) {
	case Latest, Safe, Finalized:
		return BlockHeightTag(s), nil
	default:
		return "", fmt.Errorf("config: unknown ethereum_block_height %q", s)
	}
}

// InitArgs is the validated form of the minter's init configuration.
type InitArgs struct {
	EthereumNetwork chainparams.Network
	EcdsaKeyName string
	ErdsHelperContractAddress common.Address // optional; zero value if unset
	EthereumBlockHeight BlockHeightTag
	MinimumWithdrawalAmount units.Amount // TagErc20Value
	NextTransactionNonce uint64
	LastScrapedBlockNumber uint64
	Admin string
	CkErc20TokenAddress common.Address
	CkErc20TokenSymbol string
	WithdrawFeeValue units.Amount // TagErc20Value, optional, defaults to zero
}

// Validate enforces the init configuration's constraints: ckerc20_token_*
// must name a real address and a displayable, non-empty symbol.
func (a InitArgs) Validate() error {
	if a.CkErc20TokenAddress == (common.Address{}) {
		return fmt.Errorf("config: ckerc20_token_address must not be the zero address")
	}
	if a.CkErc20TokenSymbol == "" {
		return fmt.Errorf("config: ckerc20_token_symbol must not be empty")
	}
	if len(a.CkErc20TokenSymbol) > maxSymbolLen {
		return fmt.Errorf("config: ckerc20_token_symbol exceeds %d characters", maxSymbolLen)
	}
	if a.Admin == "" {
		return fmt.Errorf("config: admin must not be empty")
	}
	switch a.EthereumBlockHeight {
	case Latest, Safe, Finalized:
	default:
		return fmt.Errorf("config: invalid ethereum_block_height %q", a.EthereumBlockHeight)
	}
	return nil
}

// ToInitEvent converts validated init args into the Init event payload
// internal/state.ApplyStateTransition expects.
func (a InitArgs) ToInitEvent() eventlog.Init {
	return eventlog.Init{
		EthereumNetwork: a.EthereumNetwork.String(),
		ErdsHelperContractAddress: a.ErdsHelperContractAddress,
		CkErc20TokenAddress: a.CkErc20TokenAddress,
		CkErc20TokenSymbol: a.CkErc20TokenSymbol,
		EthereumBlockHeight: string(a.EthereumBlockHeight),
		MinimumWithdrawalAmount: a.MinimumWithdrawalAmount.ToBeBytes32(),
		NextTransactionNonce: a.NextTransactionNonce,
		LastScrapedBlockNumber: a.LastScrapedBlockNumber,
		Admin: a.Admin,
		WithdrawFeeValue: a.WithdrawFeeValue.ToBeBytes32(),
	}
}

// UpgradeArgs mirrors InitArgs with every field optional.
type UpgradeArgs struct {
	ErdsHelperContractAddress *common.Address
	EthereumBlockHeight *BlockHeightTag
	MinimumWithdrawalAmount *units.Amount
	WithdrawFeeValue *units.Amount
	Admin *string
}

// Validate rejects an upgrade naming an unrecognized block height tag; all
// other fields are opaque strings/amounts with nothing further to check.
func (u UpgradeArgs) Validate() error {
	if u.EthereumBlockHeight != nil {
		switch *u.EthereumBlockHeight {
		case Latest, Safe, Finalized:
		default:
			return fmt.Errorf("config: invalid ethereum_block_height %q", *u.EthereumBlockHeight)
		}
	}
	return nil
}

// ToUpgradeEvent converts validated upgrade args into the Upgrade event
// payload.
func (u UpgradeArgs) ToUpgradeEvent() eventlog.Upgrade {
	out := eventlog.Upgrade{
		ErdsHelperContractAddress: u.ErdsHelperContractAddress,
		Admin: u.Admin,
	}
	if u.EthereumBlockHeight != nil {
		s := string(*u.EthereumBlockHeight)
		out.EthereumBlockHeight = &s
	}
	if u.MinimumWithdrawalAmount != nil {
		b := u.MinimumWithdrawalAmount.ToBeBytes32()
		out.MinimumWithdrawalAmount = &b
	}
	if u.WithdrawFeeValue != nil {
		b := u.WithdrawFeeValue.ToBeBytes32()
		out.WithdrawFeeValue = &b
	}
	return out
}

// rawFile is the on-disk TOML shape; every field is a plain string/uint64
// so go-toml/v2 needs no custom unmarshalers, with typed conversion done by
// LoadInit after parsing.
type rawFile struct {
	EthereumNetwork string `toml:"ethereum_network"`
	EcdsaKeyName string `toml:"ecdsa_key_name"`
	ErdsHelperContractAddress string `toml:"erc20_helper_contract_address"`
	EthereumBlockHeight string `toml:"ethereum_block_height"`
	MinimumWithdrawalAmount uint64 `toml:"minimum_withdrawal_amount"`
	NextTransactionNonce uint64 `toml:"next_transaction_nonce"`
	LastScrapedBlockNumber uint64 `toml:"last_scraped_block_number"`
	Admin string `toml:"admin"`
	CkErc20TokenAddress string `toml:"ckerc20_token_address"`
	CkErc20TokenSymbol string `toml:"ckerc20_token_symbol"`
	WithdrawFeeValue uint64 `toml:"withdraw_fee_value"`
}

// LoadInit reads and validates an init config file.
func LoadInit(path string) (InitArgs, error) {
	raw, err := readRawFile(path)
	if err != nil {
		return InitArgs{}, err
	}
	network, err := chainparams.ParseNetwork(raw.EthereumNetwork)
	if err != nil {
		return InitArgs{}, err
	}
	blockHeight, err := parseBlockHeightTag(raw.EthereumBlockHeight)
	if err != nil {
		return InitArgs{}, err
	}
	args := InitArgs{
		EthereumNetwork: network,
		EcdsaKeyName: raw.EcdsaKeyName,
		EthereumBlockHeight: blockHeight,
		MinimumWithdrawalAmount: units.New(units.TagErc20Value, raw.MinimumWithdrawalAmount),
		NextTransactionNonce: raw.NextTransactionNonce,
		LastScrapedBlockNumber: raw.LastScrapedBlockNumber,
		Admin: raw.Admin,
		CkErc20TokenAddress: common.HexToAddress(raw.CkErc20TokenAddress),
		CkErc20TokenSymbol: raw.CkErc20TokenSymbol,
		WithdrawFeeValue: units.New(units.TagErc20Value, raw.WithdrawFeeValue),
	}
	if raw.ErdsHelperContractAddress != "" {
		args.ErdsHelperContractAddress = common.HexToAddress(raw.ErdsHelperContractAddress)
	}
	if err := args.Validate(); err != nil {
		return InitArgs{}, err
	}
	return args, nil
}

func readRawFile(path string) (rawFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return rawFile{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw rawFile
	if err := toml.Unmarshal(b, &raw); err != nil {
		return rawFile{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return raw, nil
}
