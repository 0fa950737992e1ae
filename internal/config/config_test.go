package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/erigontech/erigon-lib/common"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-go/erc20minter/internal/chainparams"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "init.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validBody = `
ethereum_network = "sepolia"
ecdsa_key_name = "minter-key-1"
ethereum_block_height = "finalized"
minimum_withdrawal_amount = 1000
next_transaction_nonce = 0
last_scraped_block_number = 100
admin = "admin-principal"
ckerc20_token_address = "0x00000000000000000000000000000000000001"
ckerc20_token_symbol = "ckERC20"
withdraw_fee_value = 10
`

func TestLoadInitValid(t *testing.T) {
	path := writeConfig(t, validBody)
	args, err := LoadInit(path)
	require.NoError(t, err)
	require.Equal(t, chainparams.Sepolia, args.EthereumNetwork)
	require.Equal(t, Finalized, args.EthereumBlockHeight)
	require.Equal(t, units.New(units.TagErc20Value, 1000), args.MinimumWithdrawalAmount)
	require.Equal(t, common.HexToAddress("0x01"), args.CkErc20TokenAddress)
}

func TestLoadInitRejectsZeroTokenAddress(t *testing.T) {
	body := `
ethereum_network = "sepolia"
ethereum_block_height = "finalized"
admin = "admin-principal"
ckerc20_token_symbol = "ckERC20"
`
	path := writeConfig(t, body)
	_, err := LoadInit(path)
	require.Error(t, err)
}

func TestLoadInitRejectsUnknownNetwork(t *testing.T) {
	body := `
ethereum_network = "not-a-real-network"
ethereum_block_height = "finalized"
admin = "admin-principal"
ckerc20_token_address = "0x00000000000000000000000000000000000001"
ckerc20_token_symbol = "ckERC20"
`
	path := writeConfig(t, body)
	_, err := LoadInit(path)
	require.Error(t, err)
}

func TestInitArgsToInitEventRoundTrip(t *testing.T) {
	path := writeConfig(t, validBody)
	args, err := LoadInit(path)
	require.NoError(t, err)

	ev := args.ToInitEvent()
	require.Equal(t, "sepolia", ev.EthereumNetwork)
	require.Equal(t, uint64(100), ev.LastScrapedBlockNumber)
	require.Equal(t, units.New(units.TagErc20Value, 10).ToBeBytes32(), ev.WithdrawFeeValue)
}

func TestUpgradeArgsPartialOverride(t *testing.T) {
	admin := "new-admin"
	u := UpgradeArgs{Admin: &admin}
	require.NoError(t, u.Validate())
	ev := u.ToUpgradeEvent()
	require.NotNil(t, ev.Admin)
	require.Equal(t, "new-admin", *ev.Admin)
	require.Nil(t, ev.MinimumWithdrawalAmount)
}

func TestUpgradeArgsRejectsBadBlockHeight(t *testing.T) {
	bad := BlockHeightTag("unknown")
	u := UpgradeArgs{EthereumBlockHeight: &bad}
	require.Error(t, u.Validate())
}
