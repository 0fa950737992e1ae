package signer

import (
	"context"
	"testing"

	"github.com/erigontech/erigon-lib/common"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge-go/erc20minter/internal/evmtx"
	"github.com/chainbridge-go/erc20minter/internal/units"
)

func testKey() [32]byte {
	var k [32]byte
	k[31] = 1
	return k
}

func TestDevSignerProducesRecoverableSignature(t *testing.T) {
	key := testKey()
	s := NewDevSigner(key)

	tx := evmtx.Eip1559TransactionRequest{
		ChainID:              11155111,
		Nonce:                units.New(units.TagTransactionNonce, 0),
		MaxPriorityFeePerGas: units.New(units.TagWei, 1_000_000_000),
		MaxFeePerGas:         units.New(units.TagWei, 30_000_000_000),
		GasLimit:             units.New(units.TagGasAmount, 65_000),
		Destination:          common.HexToAddress("0x01"),
		Amount:               units.New(units.TagWei, 0),
	}

	sig, err := s.Sign(context.Background(), tx)
	require.NoError(t, err)
	require.True(t, sig.YParity == 0 || sig.YParity == 1)

	addr, err := Address(tx.SigningHash(), sig)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, addr)
}

func TestDevSignerIsDeterministicForSameKeyAndTx(t *testing.T) {
	key := testKey()
	s := NewDevSigner(key)
	tx := evmtx.Eip1559TransactionRequest{ChainID: 1, Nonce: units.New(units.TagTransactionNonce, 3)}

	sig1, err := s.Sign(context.Background(), tx)
	require.NoError(t, err)
	sig2, err := s.Sign(context.Background(), tx)
	require.NoError(t, err)

	addr1, err := Address(tx.SigningHash(), sig1)
	require.NoError(t, err)
	addr2, err := Address(tx.SigningHash(), sig2)
	require.NoError(t, err)
	require.Equal(t, addr1, addr2)
}
