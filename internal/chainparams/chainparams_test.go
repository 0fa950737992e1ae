package chainparams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalBscChainIDs(t *testing.T) {
	require.Equal(t, uint64(56), BSC.ChainID())
	require.Equal(t, uint64(97), BSCTestnet.ChainID())
}

func TestParseNetworkRoundTrip(t *testing.T) {
	for _, n := range []Network{Mainnet, Sepolia, BSC, BSCTestnet, Local} {
		got, err := ParseNetwork(n.String())
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
}

func TestParseNetworkUnknown(t *testing.T) {
	_, err := ParseNetwork("bogus")
	require.Error(t, err)
}
