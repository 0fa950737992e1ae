// Package chainparams holds the small static tables the minter needs per
// supported network: chain id for EIP-1559 signing, and the configured RPC
// provider fleet size used to size the quorum in internal/ethrpc.
package chainparams

import "fmt"

// Network identifies one of the EVM networks the minter can be configured
// against. Exactly one network is active per running instance.
type Network uint8

const (
	Mainnet Network = iota + 1
	Sepolia
	BSC
	BSCTestnet
	Local
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Sepolia:
		return "sepolia"
	case BSC:
		return "bsc"
	case BSCTestnet:
		return "bsc-testnet"
	case Local:
		return "local"
	default:
		return "unknown"
	}
}

// ParseNetwork parses the lowercase network names accepted in config.
func ParseNetwork(s string) (Network, error) {
	for _, n := range []Network{Mainnet, Sepolia, BSC, BSCTestnet, Local} {
		if n.String() == s {
			return n, nil
		}
	}
	return 0, fmt.Errorf("chainparams: unknown network %q", s)
}

// ChainID returns the EIP-155/EIP-1559 chain id for n. BSC mainnet and
// testnet are easy to swap by mistake (56 vs 97); this returns the
// canonical mapping, BSC mainnet 56 and BSC testnet 97.
func (n Network) ChainID() uint64 {
	switch n {
	case Mainnet:
		return 1
	case Sepolia:
		return 11155111
	case BSC:
		return 56
	case BSCTestnet:
		return 97
	case Local:
		return 31337
	default:
		panic(fmt.Sprintf("chainparams: no chain id for network %d", n))
	}
}

// DefaultFleetSize is the number of configured RPC providers a standard
// deployment ships per network: mainnet/sepolia/BSC run a four-provider
// fleet for quorum agreement, local dev runs a single provider.
func (n Network) DefaultFleetSize() int {
	if n == Local {
		return 1
	}
	return 4
}
