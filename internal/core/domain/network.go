package domain

// =============================================================================
// Network Type
// =============================================================================

// NetworkType selects the parent chain a rollup settles to.
type NetworkType string

const (
	NetworkArbitrumMainnet NetworkType = "arb1"
	NetworkArbitrumSepolia NetworkType = "arbSepolia"
)

// NetworkFromMainnetFlag maps the caller-supplied mainnet flag to a network.
func NetworkFromMainnetFlag(isMainnet bool) NetworkType {
	if isMainnet {
		return NetworkArbitrumMainnet
	}
	return NetworkArbitrumSepolia
}

// RPCURL returns the public RPC endpoint of the parent chain.
func (n NetworkType) RPCURL() string {
	switch n {
	case NetworkArbitrumMainnet:
		return "https://arb1.arbitrum.io/rpc"
	default:
		return "https://sepolia-rollup.arbitrum.io/rpc"
	}
}

// ParentChainID returns the L1 chain id behind the settlement chain.
func (n NetworkType) ParentChainID() uint64 {
	switch n {
	case NetworkArbitrumMainnet:
		return 1 // Ethereum Mainnet
	default:
		return 11155111 // Ethereum Sepolia
	}
}
