package utils

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// PanicOnError panics if err is not nil
func PanicOnError(err error) {
	if err != nil {
		panic(err)
	}
}

// Max returns the largest of num and nums.
func Max(num uint32, nums ...uint32) uint32 {
	r := num
	for _, v := range nums {
		if v > r {
			r = v
		}
	}
	return r
}

// Network identifies which chain we're talking to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ChainConfig returns the btcd chain parameters for the network. Litecoin and
// Viacoin reuse btcd's address-encoding machinery; they differ only in the
// genesis hash and default ports, both handled elsewhere.
func (n Network) ChainConfig() *chaincfg.Params {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams
	case Testnet:
		return &chaincfg.TestNet3Params
	default:
		panic("unreachable")
	}
}

// GenesisBlock returns the genesis block hash for the network, hex-encoded,
// in the byte order returned by Electrum's server.features.
func GenesisBlock(network Network) string {
	switch network {
	case Mainnet:
		return "12a765e31ffd4059bada1e25190f6e98c99d9714d334efa41a195a7e7e04bfe5"
	case Testnet:
		return "4966625a4b2851d9fdee139e56211a0d88575f59ed816ff5e6a63deb4e3e29a0"
	default:
		panic("unreachable")
	}
}

// DefaultPorts returns the default TCP and SSL ports for the network.
func DefaultPorts(network Network) (tcp, ssl string) {
	switch network {
	case Mainnet:
		return "50001", "50002"
	case Testnet:
		return "51001", "51002"
	default:
		panic("unreachable")
	}
}
