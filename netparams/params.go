// Package netparams defines the network parameters consumed by the account
// core: hierarchical deterministic key version bytes, address encoding
// rules, coinbase maturity, seed length bounds, and the BIP0044 coin types
// used to structure the key hierarchy.
package netparams

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.  The chaincfg parameters supply the extended
// key version bytes and address encoding magics, while the additional
// fields carry the account-layer specifics.
type Params struct {
	*chaincfg.Params

	// LegacyCoinType is the coin type used by the key hierarchy before
	// the SLIP-0044 registry was adopted.  Wallets continue to derive a
	// key for it so funds received under the old hierarchy remain
	// discoverable.
	LegacyCoinType uint32

	// SLIP0044CoinType is the registered SLIP-0044 coin type for the
	// network.  New accounts are derived under this coin type.
	SLIP0044CoinType uint32

	// MinSeedBytes and MaxSeedBytes bound the accepted seed length,
	// inclusive.
	MinSeedBytes int
	MaxSeedBytes int
}

// MainNetParams contains parameters specific to the main network.
var MainNetParams = Params{
	Params:           &chaincfg.MainNetParams,
	LegacyCoinType:   20,
	SLIP0044CoinType: 42,
	MinSeedBytes:     hdkeychain.MinSeedBytes,
	MaxSeedBytes:     hdkeychain.MaxSeedBytes,
}

// TestNet3Params contains parameters specific to the test network.
var TestNet3Params = Params{
	Params:           &chaincfg.TestNet3Params,
	LegacyCoinType:   11,
	SLIP0044CoinType: 1,
	MinSeedBytes:     hdkeychain.MinSeedBytes,
	MaxSeedBytes:     hdkeychain.MaxSeedBytes,
}

// SimNetParams contains parameters specific to the simulation test network.
var SimNetParams = Params{
	Params:           &chaincfg.SimNetParams,
	LegacyCoinType:   115,
	SLIP0044CoinType: 115,
	MinSeedBytes:     hdkeychain.MinSeedBytes,
	MaxSeedBytes:     hdkeychain.MaxSeedBytes,
}
