package keychain

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstaudt2/tinydecred/netparams"
)

// testSeed is a fixed seed so derivation results are stable across runs.
var testSeed = func() []byte {
	seed, err := hex.DecodeString("0123456789abcdef0123456789abcdef" +
		"0123456789abcdef0123456789abcdef")
	if err != nil {
		panic(err)
	}
	return seed
}()

func TestNewMasterDeterminism(t *testing.T) {
	first, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)
	second, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)

	require.True(t, first.IsPrivate())
	require.Equal(t, first.String(), second.String())
}

func TestNewMasterSeedBounds(t *testing.T) {
	tests := []struct {
		name    string
		seedLen int
	}{
		{name: "empty seed", seedLen: 0},
		{name: "below minimum", seedLen: netparams.MainNetParams.MinSeedBytes - 1},
		{name: "above maximum", seedLen: netparams.MainNetParams.MaxSeedBytes + 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewMaster(make([]byte, test.seedLen),
				&netparams.MainNetParams)
			require.ErrorIs(t, err, ErrInvalidSeedLen)
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	root, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)

	decoded, err := DecodeExtendedKey(&netparams.MainNetParams, root.String())
	require.NoError(t, err)
	require.Equal(t, root.String(), decoded.String())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeExtendedKey(&netparams.MainNetParams, "notakey")
	require.Error(t, err)
}

// TestBIP0044Derivation derives the external address at index 5 of account 0
// twice, once through the private hierarchy and once through the neutered
// account key, and requires both paths to agree.
func TestBIP0044Derivation(t *testing.T) {
	net := &netparams.MainNetParams
	root, err := NewMaster(testSeed, net)
	require.NoError(t, err)

	coinTypeKey, err := root.DeriveCoinTypeKey(net.SLIP0044CoinType)
	require.NoError(t, err)
	acctKey, err := coinTypeKey.DeriveAccountKey(0)
	require.NoError(t, err)
	require.True(t, acctKey.IsPrivate())

	// Private path: account key -> external branch -> address.
	extBranchPriv, err := acctKey.Child(ExternalBranch)
	require.NoError(t, err)
	privAddr, err := extBranchPriv.DeriveChildAddress(5, net)
	require.NoError(t, err)

	// Public path: neutered account key -> external branch -> address.
	acctPub, err := acctKey.Neuter()
	require.NoError(t, err)
	require.False(t, acctPub.IsPrivate())
	extBranchPub, err := acctPub.Child(ExternalBranch)
	require.NoError(t, err)
	pubAddr, err := extBranchPub.DeriveChildAddress(5, net)
	require.NoError(t, err)

	require.Equal(t, privAddr, pubAddr)

	// Internal branch addresses must differ from external ones.
	intBranchPriv, err := acctKey.Child(InternalBranch)
	require.NoError(t, err)
	intAddr, err := intBranchPriv.DeriveChildAddress(5, net)
	require.NoError(t, err)
	require.NotEqual(t, privAddr, intAddr)
}

func TestDeriveCoinTypeKeyRange(t *testing.T) {
	root, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)

	_, err = root.DeriveCoinTypeKey(maxCoinType + 1)
	require.ErrorIs(t, err, ErrInvalidChild)
}

func TestDeriveAccountKeyRange(t *testing.T) {
	root, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)
	coinTypeKey, err := root.DeriveCoinTypeKey(
		netparams.MainNetParams.SLIP0044CoinType)
	require.NoError(t, err)

	_, err = coinTypeKey.DeriveAccountKey(MaxAccountNum + 1)
	require.ErrorIs(t, err, ErrInvalidChild)
}

func TestCheckBranchKeys(t *testing.T) {
	root, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)
	coinTypeKey, err := root.DeriveCoinTypeKey(
		netparams.MainNetParams.LegacyCoinType)
	require.NoError(t, err)
	acctKey, err := coinTypeKey.DeriveAccountKey(0)
	require.NoError(t, err)

	require.NoError(t, CheckBranchKeys(acctKey))
}

func TestNeuterCannotExposePrivateKey(t *testing.T) {
	root, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)
	pub, err := root.Neuter()
	require.NoError(t, err)

	_, err = pub.PrivateKey()
	require.ErrorIs(t, err, ErrNotPrivExtKey)
}

func TestCoinTypes(t *testing.T) {
	legacy, slip0044 := CoinTypes(&netparams.MainNetParams)
	require.Equal(t, uint32(20), legacy)
	require.Equal(t, uint32(42), slip0044)
}

func TestZeroMakesKeyUnusable(t *testing.T) {
	root, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)
	serialized := root.String()
	root.Zero()
	require.NotEqual(t, serialized, root.String())
}

// Master key derivation feeds the seed through HMAC-SHA512; distinct seeds
// must produce distinct master keys.
func TestNewMasterDistinctSeeds(t *testing.T) {
	other := make([]byte, len(testSeed))
	copy(other, testSeed)
	other[0] ^= 0xff

	first, err := NewMaster(testSeed, &netparams.MainNetParams)
	require.NoError(t, err)
	second, err := NewMaster(other, &netparams.MainNetParams)
	require.NoError(t, err)
	require.False(t, bytes.Equal([]byte(first.String()), []byte(second.String())))
}
