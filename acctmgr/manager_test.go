package acctmgr

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstaudt2/tinydecred/netparams"
	"github.com/rstaudt2/tinydecred/snacl"
)

var (
	managerSeed, _ = hex.DecodeString("0000000000000000000000000000000000" +
		"000000000000000000000000000000")
	pubPassphrase  = []byte("public")
	privPassphrase = []byte("81lUHXnOMGai")
)

// testCreateManager creates a manager with cheap scrypt parameters so the
// real passphrase derivation path is exercised without the production cost.
func testCreateManager(t *testing.T) *AccountManager {
	t.Helper()

	manager, err := Create(managerSeed, pubPassphrase, privPassphrase,
		&netparams.MainNetParams, &FastScryptOptions)
	require.NoError(t, err)
	return manager
}

func TestCreateEmptyPrivPassphrase(t *testing.T) {
	_, err := Create(managerSeed, pubPassphrase, nil,
		&netparams.MainNetParams, &FastScryptOptions)
	require.True(t, IsError(err, ErrEmptyPassphrase))

	_, err = Create(managerSeed, pubPassphrase, []byte{},
		&netparams.MainNetParams, &FastScryptOptions)
	require.True(t, IsError(err, ErrEmptyPassphrase))
}

func TestCreateInvalidSeedLen(t *testing.T) {
	_, err := Create([]byte{0x01, 0x02}, pubPassphrase, privPassphrase,
		&netparams.MainNetParams, &FastScryptOptions)
	require.True(t, IsError(err, ErrInvalidSeedLen))
}

func TestCreateManager(t *testing.T) {
	manager := testCreateManager(t)

	// The base account hangs off the legacy coin type and is kept out of
	// the ordered account list.
	require.NotNil(t, manager.BaseAccount)
	require.Len(t, manager.Accounts, 1)
	require.False(t, manager.WatchingOnly)

	// Creation generates the first payment address of the zeroth account
	// but leaves the base account untouched.
	zeroth, err := manager.Account(0)
	require.NoError(t, err)
	require.Len(t, zeroth.ExternalAddresses, 1)
	require.Equal(t, int32(0), zeroth.LastExternalIndex)
	require.Equal(t, 0, zeroth.Cursor)
	require.Empty(t, manager.BaseAccount.ExternalAddresses)

	// Accounts come back closed, with no plaintext key material retained.
	require.False(t, zeroth.IsOpen())

	_, err = manager.Account(1)
	require.True(t, IsError(err, ErrAccountNotFound))
	_, err = manager.Account(-1)
	require.True(t, IsError(err, ErrAccountNotFound))
}

func TestCreateDeterministic(t *testing.T) {
	first := testCreateManager(t)
	second := testCreateManager(t)

	firstAcct, err := first.Account(0)
	require.NoError(t, err)
	secondAcct, err := second.Account(0)
	require.NoError(t, err)

	// The same seed always produces the same address chain even though
	// the encrypted blobs differ per random crypto key.
	require.Equal(t, firstAcct.ExternalAddresses, secondAcct.ExternalAddresses)
	require.NotEqual(t, firstAcct.PrivKeyEncrypted, secondAcct.PrivKeyEncrypted)
}

func TestOpenAccount(t *testing.T) {
	manager := testCreateManager(t)

	account, err := manager.OpenAccount(0, &netparams.MainNetParams,
		privPassphrase)
	require.NoError(t, err)
	defer account.Close()
	require.True(t, account.IsOpen())

	// An open account can extend its address chain.
	addr, err := account.GetNextPaymentAddress()
	require.NoError(t, err)
	require.NotEqual(t, account.ExternalAddresses[0], addr)
}

func TestOpenAccountWrongPassphrase(t *testing.T) {
	manager := testCreateManager(t)

	_, err := manager.OpenAccount(0, &netparams.MainNetParams,
		[]byte("not the passphrase"))
	require.True(t, IsError(err, ErrWrongPassphrase))

	_, err = manager.OpenAccount(5, &netparams.MainNetParams, privPassphrase)
	require.True(t, IsError(err, ErrAccountNotFound))
}

func TestOpenAccountCorruptCiphertext(t *testing.T) {
	manager := testCreateManager(t)

	// A correct passphrase over corrupted ciphertext fails as ErrCrypto.
	// With ErrWrongPassphrase this forms the authentication failure
	// family; neither code reveals which layer rejected the attempt.
	manager.CryptoKeyPrivEnc[0] ^= 0xff
	_, err := manager.OpenAccount(0, &netparams.MainNetParams, privPassphrase)
	require.True(t, IsError(err, ErrCrypto))
}

func TestAcctKeys(t *testing.T) {
	manager := testCreateManager(t)

	privKey, err := manager.AcctPrivateKey(0, &netparams.MainNetParams,
		privPassphrase)
	require.NoError(t, err)
	defer privKey.Zero()
	require.True(t, privKey.IsPrivate())

	pubKey, err := manager.AcctPublicKey(0, &netparams.MainNetParams,
		pubPassphrase)
	require.NoError(t, err)
	defer pubKey.Zero()
	require.False(t, pubKey.IsPrivate())

	// The stored public key is the neutered counterpart of the private
	// key.
	neutered, err := privKey.Neuter()
	require.NoError(t, err)
	require.Equal(t, neutered.String(), pubKey.String())

	_, err = manager.AcctPublicKey(0, &netparams.MainNetParams,
		[]byte("not the passphrase"))
	require.True(t, IsError(err, ErrWrongPassphrase))
}

func TestSetSecretKeyGen(t *testing.T) {
	defaultKeyGen := SetSecretKeyGen(nil)
	require.NotNil(t, defaultKeyGen)

	var used bool
	keyGen := func(passphrase *[]byte, config *ScryptOptions) (*snacl.SecretKey, error) {
		used = true
		return snacl.NewSecretKey(passphrase, FastScryptOptions.N,
			FastScryptOptions.R, FastScryptOptions.P)
	}
	SetSecretKeyGen(keyGen)
	defer SetSecretKeyGen(defaultKeyGen)

	_, err := Create(managerSeed, pubPassphrase, privPassphrase,
		&netparams.MainNetParams, nil)
	require.NoError(t, err)
	require.True(t, used)
}
