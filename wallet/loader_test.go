package wallet

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstaudt2/tinydecred/acctmgr"
	"github.com/rstaudt2/tinydecred/netparams"
	"github.com/rstaudt2/tinydecred/snacl"
	_ "github.com/rstaudt2/tinydecred/walletdb/bdb"
)

var (
	testSeed, _ = hex.DecodeString("b280922d2b1e8a4d8a34d7bbaf1bdc774bbb" +
		"5e6ac3fd40f1b5a02a2b2b2b2b2b2b")
	testPubPass  = []byte(InsecurePubPassphrase)
	testPrivPass = []byte("81lUHXnOMGai")
)

// useFastScrypt swaps the production scrypt parameters for cheap ones for
// the duration of the test.
func useFastScrypt(t *testing.T) {
	t.Helper()

	restore := acctmgr.SetSecretKeyGen(
		func(passphrase *[]byte, config *acctmgr.ScryptOptions) (*snacl.SecretKey, error) {
			return snacl.NewSecretKey(passphrase,
				acctmgr.FastScryptOptions.N,
				acctmgr.FastScryptOptions.R,
				acctmgr.FastScryptOptions.P)
		})
	t.Cleanup(func() { acctmgr.SetSecretKeyGen(restore) })
}

func TestLoaderLifecycle(t *testing.T) {
	useFastScrypt(t)
	dir := t.TempDir()
	loader := NewLoader(&netparams.SimNetParams, dir)

	exists, err := loader.WalletExists()
	require.NoError(t, err)
	require.False(t, exists)

	_, loaded := loader.LoadedWallet()
	require.False(t, loaded)

	w, err := loader.CreateNewWallet(testPubPass, testPrivPass, testSeed)
	require.NoError(t, err)
	require.NotNil(t, w)

	exists, err = loader.WalletExists()
	require.NoError(t, err)
	require.True(t, exists)

	// A loader holds at most one wallet.
	_, err = loader.CreateNewWallet(testPubPass, testPrivPass, testSeed)
	require.ErrorIs(t, err, ErrLoaded)
	_, err = loader.OpenExistingWallet()
	require.ErrorIs(t, err, ErrLoaded)

	// The freshly created wallet already has a payment address on the
	// zeroth account.
	addr, err := w.CurrentAddress(0)
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	require.NoError(t, loader.UnloadWallet())
	require.ErrorIs(t, loader.UnloadWallet(), ErrNotLoaded)

	// Creating again over an existing database must refuse rather than
	// clobber the wallet file.
	fresh := NewLoader(&netparams.SimNetParams, dir)
	_, err = fresh.CreateNewWallet(testPubPass, testPrivPass, testSeed)
	require.ErrorIs(t, err, ErrExists)

	// The wallet reopens with its persisted state intact.
	reopened, err := fresh.OpenExistingWallet()
	require.NoError(t, err)
	defer fresh.UnloadWallet()

	current, err := reopened.CurrentAddress(0)
	require.NoError(t, err)
	require.Equal(t, addr, current)
	require.NotNil(t, reopened.Manager.BaseAccount)
}

func TestNextAddressPersists(t *testing.T) {
	useFastScrypt(t)
	dir := t.TempDir()

	loader := NewLoader(&netparams.SimNetParams, dir)
	w, err := loader.CreateNewWallet(testPubPass, testPrivPass, testSeed)
	require.NoError(t, err)

	first, err := w.CurrentAddress(0)
	require.NoError(t, err)

	next, err := w.NextAddress(0, testPrivPass)
	require.NoError(t, err)
	require.NotEqual(t, first, next)

	change, err := w.ChangeAddress(0, testPrivPass)
	require.NoError(t, err)
	require.NotEqual(t, next, change)

	// A wrong passphrase must not touch the cursor.
	_, err = w.NextAddress(0, []byte("wrong"))
	require.True(t, acctmgr.IsError(err, acctmgr.ErrWrongPassphrase))

	require.NoError(t, loader.UnloadWallet())

	// The advanced cursor and the change address survive a reload.
	reopened, err := NewLoader(&netparams.SimNetParams, dir).OpenExistingWallet()
	require.NoError(t, err)
	current, err := reopened.CurrentAddress(0)
	require.NoError(t, err)
	require.Equal(t, next, current)

	account, err := reopened.Manager.Account(0)
	require.NoError(t, err)
	require.Len(t, account.InternalAddresses, 1)
}

func TestCalculateBalance(t *testing.T) {
	useFastScrypt(t)
	loader := NewLoader(&netparams.SimNetParams, t.TempDir())
	w, err := loader.CreateNewWallet(testPubPass, testPrivPass, testSeed)
	require.NoError(t, err)
	defer loader.UnloadWallet()

	account, err := w.Manager.Account(0)
	require.NoError(t, err)
	account.AddUTXO(&acctmgr.UTXO{Address: account.ExternalAddresses[0],
		TxID: "feedbeef", Vout: 0, Amount: 100, Height: 10})
	account.AddUTXO(&acctmgr.UTXO{Address: account.ExternalAddresses[0],
		TxID: "c0ffee", Vout: 0, Amount: 50})

	balance, err := w.CalculateBalance(0, 20)
	require.NoError(t, err)
	require.EqualValues(t, 150, balance.Total)
	require.EqualValues(t, 100, balance.Available)

	total, err := w.TotalReceived(0)
	require.NoError(t, err)
	require.EqualValues(t, 150, total)
}
