package acctmgr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstaudt2/tinydecred/walletdb"
	_ "github.com/rstaudt2/tinydecred/walletdb/bdb"
)

// testBookkeptAccount returns a closed account populated with addresses,
// activity, and UTXOs so serialization covers every durable field.
func testBookkeptAccount() *Account {
	account := NewAccount([]byte("pub-enc"), []byte("priv-enc"), "savings")
	account.LastExternalIndex = 2
	account.LastInternalIndex = 0
	account.ExternalAddresses = []string{"ext0", "ext1", "ext2"}
	account.InternalAddresses = []string{"int0"}
	account.Cursor = 1
	account.Balance = Balance{Total: 300, Available: 100}
	account.AddTx("ext0", "feedbeef")
	account.AddTx("ext0", "beefcafe")
	account.AddTx("int0", "c0ffee")
	account.AddUTXO(&UTXO{Address: "ext0", TxID: "feedbeef", Vout: 0,
		Amount: 100, Height: 50})
	account.AddUTXO(&UTXO{Address: "int0", TxID: "c0ffee", Vout: 1,
		Amount: 200, Height: 90, Maturity: 190})
	return account
}

func TestSerializeAccountRoundTrip(t *testing.T) {
	account := testBookkeptAccount()

	got, err := deserializeAccount(serializeAccount(account))
	require.NoError(t, err)

	require.Equal(t, account.PubKeyEncrypted, got.PubKeyEncrypted)
	require.Equal(t, account.PrivKeyEncrypted, got.PrivKeyEncrypted)
	require.Equal(t, account.Name, got.Name)
	require.Equal(t, account.LastExternalIndex, got.LastExternalIndex)
	require.Equal(t, account.LastInternalIndex, got.LastInternalIndex)
	require.Equal(t, account.Cursor, got.Cursor)
	require.Equal(t, account.ExternalAddresses, got.ExternalAddresses)
	require.Equal(t, account.InternalAddresses, got.InternalAddresses)
	require.Equal(t, account.Balance, got.Balance)
	require.Equal(t, account.Txs, got.Txs)
	require.Equal(t, account.UTXOs, got.UTXOs)

	// Deserialized accounts are closed.
	require.False(t, got.IsOpen())
}

func TestSerializeFreshAccount(t *testing.T) {
	account := NewAccount(nil, nil, DefaultAccountName)

	got, err := deserializeAccount(serializeAccount(account))
	require.NoError(t, err)
	require.Equal(t, int32(-1), got.LastExternalIndex)
	require.Equal(t, int32(-1), got.LastInternalIndex)
	require.Empty(t, got.ExternalAddresses)
	require.NotNil(t, got.Txs)
	require.NotNil(t, got.UTXOs)
}

func TestDeserializeAccountMalformed(t *testing.T) {
	serialized := serializeAccount(testBookkeptAccount())

	// Truncation anywhere must surface as a database error, never a
	// panic.
	for _, cut := range []int{0, 1, 5, len(serialized) / 2, len(serialized) - 1} {
		_, err := deserializeAccount(serialized[:cut])
		require.True(t, IsError(err, ErrDatabase), "cut at %d", cut)
	}
}

func TestAccountManagerStorage(t *testing.T) {
	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	manager := &AccountManager{
		CryptoKeyPubEnc:         []byte("ckpub"),
		CryptoKeyPrivEnc:        []byte("ckpriv"),
		CryptoKeyScriptEnc:      []byte("ckscript"),
		CoinTypeLegacyPubEnc:    []byte("ctlpub"),
		CoinTypeLegacyPrivEnc:   []byte("ctlpriv"),
		CoinTypeSLIP0044PubEnc:  []byte("ctspub"),
		CoinTypeSLIP0044PrivEnc: []byte("ctspriv"),
		BaseAccount:             NewAccount([]byte("bp"), []byte("bs"), DefaultAccountName),
		PrivParams:              []byte("privparams"),
		PubParams:               []byte("pubparams"),
	}
	manager.AddAccount(testBookkeptAccount())
	manager.AddAccount(NewAccount([]byte("p1"), []byte("s1"), "second"))

	namespaceKey := []byte("acctmgrtest")
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		return PutAccountManager(ns, manager)
	})
	require.NoError(t, err)

	var got *AccountManager
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		var err error
		got, err = FetchAccountManager(tx.ReadBucket(namespaceKey))
		return err
	})
	require.NoError(t, err)

	require.Equal(t, manager.CryptoKeyPubEnc, got.CryptoKeyPubEnc)
	require.Equal(t, manager.CryptoKeyPrivEnc, got.CryptoKeyPrivEnc)
	require.Equal(t, manager.CryptoKeyScriptEnc, got.CryptoKeyScriptEnc)
	require.Equal(t, manager.CoinTypeLegacyPubEnc, got.CoinTypeLegacyPubEnc)
	require.Equal(t, manager.CoinTypeSLIP0044PrivEnc, got.CoinTypeSLIP0044PrivEnc)
	require.Equal(t, manager.PrivParams, got.PrivParams)
	require.Equal(t, manager.PubParams, got.PubParams)
	require.False(t, got.WatchingOnly)

	require.NotNil(t, got.BaseAccount)
	require.Equal(t, DefaultAccountName, got.BaseAccount.Name)

	// The ordered account list round trips with indexes intact.
	require.Len(t, got.Accounts, 2)
	first, err := got.Account(0)
	require.NoError(t, err)
	require.Equal(t, "savings", first.Name)
	require.Equal(t, manager.Accounts[0].UTXOs, first.UTXOs)
	second, err := got.Account(1)
	require.NoError(t, err)
	require.Equal(t, "second", second.Name)
}

func TestFetchAccountManagerMissing(t *testing.T) {
	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	namespaceKey := []byte("empty")
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(namespaceKey)
		return err
	})
	require.NoError(t, err)

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		_, err := FetchAccountManager(tx.ReadBucket(namespaceKey))
		return err
	})
	require.True(t, IsError(err, ErrDatabase))
}

func TestWatchingOnlyFlagRoundTrip(t *testing.T) {
	db, err := walletdb.Create("bdb", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	manager := &AccountManager{
		CryptoKeyPubEnc: []byte("ckpub"),
		PubParams:       []byte("pubparams"),
		WatchingOnly:    true,
	}

	namespaceKey := []byte("watchonly")
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		return PutAccountManager(ns, manager)
	})
	require.NoError(t, err)

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		got, err := FetchAccountManager(tx.ReadBucket(namespaceKey))
		if err != nil {
			return err
		}
		require.True(t, got.WatchingOnly)
		require.Nil(t, got.CryptoKeyPrivEnc)
		require.Nil(t, got.BaseAccount)
		return nil
	})
	require.NoError(t, err)
}
