// Package wallet ties the account manager to a wallet database, providing
// a durable wallet that survives restarts.  All mutating operations write
// through to the database so on-disk state always reflects the last
// completed operation.
package wallet

import (
	"github.com/btcsuite/btcutil"
	"github.com/rstaudt2/tinydecred/acctmgr"
	"github.com/rstaudt2/tinydecred/netparams"
	"github.com/rstaudt2/tinydecred/walletdb"
)

const (
	// InsecurePubPassphrase is the default public passphrase used for the
	// wallet.  Wallets remain encrypted by the private passphrase; using
	// a non-default public passphrase only hides public data such as
	// addresses from an attacker with read access to the wallet file.
	InsecurePubPassphrase = "public"
)

// acctmgrNamespaceKey is the top level bucket all account manager state is
// stored under.
var acctmgrNamespaceKey = []byte("acctmgr")

// Wallet is a durable wallet bound to a single network.  It owns the
// database handle and the account manager loaded from it.
type Wallet struct {
	Manager *acctmgr.AccountManager

	db          walletdb.DB
	chainParams *netparams.Params
}

// ChainParams returns the network parameters the wallet belongs to.
func (w *Wallet) ChainParams() *netparams.Params {
	return w.chainParams
}

// Database returns the underlying wallet database.
func (w *Wallet) Database() walletdb.DB {
	return w.db
}

// Save writes the account manager and all account bookkeeping to the
// database.
func (w *Wallet) Save() error {
	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(acctmgrNamespaceKey)
		if err != nil {
			return err
		}
		return acctmgr.PutAccountManager(ns, w.Manager)
	})
}

// NextAddress opens the account at the provided index with the private
// passphrase, advances the cursor to return a fresh external address, and
// persists the new account state.  The account is closed again before
// returning.
func (w *Wallet) NextAddress(acctIdx int, privPassphrase []byte) (string, error) {
	account, err := w.Manager.OpenAccount(acctIdx, w.chainParams,
		privPassphrase)
	if err != nil {
		return "", err
	}
	defer account.Close()

	addr, err := account.GetNextPaymentAddress()
	if err != nil {
		return "", err
	}
	if err := w.Save(); err != nil {
		return "", err
	}
	return addr, nil
}

// CurrentAddress returns the external address at the account's cursor
// without generating a new one.  The account must have at least one
// generated address, which wallet creation guarantees for the accounts it
// creates.
func (w *Wallet) CurrentAddress(acctIdx int) (string, error) {
	account, err := w.Manager.Account(acctIdx)
	if err != nil {
		return "", err
	}
	return account.PaymentAddress()
}

// ChangeAddress opens the account at the provided index, generates a fresh
// internal branch address, and persists the new account state.
func (w *Wallet) ChangeAddress(acctIdx int, privPassphrase []byte) (string, error) {
	account, err := w.Manager.OpenAccount(acctIdx, w.chainParams,
		privPassphrase)
	if err != nil {
		return "", err
	}
	defer account.Close()

	addr, degenerate, err := account.GetChangeAddress()
	if err != nil {
		return "", err
	}
	if degenerate {
		log.Warnf("Generated degenerate change address for account %d",
			acctIdx)
	}
	if err := w.Save(); err != nil {
		return "", err
	}
	return addr, nil
}

// CalculateBalance recomputes and returns the balance of the account at the
// provided index as of the given tip height, persisting the updated
// account state.
func (w *Wallet) CalculateBalance(acctIdx int, tipHeight int32) (acctmgr.Balance, error) {
	account, err := w.Manager.Account(acctIdx)
	if err != nil {
		return acctmgr.Balance{}, err
	}
	bal := account.CalcBalance(tipHeight)
	if err := w.Save(); err != nil {
		return acctmgr.Balance{}, err
	}
	return bal, nil
}

// TotalReceived sums the amounts of every unspent output the account at
// the provided index controls, regardless of maturity.
func (w *Wallet) TotalReceived(acctIdx int) (btcutil.Amount, error) {
	account, err := w.Manager.Account(acctIdx)
	if err != nil {
		return 0, err
	}

	var total btcutil.Amount
	for _, utxo := range account.UTXOScan() {
		total += utxo.Amount
	}
	return total, nil
}

// Create creates a new wallet in the provided database using the supplied
// seed and passphrases, then persists it.  The database must be initialized
// but otherwise empty.
func Create(db walletdb.DB, pubPass, privPass, seed []byte,
	params *netparams.Params) (*Wallet, error) {

	manager, err := acctmgr.Create(seed, pubPass, privPass, params, nil)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		Manager:     manager,
		db:          db,
		chainParams: params,
	}
	if err := w.Save(); err != nil {
		return nil, err
	}
	return w, nil
}

// Open loads an already-created wallet from the passed database.
func Open(db walletdb.DB, params *netparams.Params) (*Wallet, error) {
	var manager *acctmgr.AccountManager
	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(acctmgrNamespaceKey)
		if ns == nil {
			return ErrNotLoaded
		}
		var err error
		manager, err = acctmgr.FetchAccountManager(ns)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Wallet{
		Manager:     manager,
		db:          db,
		chainParams: params,
	}, nil
}
