package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rstaudt2/tinydecred/netparams"
	"github.com/rstaudt2/tinydecred/walletdb"
)

const (
	// WalletDbName is the name of the wallet database file within the
	// network directory.
	WalletDbName = "wallet.db"
)

var (
	// ErrLoaded describes the error condition of attempting to load or
	// create a wallet when the loader has already done so.
	ErrLoaded = errors.New("wallet already loaded")

	// ErrNotLoaded describes the error condition of attempting to close
	// a loaded wallet when a wallet has not been loaded.
	ErrNotLoaded = errors.New("wallet is not loaded")

	// ErrExists describes the error condition of attempting to create a
	// new wallet when one exists already.
	ErrExists = errors.New("wallet already exists")
)

// Loader implements the creating of new and opening of existing wallets.
// This is intended to be used by the main package to synchronize loading a
// wallet for the long running wallet process.
//
// Loader is safe for concurrent access.
type Loader struct {
	chainParams *netparams.Params
	dbDirPath   string
	wallet      *Wallet
	db          walletdb.DB
	mu          sync.Mutex
}

// NewLoader constructs a Loader with an associated network and wallet
// database directory.
func NewLoader(chainParams *netparams.Params, dbDirPath string) *Loader {
	return &Loader{
		chainParams: chainParams,
		dbDirPath:   dbDirPath,
	}
}

// checkCreateDir checks that the path exists and is a directory.  If the
// path does not exist, it is created.
func checkCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Attempt data directory creation.
			if err = os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %s", err)
			}
		} else {
			return fmt.Errorf("error checking directory: %s", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("path '%s' is not a directory", path)
		}
	}

	return nil
}

// CreateNewWallet creates a new wallet using the provided public and
// private passphrases and seed.
func (l *Loader) CreateNewWallet(pubPassphrase, privPassphrase,
	seed []byte) (*Wallet, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	dbPath := filepath.Join(l.dbDirPath, WalletDbName)
	exists, err := fileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrExists
	}

	// Create the wallet database backed by bolt db.
	err = checkCreateDir(l.dbDirPath)
	if err != nil {
		return nil, err
	}
	db, err := walletdb.Create("bdb", dbPath)
	if err != nil {
		return nil, err
	}

	// Initialize the newly created database for the wallet before
	// opening.
	w, err := Create(db, pubPassphrase, privPassphrase, seed,
		l.chainParams)
	if err != nil {
		db.Close()
		return nil, err
	}

	l.wallet = w
	l.db = db
	return w, nil
}

// OpenExistingWallet opens the wallet from the loader's wallet database
// path.
func (l *Loader) OpenExistingWallet() (*Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	// Ensure that the network directory exists.
	if err := checkCreateDir(l.dbDirPath); err != nil {
		return nil, err
	}

	// Open the database using the boltdb backend.
	dbPath := filepath.Join(l.dbDirPath, WalletDbName)
	db, err := walletdb.Open("bdb", dbPath)
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return nil, err
	}

	w, err := Open(db, l.chainParams)
	if err != nil {
		db.Close()
		return nil, err
	}

	l.wallet = w
	l.db = db
	return w, nil
}

// WalletExists returns whether a file exists at the loader's database path.
// This may return an error for unexpected I/O failures.
func (l *Loader) WalletExists() (bool, error) {
	dbPath := filepath.Join(l.dbDirPath, WalletDbName)
	return fileExists(dbPath)
}

// LoadedWallet returns the loaded wallet, if any, and a bool for whether
// the wallet has been loaded or not.  If true, the wallet pointer should be
// safe to dereference.
func (l *Loader) LoadedWallet() (*Wallet, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wallet, l.wallet != nil
}

// UnloadWallet stops the loaded wallet, if any, and closes the wallet
// database.  Returns ErrNotLoaded if the wallet has not been loaded with
// CreateNewWallet or OpenExistingWallet.
func (l *Loader) UnloadWallet() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	err := l.db.Close()
	if err != nil {
		return err
	}

	l.wallet = nil
	l.db = nil
	return nil
}

func fileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}
