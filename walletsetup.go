package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/rstaudt2/tinydecred/internal/prompt"
	"github.com/rstaudt2/tinydecred/internal/zero"
	"github.com/rstaudt2/tinydecred/netparams"
	"github.com/rstaudt2/tinydecred/wallet"
	"github.com/rstaudt2/tinydecred/walletdb"
	_ "github.com/rstaudt2/tinydecred/walletdb/bdb"
)

// networkDir returns the directory name of a network directory to hold
// wallet files.
func networkDir(dataDir string, chainParams *netparams.Params) string {
	netname := chainParams.Name

	// For now, we must always name the testnet data directory as "testnet"
	// and not "testnet3" or any other version, as the chaincfg testnet3
	// paramaters will likely be switched to being named "testnet3" in the
	// future.  This is done to future proof that change, and an upgrade
	// plan to move the testnet3 data directory can be worked out later.
	if chainParams.Net == wire.TestNet3 {
		netname = "testnet"
	}

	return filepath.Join(dataDir, netname)
}

// createWallet prompts the user for information needed to generate a new
// wallet and generates the wallet accordingly.  The new wallet will reside
// at the provided path.
func createWallet(cfg *config) error {
	dbDir := networkDir(cfg.AppDataDir.Value, activeNet)
	loader := wallet.NewLoader(activeNet, dbDir)

	// Start by prompting for the private passphrase.
	reader := bufio.NewReader(os.Stdin)
	privPass, err := prompt.PrivatePass(reader)
	if err != nil {
		return err
	}
	defer zero.Bytes(privPass)

	// Ascertain the public passphrase.  This will either be a value
	// specified by the user or the default hard-coded public passphrase
	// if the user does not want the additional public data encryption.
	pubPass, err := prompt.PublicPass(reader, privPass,
		[]byte(wallet.InsecurePubPassphrase), []byte(cfg.WalletPass))
	if err != nil {
		return err
	}

	// Ascertain the wallet generation seed.  This will either be an
	// automatically generated value the user has already confirmed or a
	// value the user has entered which has already been validated.
	seed, err := prompt.Seed(reader)
	if err != nil {
		return err
	}
	defer zero.Bytes(seed)

	fmt.Println("Creating the wallet...")
	w, err := loader.CreateNewWallet(pubPass, privPass, seed)
	if err != nil {
		return err
	}

	// Pre-generate the configured number of lookahead addresses for the
	// zeroth account so restored wallets can be recognized on chain.
	if cfg.GapLimit > 0 {
		account, err := w.Manager.OpenAccount(0, activeNet, privPass)
		if err != nil {
			return err
		}
		err = account.GenerateGapAddresses(cfg.GapLimit)
		account.Close()
		if err != nil {
			return err
		}
		if err := w.Save(); err != nil {
			return err
		}
	}

	if err := loader.UnloadWallet(); err != nil {
		return err
	}
	fmt.Println("The wallet has been created successfully.")
	return nil
}

// createSimulationWallet creates a wallet for actors involved in
// simulations, skipping the interactive prompts.
func createSimulationWallet(cfg *config) error {
	// Simulation wallet password is 'password'.
	privPass := []byte("password")

	// Public passphrase is the default.
	pubPass := []byte(wallet.InsecurePubPassphrase)

	// Generate a random seed.
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return err
	}
	defer zero.Bytes(seed)

	netDir := networkDir(cfg.AppDataDir.Value, activeNet)
	if err := os.MkdirAll(netDir, 0700); err != nil {
		return err
	}

	// Create the wallet.
	dbPath := filepath.Join(netDir, wallet.WalletDbName)
	fmt.Println("Creating the wallet...")

	// Create the wallet database backed by bolt db.
	db, err := walletdb.Create("bdb", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	// Create the wallet.
	_, err = wallet.Create(db, pubPass, privPass, seed, activeNet)
	if err != nil {
		return err
	}

	fmt.Println("The wallet has been created successfully.")
	return nil
}
