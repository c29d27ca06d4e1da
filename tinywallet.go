package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rstaudt2/tinydecred/wallet"
)

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the
// program can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	log.Infof("Version %s", version())

	// Create the wallet if requested and exit.
	if cfg.CreateTemp {
		if err := createSimulationWallet(cfg); err != nil {
			log.Errorf("Unable to create simulation wallet: %v", err)
			return err
		}
		return nil
	}
	if cfg.Create {
		if err := createWallet(cfg); err != nil {
			log.Errorf("Unable to create wallet: %v", err)
			return err
		}
		return nil
	}

	if cfg.NoInitialLoad {
		log.Info("Initial wallet load deferred")
		return nil
	}

	dbDir := networkDir(cfg.AppDataDir.Value, activeNet)
	loader := wallet.NewLoader(activeNet, dbDir)

	exists, err := loader.WalletExists()
	if err != nil {
		log.Errorf("Unable to check for wallet database: %v", err)
		return err
	}
	if !exists {
		err := fmt.Errorf("the wallet does not exist, run with the " +
			"--create option to initialize and create it")
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	w, err := loader.OpenExistingWallet()
	if err != nil {
		log.Errorf("Unable to open wallet: %v", err)
		return err
	}
	log.Infof("Opened wallet with %d account(s) on %s",
		len(w.Manager.Accounts), activeNet.Name)
	for i := range w.Manager.Accounts {
		addr, err := w.CurrentAddress(i)
		if err != nil {
			log.Warnf("Account %d has no payment address yet", i)
			continue
		}
		log.Infof("Account %d payment address: %s", i, addr)
	}

	// Block until an interrupt signal is received, then shut down
	// cleanly.
	interrupt := interruptListener()
	<-interrupt

	if err := loader.UnloadWallet(); err != nil && err != wallet.ErrNotLoaded {
		log.Errorf("Unable to close wallet database: %v", err)
		return err
	}
	log.Info("Shutdown complete")
	return nil
}
