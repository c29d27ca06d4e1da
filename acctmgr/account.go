package acctmgr

import (
	"errors"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/rstaudt2/tinydecred/internal/zero"
	"github.com/rstaudt2/tinydecred/keychain"
	"github.com/rstaudt2/tinydecred/netparams"
)

// CrazyAddress is the sentinel placeholder recorded when deriving the child
// key for an index fails.  The failure is statistically near-impossible,
// but address generation must never block the wallet, so the index is
// burned and generation continues at the next one.  Generator methods
// additionally report the substitution so callers never need to compare
// against this string.
const CrazyAddress = "CRAZYADDRESS"

// addressTrailSize is the number of recent external addresses around the
// cursor that are always included in the set a chain-sync backend should
// watch.
const addressTrailSize = 10

// decodeExtendedKey is the parser used to decode an account's decrypted
// extended key serialization.  It is a variable so tests can substitute a
// deterministic implementation.
var decodeExtendedKey = keychain.DecodeExtendedKey

// mempoolEntry pairs a transaction suspected of being in mempool with the
// time the wallet first saw it.
type mempoolEntry struct {
	tx       Transaction
	received time.Time
}

// Account is a single BIP0044 account.  Keys are stored as encrypted
// serializations, so the account is safe to persist.  While the account is
// open the decrypted private extended key and the derived branch public
// keys are held in memory; Close zeroes and drops them.
type Account struct {
	// PubKeyEncrypted and PrivKeyEncrypted are the encrypted
	// serializations of the account's extended keys.  The plaintext keys
	// never appear here.
	PubKeyEncrypted  []byte
	PrivKeyEncrypted []byte

	// Name is the human-readable account name.
	Name string

	// LastExternalIndex and LastInternalIndex track the highest derived
	// child index of each branch, or -1 when no address has been derived
	// yet.  The invariant len(addresses) == lastIndex+1 holds at all
	// times for each branch.
	LastExternalIndex int32
	LastInternalIndex int32

	// ExternalAddresses and InternalAddresses are the derived payment
	// and change addresses, dense from child index 0.  The lists only
	// ever grow.
	ExternalAddresses []string
	InternalAddresses []string

	// Cursor is the position of the current payment address within
	// ExternalAddresses.  It is independent of the generation frontier
	// tracked by LastExternalIndex.
	Cursor int

	// Balance is the last calculated balance.  It is overwritten, never
	// merged, by CalcBalance.
	Balance Balance

	// Txs maps an address to the ordered list of transaction ids known
	// to touch it.
	Txs map[string][]string

	// UTXOs maps an outpoint to the unspent output it identifies.
	UTXOs map[OutPoint]*UTXO

	// mempool tracks transactions suspected of being unconfirmed, keyed
	// by transaction id.  It is runtime state and is not persisted.
	mempool map[string]mempoolEntry

	// The network parameters and decrypted keys below are only set while
	// the account is open.
	net     *netparams.Params
	privKey keychain.ExtendedKey
	pubKey  keychain.ExtendedKey
	extPub  keychain.ExtendedKey
	intPub  keychain.ExtendedKey

	clk clock.Clock
}

// NewAccount returns a closed account with the given encrypted extended key
// serializations and name.
func NewAccount(pubKeyEncrypted, privKeyEncrypted []byte, name string) *Account {
	return &Account{
		PubKeyEncrypted:   pubKeyEncrypted,
		PrivKeyEncrypted:  privKeyEncrypted,
		Name:              name,
		LastExternalIndex: -1,
		LastInternalIndex: -1,
		Txs:               make(map[string][]string),
		UTXOs:             make(map[OutPoint]*UTXO),
		mempool:           make(map[string]mempoolEntry),
		clk:               clock.NewDefaultClock(),
	}
}

// IsOpen returns whether the account currently holds its decrypted keys in
// memory.
func (a *Account) IsOpen() bool {
	return a.privKey != nil
}

// SetClock replaces the account's mempool timestamp source.  Accounts start
// with the wall clock; tests swap in a mock.
func (a *Account) SetClock(clk clock.Clock) {
	a.clk = clk
}

// PrivateExtendedKey decrypts and decodes the account's private extended
// key using the provided crypto key.  The caller owns the returned key and
// is responsible for zeroing it.
func (a *Account) PrivateExtendedKey(net *netparams.Params, cryptoKey EncryptorDecryptor) (keychain.ExtendedKey, error) {
	serialized, err := cryptoKey.Decrypt(a.PrivKeyEncrypted)
	if err != nil {
		str := "failed to decrypt account private extended key"
		return nil, managerError(ErrCrypto, str, err)
	}
	defer zero.Bytes(serialized)

	key, err := decodeExtendedKey(net, string(serialized))
	if err != nil {
		str := "failed to decode account private extended key"
		return nil, managerError(ErrCrypto, str, err)
	}
	return key, nil
}

// PublicExtendedKey decrypts and decodes the account's public extended key
// using the provided crypto key.
func (a *Account) PublicExtendedKey(net *netparams.Params, cryptoKey EncryptorDecryptor) (keychain.ExtendedKey, error) {
	serialized, err := cryptoKey.Decrypt(a.PubKeyEncrypted)
	if err != nil {
		str := "failed to decrypt account public extended key"
		return nil, managerError(ErrCrypto, str, err)
	}
	defer zero.Bytes(serialized)

	key, err := decodeExtendedKey(net, string(serialized))
	if err != nil {
		str := "failed to decode account public extended key"
		return nil, managerError(ErrCrypto, str, err)
	}
	return key, nil
}

// Open decrypts the account's private extended key with the provided crypto
// key and derives the session keys served while the account is open: the
// neutered public key and the external and internal branch public keys.
// Opening an already open account re-derives the session keys and erases
// the previously cached ones.
func (a *Account) Open(net *netparams.Params, cryptoKeyPriv EncryptorDecryptor) error {
	privKey, err := a.PrivateExtendedKey(net, cryptoKeyPriv)
	if err != nil {
		return err
	}

	pubKey, err := privKey.Neuter()
	if err != nil {
		privKey.Zero()
		str := "failed to neuter account private key"
		return managerError(ErrCrypto, str, err)
	}

	extPub, err := pubKey.Child(keychain.ExternalBranch)
	if err != nil {
		privKey.Zero()
		pubKey.Zero()
		str := "failed to derive external branch key"
		return managerError(ErrKeyRange, str, err)
	}

	intPub, err := pubKey.Child(keychain.InternalBranch)
	if err != nil {
		privKey.Zero()
		pubKey.Zero()
		extPub.Zero()
		str := "failed to derive internal branch key"
		return managerError(ErrKeyRange, str, err)
	}

	// Re-opening replaces the cached session keys, so the previous ones
	// must be erased first, not just dereferenced.
	a.Close()

	a.net = net
	a.privKey = privKey
	a.pubKey = pubKey
	a.extPub = extPub
	a.intPub = intPub
	return nil
}

// Close zeroes every decrypted key buffer held by the account and drops the
// references.  Closing a closed account is a no-op.
func (a *Account) Close() {
	if a.privKey != nil {
		a.privKey.Zero()
		a.pubKey.Zero()
		a.extPub.Zero()
		a.intPub.Zero()
	}
	a.privKey = nil
	a.pubKey = nil
	a.extPub = nil
	a.intPub = nil
}

// GenerateNextPaymentAddress derives the external address at the next child
// index and appends it to the external address list.  The cursor is not
// moved.  The boolean result reports whether a derivation-range failure
// forced substitution of the CrazyAddress placeholder; the index is still
// consumed in that case so generation can never stall.
func (a *Account) GenerateNextPaymentAddress() (string, bool, error) {
	if a.extPub == nil {
		str := "cannot generate addresses on a closed account"
		return "", false, managerError(ErrNotOpen, str, nil)
	}
	if len(a.ExternalAddresses) != int(a.LastExternalIndex)+1 {
		str := "index-address length mismatch"
		return "", false, managerError(ErrConsistency, str, nil)
	}

	idx := a.LastExternalIndex + 1
	degenerate := false
	addr, err := a.extPub.DeriveChildAddress(uint32(idx), a.net)
	if err != nil {
		if !errors.Is(err, keychain.ErrInvalidChild) {
			str := "failed to derive external address"
			return "", false, managerError(ErrKeyRange, str, err)
		}
		log.Warnf("Address generation failed for external index %d, "+
			"substituting placeholder", idx)
		addr = CrazyAddress
		degenerate = true
	}

	a.ExternalAddresses = append(a.ExternalAddresses, addr)
	a.LastExternalIndex = idx
	return addr, degenerate, nil
}

// GetNextPaymentAddress advances the cursor by one, generating external
// addresses as needed until the cursor is in range, and returns the address
// at the cursor.  This is the operation a wallet uses to hand the user a
// fresh payment address.
func (a *Account) GetNextPaymentAddress() (string, error) {
	a.Cursor++
	for a.Cursor >= len(a.ExternalAddresses) {
		if _, _, err := a.GenerateNextPaymentAddress(); err != nil {
			a.Cursor--
			return "", err
		}
	}
	return a.ExternalAddresses[a.Cursor], nil
}

// PaymentAddress returns the external address at the cursor without moving
// the cursor.
func (a *Account) PaymentAddress() (string, error) {
	if a.Cursor >= len(a.ExternalAddresses) {
		str := "cursor points beyond the generated address list"
		return "", managerError(ErrConsistency, str, nil)
	}
	return a.ExternalAddresses[a.Cursor], nil
}

// GetChangeAddress derives a fresh internal branch address.  Callers are
// expected to use each change address only once.  The boolean result has
// the same meaning as for GenerateNextPaymentAddress.
func (a *Account) GetChangeAddress() (string, bool, error) {
	if a.intPub == nil {
		str := "cannot generate a change address on a closed account"
		return "", false, managerError(ErrNotOpen, str, nil)
	}
	if len(a.InternalAddresses) != int(a.LastInternalIndex)+1 {
		str := "index-address length mismatch while generating change address"
		return "", false, managerError(ErrConsistency, str, nil)
	}

	idx := a.LastInternalIndex + 1
	degenerate := false
	addr, err := a.intPub.DeriveChildAddress(uint32(idx), a.net)
	if err != nil {
		if !errors.Is(err, keychain.ErrInvalidChild) {
			str := "failed to derive internal address"
			return "", false, managerError(ErrKeyRange, str, err)
		}
		log.Warnf("Address generation failed for internal index %d, "+
			"substituting placeholder", idx)
		addr = CrazyAddress
		degenerate = true
	}

	a.InternalAddresses = append(a.InternalAddresses, addr)
	a.LastInternalIndex = idx
	return addr, degenerate, nil
}

// GenerateGapAddresses extends the external address list until at least gap
// addresses exist past the highest external index with known transaction
// activity.  The cursor is not moved.  This keeps a lookahead window of
// unused addresses available to a syncing backend for activity discovery.
// If the account is closed no derivation is possible, so a warning is
// logged and nothing is generated.
func (a *Account) GenerateGapAddresses(gap int) error {
	if a.extPub == nil {
		log.Warnf("Attempt to generate gap addresses on a closed account")
		return nil
	}

	extIndexes := make(map[string]int, len(a.ExternalAddresses))
	for i, addr := range a.ExternalAddresses {
		extIndexes[addr] = i
	}
	highest := 0
	for addr := range a.Txs {
		if idx, ok := extIndexes[addr]; ok && idx > highest {
			highest = idx
		}
	}

	tip := highest + gap
	for len(a.ExternalAddresses) < tip {
		if _, _, err := a.GenerateNextPaymentAddress(); err != nil {
			return err
		}
	}
	return nil
}

// AddressesOfInterest returns the set of addresses a chain-sync backend
// should watch on the account's behalf: every address currently owning a
// UTXO plus a trailing window of recent external addresses around the
// cursor.  The result is sorted for determinism.
func (a *Account) AddressesOfInterest() []string {
	seen := make(map[string]struct{})
	for _, utxo := range a.UTXOs {
		seen[utxo.Address] = struct{}{}
	}

	start := a.Cursor - addressTrailSize
	if start < 0 {
		start = 0
	}
	for i := start; i <= a.Cursor && i < len(a.ExternalAddresses); i++ {
		seen[a.ExternalAddresses[i]] = struct{}{}
	}

	addrs := make([]string, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// AllAddresses returns every known address for the account, internal
// branch first.
func (a *Account) AllAddresses() []string {
	all := make([]string, 0, len(a.InternalAddresses)+len(a.ExternalAddresses))
	all = append(all, a.InternalAddresses...)
	all = append(all, a.ExternalAddresses...)
	return all
}

// AddTx appends the transaction id to the address's activity list.  Adding
// an id already present for the address is a no-op.
func (a *Account) AddTx(addr, txid string) {
	for _, known := range a.Txs[addr] {
		if known == txid {
			return
		}
	}
	a.Txs[addr] = append(a.Txs[addr], txid)
}

// AddrTxs returns the known transaction ids for the provided address.
func (a *Account) AddrTxs(addr string) []string {
	return a.Txs[addr]
}

// AddMempoolTx indexes a transaction suspected of being in mempool,
// recording the time the wallet first saw it.
func (a *Account) AddMempoolTx(tx Transaction) {
	a.mempool[tx.TxID()] = mempoolEntry{tx: tx, received: a.clk.Now()}
}

// MempoolTx returns the mempool transaction with the given id along with
// the time it was first seen.
func (a *Account) MempoolTx(txid string) (Transaction, time.Time, bool) {
	entry, ok := a.mempool[txid]
	return entry.tx, entry.received, ok
}

// ConfirmTx removes the transaction from the mempool index and sets the
// height on every UTXO already tracked under its transaction id.  Outputs
// of coinbase and stakebase transactions additionally receive a maturity
// height per the network's coinbase maturity window.
func (a *Account) ConfirmTx(tx Transaction, blockHeight int32) {
	txid := tx.TxID()
	delete(a.mempool, txid)
	for _, utxo := range a.UTXOsForTxID(txid) {
		utxo.Height = blockHeight
		if tx.LooksLikeCoinbase() {
			utxo.Maturity = blockHeight + int32(a.net.CoinbaseMaturity)
		}
	}
}

// AddUTXO adds the UTXO to the account.  An existing UTXO with the same
// outpoint is overwritten.
func (a *Account) AddUTXO(utxo *UTXO) {
	a.UTXOs[utxo.OutPoint()] = utxo
}

// GetUTXO returns the tracked UTXO with the given transaction id and output
// index, or nil when none is tracked.
func (a *Account) GetUTXO(txid string, vout uint32) *UTXO {
	return a.UTXOs[OutPoint{TxID: txid, Vout: vout}]
}

// UTXOScan returns a snapshot slice of all tracked UTXOs.  The UTXO set
// must not be modified while the caller iterates the snapshot's contents.
func (a *Account) UTXOScan() []*UTXO {
	utxos := make([]*UTXO, 0, len(a.UTXOs))
	for _, utxo := range a.UTXOs {
		utxos = append(utxos, utxo)
	}
	return utxos
}

// AddressUTXOs returns the tracked UTXOs paying to the provided address.
func (a *Account) AddressUTXOs(addr string) []*UTXO {
	var utxos []*UTXO
	for _, utxo := range a.UTXOs {
		if utxo.Address == addr {
			utxos = append(utxos, utxo)
		}
	}
	return utxos
}

// UTXOsForTxID returns the tracked UTXOs created by the transaction with
// the provided id.
func (a *Account) UTXOsForTxID(txid string) []*UTXO {
	var utxos []*UTXO
	for _, utxo := range a.UTXOs {
		if utxo.TxID == txid {
			utxos = append(utxos, utxo)
		}
	}
	return utxos
}

// HasUTXOWithTxID returns whether the account tracks any UTXO created by
// the transaction with the provided id.
func (a *Account) HasUTXOWithTxID(txid string) bool {
	for _, utxo := range a.UTXOs {
		if utxo.TxID == txid {
			return true
		}
	}
	return false
}

// CaresAboutTxid returns whether the account has the transaction in its
// mempool index or tracks any UTXO it created.
func (a *Account) CaresAboutTxid(txid string) bool {
	if _, ok := a.mempool[txid]; ok {
		return true
	}
	return a.HasUTXOWithTxID(txid)
}

// SpendTxidVout removes the UTXO with the given transaction id and output
// index, returning the removed UTXO or nil when no such UTXO was tracked.
// Spending an absent UTXO is deliberately a no-op so spend notifications
// can be replayed.
func (a *Account) SpendTxidVout(txid string, vout uint32) *UTXO {
	op := OutPoint{TxID: txid, Vout: vout}
	utxo := a.UTXOs[op]
	delete(a.UTXOs, op)
	return utxo
}

// SpendUTXOs removes the given UTXOs from the account.  Absent entries are
// skipped.
func (a *Account) SpendUTXOs(utxos []*UTXO) {
	for _, utxo := range utxos {
		delete(a.UTXOs, utxo.OutPoint())
	}
}

// CalcBalance recomputes the account balance from the live UTXO set.  The
// current best block height must be provided to separate outputs which are
// not yet mature.  The account's cached balance is overwritten with the
// result.
func (a *Account) CalcBalance(tipHeight int32) Balance {
	var balance Balance
	for _, utxo := range a.UTXOs {
		balance.Total += utxo.Amount
		if utxo.IsSpendable(tipHeight) {
			balance.Available += utxo.Amount
		}
	}
	a.Balance = balance
	return balance
}

// BranchAndIndex locates the branch and child index of an address owned by
// the account.  The boolean result reports whether the address was found.
func (a *Account) BranchAndIndex(addr string) (uint32, uint32, bool) {
	for i, known := range a.ExternalAddresses {
		if known == addr {
			return keychain.ExternalBranch, uint32(i), true
		}
	}
	for i, known := range a.InternalAddresses {
		if known == addr {
			return keychain.InternalBranch, uint32(i), true
		}
	}
	return 0, 0, false
}

// GetPrivKeyForAddress derives the private key for an address owned by the
// account.  The account must be open.
func (a *Account) GetPrivKeyForAddress(addr string) (*btcec.PrivateKey, error) {
	if a.privKey == nil {
		str := "private key retrieval requires an open account"
		return nil, managerError(ErrNotOpen, str, nil)
	}

	branch, idx, ok := a.BranchAndIndex(addr)
	if !ok {
		str := "address is not known to the account"
		return nil, managerError(ErrUnknownAddress, str, nil)
	}

	branchKey, err := a.privKey.Child(branch)
	if err != nil {
		str := "failed to derive branch private key"
		return nil, managerError(ErrKeyRange, str, err)
	}
	childKey, err := branchKey.Child(idx)
	if err != nil {
		branchKey.Zero()
		str := "failed to derive child private key"
		return nil, managerError(ErrKeyRange, str, err)
	}

	privKey, err := childKey.PrivateKey()
	branchKey.Zero()
	childKey.Zero()
	if err != nil {
		str := "failed to extract private key material"
		return nil, managerError(ErrCrypto, str, err)
	}
	return privKey, nil
}
