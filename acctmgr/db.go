package acctmgr

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcutil"
	"github.com/rstaudt2/tinydecred/walletdb"
)

var (
	// mainBucketName is the name of the bucket that stores the encrypted
	// crypto keys that encrypt all other generated keys, the encrypted
	// coin type keys, the watching only flag, the passphrase derivation
	// parameters, and the serialized base account.
	mainBucketName = []byte("main")

	// acctBucketName is the name of the bucket that stores the serialized
	// accounts keyed by account index.
	acctBucketName = []byte("acct")

	// Crypto related key names (main bucket).
	cryptoPrivKeyName   = []byte("cpriv")
	cryptoPubKeyName    = []byte("cpub")
	cryptoScriptKeyName = []byte("cscript")

	// Passphrase derivation parameter key names (main bucket).
	masterPrivParamsName = []byte("mpriv")
	masterPubParamsName  = []byte("mpub")

	// Coin type key names (main bucket).
	coinTypeLegacyPubName    = []byte("ctlegacypub")
	coinTypeLegacyPrivName   = []byte("ctlegacypriv")
	coinTypeSLIP0044PubName  = []byte("ctslippub")
	coinTypeSLIP0044PrivName = []byte("ctslippriv")

	baseAccountName  = []byte("baseacct")
	watchingOnlyName = []byte("watchonly")
)

// uint32ToBytes converts a 32 bit unsigned integer into a 4-byte slice in
// little-endian order: 1 -> [1 0 0 0].
func uint32ToBytes(number uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, number)
	return buf
}

// uint64ToBytes converts a 64 bit unsigned integer into a 8-byte slice in
// little-endian order: 1 -> [1 0 0 0 0 0 0 0].
func uint64ToBytes(number uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, number)
	return buf
}

// writeVarBytes appends the slice to the buffer prefixed by its 32 bit
// length: [61 62] -> [2 0 0 0 61 62].
func writeVarBytes(w *bytes.Buffer, b []byte) {
	w.Write(uint32ToBytes(uint32(len(b))))
	w.Write(b)
}

// writeString appends the string to the buffer prefixed by its 32 bit
// length.
func writeString(w *bytes.Buffer, s string) {
	writeVarBytes(w, []byte(s))
}

// reader walks a serialized account, decoding length-prefixed fields.  The
// first short read marks the reader failed and every subsequent read
// returns a zero value, so callers only need a single error check at the
// end.
type reader struct {
	buf    []byte
	offset int
	failed bool
}

func (r *reader) readUint32() uint32 {
	if r.failed || r.offset+4 > len(r.buf) {
		r.failed = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.offset:])
	r.offset += 4
	return v
}

func (r *reader) readUint64() uint64 {
	if r.failed || r.offset+8 > len(r.buf) {
		r.failed = true
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return v
}

func (r *reader) readVarBytes() []byte {
	size := int(r.readUint32())
	if r.failed || r.offset+size > len(r.buf) {
		r.failed = true
		return nil
	}
	b := make([]byte, size)
	copy(b, r.buf[r.offset:r.offset+size])
	r.offset += size
	return b
}

func (r *reader) readString() string {
	return string(r.readVarBytes())
}

// serializeAccount returns the serialization of the account.  Only durable
// bookkeeping is stored; mempool state and decrypted key material never
// reach the database.
//
// The serialized format is:
//
//	<pubkeyenc><privkeyenc><name><lastext><lastint><cursor>
//	<numext><extaddr>...<numint><intaddr>...
//	<total><available>
//	<numaddrs><addr><numtxids><txid>......
//	<numutxos><address><txid><vout><amount><height><maturity>...
//
// where every byte slice and string is prefixed by its 32 bit length.
func serializeAccount(a *Account) []byte {
	var w bytes.Buffer
	writeVarBytes(&w, a.PubKeyEncrypted)
	writeVarBytes(&w, a.PrivKeyEncrypted)
	writeString(&w, a.Name)
	w.Write(uint32ToBytes(uint32(a.LastExternalIndex)))
	w.Write(uint32ToBytes(uint32(a.LastInternalIndex)))
	w.Write(uint32ToBytes(uint32(a.Cursor)))

	w.Write(uint32ToBytes(uint32(len(a.ExternalAddresses))))
	for _, addr := range a.ExternalAddresses {
		writeString(&w, addr)
	}
	w.Write(uint32ToBytes(uint32(len(a.InternalAddresses))))
	for _, addr := range a.InternalAddresses {
		writeString(&w, addr)
	}

	w.Write(uint64ToBytes(uint64(a.Balance.Total)))
	w.Write(uint64ToBytes(uint64(a.Balance.Available)))

	w.Write(uint32ToBytes(uint32(len(a.Txs))))
	for addr, txids := range a.Txs {
		writeString(&w, addr)
		w.Write(uint32ToBytes(uint32(len(txids))))
		for _, txid := range txids {
			writeString(&w, txid)
		}
	}

	w.Write(uint32ToBytes(uint32(len(a.UTXOs))))
	for _, utxo := range a.UTXOs {
		writeString(&w, utxo.Address)
		writeString(&w, utxo.TxID)
		w.Write(uint32ToBytes(utxo.Vout))
		w.Write(uint64ToBytes(uint64(utxo.Amount)))
		w.Write(uint32ToBytes(uint32(utxo.Height)))
		w.Write(uint32ToBytes(uint32(utxo.Maturity)))
	}

	return w.Bytes()
}

// deserializeAccount decodes the passed serialized account into a fresh
// closed account.
func deserializeAccount(serialized []byte) (*Account, error) {
	r := &reader{buf: serialized}

	pubEnc := r.readVarBytes()
	privEnc := r.readVarBytes()
	name := r.readString()
	account := NewAccount(pubEnc, privEnc, name)
	account.LastExternalIndex = int32(r.readUint32())
	account.LastInternalIndex = int32(r.readUint32())
	account.Cursor = int(r.readUint32())

	numExt := r.readUint32()
	for i := uint32(0); i < numExt && !r.failed; i++ {
		account.ExternalAddresses = append(account.ExternalAddresses,
			r.readString())
	}
	numInt := r.readUint32()
	for i := uint32(0); i < numInt && !r.failed; i++ {
		account.InternalAddresses = append(account.InternalAddresses,
			r.readString())
	}

	account.Balance.Total = btcutil.Amount(r.readUint64())
	account.Balance.Available = btcutil.Amount(r.readUint64())

	numAddrs := r.readUint32()
	for i := uint32(0); i < numAddrs && !r.failed; i++ {
		addr := r.readString()
		numTxids := r.readUint32()
		txids := make([]string, 0, numTxids)
		for j := uint32(0); j < numTxids && !r.failed; j++ {
			txids = append(txids, r.readString())
		}
		account.Txs[addr] = txids
	}

	numUTXOs := r.readUint32()
	for i := uint32(0); i < numUTXOs && !r.failed; i++ {
		utxo := &UTXO{
			Address:  r.readString(),
			TxID:     r.readString(),
			Vout:     r.readUint32(),
			Amount:   btcutil.Amount(r.readUint64()),
			Height:   int32(r.readUint32()),
			Maturity: int32(r.readUint32()),
		}
		account.UTXOs[utxo.OutPoint()] = utxo
	}

	if r.failed {
		str := "malformed serialized account"
		return nil, managerError(ErrDatabase, str, nil)
	}
	return account, nil
}

// putMainValue stores a single named value in the main bucket.
func putMainValue(ns walletdb.ReadWriteBucket, key, value []byte, what string) error {
	bucket := ns.NestedReadWriteBucket(mainBucketName)
	if err := bucket.Put(key, value); err != nil {
		str := "failed to store " + what
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// fetchMainValue loads a single named value from the main bucket.  A copy
// is returned so the value remains usable after the transaction ends.
func fetchMainValue(ns walletdb.ReadBucket, key []byte, required bool, what string) ([]byte, error) {
	bucket := ns.NestedReadBucket(mainBucketName)
	val := bucket.Get(key)
	if val == nil {
		if !required {
			return nil, nil
		}
		str := "required " + what + " not stored in database"
		return nil, managerError(ErrDatabase, str, nil)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// PutAccountManager stores the account manager and all of its accounts to
// the passed namespace, creating the schema buckets if they do not already
// exist.  Decrypted key material and mempool state are never written.
func PutAccountManager(ns walletdb.ReadWriteBucket, m *AccountManager) error {
	if _, err := ns.CreateBucketIfNotExists(mainBucketName); err != nil {
		str := "failed to create main bucket"
		return managerError(ErrDatabase, str, err)
	}
	if _, err := ns.CreateBucketIfNotExists(acctBucketName); err != nil {
		str := "failed to create account bucket"
		return managerError(ErrDatabase, str, err)
	}

	stores := []struct {
		key   []byte
		value []byte
		what  string
	}{
		{cryptoPubKeyName, m.CryptoKeyPubEnc, "encrypted crypto public key"},
		{cryptoPrivKeyName, m.CryptoKeyPrivEnc, "encrypted crypto private key"},
		{cryptoScriptKeyName, m.CryptoKeyScriptEnc, "encrypted crypto script key"},
		{coinTypeLegacyPubName, m.CoinTypeLegacyPubEnc, "encrypted legacy coin type public key"},
		{coinTypeLegacyPrivName, m.CoinTypeLegacyPrivEnc, "encrypted legacy coin type private key"},
		{coinTypeSLIP0044PubName, m.CoinTypeSLIP0044PubEnc, "encrypted SLIP0044 coin type public key"},
		{coinTypeSLIP0044PrivName, m.CoinTypeSLIP0044PrivEnc, "encrypted SLIP0044 coin type private key"},
		{masterPubParamsName, m.PubParams, "public passphrase parameters"},
		{masterPrivParamsName, m.PrivParams, "private passphrase parameters"},
	}
	for _, s := range stores {
		if s.value == nil {
			continue
		}
		if err := putMainValue(ns, s.key, s.value, s.what); err != nil {
			return err
		}
	}

	var watchingOnly byte
	if m.WatchingOnly {
		watchingOnly = 1
	}
	err := putMainValue(ns, watchingOnlyName, []byte{watchingOnly},
		"watching only flag")
	if err != nil {
		return err
	}

	if m.BaseAccount != nil {
		err := putMainValue(ns, baseAccountName,
			serializeAccount(m.BaseAccount), "base account")
		if err != nil {
			return err
		}
	}

	acctBucket := ns.NestedReadWriteBucket(acctBucketName)
	for i, account := range m.Accounts {
		err := acctBucket.Put(uint32ToBytes(uint32(i)),
			serializeAccount(account))
		if err != nil {
			str := "failed to store account"
			return managerError(ErrDatabase, str, err)
		}
	}
	return nil
}

// FetchAccountManager loads the account manager and all of its accounts
// from the passed namespace.  All returned accounts are closed; a
// passphrase is required to open them.
func FetchAccountManager(ns walletdb.ReadBucket) (*AccountManager, error) {
	if ns.NestedReadBucket(mainBucketName) == nil {
		str := "account manager not stored in database"
		return nil, managerError(ErrDatabase, str, nil)
	}

	manager := &AccountManager{}
	loads := []struct {
		key      []byte
		dest     *[]byte
		required bool
		what     string
	}{
		{cryptoPubKeyName, &manager.CryptoKeyPubEnc, true, "encrypted crypto public key"},
		{cryptoPrivKeyName, &manager.CryptoKeyPrivEnc, false, "encrypted crypto private key"},
		{cryptoScriptKeyName, &manager.CryptoKeyScriptEnc, false, "encrypted crypto script key"},
		{coinTypeLegacyPubName, &manager.CoinTypeLegacyPubEnc, false, "encrypted legacy coin type public key"},
		{coinTypeLegacyPrivName, &manager.CoinTypeLegacyPrivEnc, false, "encrypted legacy coin type private key"},
		{coinTypeSLIP0044PubName, &manager.CoinTypeSLIP0044PubEnc, false, "encrypted SLIP0044 coin type public key"},
		{coinTypeSLIP0044PrivName, &manager.CoinTypeSLIP0044PrivEnc, false, "encrypted SLIP0044 coin type private key"},
		{masterPubParamsName, &manager.PubParams, true, "public passphrase parameters"},
		{masterPrivParamsName, &manager.PrivParams, false, "private passphrase parameters"},
	}
	for _, l := range loads {
		val, err := fetchMainValue(ns, l.key, l.required, l.what)
		if err != nil {
			return nil, err
		}
		*l.dest = val
	}

	watchingOnly, err := fetchMainValue(ns, watchingOnlyName, true,
		"watching only flag")
	if err != nil {
		return nil, err
	}
	manager.WatchingOnly = len(watchingOnly) == 1 && watchingOnly[0] == 1

	baseSerialized, err := fetchMainValue(ns, baseAccountName, false,
		"base account")
	if err != nil {
		return nil, err
	}
	if baseSerialized != nil {
		manager.BaseAccount, err = deserializeAccount(baseSerialized)
		if err != nil {
			return nil, err
		}
	}

	acctBucket := ns.NestedReadBucket(acctBucketName)
	if acctBucket == nil {
		return manager, nil
	}

	// Accounts are keyed by their 4-byte little-endian index, so walk
	// indexes in order rather than relying on cursor byte ordering.
	for i := uint32(0); ; i++ {
		serialized := acctBucket.Get(uint32ToBytes(i))
		if serialized == nil {
			break
		}
		account, err := deserializeAccount(serialized)
		if err != nil {
			return nil, err
		}
		manager.AddAccount(account)
	}
	return manager, nil
}
