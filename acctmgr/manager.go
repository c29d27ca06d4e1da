// Package acctmgr provides the key-management and account-bookkeeping core
// of the wallet.  It derives and protects a hierarchy of deterministic keys
// according to BIP0044, organizes them into accounts, tracks each account's
// addresses, unspent outputs, and balance, and enforces a secure open/close
// lifecycle for decrypted key material.
//
// All private and public keys are protected by secret keys derived from a
// public and private passphrase.  Three random crypto keys sit between the
// passphrase-derived keys and the actual key material, so changing a
// passphrase only requires re-encrypting 32 bytes rather than every stored
// key.
//
// The core is synchronous: no operation blocks on I/O and no operation is
// safe for concurrent mutation.  Callers embedding it in a multi-threaded
// host must serialize all mutating calls to a given account.
package acctmgr

import (
	"errors"
	"sync"

	"github.com/rstaudt2/tinydecred/internal/zero"
	"github.com/rstaudt2/tinydecred/keychain"
	"github.com/rstaudt2/tinydecred/netparams"
	"github.com/rstaudt2/tinydecred/snacl"
)

// DefaultAccountName is the initial name of the account created for each
// coin type during wallet creation.
const DefaultAccountName = "default"

// ScryptOptions is used to hold the scrypt parameters needed when deriving
// new passphrase keys.
type ScryptOptions struct {
	N, R, P int
}

// DefaultScryptOptions is the default options used with scrypt.
var DefaultScryptOptions = ScryptOptions{
	N: 262144, // 2^18
	R: 8,
	P: 1,
}

// FastScryptOptions are the scrypt options that should be used for testing
// purposes only where speed is more important than security.
var FastScryptOptions = ScryptOptions{
	N: 16,
	R: 8,
	P: 1,
}

// SecretKeyGenerator is the function signature of a method that can
// generate secret keys for the account manager.
type SecretKeyGenerator func(
	passphrase *[]byte, config *ScryptOptions) (*snacl.SecretKey, error)

// defaultNewSecretKey returns a new secret key.  See newSecretKey.
func defaultNewSecretKey(passphrase *[]byte,
	config *ScryptOptions) (*snacl.SecretKey, error) {
	return snacl.NewSecretKey(passphrase, config.N, config.R, config.P)
}

var (
	// secretKeyGen is the inner method that is executed when calling
	// newSecretKey.
	secretKeyGen = defaultNewSecretKey

	// secretKeyGenMtx protects access to secretKeyGen, so that it can be
	// replaced in testing.
	secretKeyGenMtx sync.RWMutex
)

// SetSecretKeyGen replaces the existing secret key generator, and returns
// the previous generator.
func SetSecretKeyGen(keyGen SecretKeyGenerator) SecretKeyGenerator {
	secretKeyGenMtx.Lock()
	oldKeyGen := secretKeyGen
	secretKeyGen = keyGen
	secretKeyGenMtx.Unlock()

	return oldKeyGen
}

// newSecretKey generates a new secret key using the active secretKeyGen.
func newSecretKey(passphrase *[]byte, config *ScryptOptions) (*snacl.SecretKey, error) {
	secretKeyGenMtx.RLock()
	defer secretKeyGenMtx.RUnlock()
	return secretKeyGen(passphrase, config)
}

// EncryptorDecryptor provides an abstraction on top of snacl.CryptoKey so
// that tests can use dependency injection to force the behaviour they need.
type EncryptorDecryptor interface {
	Encrypt(in []byte) ([]byte, error)
	Decrypt(in []byte) ([]byte, error)
	Bytes() []byte
	CopyBytes([]byte)
	Zero()
}

// cryptoKey extends snacl.CryptoKey to implement EncryptorDecryptor.
type cryptoKey struct {
	snacl.CryptoKey
}

// Bytes returns a copy of this crypto key's byte slice.
func (ck *cryptoKey) Bytes() []byte {
	return ck.CryptoKey[:]
}

// CopyBytes copies the bytes from the given slice into this CryptoKey.
func (ck *cryptoKey) CopyBytes(from []byte) {
	copy(ck.CryptoKey[:], from)
}

// defaultNewCryptoKey returns a new CryptoKey.  See newCryptoKey.
func defaultNewCryptoKey() (EncryptorDecryptor, error) {
	key, err := snacl.GenerateCryptoKey()
	if err != nil {
		return nil, err
	}
	return &cryptoKey{*key}, nil
}

// newCryptoKey is used as a way to replace the new crypto key generation
// function used so tests can provide a version that fails for testing error
// paths.
var newCryptoKey = defaultNewCryptoKey

// AccountManager provides generation, organization, and other management of
// accounts.  It owns the encrypted crypto-key layer shared by all accounts,
// the encrypted coin-type key material, and the ordered account list.  Only
// encrypted blobs and the passphrase derivation parameters are held between
// open sessions, so the manager itself is safe to persist.
type AccountManager struct {
	// The crypto keys are used to decrypt the other keys.  Each is
	// encrypted by the secret key derived from the corresponding
	// passphrase: the public crypto key by the public passphrase key and
	// the private and script crypto keys by the private passphrase key.
	CryptoKeyPubEnc    []byte
	CryptoKeyPrivEnc   []byte
	CryptoKeyScriptEnc []byte

	// The coin-type keys can be used to derive an account key for any
	// BIP0044 account under their coin type.  Both the pre-SLIP0044
	// legacy coin type and the registered SLIP0044 coin type are kept so
	// funds under either hierarchy remain reachable.
	CoinTypeLegacyPubEnc    []byte
	CoinTypeLegacyPrivEnc   []byte
	CoinTypeSLIP0044PubEnc  []byte
	CoinTypeSLIP0044PrivEnc []byte

	// BaseAccount is the account derived under the legacy coin type
	// during creation.
	BaseAccount *Account

	// PrivParams and PubParams are the marshalled scrypt parameters used
	// to re-derive the passphrase secret keys.
	PrivParams []byte
	PubParams  []byte

	// WatchingOnly is true when no private key material was retained.
	WatchingOnly bool

	// Accounts is the ordered account list.  Accounts are appended, never
	// removed, and are addressed by their position in the list.
	Accounts []*Account
}

// AddAccount appends the account to the manager's account list.  No checks
// are done to ensure the account is correctly placed for its index; staged
// construction during wallet creation depends on that freedom, so ordering
// is the caller's responsibility.
func (m *AccountManager) AddAccount(account *Account) {
	m.Accounts = append(m.Accounts, account)
}

// Account returns the account at the provided index.
func (m *AccountManager) Account(idx int) (*Account, error) {
	if idx < 0 || idx >= len(m.Accounts) {
		str := "no account at the requested index"
		return nil, managerError(ErrAccountNotFound, str, nil)
	}
	return m.Accounts[idx], nil
}

// privCryptoKey re-derives the private passphrase secret key and uses it to
// decrypt the private crypto key.  The returned secret key and crypto key
// are owned by the caller, which must zero both.
func (m *AccountManager) privCryptoKey(password []byte) (*snacl.SecretKey, *cryptoKey, error) {
	userSecret := snacl.SecretKey{Key: &snacl.CryptoKey{}}
	if err := userSecret.Unmarshal(m.PrivParams); err != nil {
		str := "failed to unmarshal passphrase derivation parameters"
		return nil, nil, managerError(ErrCrypto, str, err)
	}
	if err := userSecret.DeriveKey(&password); err != nil {
		if errors.Is(err, snacl.ErrInvalidPassword) {
			str := "invalid passphrase for private key material"
			return nil, nil, managerError(ErrWrongPassphrase, str, nil)
		}
		str := "failed to derive passphrase secret key"
		return nil, nil, managerError(ErrCrypto, str, err)
	}

	decrypted, err := userSecret.Decrypt(m.CryptoKeyPrivEnc)
	if err != nil {
		userSecret.Zero()
		str := "failed to decrypt crypto private key"
		return nil, nil, managerError(ErrCrypto, str, err)
	}
	ck := &cryptoKey{}
	ck.CopyBytes(decrypted)
	zero.Bytes(decrypted)
	return &userSecret, ck, nil
}

// pubCryptoKey re-derives the public passphrase secret key and uses it to
// decrypt the public crypto key.  The returned keys are owned by the
// caller, which must zero both.
func (m *AccountManager) pubCryptoKey(password []byte) (*snacl.SecretKey, *cryptoKey, error) {
	userSecret := snacl.SecretKey{Key: &snacl.CryptoKey{}}
	if err := userSecret.Unmarshal(m.PubParams); err != nil {
		str := "failed to unmarshal passphrase derivation parameters"
		return nil, nil, managerError(ErrCrypto, str, err)
	}
	if err := userSecret.DeriveKey(&password); err != nil {
		if errors.Is(err, snacl.ErrInvalidPassword) {
			str := "invalid passphrase for public key material"
			return nil, nil, managerError(ErrWrongPassphrase, str, nil)
		}
		str := "failed to derive passphrase secret key"
		return nil, nil, managerError(ErrCrypto, str, err)
	}

	decrypted, err := userSecret.Decrypt(m.CryptoKeyPubEnc)
	if err != nil {
		userSecret.Zero()
		str := "failed to decrypt crypto public key"
		return nil, nil, managerError(ErrCrypto, str, err)
	}
	ck := &cryptoKey{}
	ck.CopyBytes(decrypted)
	zero.Bytes(decrypted)
	return &userSecret, ck, nil
}

// OpenAccount opens the account at the provided index.  The private
// passphrase is used to re-derive the private secret key from the stored
// derivation parameters and decrypt the crypto private key, which in turn
// decrypts the account's private extended key.  A wrong passphrase and
// corrupted ciphertext surface as the same authentication failure.
func (m *AccountManager) OpenAccount(idx int, net *netparams.Params, password []byte) (*Account, error) {
	account, err := m.Account(idx)
	if err != nil {
		return nil, err
	}

	userSecret, cryptoKeyPriv, err := m.privCryptoKey(password)
	if err != nil {
		return nil, err
	}
	defer userSecret.Zero()
	defer cryptoKeyPriv.Zero()

	if err := account.Open(net, cryptoKeyPriv); err != nil {
		return nil, err
	}
	return account, nil
}

// AcctPrivateKey decrypts and returns the private extended key of the
// account at the provided index.  The caller owns the returned key and is
// responsible for zeroing it.
func (m *AccountManager) AcctPrivateKey(idx int, net *netparams.Params, password []byte) (keychain.ExtendedKey, error) {
	account, err := m.Account(idx)
	if err != nil {
		return nil, err
	}

	userSecret, cryptoKeyPriv, err := m.privCryptoKey(password)
	if err != nil {
		return nil, err
	}
	defer userSecret.Zero()
	defer cryptoKeyPriv.Zero()

	return account.PrivateExtendedKey(net, cryptoKeyPriv)
}

// AcctPublicKey decrypts and returns the public extended key of the account
// at the provided index using the public passphrase.
func (m *AccountManager) AcctPublicKey(idx int, net *netparams.Params, password []byte) (keychain.ExtendedKey, error) {
	account, err := m.Account(idx)
	if err != nil {
		return nil, err
	}

	userSecret, cryptoKeyPub, err := m.pubCryptoKey(password)
	if err != nil {
		return nil, err
	}
	defer userSecret.Zero()
	defer cryptoKeyPub.Zero()

	return account.PublicExtendedKey(net, cryptoKeyPub)
}

// encryptKeyPair serializes an extended key pair and encrypts the public
// serialization with the public crypto key and the private serialization
// with the private crypto key.
func encryptKeyPair(pubKey, privKey keychain.ExtendedKey, cryptoKeyPub,
	cryptoKeyPriv EncryptorDecryptor) ([]byte, []byte, error) {

	serializedPub := []byte(pubKey.String())
	pubEnc, err := cryptoKeyPub.Encrypt(serializedPub)
	zero.Bytes(serializedPub)
	if err != nil {
		str := "failed to encrypt public extended key"
		return nil, nil, managerError(ErrCrypto, str, err)
	}

	serializedPriv := []byte(privKey.String())
	privEnc, err := cryptoKeyPriv.Encrypt(serializedPriv)
	zero.Bytes(serializedPriv)
	if err != nil {
		str := "failed to encrypt private extended key"
		return nil, nil, managerError(ErrCrypto, str, err)
	}

	return pubEnc, privEnc, nil
}

// Create creates a new account manager and the BIP0044 key hierarchy used
// to create accounts, including the default account for the legacy coin
// type and the zeroth account for the SLIP0044 coin type.
//
// All generated private and public keys are protected by secret keys
// derived from the provided private and public passphrases.  Every
// plaintext working key generated along the way is zeroed before the
// function returns.
func Create(seed, pubPassphrase, privPassphrase []byte, net *netparams.Params,
	config *ScryptOptions) (*AccountManager, error) {

	// Ensure the private passphrase is not empty.  This is checked before
	// any key material is generated.
	if len(privPassphrase) == 0 {
		str := "private passphrase may not be empty"
		return nil, managerError(ErrEmptyPassphrase, str, nil)
	}

	if config == nil {
		config = &DefaultScryptOptions
	}

	// Derive the master extended key from the seed.
	root, err := keychain.NewMaster(seed, net)
	if err != nil {
		if errors.Is(err, keychain.ErrInvalidSeedLen) {
			str := "seed length is not in the accepted range"
			return nil, managerError(ErrInvalidSeedLen, str, err)
		}
		str := "the provided seed is unusable"
		return nil, managerError(ErrKeyRange, str, err)
	}
	defer root.Zero()

	// Derive the cointype keys according to BIP0044.
	legacyCoinType, slip0044CoinType := keychain.CoinTypes(net)
	coinTypeLegacyKeyPriv, err := root.DeriveCoinTypeKey(legacyCoinType)
	if err != nil {
		str := "failed to derive legacy coin type key"
		return nil, managerError(ErrKeyRange, str, err)
	}
	defer coinTypeLegacyKeyPriv.Zero()

	coinTypeSLIP0044KeyPriv, err := root.DeriveCoinTypeKey(slip0044CoinType)
	if err != nil {
		str := "failed to derive SLIP0044 coin type key"
		return nil, managerError(ErrKeyRange, str, err)
	}
	defer coinTypeSLIP0044KeyPriv.Zero()

	// Derive the account key for the first account according to BIP0044.
	acctKeyLegacyPriv, err := coinTypeLegacyKeyPriv.DeriveAccountKey(0)
	if err != nil {
		// The seed is unusable if the any of the children in the
		// required hierarchy can't be derived due to invalid child.
		str := "the provided seed is unusable"
		return nil, managerError(ErrKeyRange, str, err)
	}
	defer acctKeyLegacyPriv.Zero()

	acctKeySLIP0044Priv, err := coinTypeSLIP0044KeyPriv.DeriveAccountKey(0)
	if err != nil {
		str := "the provided seed is unusable"
		return nil, managerError(ErrKeyRange, str, err)
	}
	defer acctKeySLIP0044Priv.Zero()

	// Ensure the branch keys can be derived for the provided seed
	// according to BIP0044.
	if err := keychain.CheckBranchKeys(acctKeyLegacyPriv); err != nil {
		str := "the provided seed is unusable"
		return nil, managerError(ErrKeyRange, str, err)
	}
	if err := keychain.CheckBranchKeys(acctKeySLIP0044Priv); err != nil {
		str := "the provided seed is unusable"
		return nil, managerError(ErrKeyRange, str, err)
	}

	// The account manager needs the public extended keys for the
	// accounts.
	acctKeyLegacyPub, err := acctKeyLegacyPriv.Neuter()
	if err != nil {
		str := "failed to neuter legacy account key"
		return nil, managerError(ErrCrypto, str, err)
	}
	acctKeySLIP0044Pub, err := acctKeySLIP0044Priv.Neuter()
	if err != nil {
		str := "failed to neuter SLIP0044 account key"
		return nil, managerError(ErrCrypto, str, err)
	}

	// Generate new secret keys from the passphrases.  These protect the
	// crypto keys that are generated next, and their derivation
	// parameters are retained so the keys can be re-derived later.
	masterKeyPub, err := newSecretKey(&pubPassphrase, config)
	if err != nil {
		str := "failed to derive public passphrase secret key"
		return nil, managerError(ErrCrypto, str, err)
	}
	masterKeyPriv, err := newSecretKey(&privPassphrase, config)
	if err != nil {
		str := "failed to derive private passphrase secret key"
		return nil, managerError(ErrCrypto, str, err)
	}
	defer masterKeyPriv.Zero()

	// Generate new crypto public, private, and script keys.  These keys
	// are used to protect the actual public and private data such as
	// addresses and extended keys.
	cryptoKeyPub, err := newCryptoKey()
	if err != nil {
		str := "failed to generate crypto public key"
		return nil, managerError(ErrCrypto, str, err)
	}
	defer cryptoKeyPub.Zero()

	cryptoKeyPriv, err := newCryptoKey()
	if err != nil {
		str := "failed to generate crypto private key"
		return nil, managerError(ErrCrypto, str, err)
	}
	defer cryptoKeyPriv.Zero()

	cryptoKeyScript, err := newCryptoKey()
	if err != nil {
		str := "failed to generate crypto script key"
		return nil, managerError(ErrCrypto, str, err)
	}
	defer cryptoKeyScript.Zero()

	// Encrypt the crypto keys with the associated secret keys.
	cryptoKeyPubEnc, err := masterKeyPub.Encrypt(cryptoKeyPub.Bytes())
	if err != nil {
		str := "failed to encrypt crypto public key"
		return nil, managerError(ErrCrypto, str, err)
	}
	cryptoKeyPrivEnc, err := masterKeyPriv.Encrypt(cryptoKeyPriv.Bytes())
	if err != nil {
		str := "failed to encrypt crypto private key"
		return nil, managerError(ErrCrypto, str, err)
	}
	cryptoKeyScriptEnc, err := masterKeyPriv.Encrypt(cryptoKeyScript.Bytes())
	if err != nil {
		str := "failed to encrypt crypto script key"
		return nil, managerError(ErrCrypto, str, err)
	}

	// Encrypt the cointype keys with the associated crypto keys.
	coinTypeLegacyKeyPub, err := coinTypeLegacyKeyPriv.Neuter()
	if err != nil {
		str := "failed to neuter legacy coin type key"
		return nil, managerError(ErrCrypto, str, err)
	}
	coinTypeLegacyPubEnc, coinTypeLegacyPrivEnc, err := encryptKeyPair(
		coinTypeLegacyKeyPub, coinTypeLegacyKeyPriv, cryptoKeyPub,
		cryptoKeyPriv)
	if err != nil {
		return nil, err
	}

	coinTypeSLIP0044KeyPub, err := coinTypeSLIP0044KeyPriv.Neuter()
	if err != nil {
		str := "failed to neuter SLIP0044 coin type key"
		return nil, managerError(ErrCrypto, str, err)
	}
	coinTypeSLIP0044PubEnc, coinTypeSLIP0044PrivEnc, err := encryptKeyPair(
		coinTypeSLIP0044KeyPub, coinTypeSLIP0044KeyPriv, cryptoKeyPub,
		cryptoKeyPriv)
	if err != nil {
		return nil, err
	}

	// Encrypt the account keys with the associated crypto keys.
	acctPubLegacyEnc, acctPrivLegacyEnc, err := encryptKeyPair(
		acctKeyLegacyPub, acctKeyLegacyPriv, cryptoKeyPub, cryptoKeyPriv)
	if err != nil {
		return nil, err
	}
	acctPubSLIP0044Enc, acctPrivSLIP0044Enc, err := encryptKeyPair(
		acctKeySLIP0044Pub, acctKeySLIP0044Priv, cryptoKeyPub,
		cryptoKeyPriv)
	if err != nil {
		return nil, err
	}

	// The default account is derived from the legacy coin type.
	baseAccount := NewAccount(acctPubLegacyEnc, acctPrivLegacyEnc,
		DefaultAccountName)

	// The zeroth account is derived from the SLIP0044 coin type.  Open
	// it, generate its first payment address, and close it again so the
	// zeroing path is exercised before the manager is considered ready.
	zerothAccount := NewAccount(acctPubSLIP0044Enc, acctPrivSLIP0044Enc,
		DefaultAccountName)
	if err := zerothAccount.Open(net, cryptoKeyPriv); err != nil {
		return nil, err
	}
	if _, _, err := zerothAccount.GenerateNextPaymentAddress(); err != nil {
		zerothAccount.Close()
		return nil, err
	}
	zerothAccount.Close()

	manager := &AccountManager{
		CryptoKeyPubEnc:         cryptoKeyPubEnc,
		CryptoKeyPrivEnc:        cryptoKeyPrivEnc,
		CryptoKeyScriptEnc:      cryptoKeyScriptEnc,
		CoinTypeLegacyPubEnc:    coinTypeLegacyPubEnc,
		CoinTypeLegacyPrivEnc:   coinTypeLegacyPrivEnc,
		CoinTypeSLIP0044PubEnc:  coinTypeSLIP0044PubEnc,
		CoinTypeSLIP0044PrivEnc: coinTypeSLIP0044PrivEnc,
		BaseAccount:             baseAccount,
		PrivParams:              masterKeyPriv.Marshal(),
		PubParams:               masterKeyPub.Marshal(),
	}
	manager.AddAccount(zerothAccount)
	return manager, nil
}
