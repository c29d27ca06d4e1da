// Package keychain provides the hierarchical deterministic extended key
// capability consumed by the account manager.  Keys are specific to the
// network they were created for and support BIP0032 child derivation,
// neutering, and BIP0044 coin type and account derivation.
package keychain

import (
	"crypto/hmac"
	"crypto/sha512"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil/hdkeychain"

	"github.com/rstaudt2/tinydecred/internal/zero"
	"github.com/rstaudt2/tinydecred/netparams"
)

const (
	// HardenedKeyStart is the index at which a hardened key starts.  Each
	// extended key has 2^31 normal child keys and 2^31 hardned child
	// keys.
	HardenedKeyStart = hdkeychain.HardenedKeyStart

	// MaxAccountNum is the maximum allowed account number.  This value
	// was chosen because accounts are hardened children and therefore
	// must not exceed the hardened child range of extended keys.
	MaxAccountNum = hdkeychain.HardenedKeyStart - 2 // 2^31 - 2

	// maxCoinType is the maximum allowed coin type used when structuring
	// the BIP0044 multi-account hierarchy.  This value is based on the
	// limitation of the underlying hierarchical deterministic key
	// derivation.
	maxCoinType = hdkeychain.HardenedKeyStart - 1

	// ExternalBranch is the child number to use when performing BIP0044
	// style hierarchical deterministic key derivation for the external
	// branch.
	ExternalBranch uint32 = 0

	// InternalBranch is the child number to use when performing BIP0044
	// style hierarchical deterministic key derivation for the internal
	// branch.
	InternalBranch uint32 = 1
)

// masterKey is the master key used along with a random seed used to generate
// the master node in the hierarchical tree.
var masterKey = []byte("Bitcoin seed")

// Error types returned by the derivation routines.  They are re-exported
// from the underlying keychain implementation so callers do not need to
// import it to classify failures.
var (
	// ErrInvalidSeedLen describes an error in which the provided seed or
	// seed length is not in the allowed range.
	ErrInvalidSeedLen = hdkeychain.ErrInvalidSeedLen

	// ErrUnusableSeed describes an error in which the provided seed is
	// not usable due to the derived key falling outside of the valid
	// range for secp256k1 private keys.  This error indicates the caller
	// must choose another seed.
	ErrUnusableSeed = hdkeychain.ErrUnusableSeed

	// ErrInvalidChild describes an error in which the child extended key
	// at a given index is invalid.  The caller should simply ignore the
	// index and try the next one.
	ErrInvalidChild = hdkeychain.ErrInvalidChild

	// ErrDeriveHardFromPublic describes an error in which the caller
	// attempted to derive a hardened extended key from a public key.
	ErrDeriveHardFromPublic = hdkeychain.ErrDeriveHardFromPublic

	// ErrNotPrivExtKey describes an error in which the private key
	// material was requested from an extended public key.
	ErrNotPrivExtKey = hdkeychain.ErrNotPrivExtKey
)

// ExtendedKey is the hierarchical deterministic extended key capability the
// account layer builds on.  It is defined as an interface so account
// bookkeeping can be tested against a deterministic fake without involving
// the curve math.
type ExtendedKey interface {
	// Child returns the derived child extended key at the given index.
	// It fails with ErrInvalidChild for the statistically improbable
	// indexes that do not produce a usable key.
	Child(i uint32) (ExtendedKey, error)

	// Neuter returns a new extended key with all private material
	// stripped and is incapable of deriving hardened children.
	Neuter() (ExtendedKey, error)

	// DeriveChildAddress derives the child key at the given index and
	// encodes its payment address for the network.
	DeriveChildAddress(i uint32, net *netparams.Params) (string, error)

	// DeriveCoinTypeKey derives the BIP0044 coin type key, m/44'/<coin
	// type>', from the master node.
	DeriveCoinTypeKey(coinType uint32) (ExtendedKey, error)

	// DeriveAccountKey derives the account key, <coin type key>/<account>',
	// from a coin type key.
	DeriveAccountKey(account uint32) (ExtendedKey, error)

	// PrivateKey returns the key material as a secp256k1 private key.
	// It fails with ErrNotPrivExtKey on a neutered key.
	PrivateKey() (*btcec.PrivateKey, error)

	// PublicKey returns the key material as a secp256k1 public key.
	PublicKey() (*btcec.PublicKey, error)

	// IsPrivate returns whether or not the extended key is a private
	// extended key.
	IsPrivate() bool

	// String returns the canonical base58 serialization.  The result
	// round trips through DecodeExtendedKey.
	String() string

	// Zero manually clears all memory associated with the key.  The key
	// is no longer usable after this call.
	Zero()
}

// hdKey wraps the concrete keychain implementation to satisfy ExtendedKey.
type hdKey struct {
	key *hdkeychain.ExtendedKey
}

// Enforce hdKey satisfies the ExtendedKey interface.
var _ ExtendedKey = (*hdKey)(nil)

func (k *hdKey) Child(i uint32) (ExtendedKey, error) {
	child, err := k.key.Derive(i)
	if err != nil {
		return nil, err
	}
	return &hdKey{key: child}, nil
}

func (k *hdKey) Neuter() (ExtendedKey, error) {
	pub, err := k.key.Neuter()
	if err != nil {
		return nil, err
	}
	return &hdKey{key: pub}, nil
}

func (k *hdKey) DeriveChildAddress(i uint32, net *netparams.Params) (string, error) {
	child, err := k.key.Derive(i)
	if err != nil {
		return "", err
	}
	addr, err := child.Address(net.Params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// DeriveCoinTypeKey derives the cointype key which can be used to derive the
// extended key for an account according to the hierarchy described by
// BIP0044 given the coin type key.
//
// In particular this is the hierarchical deterministic extended key path:
//   m/44'/<coin type>'
func (k *hdKey) DeriveCoinTypeKey(coinType uint32) (ExtendedKey, error) {
	if coinType > maxCoinType {
		return nil, ErrInvalidChild
	}

	// The hierarchy described by BIP0043 is:
	//  m/<purpose>'/*
	// This is further extended by BIP0044 to:
	//  m/44'/<coin type>'/<account>'/<branch>/<address index>
	purpose, err := k.key.Derive(44 + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, err
	}

	coinTypeKey, err := purpose.Derive(coinType + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	return &hdKey{key: coinTypeKey}, nil
}

// DeriveAccountKey derives the extended key for an account according to the
// hierarchy described by BIP0044 given the master node.
//
// In particular this is the hierarchical deterministic extended key path:
//   m/44'/<coin type>'/<account>'
func (k *hdKey) DeriveAccountKey(account uint32) (ExtendedKey, error) {
	if account > MaxAccountNum {
		return nil, ErrInvalidChild
	}

	acctKey, err := k.key.Derive(account + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	return &hdKey{key: acctKey}, nil
}

func (k *hdKey) PrivateKey() (*btcec.PrivateKey, error) {
	return k.key.ECPrivKey()
}

func (k *hdKey) PublicKey() (*btcec.PublicKey, error) {
	return k.key.ECPubKey()
}

func (k *hdKey) IsPrivate() bool {
	return k.key.IsPrivate()
}

func (k *hdKey) String() string {
	return k.key.String()
}

func (k *hdKey) Zero() {
	k.key.Zero()
}

// NewMaster creates a new master node for use in creating a hierarchical
// deterministic key chain.  The seed must be between the seed length bounds
// given by the network parameters, and the extended key created - and any
// children derived through its interface - is specific to that network.
//
// The derivation takes the HMAC-SHA512 of the seed keyed by the fixed
// domain-separation constant and splits the 64-byte result into the master
// secret scalar and the chain code.  The scalar must fall in the interval
// (0, curve order); a violation fails with ErrUnusableSeed which means the
// caller must pick a different seed.
func NewMaster(seed []byte, net *netparams.Params) (ExtendedKey, error) {
	// Per [BIP32], the seed must be in range [MinSeedBytes, MaxSeedBytes].
	if len(seed) < net.MinSeedBytes || len(seed) > net.MaxSeedBytes {
		return nil, ErrInvalidSeedLen
	}

	// First take the HMAC-SHA512 of the master key and the seed data:
	//   I = HMAC-SHA512(Key = "Bitcoin seed", Data = S)
	hmac512 := hmac.New(sha512.New, masterKey)
	hmac512.Write(seed)
	lr := hmac512.Sum(nil)

	// Split "I" into two 32-byte sequences Il and Ir where:
	//   Il = master secret key
	//   Ir = master chain code
	secretKey := lr[:len(lr)/2]
	chainCode := lr[len(lr)/2:]

	// Ensure the key in usable.
	secretNum := new(big.Int).SetBytes(secretKey)
	defer zero.BigInt(secretNum)
	if secretNum.Cmp(btcec.S256().N) >= 0 || secretNum.Sign() == 0 {
		return nil, ErrUnusableSeed
	}

	parentFP := []byte{0x00, 0x00, 0x00, 0x00}
	key := hdkeychain.NewExtendedKey(net.HDPrivateKeyID[:], secretKey,
		chainCode, parentFP, 0, 0, true)
	return &hdKey{key: key}, nil
}

// DecodeExtendedKey parses the canonical base58 serialization of an extended
// key and binds it to the given network.
func DecodeExtendedKey(net *netparams.Params, serialized string) (ExtendedKey, error) {
	key, err := hdkeychain.NewKeyFromString(serialized)
	if err != nil {
		return nil, err
	}
	key.SetNet(net.Params)
	return &hdKey{key: key}, nil
}

// CoinTypes returns the legacy and SLIP0044 coin types for the chain
// parameters.
func CoinTypes(params *netparams.Params) (uint32, uint32) {
	return params.LegacyCoinType, params.SLIP0044CoinType
}

// CheckBranchKeys ensures deriving the extended keys for the internal and
// external branches given an account key does not result in an invalid
// child error which means the chosen seed is not usable.  This conforms to
// the hierarchy described by BIP0044 so long as the account key is already
// derived accordingly.
//
// In particular this is the hierarchical deterministic extended key path:
//   m/44'/<coin type>'/<account>'/<branch>
//
// The branch is 0 for external addresses and 1 for internal addresses.
func CheckBranchKeys(acctKey ExtendedKey) error {
	// Derive the external branch as the first child of the account key.
	if _, err := acctKey.Child(ExternalBranch); err != nil {
		return err
	}

	// Derive the internal branch as the second child of the account key.
	_, err := acctKey.Child(InternalBranch)
	return err
}
