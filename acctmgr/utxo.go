package acctmgr

import (
	"fmt"

	"github.com/btcsuite/btcutil"
)

// Balance is information about an account's balance.  Total contains the
// sum of the value of all UTXOs known for the account while Available is
// the same sum restricted to confirmed outputs which are not from immature
// coinbase or stakebase transactions.  Available never exceeds Total.
type Balance struct {
	Total     btcutil.Amount
	Available btcutil.Amount
}

// OutPoint uniquely identifies an unspent transaction output.  It is used
// as the key of the account's UTXO map.
type OutPoint struct {
	TxID string
	Vout uint32
}

// String returns the outpoint in txid:vout form for logging.
func (op OutPoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxID, op.Vout)
}

// UTXO is an unspent transaction output tracked by an account.  A UTXO is
// owned exclusively by the account that discovered it and is removed, not
// archived, when spent.
type UTXO struct {
	// Address is the payment address the output pays to.
	Address string

	// TxID and Vout identify the output.
	TxID string
	Vout uint32

	// Amount is the output value.
	Amount btcutil.Amount

	// Height is the height of the block the transaction was mined in, or
	// zero while the transaction is only known to mempool.
	Height int32

	// Maturity is the height at which a coinbase or stakebase output
	// becomes spendable, or zero for regular outputs.
	Maturity int32
}

// OutPoint returns the key identifying the UTXO within an account's UTXO
// map.
func (u *UTXO) OutPoint() OutPoint {
	return OutPoint{TxID: u.TxID, Vout: u.Vout}
}

// IsConfirmed returns whether the output's transaction has been mined.
func (u *UTXO) IsConfirmed() bool {
	return u.Height > 0
}

// IsSpendable returns whether the output is confirmed and past any maturity
// requirement relative to the given best block height.
func (u *UTXO) IsSpendable(tipHeight int32) bool {
	if u.Maturity > 0 && u.Maturity > tipHeight {
		return false
	}
	return u.IsConfirmed()
}

// Transaction is the contract required of transactions fed into the account
// bookkeeping by a chain-sync backend.
type Transaction interface {
	// TxID returns the hex-encoded transaction ID.
	TxID() string

	// LooksLikeCoinbase returns whether the transaction appears to be a
	// coinbase or stakebase issuance, which subjects its outputs to the
	// network maturity requirement.
	LooksLikeCoinbase() bool
}
