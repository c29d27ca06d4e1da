package acctmgr

import "fmt"

// ErrorCode identifies a category of error.
type ErrorCode int

// These constants are used to identify a specific ManagerError.
const (
	// ErrDatabase indicates an underlying database error when working
	// with persisted account state.
	ErrDatabase ErrorCode = iota

	// ErrKeyRange indicates the provided seed, or a key derived from it,
	// falls outside the usable range for the curve.  The seed is not
	// usable and the caller must choose another one.
	ErrKeyRange

	// ErrInvalidSeedLen indicates the provided seed length is not within
	// the bounds accepted by the network parameters.
	ErrInvalidSeedLen

	// ErrEmptyPassphrase indicates an empty private passphrase was
	// provided when creating an account manager.
	ErrEmptyPassphrase

	// ErrWrongPassphrase indicates the specified passphrase failed the
	// derivation parameter digest check.  Together with ErrCrypto it
	// forms the authentication failure family; callers wanting a single
	// authentication result should treat both codes the same.
	ErrWrongPassphrase

	// ErrCrypto indicates an error with the cryptography related code
	// such as decrypt or encrypt failures.  A decrypt failure is
	// deliberately indistinguishable from corrupted ciphertext so the
	// error can not be used as a password-guessing oracle.
	ErrCrypto

	// ErrAccountNotFound indicates the requested account index is not
	// known to the account manager.
	ErrAccountNotFound

	// ErrNotOpen indicates an operation which requires the account to be
	// open, such as address derivation or private key retrieval, was
	// invoked on a closed account.
	ErrNotOpen

	// ErrUnknownAddress indicates the requested address is not owned by
	// the account.
	ErrUnknownAddress

	// ErrConsistency indicates an internal bookkeeping invariant was
	// violated, such as an address list whose length does not match its
	// index counter.  Errors with this code are programming errors and
	// must be treated as unrecoverable by the embedding application.
	ErrConsistency
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errCodeStrings = map[ErrorCode]string{
	ErrDatabase:        "ErrDatabase",
	ErrKeyRange:        "ErrKeyRange",
	ErrInvalidSeedLen:  "ErrInvalidSeedLen",
	ErrEmptyPassphrase: "ErrEmptyPassphrase",
	ErrWrongPassphrase: "ErrWrongPassphrase",
	ErrCrypto:          "ErrCrypto",
	ErrAccountNotFound: "ErrAccountNotFound",
	ErrNotOpen:         "ErrNotOpen",
	ErrUnknownAddress:  "ErrUnknownAddress",
	ErrConsistency:     "ErrConsistency",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ManagerError provides a single type for errors that can happen during
// account manager operation.  It is used to indicate several types of
// failures including errors with caller requests such as invalid accounts,
// errors with the database, and errors related to crypto security.
//
// The caller can use type assertions to determine if an error is a
// ManagerError and access the ErrorCode field to ascertain the specific
// reason for the failure.
type ManagerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ManagerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e ManagerError) Unwrap() error {
	return e.Err
}

// managerError creates a ManagerError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) ManagerError {
	return ManagerError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a ManagerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	merr, ok := err.(ManagerError)
	return ok && merr.ErrorCode == code
}
