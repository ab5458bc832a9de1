package solana

import "errors"

var (
	// ErrTransactionNotFound is returned when the node has no finalized copy of a transaction yet
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotFinalized        = errors.New("transaction not finalized yet")
	ErrInvalidPrivateKey   = errors.New("invalid private key material")
)
