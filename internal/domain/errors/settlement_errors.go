package errors

import "errors"

// Settlement-specific errors
var (
	ErrNotADeposit       = errors.New("signature does not match mint or burn deposit")
	ErrSignerMismatch    = errors.New("treasury signing key does not match configured treasury owner")
	ErrAlreadyClaimed    = errors.New("settlement already claimed")
	ErrAlreadySettled    = errors.New("settlement already in terminal phase")
	ErrDebounced         = errors.New("settlement recently started for this signature")
	ErrMissingSignature  = errors.New("signature is required")
	ErrMalformedPrice    = errors.New("malformed price data")
	ErrInvalidIndexValue = errors.New("index value must be positive")
)

// SignerMismatchError reports the derived and expected treasury addresses
func SignerMismatchError(derived, expected string) *DomainError {
	return &DomainError{
		Err:     ErrSignerMismatch,
		Code:    "SIGNER_MISMATCH",
		Message: ErrSignerMismatch.Error(),
		Details: map[string]interface{}{
			"derived":  derived,
			"expected": expected,
		},
	}
}

// MalformedPriceError wraps a price feed payload problem
func MalformedPriceError(reason string) *DomainError {
	return &DomainError{
		Err:     ErrMalformedPrice,
		Code:    "MALFORMED_PRICE",
		Message: "malformed price data: " + reason,
	}
}
