package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorMatching(t *testing.T) {
	err := fmt.Errorf("payout: %w", SignerMismatchError("a", "b"))

	assert.True(t, errors.Is(err, ErrSignerMismatch))
	assert.Equal(t, "SIGNER_MISMATCH", GetErrorCode(err))
	assert.False(t, IsRetryable(err))
}

func TestUpstreamError(t *testing.T) {
	err := UpstreamError("solana rpc", errors.New("timeout"))

	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "solana rpc: timeout", err.Error())
}

func TestValidationError(t *testing.T) {
	err := ValidationError("signature", ErrMissingSignature.Error())

	assert.True(t, IsInvalidInput(err))
	assert.Equal(t, "signature", err.Details["field"])
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(errors.New("plain")))
}
