package solana

import (
	"encoding/json"
	"fmt"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
)

// Signer holds the treasury keypair for one payout call
type Signer struct {
	key solanago.PrivateKey
}

// ParseSigner accepts a base58 secret key or a JSON array of 64 bytes
func ParseSigner(raw string) (*Signer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidPrivateKey
	}

	if strings.HasPrefix(raw, "[") {
		var b []byte
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte out of range", ErrInvalidPrivateKey)
			}
			b = append(b, byte(v))
		}
		if len(b) != 64 {
			return nil, fmt.Errorf("%w: expected 64 bytes, got %d", ErrInvalidPrivateKey, len(b))
		}
		return &Signer{key: solanago.PrivateKey(b)}, nil
	}

	key, err := solanago.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: expected 64 bytes, got %d", ErrInvalidPrivateKey, len(key))
	}
	return &Signer{key: key}, nil
}

// NewRandomSigner generates a throwaway keypair
func NewRandomSigner() (*Signer, error) {
	key, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// Address returns the base58 public key of the signer
func (s *Signer) Address() string {
	return s.key.PublicKey().String()
}

// Base58 returns the secret key encoding accepted by ParseSigner
func (s *Signer) Base58() string {
	return s.key.String()
}

func (s *Signer) publicKey() solanago.PublicKey {
	return s.key.PublicKey()
}
