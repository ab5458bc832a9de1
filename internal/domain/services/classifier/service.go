// Package classifier decides whether a signature is a mint deposit, a burn
// deposit, or unrelated.
package classifier

import (
	"context"

	"github.com/cap5/settlement_service/internal/domain/entities"
	"github.com/cap5/settlement_service/internal/domain/services/chainreader"
)

// DepositVerifier checks a single mint and treasury pair
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, signature, mint, treasury string) (*chainreader.DepositProof, error)
}

// Treasury names the accounts each settlement side deposits into
type Treasury struct {
	StablecoinMint    string
	StablecoinAccount string
	IndexMint         string
	Owner             string
}

// Service classifies deposits
type Service struct {
	verifier DepositVerifier
	treasury Treasury
}

func NewService(verifier DepositVerifier, treasury Treasury) *Service {
	return &Service{verifier: verifier, treasury: treasury}
}

// Classify checks the mint interpretation first, then burn. A nil result
// with a nil error means the signature is unrelated to either side.
func (s *Service) Classify(ctx context.Context, signature string) (*entities.DepositClassification, error) {
	proof, err := s.verifier.VerifyDeposit(ctx, signature, s.treasury.StablecoinMint, s.treasury.StablecoinAccount)
	if err != nil {
		return nil, err
	}
	if proof != nil {
		return &entities.DepositClassification{
			Kind:     entities.SideMint,
			FromUser: proof.FromUser,
			UIAmount: proof.UIAmount,
		}, nil
	}

	// burn deposits may land in any token account the owner controls
	proof, err = s.verifier.VerifyDeposit(ctx, signature, s.treasury.IndexMint, s.treasury.Owner)
	if err != nil {
		return nil, err
	}
	if proof != nil {
		return &entities.DepositClassification{
			Kind:     entities.SideBurn,
			FromUser: proof.FromUser,
			UIAmount: proof.UIAmount,
		}, nil
	}

	return nil, nil
}
