package solana

import "context"

// ChainClient is the chain surface used by the settlement services
type ChainClient interface {
	GetTokenBalances(ctx context.Context, signature string) (*BalanceSnapshot, error)
	GetMintDecimals(ctx context.Context, mint string) (uint8, error)
	SendTransfer(ctx context.Context, signer *Signer, req TransferRequest) (string, error)
	WaitFinalized(ctx context.Context, signature string) error
	Health(ctx context.Context) error
}

var _ ChainClient = (*Client)(nil)
