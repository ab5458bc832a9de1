package solana

// TokenBalance is one token account entry from a transaction's balance metadata
type TokenBalance struct {
	Account  string
	Owner    string
	Mint     string
	UIAmount float64
}

// BalanceSnapshot holds the pre and post token balances of a finalized transaction
type BalanceSnapshot struct {
	Signature string
	Slot      uint64
	Pre       []TokenBalance
	Post      []TokenBalance
}

// TransferRequest describes a treasury-signed SPL token transfer
type TransferRequest struct {
	Mint string
	// Source is the treasury token account; empty means the signer's associated account
	Source    string
	Recipient string
	Amount    uint64
	Decimals  uint8
}
