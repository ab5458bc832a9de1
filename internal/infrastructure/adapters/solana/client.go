package solana

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	defaultTimeout         = 20 * time.Second
	defaultFinalizeTimeout = 90 * time.Second
	defaultComputeLimit    = 200_000
	defaultComputePrice    = 10_000
)

// Config represents Solana client configuration
type Config struct {
	RPCURL           string
	Timeout          time.Duration
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
	FinalizeTimeout  time.Duration
}

// rpcAPI is the subset of the solana-go RPC client used here
type rpcAPI interface {
	GetTransaction(ctx context.Context, txSig solanago.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetTokenSupply(ctx context.Context, tokenMint solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetAccountInfo(ctx context.Context, account solanago.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// Client wraps the Solana JSON-RPC API for settlement reads and treasury transfers
type Client struct {
	config Config
	rpc    rpcAPI
	logger *zap.Logger
}

// NewClient creates a new Solana RPC client
func NewClient(config Config, logger *zap.Logger) *Client {
	return newClient(config, rpc.New(config.RPCURL), logger)
}

func newClient(config Config, api rpcAPI, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.FinalizeTimeout == 0 {
		config.FinalizeTimeout = defaultFinalizeTimeout
	}
	if config.ComputeUnitLimit == 0 {
		config.ComputeUnitLimit = defaultComputeLimit
	}
	if config.ComputeUnitPrice == 0 {
		config.ComputeUnitPrice = defaultComputePrice
	}
	return &Client{config: config, rpc: api, logger: logger}
}

// GetTokenBalances fetches the finalized transaction and returns its token balance snapshot
func (c *Client) GetTokenBalances(ctx context.Context, signature string) (*BalanceSnapshot, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solanago.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if out == nil || out.Meta == nil || out.Transaction == nil {
		return nil, ErrTransactionNotFound
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	keys := make([]solanago.PublicKey, 0, len(tx.Message.AccountKeys)+len(out.Meta.LoadedAddresses.Writable)+len(out.Meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, out.Meta.LoadedAddresses.Writable...)
	keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)

	return &BalanceSnapshot{
		Signature: signature,
		Slot:      out.Slot,
		Pre:       convertBalances(out.Meta.PreTokenBalances, keys),
		Post:      convertBalances(out.Meta.PostTokenBalances, keys),
	}, nil
}

func convertBalances(in []rpc.TokenBalance, keys []solanago.PublicKey) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{Mint: b.Mint.String()}
		if int(b.AccountIndex) < len(keys) {
			tb.Account = keys[b.AccountIndex].String()
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		tb.UIAmount = uiAmount(b.UiTokenAmount)
		out = append(out, tb)
	}
	return out
}

func uiAmount(a *rpc.UiTokenAmount) float64 {
	if a == nil {
		return 0
	}
	if a.UiAmount != nil {
		return *a.UiAmount
	}
	if a.UiAmountString != "" {
		if v, err := strconv.ParseFloat(a.UiAmountString, 64); err == nil {
			return v
		}
	}
	raw, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0
	}
	for i := uint8(0); i < a.Decimals; i++ {
		raw /= 10
	}
	return raw
}

// GetMintDecimals returns the on-chain decimals of a token mint
func (c *Client) GetMintDecimals(ctx context.Context, mint string) (uint8, error) {
	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	supply, err := c.rpc.GetTokenSupply(ctx, mintKey, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("get token supply: %w", err)
	}
	if supply == nil || supply.Value == nil {
		return 0, fmt.Errorf("get token supply: empty response for %s", mint)
	}
	return supply.Value.Decimals, nil
}

// SendTransfer builds, signs and broadcasts a TransferChecked from the treasury
// to the recipient's associated token account, creating it when absent
func (c *Client) SendTransfer(ctx context.Context, signer *Signer, req TransferRequest) (string, error) {
	tx, err := c.buildTransfer(ctx, signer, req)
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	sig, err := c.rpc.SendTransactionWithOpts(sendCtx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	c.logger.Info("Payout transaction broadcast",
		zap.String("signature", sig.String()),
		zap.String("mint", req.Mint),
		zap.String("recipient", req.Recipient),
		zap.Uint64("amount", req.Amount))

	return sig.String(), nil
}

func (c *Client) buildTransfer(ctx context.Context, signer *Signer, req TransferRequest) (*solanago.Transaction, error) {
	mint, err := solanago.PublicKeyFromBase58(req.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", req.Mint, err)
	}
	recipient, err := solanago.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", req.Recipient, err)
	}
	owner := signer.publicKey()

	source, err := c.sourceAccount(owner, mint, req.Source)
	if err != nil {
		return nil, err
	}
	destination, _, err := solanago.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("derive recipient token account: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	instructions := []solanago.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(c.config.ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(c.config.ComputeUnitPrice).Build(),
	}

	exists, err := c.accountExists(ctx, destination)
	if err != nil {
		return nil, err
	}
	if !exists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(owner, recipient, mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferCheckedInstruction(req.Amount, req.Decimals, source, mint, destination, owner, nil).Build())

	blockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	if blockhash == nil || blockhash.Value == nil {
		return nil, fmt.Errorf("get latest blockhash: empty response")
	}

	tx, err := solanago.NewTransaction(instructions, blockhash.Value.Blockhash, solanago.TransactionPayer(owner))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(owner) {
			return &signer.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	return tx, nil
}

func (c *Client) sourceAccount(owner, mint solanago.PublicKey, explicit string) (solanago.PublicKey, error) {
	if explicit != "" {
		key, err := solanago.PublicKeyFromBase58(explicit)
		if err != nil {
			return solanago.PublicKey{}, fmt.Errorf("invalid source account %q: %w", explicit, err)
		}
		return key, nil
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("derive treasury token account: %w", err)
	}
	return ata, nil
}

func (c *Client) accountExists(ctx context.Context, account solanago.PublicKey) (bool, error) {
	info, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get account info: %w", err)
	}
	return info != nil && info.Value != nil, nil
}

// WaitFinalized polls the signature status until the network reports finalized
func (c *Client) WaitFinalized(ctx context.Context, signature string) error {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 4 * time.Second
	policy.MaxElapsedTime = c.config.FinalizeTimeout

	op := func() error {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return fmt.Errorf("get signature status: %w", err)
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			return ErrNotFinalized
		}
		status := res.Value[0]
		if status.Err != nil {
			return backoff.Permanent(fmt.Errorf("transaction %s failed on chain: %v", signature, status.Err))
		}
		if status.ConfirmationStatus != rpc.ConfirmationStatusFinalized {
			return ErrNotFinalized
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// Health checks the RPC node
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("solana rpc health: %w", err)
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("solana rpc health: %s", status)
	}
	return nil
}
