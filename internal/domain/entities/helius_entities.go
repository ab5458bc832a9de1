package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// HeliusEvent is one enhanced-transaction notification from the Helius webhook
type HeliusEvent struct {
	Type           string                `json:"type"`
	Signature      string                `json:"signature"`
	Slot           uint64                `json:"slot"`
	Description    string                `json:"description"`
	TokenTransfers []HeliusTokenTransfer `json:"tokenTransfers"`
	AccountData    []HeliusAccountData   `json:"accountData"`
	Transaction    *HeliusRawTransaction `json:"transaction,omitempty"`
}

// HeliusRawTransaction carries signatures for raw (non-enhanced) payloads
type HeliusRawTransaction struct {
	Signatures []string `json:"signatures"`
}

// TxSignature returns the event signature, falling back to the raw transaction
func (e *HeliusEvent) TxSignature() string {
	if e.Signature != "" {
		return e.Signature
	}
	if e.Transaction != nil && len(e.Transaction.Signatures) > 0 {
		return e.Transaction.Signatures[0]
	}
	return ""
}

type HeliusTokenTransfer struct {
	Mint             string          `json:"mint"`
	FromUserAccount  string          `json:"fromUserAccount"`
	ToUserAccount    string          `json:"toUserAccount"`
	FromTokenAccount string          `json:"fromTokenAccount,omitempty"`
	ToTokenAccount   string          `json:"toTokenAccount,omitempty"`
	TokenAmount      FlexAmount      `json:"tokenAmount"`
	RawTokenAmount   *RawTokenAmount `json:"rawTokenAmount,omitempty"`
}

type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

type HeliusAccountData struct {
	Account             string                     `json:"account"`
	NativeBalanceChange int64                      `json:"nativeBalanceChange"`
	TokenBalanceChanges []HeliusTokenBalanceChange `json:"tokenBalanceChanges"`
}

type HeliusTokenBalanceChange struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// FlexAmount accepts a JSON number or a numeric string
type FlexAmount float64

func (a *FlexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid token amount %q: %w", s, err)
		}
		*a = FlexAmount(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = FlexAmount(v)
	return nil
}

// ParseHeliusEvents accepts an array of events, an {events: [...]} envelope,
// or a single event object
func ParseHeliusEvents(body []byte) ([]HeliusEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty webhook body")
	}

	switch body[0] {
	case '[':
		var events []HeliusEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("invalid event array: %w", err)
		}
		return events, nil
	case '{':
		var envelope struct {
			Events []HeliusEvent `json:"events"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("invalid webhook payload: %w", err)
		}
		if envelope.Events != nil {
			return envelope.Events, nil
		}
		var event HeliusEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, fmt.Errorf("invalid event: %w", err)
		}
		return []HeliusEvent{event}, nil
	default:
		return nil, fmt.Errorf("webhook payload must be a JSON object or array")
	}
}

// WebhookResult is the per-event outcome reported back to the webhook caller
type WebhookResult struct {
	Sig     string         `json:"sig,omitempty"`
	Side    SettlementSide `json:"side,omitempty"`
	Queued  bool           `json:"queued,omitempty"`
	Skipped bool           `json:"skipped,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Error   string         `json:"error,omitempty"`
}

const (
	ReasonAlreadyPaid = "already_paid"
	ReasonNoMatch     = "no_match"
	ReasonNoSignature = "no_signature"
)
