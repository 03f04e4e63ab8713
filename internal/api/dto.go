// dto.go - Wire forms of operations and views. Commitments travel as 0x-prefixed hex.

package api

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"cctoken/internal/commitment"
	"cctoken/internal/ledger"
)

// Hex is a commitment encoded as a 0x-prefixed hex string.
type Hex string

// HexOf encodes c.
func HexOf(c *big.Int) Hex {
	if c == nil {
		return ""
	}
	return Hex(commitment.ToHex(c))
}

func (h Hex) required(field string) (*big.Int, error) {
	if h == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	return h.optional(field)
}

func (h Hex) optional(field string) (*big.Int, error) {
	if h == "" {
		return nil, nil
	}
	v, err := commitment.ParseHex(string(h))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// opRequest converts a request body into a ledger operation.
type opRequest interface {
	toOperation() (ledger.Operation, error)
}

type MintRequest struct {
	Recipient        ledger.Address  `json:"recipient" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
	AmountCommitment Hex             `json:"amount_commitment,omitempty"`
	NewCommitment    Hex             `json:"new_commitment" binding:"required"`
	Nonce            uint64          `json:"nonce"`
}

type TransferRequest struct {
	To                     ledger.Address `json:"to" binding:"required"`
	AmountCommitment       Hex            `json:"amount_commitment,omitempty"`
	NewSenderCommitment    Hex            `json:"new_sender_commitment" binding:"required"`
	NewRecipientCommitment Hex            `json:"new_recipient_commitment" binding:"required"`
	Nonce                  uint64         `json:"nonce"`
}

type TransferFromRequest struct {
	Owner                  ledger.Address `json:"owner" binding:"required"`
	To                     ledger.Address `json:"to" binding:"required"`
	AmountCommitment       Hex            `json:"amount_commitment,omitempty"`
	NewOwnerCommitment     Hex            `json:"new_owner_commitment" binding:"required"`
	NewRecipientCommitment Hex            `json:"new_recipient_commitment" binding:"required"`
	NewAllowanceCommitment Hex            `json:"new_allowance_commitment" binding:"required"`
	Nonce                  uint64         `json:"nonce"`
}

type ApproveRequest struct {
	Spender             ledger.Address `json:"spender" binding:"required"`
	AllowanceCommitment Hex            `json:"allowance_commitment" binding:"required"`
	Nonce               uint64         `json:"nonce"`
}

type BurnRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	AmountCommitment Hex             `json:"amount_commitment,omitempty"`
	NewCommitment    Hex             `json:"new_commitment" binding:"required"`
	Nonce            uint64          `json:"nonce"`
}

type ForceBurnRequest struct {
	Owner            ledger.Address  `json:"owner" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
	AmountCommitment Hex             `json:"amount_commitment,omitempty"`
	NewCommitment    Hex             `json:"new_commitment" binding:"required"`
	Nonce            uint64          `json:"nonce"`
}

type SetMetadataRequest struct {
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Operator ledger.Address `json:"operator"`
	Nonce    uint64         `json:"nonce"`
}

func (r *MintRequest) toOperation() (ledger.Operation, error) {
	amt, err := r.AmountCommitment.optional("amount_commitment")
	if err != nil {
		return nil, err
	}
	newC, err := r.NewCommitment.required("new_commitment")
	if err != nil {
		return nil, err
	}
	return &ledger.Mint{Recipient: r.Recipient, Amount: r.Amount, AmountCommitment: amt, NewCommitment: newC, Nonce: r.Nonce}, nil
}

func (r *TransferRequest) toOperation() (ledger.Operation, error) {
	amt, err := r.AmountCommitment.optional("amount_commitment")
	if err != nil {
		return nil, err
	}
	sender, err := r.NewSenderCommitment.required("new_sender_commitment")
	if err != nil {
		return nil, err
	}
	recipient, err := r.NewRecipientCommitment.required("new_recipient_commitment")
	if err != nil {
		return nil, err
	}
	return &ledger.Transfer{
		To:                     r.To,
		AmountCommitment:       amt,
		NewSenderCommitment:    sender,
		NewRecipientCommitment: recipient,
		Nonce:                  r.Nonce,
	}, nil
}

func (r *TransferFromRequest) toOperation() (ledger.Operation, error) {
	amt, err := r.AmountCommitment.optional("amount_commitment")
	if err != nil {
		return nil, err
	}
	owner, err := r.NewOwnerCommitment.required("new_owner_commitment")
	if err != nil {
		return nil, err
	}
	recipient, err := r.NewRecipientCommitment.required("new_recipient_commitment")
	if err != nil {
		return nil, err
	}
	allowance, err := r.NewAllowanceCommitment.required("new_allowance_commitment")
	if err != nil {
		return nil, err
	}
	return &ledger.TransferFrom{
		Owner:                  r.Owner,
		To:                     r.To,
		AmountCommitment:       amt,
		NewOwnerCommitment:     owner,
		NewRecipientCommitment: recipient,
		NewAllowanceCommitment: allowance,
		Nonce:                  r.Nonce,
	}, nil
}

func (r *ApproveRequest) toOperation() (ledger.Operation, error) {
	allowance, err := r.AllowanceCommitment.required("allowance_commitment")
	if err != nil {
		return nil, err
	}
	return &ledger.Approve{Spender: r.Spender, AllowanceCommitment: allowance, Nonce: r.Nonce}, nil
}

func (r *BurnRequest) toOperation() (ledger.Operation, error) {
	amt, err := r.AmountCommitment.optional("amount_commitment")
	if err != nil {
		return nil, err
	}
	newC, err := r.NewCommitment.required("new_commitment")
	if err != nil {
		return nil, err
	}
	return &ledger.Burn{Amount: r.Amount, AmountCommitment: amt, NewCommitment: newC, Nonce: r.Nonce}, nil
}

func (r *ForceBurnRequest) toOperation() (ledger.Operation, error) {
	amt, err := r.AmountCommitment.optional("amount_commitment")
	if err != nil {
		return nil, err
	}
	newC, err := r.NewCommitment.required("new_commitment")
	if err != nil {
		return nil, err
	}
	return &ledger.ForceBurn{Owner: r.Owner, Amount: r.Amount, AmountCommitment: amt, NewCommitment: newC, Nonce: r.Nonce}, nil
}

func (r *SetMetadataRequest) toOperation() (ledger.Operation, error) {
	return &ledger.SetMetadata{Name: r.Name, Symbol: r.Symbol, Operator: r.Operator, Nonce: r.Nonce}, nil
}

// AccountResponse is the wire form of ledger.AccountView.
type AccountResponse struct {
	Address     ledger.Address `json:"address"`
	Exists      bool           `json:"exists"`
	Commitment  Hex            `json:"commitment"`
	Nonce       uint64         `json:"nonce"`
	LastUpdated uint64         `json:"last_updated"`
	Updates     uint64         `json:"updates"`
}

// AllowanceResponse is the wire form of ledger.AllowanceView.
type AllowanceResponse struct {
	Owner      ledger.Address `json:"owner"`
	Spender    ledger.Address `json:"spender"`
	Exists     bool           `json:"exists"`
	Commitment Hex            `json:"commitment"`
	ApprovedAt uint64         `json:"approved_at"`
}

// MetadataResponse is the wire form of ledger.Metadata.
type MetadataResponse struct {
	Name             string          `json:"name"`
	Symbol           string          `json:"symbol"`
	Operator         ledger.Address  `json:"operator"`
	TotalSupply      decimal.Decimal `json:"total_supply"`
	SupplyCommitment Hex             `json:"supply_commitment"`
}

// InvariantResponse is the wire form of ledger.InvariantReport.
type InvariantResponse struct {
	OK       bool `json:"ok"`
	Product  Hex  `json:"product"`
	Expected Hex  `json:"expected"`
	Accounts int  `json:"accounts"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Gate   string `json:"gate,omitempty"`
	Reason string `json:"reason,omitempty"`
}
