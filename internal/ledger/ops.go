// ops.go - The closed set of state-mutating operations.

package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"cctoken/internal/commitment"
)

// OpKind names an operation variant.
type OpKind string

const (
	OpMint         OpKind = "mint"
	OpTransfer     OpKind = "transfer"
	OpTransferFrom OpKind = "transfer_from"
	OpApprove      OpKind = "approve"
	OpBurn         OpKind = "burn"
	OpForceBurn    OpKind = "force_burn"
	OpSetMetadata  OpKind = "set_metadata"
)

// Operation is implemented only by the variants in this file.
type Operation interface {
	Kind() OpKind
	// SubmittedNonce is the nonce the caller claims for the operation's subject account.
	SubmittedNonce() uint64
	checkShape(pp *commitment.Params) error
}

// Mint credits a recipient. Operator only. The recipient's nonce is consumed.
type Mint struct {
	Recipient        Address
	Amount           decimal.Decimal // public, added to the total supply
	AmountCommitment *big.Int        // optional; enables the addition check
	NewCommitment    *big.Int
	Nonce            uint64
}

// Transfer moves value from the caller to To.
type Transfer struct {
	To                     Address
	AmountCommitment       *big.Int // optional
	NewSenderCommitment    *big.Int
	NewRecipientCommitment *big.Int
	Nonce                  uint64
}

// TransferFrom moves value from Owner to To on the caller's allowance. The caller's
// (spender's) nonce is consumed.
type TransferFrom struct {
	Owner                  Address
	To                     Address
	AmountCommitment       *big.Int // optional
	NewOwnerCommitment     *big.Int
	NewRecipientCommitment *big.Int
	NewAllowanceCommitment *big.Int
	Nonce                  uint64
}

// Approve replaces the caller's allowance for Spender.
type Approve struct {
	Spender             Address
	AllowanceCommitment *big.Int
	Nonce               uint64
}

// Burn destroys value held by the caller.
type Burn struct {
	Amount           decimal.Decimal
	AmountCommitment *big.Int // optional
	NewCommitment    *big.Int
	Nonce            uint64
}

// ForceBurn destroys value held by Owner. Operator only; Owner's nonce is consumed.
type ForceBurn struct {
	Owner            Address
	Amount           decimal.Decimal
	AmountCommitment *big.Int // optional
	NewCommitment    *big.Int
	Nonce            uint64
}

// SetMetadata renames the token or hands the operator role to another address.
// Operator only. Empty fields are left unchanged.
type SetMetadata struct {
	Name     string
	Symbol   string
	Operator Address
	Nonce    uint64
}

func (*Mint) Kind() OpKind         { return OpMint }
func (*Transfer) Kind() OpKind     { return OpTransfer }
func (*TransferFrom) Kind() OpKind { return OpTransferFrom }
func (*Approve) Kind() OpKind      { return OpApprove }
func (*Burn) Kind() OpKind         { return OpBurn }
func (*ForceBurn) Kind() OpKind    { return OpForceBurn }
func (*SetMetadata) Kind() OpKind  { return OpSetMetadata }

func (op *Mint) SubmittedNonce() uint64         { return op.Nonce }
func (op *Transfer) SubmittedNonce() uint64     { return op.Nonce }
func (op *TransferFrom) SubmittedNonce() uint64 { return op.Nonce }
func (op *Approve) SubmittedNonce() uint64      { return op.Nonce }
func (op *Burn) SubmittedNonce() uint64         { return op.Nonce }
func (op *ForceBurn) SubmittedNonce() uint64    { return op.Nonce }
func (op *SetMetadata) SubmittedNonce() uint64  { return op.Nonce }

func (op *Mint) checkShape(pp *commitment.Params) error {
	if err := checkAddress("recipient", op.Recipient); err != nil {
		return err
	}
	if err := checkAmount(op.Amount); err != nil {
		return err
	}
	return checkElements(pp,
		named{"new commitment", op.NewCommitment, true},
		named{"amount commitment", op.AmountCommitment, false},
	)
}

func (op *Transfer) checkShape(pp *commitment.Params) error {
	if err := checkAddress("recipient", op.To); err != nil {
		return err
	}
	return checkElements(pp,
		named{"new sender commitment", op.NewSenderCommitment, true},
		named{"new recipient commitment", op.NewRecipientCommitment, true},
		named{"amount commitment", op.AmountCommitment, false},
	)
}

func (op *TransferFrom) checkShape(pp *commitment.Params) error {
	if err := checkAddress("owner", op.Owner); err != nil {
		return err
	}
	if err := checkAddress("recipient", op.To); err != nil {
		return err
	}
	if op.Owner == op.To {
		return malformed("owner and recipient must differ", nil)
	}
	return checkElements(pp,
		named{"new owner commitment", op.NewOwnerCommitment, true},
		named{"new recipient commitment", op.NewRecipientCommitment, true},
		named{"new allowance commitment", op.NewAllowanceCommitment, true},
		named{"amount commitment", op.AmountCommitment, false},
	)
}

func (op *Approve) checkShape(pp *commitment.Params) error {
	if err := checkAddress("spender", op.Spender); err != nil {
		return err
	}
	return checkElements(pp, named{"allowance commitment", op.AllowanceCommitment, true})
}

func (op *Burn) checkShape(pp *commitment.Params) error {
	if err := checkAmount(op.Amount); err != nil {
		return err
	}
	return checkElements(pp,
		named{"new commitment", op.NewCommitment, true},
		named{"amount commitment", op.AmountCommitment, false},
	)
}

func (op *ForceBurn) checkShape(pp *commitment.Params) error {
	if err := checkAddress("owner", op.Owner); err != nil {
		return err
	}
	if err := checkAmount(op.Amount); err != nil {
		return err
	}
	return checkElements(pp,
		named{"new commitment", op.NewCommitment, true},
		named{"amount commitment", op.AmountCommitment, false},
	)
}

func (op *SetMetadata) checkShape(*commitment.Params) error {
	if op.Name == "" && op.Symbol == "" && op.Operator == "" {
		return malformed("nothing to change", nil)
	}
	if op.Operator != "" {
		return checkAddress("operator", op.Operator)
	}
	return nil
}

type named struct {
	name     string
	value    *big.Int
	required bool
}

func checkElements(pp *commitment.Params, elems ...named) error {
	for _, e := range elems {
		if e.value == nil && !e.required {
			continue
		}
		if err := pp.CheckElement(e.value); err != nil {
			return malformed(e.name, err)
		}
	}
	return nil
}

func checkAddress(role string, addr Address) error {
	if addr == "" {
		return malformed(fmt.Sprintf("empty %s address", role), nil)
	}
	if strings.ContainsRune(string(addr), 0) {
		return malformed(fmt.Sprintf("%s address contains a NUL byte", role), nil)
	}
	return nil
}

func checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return malformed("negative amount", nil)
	}
	return nil
}
