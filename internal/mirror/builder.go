// builder.go - Client-side construction of ledger operations.
//
// A client keeps plaintext amounts and blindings private and submits only commitments.
// The builders here compute the new commitments from the current on-chain ones using the
// same commitment code as the engine, so every operation they return satisfies the
// engine's conservation identities.

// Package mirror is the off-chain companion of package ledger: it builds operations and
// tracks the openings behind on-chain commitments.
package mirror

import (
	"fmt"
	"io"
	"math/big"

	"github.com/shopspring/decimal"

	"cctoken/internal/commitment"
	"cctoken/internal/ledger"
)

// Amount is a committed plaintext amount together with its opening.
type Amount struct {
	Value      decimal.Decimal
	ValueExp   *big.Int
	Blinding   *big.Int
	Commitment *big.Int
}

// Builder creates operations for one set of group parameters.
type Builder struct {
	pp   *commitment.Params
	rand io.Reader
}

// NewBuilder returns a builder. A nil reader draws blindings from crypto/rand.
func NewBuilder(pp *commitment.Params, rand io.Reader) *Builder {
	return &Builder{pp: pp, rand: rand}
}

// Params returns the builder's group parameters.
func (b *Builder) Params() *commitment.Params {
	return b.pp
}

// CommitAmount commits to value. A nil blinding is drawn at random.
func (b *Builder) CommitAmount(value decimal.Decimal, blinding *big.Int) (Amount, error) {
	if value.IsNegative() {
		return Amount{}, fmt.Errorf("negative amount %s", value)
	}
	if blinding == nil {
		var err error
		if blinding, err = b.pp.RandomBlinding(b.rand); err != nil {
			return Amount{}, err
		}
	}
	exp, err := b.pp.ValueExponent(commitment.FormatValue(value))
	if err != nil {
		return Amount{}, err
	}
	c, err := b.pp.CommitExponent(exp, blinding)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: value, ValueExp: exp, Blinding: new(big.Int).Set(blinding), Commitment: c}, nil
}

// BuildMint credits amount to a recipient whose on-chain commitment is current.
func (b *Builder) BuildMint(recipient ledger.Address, current *big.Int, amount decimal.Decimal, blinding *big.Int, nonce uint64) (*ledger.Mint, Amount, error) {
	amt, err := b.CommitAmount(amount, blinding)
	if err != nil {
		return nil, Amount{}, err
	}
	return &ledger.Mint{
		Recipient:        recipient,
		Amount:           amount,
		AmountCommitment: amt.Commitment,
		NewCommitment:    b.pp.Mul(orIdentity(current), amt.Commitment),
		Nonce:            nonce,
	}, amt, nil
}

// BuildTransfer moves amount from the caller (commitment sender) to to (commitment recipient).
func (b *Builder) BuildTransfer(to ledger.Address, sender, recipient *big.Int, amount decimal.Decimal, blinding *big.Int, nonce uint64) (*ledger.Transfer, Amount, error) {
	amt, err := b.CommitAmount(amount, blinding)
	if err != nil {
		return nil, Amount{}, err
	}
	newSender, err := b.pp.Div(orIdentity(sender), amt.Commitment)
	if err != nil {
		return nil, Amount{}, err
	}
	return &ledger.Transfer{
		To:                     to,
		AmountCommitment:       amt.Commitment,
		NewSenderCommitment:    newSender,
		NewRecipientCommitment: b.pp.Mul(orIdentity(recipient), amt.Commitment),
		Nonce:                  nonce,
	}, amt, nil
}

// BuildTransferFrom spends amount of owner's allowance to the caller, paying to.
func (b *Builder) BuildTransferFrom(owner, to ledger.Address, ownerC, toC, allowance *big.Int, amount decimal.Decimal, blinding *big.Int, nonce uint64) (*ledger.TransferFrom, Amount, error) {
	amt, err := b.CommitAmount(amount, blinding)
	if err != nil {
		return nil, Amount{}, err
	}
	newOwner, err := b.pp.Div(orIdentity(ownerC), amt.Commitment)
	if err != nil {
		return nil, Amount{}, err
	}
	newAllowance, err := b.pp.Div(orIdentity(allowance), amt.Commitment)
	if err != nil {
		return nil, Amount{}, err
	}
	return &ledger.TransferFrom{
		Owner:                  owner,
		To:                     to,
		AmountCommitment:       amt.Commitment,
		NewOwnerCommitment:     newOwner,
		NewRecipientCommitment: b.pp.Mul(orIdentity(toC), amt.Commitment),
		NewAllowanceCommitment: newAllowance,
		Nonce:                  nonce,
	}, amt, nil
}

// BuildApprove sets the caller's allowance for spender to amount.
func (b *Builder) BuildApprove(spender ledger.Address, amount decimal.Decimal, blinding *big.Int, nonce uint64) (*ledger.Approve, Amount, error) {
	amt, err := b.CommitAmount(amount, blinding)
	if err != nil {
		return nil, Amount{}, err
	}
	return &ledger.Approve{
		Spender:             spender,
		AllowanceCommitment: amt.Commitment,
		Nonce:               nonce,
	}, amt, nil
}

// BuildBurn destroys amount from the caller's commitment current.
func (b *Builder) BuildBurn(current *big.Int, amount decimal.Decimal, blinding *big.Int, nonce uint64) (*ledger.Burn, Amount, error) {
	amt, newC, err := b.debit(current, amount, blinding)
	if err != nil {
		return nil, Amount{}, err
	}
	return &ledger.Burn{
		Amount:           amount,
		AmountCommitment: amt.Commitment,
		NewCommitment:    newC,
		Nonce:            nonce,
	}, amt, nil
}

// BuildForceBurn destroys amount from owner's commitment current.
func (b *Builder) BuildForceBurn(owner ledger.Address, current *big.Int, amount decimal.Decimal, blinding *big.Int, nonce uint64) (*ledger.ForceBurn, Amount, error) {
	amt, newC, err := b.debit(current, amount, blinding)
	if err != nil {
		return nil, Amount{}, err
	}
	return &ledger.ForceBurn{
		Owner:            owner,
		Amount:           amount,
		AmountCommitment: amt.Commitment,
		NewCommitment:    newC,
		Nonce:            nonce,
	}, amt, nil
}

func (b *Builder) debit(current *big.Int, amount decimal.Decimal, blinding *big.Int) (Amount, *big.Int, error) {
	amt, err := b.CommitAmount(amount, blinding)
	if err != nil {
		return Amount{}, nil, err
	}
	newC, err := b.pp.Div(orIdentity(current), amt.Commitment)
	if err != nil {
		return Amount{}, nil, err
	}
	return amt, newC, nil
}

func orIdentity(c *big.Int) *big.Int {
	if c == nil {
		return commitment.Identity()
	}
	return c
}
