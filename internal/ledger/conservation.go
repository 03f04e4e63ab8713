// conservation.go - Algebraic conservation identities checked for each operation.
//
// Every check is an exact equality of products mod P. No plaintext is ever inspected.

package ledger

import (
	"math/big"

	"cctoken/internal/commitment"
)

// Validator checks conservation identities over a fixed group.
type Validator struct {
	pp *commitment.Params
}

// NewValidator returns a validator for the given parameters.
func NewValidator(pp *commitment.Params) *Validator {
	return &Validator{pp: pp}
}

// Mint returns the new supply commitment old_supply * new_R * old_R^-1. If an amount
// commitment is given, new_R must also equal old_R * amount.
func (v *Validator) Mint(oldSupply, oldR, newR, amount *big.Int) (*big.Int, error) {
	if amount != nil && !v.holds(newR, oldR, amount) {
		return nil, reject(ErrConservation, "recipient commitment does not add the amount commitment")
	}
	delta, err := v.pp.Div(newR, oldR)
	if err != nil {
		return nil, malformed("recipient commitment", err)
	}
	return v.pp.Mul(oldSupply, delta), nil
}

// Transfer requires old_A * old_B == new_A * new_B. If an amount commitment is given,
// it also requires old_A == new_A * amount and new_B == old_B * amount.
func (v *Validator) Transfer(oldA, oldB, newA, newB, amount *big.Int) error {
	if !commitment.Equal(v.pp.Mul(oldA, oldB), v.pp.Mul(newA, newB)) {
		return reject(ErrConservation, "sender and recipient commitments do not conserve")
	}
	if amount == nil {
		return nil
	}
	if !v.holds(oldA, newA, amount) {
		return reject(ErrConservation, "sender commitment does not subtract the amount commitment")
	}
	if !v.holds(newB, oldB, amount) {
		return reject(ErrConservation, "recipient commitment does not add the amount commitment")
	}
	return nil
}

// TransferFrom checks transfer conservation over (owner, to) and that the allowance
// shrinks by exactly what the recipient gained: old_allow == new_allow * new_B * old_B^-1.
func (v *Validator) TransferFrom(oldOwner, oldTo, newOwner, newTo, oldAllow, newAllow *big.Int) error {
	if err := v.Transfer(oldOwner, oldTo, newOwner, newTo, nil); err != nil {
		return err
	}
	gained, err := v.pp.Div(newTo, oldTo)
	if err != nil {
		return malformed("recipient commitment", err)
	}
	if !v.holds(oldAllow, newAllow, gained) {
		return reject(ErrInvalidAllowance, "allowance does not decrease by the transferred commitment")
	}
	return nil
}

// Burn returns the new supply commitment old_supply * new_A * old_A^-1, which removes
// the burned factor from the supply exactly as it left the account. If an amount
// commitment is given, old_A must equal new_A * amount.
func (v *Validator) Burn(oldSupply, oldA, newA, amount *big.Int) (*big.Int, error) {
	if amount != nil && !v.holds(oldA, newA, amount) {
		return nil, reject(ErrConservation, "account commitment does not subtract the amount commitment")
	}
	delta, err := v.pp.Div(newA, oldA)
	if err != nil {
		return nil, malformed("account commitment", err)
	}
	return v.pp.Mul(oldSupply, delta), nil
}

// holds reports whether lhs == a * b mod P.
func (v *Validator) holds(lhs, a, b *big.Int) bool {
	return commitment.Equal(lhs, v.pp.Mul(a, b))
}
