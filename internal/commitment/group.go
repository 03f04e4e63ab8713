// group.go - Arithmetic on commitments in the multiplicative group mod P.

package commitment

import (
	"fmt"
	"math/big"
	"strings"
)

// Identity returns the commitment of an empty balance.
func Identity() *big.Int {
	return big.NewInt(1)
}

// IsIdentity reports whether c is the identity commitment.
func IsIdentity(c *big.Int) bool {
	return c != nil && c.Cmp(one) == 0
}

// CheckElement requires c to lie in [1, P).
func (pp *Params) CheckElement(c *big.Int) error {
	if c == nil || c.Sign() <= 0 || c.Cmp(pp.P) >= 0 {
		return ErrNotElement
	}
	return nil
}

// Mul returns the product of the given elements mod P. With no arguments it returns
// the identity.
func (pp *Params) Mul(elems ...*big.Int) *big.Int {
	acc := Identity()
	for _, e := range elems {
		acc.Mul(acc, e)
		acc.Mod(acc, pp.P)
	}
	return acc
}

// Inverse returns c^(P-2) mod P, the inverse of c by Fermat's little theorem.
func (pp *Params) Inverse(c *big.Int) (*big.Int, error) {
	if err := pp.CheckElement(c); err != nil {
		return nil, err
	}
	return new(big.Int).Exp(c, new(big.Int).Sub(pp.P, two), pp.P), nil
}

// Div returns a * b^-1 mod P.
func (pp *Params) Div(a, b *big.Int) (*big.Int, error) {
	inv, err := pp.Inverse(b)
	if err != nil {
		return nil, err
	}
	return pp.Mul(a, inv), nil
}

// Equal compares two elements exactly.
func Equal(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// ToHex renders an element as a 0x-prefixed lowercase hex string.
func ToHex(v *big.Int) string {
	if v == nil {
		return ""
	}
	return "0x" + v.Text(16)
}

// ParseHex accepts a 0x-prefixed hex string or a plain decimal string.
func ParseHex(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
