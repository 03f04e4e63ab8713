// params.go - Group parameters and the commitment function.

package commitment

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/shopspring/decimal"
)

// Parameter and element errors. All of them describe malformed input rather than a
// failed check, and the ledger reports them as such.
var (
	ErrBadParams          = errors.New("commitment: degenerate group parameters")
	ErrUnknownHashVersion = errors.New("commitment: unknown hash version")
	ErrBlindingRange      = errors.New("commitment: blinding outside exponent range")
	ErrNotElement         = errors.New("commitment: value is not a group element")
)

// primalityRounds is the Miller-Rabin round count used when validating P.
const primalityRounds = 20

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// Params are the deployment-wide group parameters. They are immutable once a ledger
// has been deployed with them.
type Params struct {
	P           *big.Int // prime modulus
	G           *big.Int // value generator
	H           *big.Int // blinding generator
	HashVersion string   // hash-to-exponent variant

	order *big.Int // P-1, the exponent modulus
	hash  hashFunc
}

// DefaultParams returns the deployment parameters of the original token:
// P = 2^255-19 with generators derived from the tags "g" and "h".
func DefaultParams() *Params {
	p := new(big.Int).Lsh(one, 255)
	p.Sub(p, big.NewInt(19))
	params, err := NewParams(p, mapToBase(p, "g"), mapToBase(p, "h"), HashSHA3V1)
	if err != nil {
		panic(fmt.Sprintf("default commitment params invalid: %v", err))
	}
	return params
}

// DefaultParamsWithHash returns the default group with a different hash version.
func DefaultParamsWithHash(version string) (*Params, error) {
	d := DefaultParams()
	return NewParams(d.P, d.G, d.H, version)
}

// NewParams validates and returns a parameter set.
func NewParams(p, g, h *big.Int, hashVersion string) (*Params, error) {
	if p == nil || g == nil || h == nil {
		return nil, fmt.Errorf("%w: nil modulus or generator", ErrBadParams)
	}
	params := &Params{
		P:           new(big.Int).Set(p),
		G:           new(big.Int).Set(g),
		H:           new(big.Int).Set(h),
		HashVersion: hashVersion,
	}
	if err := params.init(); err != nil {
		return nil, err
	}
	return params, nil
}

func (pp *Params) init() error {
	if err := pp.validateGroup(); err != nil {
		return err
	}
	hash, err := lookupHash(pp.HashVersion)
	if err != nil {
		return err
	}
	pp.hash = hash
	pp.order = new(big.Int).Sub(pp.P, one)
	return nil
}

// Validate rejects composite moduli and generators that are 0, 1, P-1 or equal. Params
// not built by NewParams, DefaultParams or UnmarshalJSON are rejected as well.
func (pp *Params) Validate() error {
	if err := pp.validateGroup(); err != nil {
		return err
	}
	if pp.hash == nil || pp.order == nil {
		return fmt.Errorf("%w: parameters not initialised", ErrBadParams)
	}
	return nil
}

func (pp *Params) validateGroup() error {
	if pp == nil || pp.P == nil || pp.G == nil || pp.H == nil {
		return fmt.Errorf("%w: nil modulus or generator", ErrBadParams)
	}
	if pp.P.Cmp(big.NewInt(3)) <= 0 || !pp.P.ProbablyPrime(primalityRounds) {
		return fmt.Errorf("%w: modulus is not a usable prime", ErrBadParams)
	}
	upper := new(big.Int).Sub(pp.P, two)
	for name, gen := range map[string]*big.Int{"g": pp.G, "h": pp.H} {
		if gen.Cmp(two) < 0 || gen.Cmp(upper) > 0 {
			return fmt.Errorf("%w: generator %s outside [2, p-2]", ErrBadParams, name)
		}
	}
	if pp.G.Cmp(pp.H) == 0 {
		return fmt.Errorf("%w: generators must differ", ErrBadParams)
	}
	if _, err := lookupHash(pp.HashVersion); err != nil {
		return err
	}
	return nil
}

// Equal reports whether two parameter sets describe the same group and hash.
func (pp *Params) Equal(other *Params) bool {
	if pp == nil || other == nil {
		return pp == other
	}
	return pp.P.Cmp(other.P) == 0 &&
		pp.G.Cmp(other.G) == 0 &&
		pp.H.Cmp(other.H) == 0 &&
		pp.HashVersion == other.HashVersion
}

// Order returns a copy of the exponent modulus P-1.
func (pp *Params) Order() *big.Int {
	return new(big.Int).Set(pp.order)
}

// ValueExponent hashes a value's text into the exponent range [0, P-1).
func (pp *Params) ValueExponent(value string) (*big.Int, error) {
	raw, err := pp.hash([]byte(valueDomain + value))
	if err != nil {
		return nil, err
	}
	return raw.Mod(raw, pp.order), nil
}

// Commit computes G^H(value) * H^blinding mod P.
func (pp *Params) Commit(value string, blinding *big.Int) (*big.Int, error) {
	exp, err := pp.ValueExponent(value)
	if err != nil {
		return nil, err
	}
	return pp.CommitExponent(exp, blinding)
}

// CommitExponent commits to an already-hashed value exponent.
func (pp *Params) CommitExponent(valueExp, blinding *big.Int) (*big.Int, error) {
	if err := pp.checkExponent(blinding); err != nil {
		return nil, err
	}
	if err := pp.checkExponent(valueExp); err != nil {
		return nil, err
	}
	gv := new(big.Int).Exp(pp.G, valueExp, pp.P)
	hb := new(big.Int).Exp(pp.H, blinding, pp.P)
	return gv.Mul(gv, hb).Mod(gv, pp.P), nil
}

// CommitDecimal commits to a decimal amount using its canonical text.
func (pp *Params) CommitDecimal(amount decimal.Decimal, blinding *big.Int) (*big.Int, error) {
	return pp.Commit(FormatValue(amount), blinding)
}

func (pp *Params) checkExponent(e *big.Int) error {
	if e == nil || e.Sign() < 0 || e.Cmp(pp.order) >= 0 {
		return ErrBlindingRange
	}
	return nil
}

// RandomBlinding draws a blinding uniformly from [0, P-1). A nil reader uses crypto/rand.
func (pp *Params) RandomBlinding(r io.Reader) (*big.Int, error) {
	if r == nil {
		r = rand.Reader
	}
	b, err := rand.Int(r, pp.order)
	if err != nil {
		return nil, fmt.Errorf("blinding generation failed: %w", err)
	}
	return b, nil
}

// FormatValue is the canonical text encoding of an amount. The ledger and every wallet
// must hash exactly this string.
func FormatValue(amount decimal.Decimal) string {
	return amount.String()
}

type paramsJSON struct {
	P           string `json:"p"`
	G           string `json:"g"`
	H           string `json:"h"`
	HashVersion string `json:"hash_version"`
}

// MarshalJSON encodes the parameters as hex strings.
func (pp *Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(paramsJSON{
		P:           ToHex(pp.P),
		G:           ToHex(pp.G),
		H:           ToHex(pp.H),
		HashVersion: pp.HashVersion,
	})
}

// UnmarshalJSON decodes and validates parameters.
func (pp *Params) UnmarshalJSON(data []byte) error {
	var raw paramsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if pp.P, err = ParseHex(raw.P); err != nil {
		return fmt.Errorf("param p: %w", err)
	}
	if pp.G, err = ParseHex(raw.G); err != nil {
		return fmt.Errorf("param g: %w", err)
	}
	if pp.H, err = ParseHex(raw.H); err != nil {
		return fmt.Errorf("param h: %w", err)
	}
	pp.HashVersion = raw.HashVersion
	return pp.init()
}
