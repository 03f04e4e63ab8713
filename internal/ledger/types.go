// types.go - Records persisted by the ledger and the host environment of a call.

package ledger

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Address identifies an account. The ledger treats it as an opaque string.
type Address string

// Env is the execution context supplied by the host for one call.
type Env struct {
	Caller Address // authenticated caller identity
	Height uint64  // host block height, recorded on touched records
}

// Account is the stored state of one address. Nonces are kept separately.
type Account struct {
	Commitment  *big.Int `json:"commitment"`
	LastUpdated uint64   `json:"last_updated"`
	Updates     uint64   `json:"updates"`
}

// AllowanceKey addresses one (owner, spender) relation.
type AllowanceKey struct {
	Owner   Address `json:"owner"`
	Spender Address `json:"spender"`
}

// Allowance is a delegated spending commitment.
type Allowance struct {
	Commitment *big.Int `json:"commitment"`
	ApprovedAt uint64   `json:"approved_at"`
}

// Metadata is the token-wide bookkeeping record.
type Metadata struct {
	Name             string          `json:"name"`
	Symbol           string          `json:"symbol"`
	Operator         Address         `json:"operator"`
	TotalSupply      decimal.Decimal `json:"total_supply"`
	SupplyCommitment *big.Int        `json:"supply_commitment"`
}

// Genesis seeds the metadata at deployment.
type Genesis struct {
	Name     string
	Symbol   string
	Operator Address
}

// AccountView is the public read view of an account.
type AccountView struct {
	Address     Address  `json:"address"`
	Exists      bool     `json:"exists"`
	Commitment  *big.Int `json:"commitment"`
	Nonce       uint64   `json:"nonce"`
	LastUpdated uint64   `json:"last_updated"`
	Updates     uint64   `json:"updates"`
}

// AllowanceView is the public read view of an approval.
type AllowanceView struct {
	Owner      Address  `json:"owner"`
	Spender    Address  `json:"spender"`
	Exists     bool     `json:"exists"`
	Commitment *big.Int `json:"commitment"`
	ApprovedAt uint64   `json:"approved_at"`
}

func (a Account) clone() Account {
	a.Commitment = cloneInt(a.Commitment)
	return a
}

func (a Allowance) clone() Allowance {
	a.Commitment = cloneInt(a.Commitment)
	return a
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.SupplyCommitment = cloneInt(m.SupplyCommitment)
	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
