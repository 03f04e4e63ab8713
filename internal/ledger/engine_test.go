package ledger

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cctoken/internal/commitment"
)

const (
	operator Address = "operator"
	alice    Address = "alice"
	bob      Address = "bob"
	carol    Address = "carol"
)

type fixture struct {
	t      *testing.T
	pp     *commitment.Params
	store  *MemStore
	eng    *Engine
	events []Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pp := commitment.DefaultParams()
	store := NewMemStore()
	require.NoError(t, Deploy(store, pp, Genesis{Name: "Confidential", Symbol: "CCT", Operator: operator}))

	f := &fixture{t: t, pp: pp, store: store}
	eng, err := Open(store, pp, WithEmitter(EmitterFunc(func(ev Event) {
		f.events = append(f.events, ev)
	})))
	require.NoError(t, err)
	f.eng = eng
	return f
}

func (f *fixture) commit(value string, blinding int64) *big.Int {
	return testCommit(f.t, f.pp, value, blinding)
}

func (f *fixture) balance(addr Address) *big.Int {
	f.t.Helper()
	view, err := f.eng.Account(addr)
	require.NoError(f.t, err)
	return view.Commitment
}

func (f *fixture) nonce(addr Address) uint64 {
	f.t.Helper()
	n, err := f.eng.Nonce(addr)
	require.NoError(f.t, err)
	return n
}

// mint credits amt to addr, returning the recipient's new commitment.
func (f *fixture) mint(addr Address, amount string, amt *big.Int) *big.Int {
	f.t.Helper()
	newR := f.eng.Params().Mul(f.balance(addr), amt)
	_, err := f.eng.Apply(Env{Caller: operator, Height: 1}, &Mint{
		Recipient:        addr,
		Amount:           decimal.RequireFromString(amount),
		AmountCommitment: amt,
		NewCommitment:    newR,
		Nonce:            f.nonce(addr),
	})
	require.NoError(f.t, err)
	return newR
}

func (f *fixture) requireInvariant() {
	f.t.Helper()
	report, err := f.eng.VerifySupplyInvariant()
	require.NoError(f.t, err)
	require.True(f.t, report.OK)
}

func requireRejected(t *testing.T, err error, kind error, gate Stage) {
	t.Helper()
	require.ErrorIs(t, err, kind)
	var lerr *Error
	require.True(t, errors.As(err, &lerr), "expected *Error, got %T", err)
	require.Equal(t, gate, lerr.Gate)
	require.Equal(t, kind, KindOf(err))
}

func TestEndToEndMintTransferReplay(t *testing.T) {
	f := newFixture(t)

	c0 := f.commit("100", 7)
	rec, err := f.eng.Apply(Env{Caller: operator, Height: 10}, &Mint{
		Recipient:     alice,
		Amount:        decimal.NewFromInt(100),
		NewCommitment: c0,
		Nonce:         0,
	})
	require.NoError(t, err)
	require.Equal(t, StageCommitted, rec.Stage)
	require.Equal(t, alice, rec.Subject)
	require.Equal(t, uint64(1), f.nonce(alice))
	require.True(t, commitment.Equal(c0, f.balance(alice)))

	amt := f.commit("30", 9)
	c1, err := f.pp.Div(c0, amt)
	require.NoError(t, err)
	c2 := amt
	require.True(t, commitment.Equal(f.pp.Mul(c0, commitment.Identity()), f.pp.Mul(c1, c2)))

	transfer := &Transfer{To: bob, NewSenderCommitment: c1, NewRecipientCommitment: c2, Nonce: 1}
	_, err = f.eng.Apply(Env{Caller: alice, Height: 11}, transfer)
	require.NoError(t, err)
	require.Equal(t, uint64(2), f.nonce(alice))
	require.True(t, commitment.Equal(c2, f.balance(bob)))
	require.True(t, commitment.Equal(c1, f.balance(alice)))

	_, err = f.eng.Apply(Env{Caller: alice, Height: 12}, transfer)
	requireRejected(t, err, ErrReplay, StageValidated)
	require.Equal(t, uint64(2), f.nonce(alice))

	f.requireInvariant()

	require.Len(t, f.events, 2)
	require.Equal(t, OpMint, f.events[0].Kind)
	require.Equal(t, 100.0, f.events[0].Delta)
	require.Equal(t, uint64(1), f.events[0].TxID)
	require.Equal(t, OpTransfer, f.events[1].Kind)
	require.Equal(t, alice, f.events[1].From)
	require.Equal(t, bob, f.events[1].To)
	require.Zero(t, f.events[1].Delta)
	require.Equal(t, uint64(2), f.events[1].TxID)

	view, err := f.eng.Account(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(11), view.LastUpdated)
	require.Equal(t, uint64(2), view.Updates)
}

func TestTransferBitPerturbationRejected(t *testing.T) {
	f := newFixture(t)
	c0 := f.mint(alice, "100", f.commit("100", 5))
	amt := f.commit("40", 6)
	newA, err := f.pp.Div(c0, amt)
	require.NoError(t, err)
	newB := amt

	flip := func(c *big.Int, bit int) *big.Int {
		return new(big.Int).SetBit(new(big.Int).Set(c), bit, c.Bit(bit)^1)
	}

	for _, bit := range []int{0, 1, 17, 128, 200} {
		for _, side := range []string{"sender", "recipient"} {
			a, b := newA, newB
			if side == "sender" {
				a = flip(newA, bit)
			} else {
				b = flip(newB, bit)
			}
			if f.pp.CheckElement(a) != nil || f.pp.CheckElement(b) != nil {
				continue
			}
			_, err := f.eng.Apply(Env{Caller: alice}, &Transfer{
				To: bob, NewSenderCommitment: a, NewRecipientCommitment: b, Nonce: 1,
			})
			requireRejected(t, err, ErrConservation, StageValidated)
		}
	}

	require.Equal(t, uint64(1), f.nonce(alice), "rejected transfers must not consume the nonce")
	require.True(t, commitment.Equal(c0, f.balance(alice)))

	_, err = f.eng.Apply(Env{Caller: alice}, &Transfer{
		To: bob, NewSenderCommitment: newA, NewRecipientCommitment: newB, Nonce: 1,
	})
	require.NoError(t, err)
	f.requireInvariant()
}

func TestNonceSequence(t *testing.T) {
	f := newFixture(t)
	f.mint(alice, "10", f.commit("10", 1))

	approve := func(n uint64) error {
		_, err := f.eng.Apply(Env{Caller: alice}, &Approve{
			Spender: bob, AllowanceCommitment: f.commit("1", int64(n)+1), Nonce: n,
		})
		return err
	}
	require.NoError(t, approve(1))
	requireRejected(t, approve(1), ErrReplay, StageValidated)
	requireRejected(t, approve(5), ErrReplay, StageValidated)
	require.NoError(t, approve(2))
	require.Equal(t, uint64(3), f.nonce(alice))

	b := NewBatch()
	b.SetNonce(carol, math.MaxUint64)
	require.NoError(t, f.store.Apply(b))
	_, err := f.eng.Apply(Env{Caller: carol}, &Approve{
		Spender: bob, AllowanceCommitment: f.commit("1", 1), Nonce: math.MaxUint64,
	})
	requireRejected(t, err, ErrMalformedParameters, StageValidated)
}

func TestOperatorOnlyOperations(t *testing.T) {
	f := newFixture(t)
	f.mint(alice, "10", f.commit("10", 1))

	tests := []struct {
		name string
		op   Operation
	}{
		{"mint", &Mint{Recipient: alice, Amount: decimal.NewFromInt(1), NewCommitment: f.commit("1", 2), Nonce: 1}},
		{"force burn", &ForceBurn{Owner: alice, Amount: decimal.NewFromInt(1), NewCommitment: f.commit("1", 2), Nonce: 1}},
		{"set metadata", &SetMetadata{Name: "Stolen", Nonce: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eng.Apply(Env{Caller: bob}, tc.op)
			requireRejected(t, err, ErrUnauthorized, StageAuthorized)
		})
	}

	_, err := f.eng.Apply(Env{}, &Transfer{To: bob, NewSenderCommitment: f.commit("1", 1), NewRecipientCommitment: f.commit("1", 1)})
	requireRejected(t, err, ErrUnauthorized, StageAuthorized)

	_, err = f.eng.Apply(Env{Caller: operator}, &SetMetadata{Name: "Renamed", Nonce: 0})
	require.NoError(t, err)
	meta, err := f.eng.Metadata()
	require.NoError(t, err)
	require.Equal(t, "Renamed", meta.Name)
	require.Equal(t, "CCT", meta.Symbol)
}

func TestOperatorHandover(t *testing.T) {
	f := newFixture(t)

	rec, err := f.eng.Apply(Env{Caller: operator}, &SetMetadata{Operator: carol, Nonce: 0})
	require.NoError(t, err)
	require.Equal(t, carol, rec.Event.To)
	meta, err := f.eng.Metadata()
	require.NoError(t, err)
	require.Equal(t, carol, meta.Operator)
	require.Equal(t, "Confidential", meta.Name)

	// The previous operator lost its privileges.
	_, err = f.eng.Apply(Env{Caller: operator}, &Mint{Recipient: alice, Amount: decimal.NewFromInt(1), NewCommitment: f.commit("1", 1)})
	requireRejected(t, err, ErrUnauthorized, StageAuthorized)

	_, err = f.eng.Apply(Env{Caller: carol}, &Mint{Recipient: alice, Amount: decimal.NewFromInt(1), NewCommitment: f.commit("1", 1)})
	require.NoError(t, err)
	f.requireInvariant()
}

func TestDeployRejectsUninitialisedParams(t *testing.T) {
	d := commitment.DefaultParams()
	g := Genesis{Name: "Confidential", Symbol: "CCT", Operator: operator}

	for name, pp := range map[string]*commitment.Params{
		"zero value": {},
		"literal":    {P: d.P, G: d.G, H: d.H, HashVersion: d.HashVersion},
	} {
		t.Run(name, func(t *testing.T) {
			store := NewMemStore()
			err := Deploy(store, pp, g)
			require.ErrorIs(t, err, ErrMalformedParameters)
			require.ErrorIs(t, err, commitment.ErrBadParams)
			_, ok, err := store.Params()
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, Deploy(store, d, g))
			_, err = Open(store, pp)
			require.ErrorIs(t, err, commitment.ErrBadParams)
		})
	}
}

func TestTransferFrom(t *testing.T) {
	f := newFixture(t)
	owner := f.mint(alice, "80", f.commit("80", 3))

	allow := f.commit("50", 4)
	_, err := f.eng.Apply(Env{Caller: alice, Height: 5}, &Approve{Spender: bob, AllowanceCommitment: allow, Nonce: 1})
	require.NoError(t, err)

	amt := f.commit("20", 8)
	newOwner, err := f.pp.Div(owner, amt)
	require.NoError(t, err)
	newTo := amt
	newAllow, err := f.pp.Div(allow, amt)
	require.NoError(t, err)

	op := &TransferFrom{
		Owner:                  alice,
		To:                     carol,
		AmountCommitment:       amt,
		NewOwnerCommitment:     newOwner,
		NewRecipientCommitment: newTo,
		NewAllowanceCommitment: newAllow,
		Nonce:                  0,
	}

	// carol holds no allowance from alice
	_, err = f.eng.Apply(Env{Caller: carol}, op)
	requireRejected(t, err, ErrInvalidAllowance, StageAuthorized)

	wrong := *op
	wrong.NewAllowanceCommitment = allow
	wrong.AmountCommitment = nil
	_, err = f.eng.Apply(Env{Caller: bob}, &wrong)
	requireRejected(t, err, ErrInvalidAllowance, StageValidated)

	rec, err := f.eng.Apply(Env{Caller: bob, Height: 6}, op)
	require.NoError(t, err)
	require.Equal(t, bob, rec.Subject)
	require.Equal(t, uint64(1), f.nonce(bob))
	require.Equal(t, uint64(2), f.nonce(alice), "owner nonce is untouched")

	view, err := f.eng.Allowance(alice, bob)
	require.NoError(t, err)
	require.True(t, view.Exists)
	require.True(t, commitment.Equal(newAllow, view.Commitment))
	require.Equal(t, uint64(5), view.ApprovedAt)
	require.True(t, commitment.Equal(newTo, f.balance(carol)))

	last := f.events[len(f.events)-1]
	require.Equal(t, OpTransferFrom, last.Kind)
	require.Equal(t, alice, last.Owner)
	require.Equal(t, bob, last.Spender)
	require.Equal(t, carol, last.To)

	f.requireInvariant()
}

func TestTransferFromRequiresOwnerRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Apply(Env{Caller: bob}, &TransferFrom{
		Owner:                  alice,
		To:                     carol,
		NewOwnerCommitment:     f.commit("1", 1),
		NewRecipientCommitment: f.commit("1", 1),
		NewAllowanceCommitment: f.commit("1", 1),
	})
	requireRejected(t, err, ErrMalformedParameters, StageAuthorized)
}

func TestBurnAndForceBurnPreserveInvariant(t *testing.T) {
	f := newFixture(t)
	a := f.mint(alice, "100", f.commit("100", 1))
	b := f.mint(bob, "60", f.commit("60", 2))

	burned := f.commit("25", 3)
	newA, err := f.pp.Div(a, burned)
	require.NoError(t, err)
	_, err = f.eng.Apply(Env{Caller: alice, Height: 2}, &Burn{
		Amount: decimal.NewFromInt(25), AmountCommitment: burned, NewCommitment: newA, Nonce: 1,
	})
	require.NoError(t, err)
	f.requireInvariant()

	forced := f.commit("60", 2)
	newB, err := f.pp.Div(b, forced)
	require.NoError(t, err)
	rec, err := f.eng.Apply(Env{Caller: operator, Height: 3}, &ForceBurn{
		Owner: bob, Amount: decimal.NewFromInt(60), AmountCommitment: forced, NewCommitment: newB, Nonce: 1,
	})
	require.NoError(t, err)
	require.Equal(t, bob, rec.Subject)
	require.Equal(t, -60.0, rec.Event.Delta)
	require.True(t, commitment.IsIdentity(f.balance(bob)))
	f.requireInvariant()

	meta, err := f.eng.Metadata()
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(75).Equal(meta.TotalSupply), "total supply %s", meta.TotalSupply)

	_, err = f.eng.Apply(Env{Caller: alice}, &Burn{
		Amount: decimal.NewFromInt(1000), NewCommitment: newA, Nonce: 2,
	})
	requireRejected(t, err, ErrConservation, StageValidated)

	_, err = f.eng.Apply(Env{Caller: carol}, &Burn{
		Amount: decimal.NewFromInt(1), NewCommitment: newA, Nonce: 0,
	})
	requireRejected(t, err, ErrMalformedParameters, StageAuthorized)
}

func TestSupplyInvariantDetectsTampering(t *testing.T) {
	f := newFixture(t)
	f.mint(alice, "100", f.commit("100", 1))
	f.requireInvariant()

	b := NewBatch()
	b.SetAccount(alice, Account{Commitment: f.commit("1000000", 1)})
	require.NoError(t, f.store.Apply(b))

	report, err := f.eng.VerifySupplyInvariant()
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.NotNil(t, report)
	require.False(t, report.OK)
	require.Equal(t, 1, report.Accounts)
}

func TestMalformedOperations(t *testing.T) {
	f := newFixture(t)
	f.mint(alice, "10", f.commit("10", 1))
	one := commitment.Identity()

	tests := []struct {
		name   string
		caller Address
		op     Operation
	}{
		{"zero commitment", alice, &Transfer{To: bob, NewSenderCommitment: big.NewInt(0), NewRecipientCommitment: one, Nonce: 1}},
		{"commitment at modulus", alice, &Transfer{To: bob, NewSenderCommitment: f.pp.P, NewRecipientCommitment: one, Nonce: 1}},
		{"missing commitment", alice, &Transfer{To: bob, NewRecipientCommitment: one, Nonce: 1}},
		{"self transfer", alice, &Transfer{To: alice, NewSenderCommitment: one, NewRecipientCommitment: one, Nonce: 1}},
		{"empty recipient", operator, &Mint{NewCommitment: one}},
		{"negative mint", operator, &Mint{Recipient: bob, Amount: decimal.NewFromInt(-1), NewCommitment: one}},
		{"owner is recipient", bob, &TransferFrom{Owner: alice, To: alice, NewOwnerCommitment: one, NewRecipientCommitment: one, NewAllowanceCommitment: one}},
		{"approve self", alice, &Approve{Spender: alice, AllowanceCommitment: one, Nonce: 1}},
		{"empty metadata", operator, &SetMetadata{}},
		{"NUL in recipient", operator, &Mint{Recipient: "a\x00b", NewCommitment: one}},
		{"NUL in spender", alice, &Approve{Spender: "b\x00c", AllowanceCommitment: one, Nonce: 1}},
		{"NUL in owner", carol, &TransferFrom{Owner: "a\x00b", To: carol, NewOwnerCommitment: one, NewRecipientCommitment: one, NewAllowanceCommitment: one}},
		{"NUL in new operator", operator, &SetMetadata{Operator: "op\x00"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.eng.Apply(Env{Caller: tc.caller}, tc.op)
			requireRejected(t, err, ErrMalformedParameters, StageAuthorized)
		})
	}

	_, err := f.eng.Apply(Env{Caller: alice}, nil)
	require.ErrorIs(t, err, ErrMalformedParameters)
}

func TestMintAmountCommitmentMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Apply(Env{Caller: operator}, &Mint{
		Recipient:        alice,
		Amount:           decimal.NewFromInt(5),
		AmountCommitment: f.commit("5", 1),
		NewCommitment:    f.commit("6", 1),
		Nonce:            0,
	})
	requireRejected(t, err, ErrConservation, StageValidated)
	require.Equal(t, uint64(0), f.nonce(alice))

	meta, err := f.eng.Metadata()
	require.NoError(t, err)
	require.True(t, meta.TotalSupply.IsZero())
	require.Empty(t, f.events)
}

func TestDeployAndOpen(t *testing.T) {
	pp := commitment.DefaultParams()
	store := NewMemStore()

	_, err := Open(store, pp)
	require.ErrorIs(t, err, ErrNotDeployed)

	g := Genesis{Name: "Confidential", Symbol: "CCT", Operator: operator}
	require.NoError(t, Deploy(store, pp, g))
	eng, err := Open(store, nil)
	require.NoError(t, err)
	require.True(t, eng.Params().Equal(pp))

	// Redeploying keeps the existing metadata.
	b := NewBatch()
	meta, _, _ := store.Metadata()
	meta.TotalSupply = decimal.NewFromInt(42)
	b.Metadata = meta
	require.NoError(t, store.Apply(b))
	require.NoError(t, Deploy(store, pp, Genesis{Name: "Other", Operator: "someone"}))
	meta, _, _ = store.Metadata()
	require.Equal(t, "Confidential", meta.Name)
	require.True(t, decimal.NewFromInt(42).Equal(meta.TotalSupply))

	mimc, err := commitment.DefaultParamsWithHash(commitment.HashMiMCBN254V1)
	require.NoError(t, err)
	require.ErrorIs(t, Deploy(store, mimc, g), ErrMalformedParameters)
	_, err = Open(store, mimc)
	require.ErrorIs(t, err, ErrMalformedParameters)

	require.ErrorIs(t, Deploy(NewMemStore(), pp, Genesis{}), ErrMalformedParameters)
}
