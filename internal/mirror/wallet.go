// wallet.go - Shadow state of the openings behind on-chain commitments.
//
// For every tracked address the wallet stores the plaintext balance and the aggregate
// exponent and blinding, so that Commitment() reproduces the on-chain commitment. A
// wallet file holds secrets and must be protected like a key file.

package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"cctoken/internal/commitment"
	"cctoken/internal/ledger"
)

var (
	// ErrInsufficientBalance is returned when a debit would make a shadow balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDiverged is returned by Sync when the on-chain commitment does not match the opening.
	ErrDiverged = errors.New("shadow state diverged from ledger")
)

// Opening is the private knowledge behind one commitment.
type Opening struct {
	Balance  decimal.Decimal `json:"balance"`
	ValueExp *big.Int        `json:"value_exp"`
	Blinding *big.Int        `json:"blinding"`
}

// ZeroOpening opens the identity commitment.
func ZeroOpening() Opening {
	return Opening{Balance: decimal.Zero, ValueExp: new(big.Int), Blinding: new(big.Int)}
}

// Commitment recomputes G^ValueExp * H^Blinding.
func (o Opening) Commitment(pp *commitment.Params) (*big.Int, error) {
	return pp.CommitExponent(o.ValueExp, o.Blinding)
}

func (o Opening) add(pp *commitment.Params, a Amount) Opening {
	order := pp.Order()
	return Opening{
		Balance:  o.Balance.Add(a.Value),
		ValueExp: new(big.Int).Mod(new(big.Int).Add(o.ValueExp, a.ValueExp), order),
		Blinding: new(big.Int).Mod(new(big.Int).Add(o.Blinding, a.Blinding), order),
	}
}

func (o Opening) sub(pp *commitment.Params, a Amount) Opening {
	order := pp.Order()
	return Opening{
		Balance:  o.Balance.Sub(a.Value),
		ValueExp: new(big.Int).Mod(new(big.Int).Sub(o.ValueExp, a.ValueExp), order),
		Blinding: new(big.Int).Mod(new(big.Int).Sub(o.Blinding, a.Blinding), order),
	}
}

// Wallet tracks openings for accounts and allowances. It is safe for concurrent use.
type Wallet struct {
	mu         sync.Mutex
	name       string
	pp         *commitment.Params
	accounts   map[ledger.Address]Opening
	allowances map[ledger.AllowanceKey]Opening
}

// NewWallet returns an empty wallet.
func NewWallet(name string, pp *commitment.Params) *Wallet {
	return &Wallet{
		name:       name,
		pp:         pp,
		accounts:   make(map[ledger.Address]Opening),
		allowances: make(map[ledger.AllowanceKey]Opening),
	}
}

// Name returns the wallet name.
func (w *Wallet) Name() string {
	return w.name
}

// Opening returns the opening for addr; untracked addresses open the identity.
func (w *Wallet) Opening(addr ledger.Address) Opening {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opening(addr)
}

func (w *Wallet) opening(addr ledger.Address) Opening {
	if o, ok := w.accounts[addr]; ok {
		return o
	}
	return ZeroOpening()
}

// Commitment returns the commitment the ledger should hold for addr.
func (w *Wallet) Commitment(addr ledger.Address) (*big.Int, error) {
	return w.Opening(addr).Commitment(w.pp)
}

// Track records an opening learned out of band, e.g. from a sender.
func (w *Wallet) Track(addr ledger.Address, o Opening) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts[addr] = o
}

// Credit adds a to the shadow state of addr.
func (w *Wallet) Credit(addr ledger.Address, a Amount) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts[addr] = w.opening(addr).add(w.pp, a)
}

// Debit removes a from the shadow state of addr. The ledger cannot see negative
// balances, so the wallet refuses them.
func (w *Wallet) Debit(addr ledger.Address, a Amount) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := w.opening(addr)
	if cur.Balance.LessThan(a.Value) {
		return fmt.Errorf("%w: %s holds %s, debit %s", ErrInsufficientBalance, addr, cur.Balance, a.Value)
	}
	w.accounts[addr] = cur.sub(w.pp, a)
	return nil
}

// Allowance returns the opening of owner's approval to spender.
func (w *Wallet) Allowance(owner, spender ledger.Address) Opening {
	w.mu.Lock()
	defer w.mu.Unlock()
	if o, ok := w.allowances[ledger.AllowanceKey{Owner: owner, Spender: spender}]; ok {
		return o
	}
	return ZeroOpening()
}

// SetAllowance replaces the approval opening, as an approve does on-chain.
func (w *Wallet) SetAllowance(owner, spender ledger.Address, a Amount) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.allowances[ledger.AllowanceKey{Owner: owner, Spender: spender}] = ZeroOpening().add(w.pp, a)
}

// SpendAllowance removes a from the approval of owner to spender.
func (w *Wallet) SpendAllowance(owner, spender ledger.Address, a Amount) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := ledger.AllowanceKey{Owner: owner, Spender: spender}
	cur, ok := w.allowances[key]
	if !ok {
		cur = ZeroOpening()
	}
	if cur.Balance.LessThan(a.Value) {
		return fmt.Errorf("%w: allowance %s->%s is %s, spend %s", ErrInsufficientBalance, owner, spender, cur.Balance, a.Value)
	}
	w.allowances[key] = cur.sub(w.pp, a)
	return nil
}

// Sync compares the shadow commitment of addr with the on-chain one. A nil on-chain
// commitment is read as the identity.
func (w *Wallet) Sync(addr ledger.Address, onChain *big.Int) error {
	local, err := w.Commitment(addr)
	if err != nil {
		return err
	}
	if !commitment.Equal(local, orIdentity(onChain)) {
		return fmt.Errorf("%w: account %s", ErrDiverged, addr)
	}
	return nil
}

// Addresses returns the tracked addresses in order.
func (w *Wallet) Addresses() []ledger.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ledger.Address, 0, len(w.accounts))
	for addr := range w.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type allowanceEntry struct {
	Owner   ledger.Address `json:"owner"`
	Spender ledger.Address `json:"spender"`
	Opening Opening        `json:"opening"`
}

type walletFile struct {
	Name       string                     `json:"name"`
	Params     *commitment.Params         `json:"params"`
	Accounts   map[ledger.Address]Opening `json:"accounts"`
	Allowances []allowanceEntry           `json:"allowances"`
}

// Save writes the wallet to a JSON file readable only by the owner.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	file := walletFile{
		Name:     w.name,
		Params:   w.pp,
		Accounts: make(map[ledger.Address]Opening, len(w.accounts)),
	}
	for addr, o := range w.accounts {
		file.Accounts[addr] = o
	}
	for key, o := range w.allowances {
		file.Allowances = append(file.Allowances, allowanceEntry{Owner: key.Owner, Spender: key.Spender, Opening: o})
	}
	w.mu.Unlock()

	sort.Slice(file.Allowances, func(i, j int) bool {
		a, b := file.Allowances[i], file.Allowances[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Spender < b.Spender
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

// LoadWallet loads a wallet from a JSON file.
func LoadWallet(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file walletFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode wallet %s: %w", path, err)
	}
	if file.Params == nil {
		return nil, fmt.Errorf("wallet %s has no group parameters", path)
	}
	w := NewWallet(file.Name, file.Params)
	for addr, o := range file.Accounts {
		w.accounts[addr] = o
	}
	for _, e := range file.Allowances {
		w.allowances[ledger.AllowanceKey{Owner: e.Owner, Spender: e.Spender}] = e.Opening
	}
	return w, nil
}
