// store.go - State access for the engine and the in-memory store.

package ledger

import (
	"sort"
	"sync"

	"cctoken/internal/commitment"
)

// Store is the host-owned persistence the engine reads and writes. Reads of missing
// records report ok=false. Apply must make the whole batch visible atomically or not at all.
type Store interface {
	Params() (*commitment.Params, bool, error)
	Metadata() (*Metadata, bool, error)
	Account(addr Address) (Account, bool, error)
	Allowance(owner, spender Address) (Allowance, bool, error)
	Nonce(addr Address) (uint64, error)
	TxCounter() (uint64, error)
	ForEachAccount(fn func(addr Address, acct Account) error) error
	Apply(b *Batch) error
}

// Batch collects the writes of one state transition.
type Batch struct {
	Params     *commitment.Params
	Metadata   *Metadata
	Accounts   map[Address]Account
	Allowances map[AllowanceKey]Allowance
	Nonces     map[Address]uint64
	TxCounter  *uint64
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		Accounts:   make(map[Address]Account),
		Allowances: make(map[AllowanceKey]Allowance),
		Nonces:     make(map[Address]uint64),
	}
}

// Empty reports whether the batch writes nothing.
func (b *Batch) Empty() bool {
	return b.Params == nil && b.Metadata == nil && b.TxCounter == nil &&
		len(b.Accounts) == 0 && len(b.Allowances) == 0 && len(b.Nonces) == 0
}

// SetAccount stages an account write.
func (b *Batch) SetAccount(addr Address, acct Account) {
	b.Accounts[addr] = acct.clone()
}

// SetAllowance stages an allowance write.
func (b *Batch) SetAllowance(owner, spender Address, a Allowance) {
	b.Allowances[AllowanceKey{Owner: owner, Spender: spender}] = a.clone()
}

// SetNonce stages a nonce write.
func (b *Batch) SetNonce(addr Address, n uint64) {
	b.Nonces[addr] = n
}

// SetTxCounter stages the next transaction id.
func (b *Batch) SetTxCounter(n uint64) {
	b.TxCounter = &n
}

// MemStore is an in-memory Store. It is safe for concurrent use.
type MemStore struct {
	mu         sync.RWMutex
	params     *commitment.Params
	metadata   *Metadata
	accounts   map[Address]Account
	allowances map[AllowanceKey]Allowance
	nonces     map[Address]uint64
	txCounter  uint64
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts:   make(map[Address]Account),
		allowances: make(map[AllowanceKey]Allowance),
		nonces:     make(map[Address]uint64),
	}
}

func (s *MemStore) Params() (*commitment.Params, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params, s.params != nil, nil
}

func (s *MemStore) Metadata() (*Metadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata.clone(), s.metadata != nil, nil
}

func (s *MemStore) Account(addr Address) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[addr]
	return a.clone(), ok, nil
}

func (s *MemStore) Allowance(owner, spender Address) (Allowance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allowances[AllowanceKey{Owner: owner, Spender: spender}]
	return a.clone(), ok, nil
}

func (s *MemStore) Nonce(addr Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[addr], nil
}

func (s *MemStore) TxCounter() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txCounter, nil
}

// ForEachAccount visits accounts in address order.
func (s *MemStore) ForEachAccount(fn func(addr Address, acct Account) error) error {
	s.mu.RLock()
	addrs := make([]Address, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	snapshot := make(map[Address]Account, len(s.accounts))
	for addr, a := range s.accounts {
		snapshot[addr] = a.clone()
	}
	s.mu.RUnlock()

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		if err := fn(addr, snapshot[addr]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) Apply(b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Params != nil {
		s.params = b.Params
	}
	if b.Metadata != nil {
		s.metadata = b.Metadata.clone()
	}
	for addr, a := range b.Accounts {
		s.accounts[addr] = a.clone()
	}
	for key, a := range b.Allowances {
		s.allowances[key] = a.clone()
	}
	for addr, n := range b.Nonces {
		s.nonces[addr] = n
	}
	if b.TxCounter != nil {
		s.txCounter = *b.TxCounter
	}
	return nil
}
