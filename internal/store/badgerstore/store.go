// Package badgerstore persists ledger state in BadgerDB.
//
// Layout:
//   - "params"                     group parameters (JSON)
//   - "meta"                       token metadata (JSON)
//   - "txc"                        next transaction id (uint64, big endian)
//   - "acct/<addr>"                account record (JSON)
//   - "allow/<owner>\x00<spender>" allowance record (JSON)
//   - "nonce/<addr>"               nonce (uint64, big endian)
//
// A ledger.Batch is written inside a single Badger transaction.
package badgerstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"cctoken/internal/commitment"
	"cctoken/internal/ledger"
)

var (
	keyParams    = []byte("params")
	keyMeta      = []byte("meta")
	keyTxCounter = []byte("txc")

	prefixAccount   = []byte("acct/")
	prefixAllowance = []byte("allow/")
	prefixNonce     = []byte("nonce/")
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("badgerstore: store is closed")

// Options configures the store.
type Options struct {
	Dir        string // data directory, ignored when InMemory
	InMemory   bool
	SyncWrites bool
}

// Store implements ledger.Store on BadgerDB.
type Store struct {
	db      *badgerdb.DB
	log     *zap.Logger
	closing int32
	writeWg sync.WaitGroup
}

var _ ledger.Store = (*Store)(nil)

// Open opens or creates a store.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bopts badgerdb.Options
	if opts.InMemory {
		bopts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("badgerstore: data directory not set")
		}
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		bopts = badgerdb.DefaultOptions(opts.Dir).WithSyncWrites(opts.SyncWrites)
	}
	bopts = bopts.
		WithLogger(&badgerLogger{log: logger.Sugar()}).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(32 << 20).
		WithNumMemtables(2)

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Info("badger store opened", zap.String("dir", opts.Dir), zap.Bool("in_memory", opts.InMemory))
	return &Store{db: db, log: logger}, nil
}

// Close waits for in-flight writes and closes the database.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closing, 0, 1) {
		return nil
	}
	s.writeWg.Wait()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	s.log.Info("badger store closed")
	return nil
}

func (s *Store) beginWrite() (func(), error) {
	if atomic.LoadInt32(&s.closing) == 1 {
		return nil, ErrClosed
	}
	s.writeWg.Add(1)
	if atomic.LoadInt32(&s.closing) == 1 {
		s.writeWg.Done()
		return nil, ErrClosed
	}
	return s.writeWg.Done, nil
}

func accountKey(addr ledger.Address) []byte {
	return append(append([]byte{}, prefixAccount...), addr...)
}

func nonceKey(addr ledger.Address) []byte {
	return append(append([]byte{}, prefixNonce...), addr...)
}

// allowanceKey length-prefixes the owner so that no two (owner, spender) pairs share a key.
func allowanceKey(owner, spender ledger.Address) []byte {
	k := append([]byte{}, prefixAllowance...)
	k = binary.AppendUvarint(k, uint64(len(owner)))
	k = append(k, owner...)
	return append(k, spender...)
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt counter of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// get copies the value of key; ok is false if the key is absent.
func (s *Store) get(key []byte) (val []byte, ok bool, err error) {
	err = s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("badger get %q: %w", key, err)
	}
	return val, ok, nil
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) Params() (*commitment.Params, bool, error) {
	var pp commitment.Params
	ok, err := s.getJSON(keyParams, &pp)
	if err != nil || !ok {
		return nil, false, err
	}
	return &pp, true, nil
}

func (s *Store) Metadata() (*ledger.Metadata, bool, error) {
	var meta ledger.Metadata
	ok, err := s.getJSON(keyMeta, &meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return &meta, true, nil
}

func (s *Store) Account(addr ledger.Address) (ledger.Account, bool, error) {
	var acct ledger.Account
	ok, err := s.getJSON(accountKey(addr), &acct)
	return acct, ok, err
}

func (s *Store) Allowance(owner, spender ledger.Address) (ledger.Allowance, bool, error) {
	var a ledger.Allowance
	ok, err := s.getJSON(allowanceKey(owner, spender), &a)
	return a, ok, err
}

func (s *Store) Nonce(addr ledger.Address) (uint64, error) {
	raw, ok, err := s.get(nonceKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	return decodeUint64(raw)
}

func (s *Store) TxCounter() (uint64, error) {
	raw, ok, err := s.get(keyTxCounter)
	if err != nil || !ok {
		return 0, err
	}
	return decodeUint64(raw)
}

// ForEachAccount visits accounts in address order within one read snapshot.
func (s *Store) ForEachAccount(fn func(addr ledger.Address, acct ledger.Account) error) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefixAccount); it.ValidForPrefix(prefixAccount); it.Next() {
			item := it.Item()
			addr := ledger.Address(item.Key()[len(prefixAccount):])
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var acct ledger.Account
			if err := json.Unmarshal(raw, &acct); err != nil {
				return fmt.Errorf("decode account %s: %w", addr, err)
			}
			if err := fn(addr, acct); err != nil {
				return err
			}
		}
		return nil
	})
}

// Apply writes the batch in one transaction.
func (s *Store) Apply(b *ledger.Batch) error {
	if b == nil || b.Empty() {
		return nil
	}
	done, err := s.beginWrite()
	if err != nil {
		return err
	}
	defer done()

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		set := func(key []byte, v any) error {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode %q: %w", key, err)
			}
			return txn.Set(key, raw)
		}
		if b.Params != nil {
			if err := set(keyParams, b.Params); err != nil {
				return err
			}
		}
		if b.Metadata != nil {
			if err := set(keyMeta, b.Metadata); err != nil {
				return err
			}
		}
		for addr, acct := range b.Accounts {
			if err := set(accountKey(addr), acct); err != nil {
				return err
			}
		}
		for key, a := range b.Allowances {
			if err := set(allowanceKey(key.Owner, key.Spender), a); err != nil {
				return err
			}
		}
		for addr, n := range b.Nonces {
			if err := txn.Set(nonceKey(addr), encodeUint64(n)); err != nil {
				return err
			}
		}
		if b.TxCounter != nil {
			if err := txn.Set(keyTxCounter, encodeUint64(*b.TxCounter)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger apply: %w", err)
	}
	return nil
}

// badgerLogger routes Badger's internal log lines to zap.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf("[badger] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warnf("[badger] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debugf("[badger] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debugf("[badger] "+format, args...)
}
