// engine.go - Transition engine: authorizes, validates and commits operations.

package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cctoken/internal/commitment"
)

// Stage is a step of the operation lifecycle.
type Stage string

const (
	StageRequested  Stage = "requested"
	StageAuthorized Stage = "authorized"
	StageValidated  Stage = "validated"
	StageCommitted  Stage = "committed"
	StageRejected   Stage = "rejected"
)

// Receipt is returned for a committed operation.
type Receipt struct {
	TxID      uint64  `json:"tx_id"`
	Op        OpKind  `json:"op"`
	Stage     Stage   `json:"stage"`
	Subject   Address `json:"subject"`    // account whose nonce was consumed
	NextNonce uint64  `json:"next_nonce"` // nonce the subject must submit next
	Event     Event   `json:"event"`
}

// Engine applies operations against a Store.
type Engine struct {
	store     Store
	pp        *commitment.Params
	validator *Validator
	emitter   Emitter
	observer  Observer
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter sets the receiver of committed events.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithObserver sets the metrics hook.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Deploy seeds a store with the group parameters and the token metadata. Deploying again
// with equal parameters is a no-op; the existing metadata is never reset.
func Deploy(store Store, pp *commitment.Params, g Genesis) error {
	if pp == nil {
		return malformed("missing group parameters", nil)
	}
	if err := pp.Validate(); err != nil {
		return malformed("group parameters", err)
	}
	if g.Operator == "" {
		return malformed("empty operator address", nil)
	}

	stored, ok, err := store.Params()
	if err != nil {
		return fmt.Errorf("read params: %w", err)
	}
	if ok && !stored.Equal(pp) {
		return malformed("store was deployed with different group parameters", nil)
	}
	_, hasMeta, err := store.Metadata()
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if ok && hasMeta {
		return nil
	}

	b := NewBatch()
	b.Params = pp
	if !hasMeta {
		b.Metadata = &Metadata{
			Name:             g.Name,
			Symbol:           g.Symbol,
			Operator:         g.Operator,
			TotalSupply:      decimal.Zero,
			SupplyCommitment: commitment.Identity(),
		}
		b.SetTxCounter(1)
	}
	if err := store.Apply(b); err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	return nil
}

// Open returns an engine over a deployed store. The engine runs on the stored parameters;
// a non-nil pp must be valid and equal to them.
func Open(store Store, pp *commitment.Params, opts ...Option) (*Engine, error) {
	stored, ok, err := store.Params()
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	if !ok {
		return nil, ErrNotDeployed
	}
	if _, hasMeta, err := store.Metadata(); err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	} else if !hasMeta {
		return nil, ErrNotDeployed
	}
	if pp != nil {
		if err := pp.Validate(); err != nil {
			return nil, malformed("group parameters", err)
		}
		if !stored.Equal(pp) {
			return nil, malformed("configured group parameters differ from the deployed ones", nil)
		}
	}
	pp = stored

	e := &Engine{
		store:     store,
		pp:        pp,
		validator: NewValidator(pp),
		emitter:   nopEmitter{},
		observer:  nopObserver{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the group parameters the engine validates against.
func (e *Engine) Params() *commitment.Params {
	return e.pp
}

// transition is the staged effect of one operation.
type transition struct {
	env     Env
	meta    *Metadata
	subject Address
	next    uint64
	batch   *Batch
	event   Event
}

// Apply runs op through the lifecycle. On success every write of the operation is
// applied with one Store.Apply call and the event is emitted; on rejection nothing is
// written and the returned error is an *Error.
func (e *Engine) Apply(env Env, op Operation) (*Receipt, error) {
	if op == nil {
		return nil, malformed("missing operation", nil)
	}
	start := time.Now()
	kind := op.Kind()

	rec, err := e.apply(env, op)
	if err != nil {
		var lerr *Error
		if errors.As(err, &lerr) {
			lerr.Op = kind
			e.observer.OperationRejected(kind, lerr.Gate, lerr.Kind)
			e.logRejection(env, lerr)
		} else {
			e.log.Error("operation failed",
				zap.String("op", string(kind)),
				zap.String("caller", string(env.Caller)),
				zap.Error(err))
		}
		return nil, err
	}

	e.observer.OperationCommitted(kind, time.Since(start))
	e.emitter.Emit(rec.Event)
	e.log.Info("operation committed",
		zap.String("op", string(kind)),
		zap.Uint64("tx_id", rec.TxID),
		zap.String("subject", string(rec.Subject)),
		zap.Uint64("height", env.Height))
	return rec, nil
}

func (e *Engine) apply(env Env, op Operation) (*Receipt, error) {
	meta, ok, err := e.store.Metadata()
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if !ok {
		return nil, ErrNotDeployed
	}
	t := &transition{env: env, meta: meta, batch: NewBatch()}

	// Requested -> Authorized
	if err := op.checkShape(e.pp); err != nil {
		return nil, atGate(StageAuthorized, err)
	}
	if env.Caller == "" {
		return nil, atGate(StageAuthorized, reject(ErrUnauthorized, "no caller identity"))
	}
	if err := e.authorize(t, op); err != nil {
		return nil, atGate(StageAuthorized, err)
	}

	// Authorized -> Validated
	current, err := e.store.Nonce(t.subject)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	next, err := CheckAndAdvance(current, op.SubmittedNonce())
	if err != nil {
		return nil, atGate(StageValidated, err)
	}
	t.next = next
	t.batch.SetNonce(t.subject, next)
	if err := e.validate(t, op); err != nil {
		return nil, atGate(StageValidated, err)
	}

	// Validated -> Committed
	txID, err := e.store.TxCounter()
	if err != nil {
		return nil, fmt.Errorf("read tx counter: %w", err)
	}
	t.batch.SetTxCounter(txID + 1)
	t.event.TxID = txID
	t.event.Kind = op.Kind()
	t.event.Height = env.Height
	if err := e.store.Apply(t.batch); err != nil {
		return nil, fmt.Errorf("commit %s: %w", op.Kind(), err)
	}
	if t.batch.Metadata != nil && !t.batch.Metadata.TotalSupply.Equal(meta.TotalSupply) {
		e.observer.SupplyChanged(t.batch.Metadata.TotalSupply)
	}

	return &Receipt{
		TxID:      txID,
		Op:        op.Kind(),
		Stage:     StageCommitted,
		Subject:   t.subject,
		NextNonce: next,
		Event:     t.event,
	}, nil
}

// authorize checks the caller's right to perform op and picks the nonce subject.
func (e *Engine) authorize(t *transition, op Operation) error {
	caller := t.env.Caller
	switch op := op.(type) {
	case *Mint:
		if caller != t.meta.Operator {
			return reject(ErrUnauthorized, "mint is restricted to the operator")
		}
		t.subject = op.Recipient

	case *Transfer:
		if op.To == caller {
			return malformed("self-transfer", nil)
		}
		t.subject = caller

	case *TransferFrom:
		if _, ok, err := e.store.Account(op.Owner); err != nil {
			return fmt.Errorf("read account: %w", err)
		} else if !ok {
			return malformed(fmt.Sprintf("unknown owner account %s", op.Owner), nil)
		}
		allow, ok, err := e.store.Allowance(op.Owner, caller)
		if err != nil {
			return fmt.Errorf("read allowance: %w", err)
		}
		if !ok || commitment.IsIdentity(allow.Commitment) {
			return reject(ErrInvalidAllowance, "no allowance from owner to caller")
		}
		t.subject = caller

	case *Approve:
		if op.Spender == caller {
			return malformed("cannot approve self", nil)
		}
		t.subject = caller

	case *Burn:
		if _, ok, err := e.store.Account(caller); err != nil {
			return fmt.Errorf("read account: %w", err)
		} else if !ok {
			return malformed(fmt.Sprintf("unknown account %s", caller), nil)
		}
		t.subject = caller

	case *ForceBurn:
		if caller != t.meta.Operator {
			return reject(ErrUnauthorized, "force burn is restricted to the operator")
		}
		if _, ok, err := e.store.Account(op.Owner); err != nil {
			return fmt.Errorf("read account: %w", err)
		} else if !ok {
			return malformed(fmt.Sprintf("unknown owner account %s", op.Owner), nil)
		}
		t.subject = op.Owner

	case *SetMetadata:
		if caller != t.meta.Operator {
			return reject(ErrUnauthorized, "metadata is restricted to the operator")
		}
		t.subject = caller

	default:
		return malformed(fmt.Sprintf("unsupported operation %T", op), nil)
	}
	return nil
}

// validate checks the conservation identity of op and stages its writes.
func (e *Engine) validate(t *transition, op Operation) error {
	caller := t.env.Caller
	switch op := op.(type) {
	case *Mint:
		oldR, prev, err := e.account(op.Recipient)
		if err != nil {
			return err
		}
		newSupply, err := e.validator.Mint(t.meta.SupplyCommitment, oldR, op.NewCommitment, op.AmountCommitment)
		if err != nil {
			return err
		}
		t.stageAccount(op.Recipient, prev, op.NewCommitment)
		meta := t.meta.clone()
		meta.SupplyCommitment = newSupply
		meta.TotalSupply = meta.TotalSupply.Add(op.Amount)
		t.batch.Metadata = meta
		t.event.From = caller
		t.event.To = op.Recipient
		t.event.Delta = op.Amount.InexactFloat64()

	case *Transfer:
		oldA, prevA, err := e.account(caller)
		if err != nil {
			return err
		}
		oldB, prevB, err := e.account(op.To)
		if err != nil {
			return err
		}
		if err := e.validator.Transfer(oldA, oldB, op.NewSenderCommitment, op.NewRecipientCommitment, op.AmountCommitment); err != nil {
			return err
		}
		t.stageAccount(caller, prevA, op.NewSenderCommitment)
		t.stageAccount(op.To, prevB, op.NewRecipientCommitment)
		t.event.From = caller
		t.event.To = op.To

	case *TransferFrom:
		oldOwner, prevOwner, err := e.account(op.Owner)
		if err != nil {
			return err
		}
		oldTo, prevTo, err := e.account(op.To)
		if err != nil {
			return err
		}
		allow, _, err := e.store.Allowance(op.Owner, caller)
		if err != nil {
			return fmt.Errorf("read allowance: %w", err)
		}
		if op.AmountCommitment != nil {
			if err := e.validator.Transfer(oldOwner, oldTo, op.NewOwnerCommitment, op.NewRecipientCommitment, op.AmountCommitment); err != nil {
				return err
			}
		}
		if err := e.validator.TransferFrom(oldOwner, oldTo, op.NewOwnerCommitment, op.NewRecipientCommitment,
			allow.Commitment, op.NewAllowanceCommitment); err != nil {
			return err
		}
		t.stageAccount(op.Owner, prevOwner, op.NewOwnerCommitment)
		t.stageAccount(op.To, prevTo, op.NewRecipientCommitment)
		t.batch.SetAllowance(op.Owner, caller, Allowance{
			Commitment: op.NewAllowanceCommitment,
			ApprovedAt: allow.ApprovedAt,
		})
		t.event.From = op.Owner
		t.event.To = op.To
		t.event.Owner = op.Owner
		t.event.Spender = caller

	case *Approve:
		t.batch.SetAllowance(caller, op.Spender, Allowance{
			Commitment: op.AllowanceCommitment,
			ApprovedAt: t.env.Height,
		})
		t.event.Owner = caller
		t.event.Spender = op.Spender

	case *Burn:
		if err := e.burn(t, caller, op.Amount, op.NewCommitment, op.AmountCommitment); err != nil {
			return err
		}
		t.event.From = caller

	case *ForceBurn:
		if err := e.burn(t, op.Owner, op.Amount, op.NewCommitment, op.AmountCommitment); err != nil {
			return err
		}
		t.event.From = op.Owner
		t.event.Owner = op.Owner

	case *SetMetadata:
		meta := t.meta.clone()
		if op.Name != "" {
			meta.Name = op.Name
		}
		if op.Symbol != "" {
			meta.Symbol = op.Symbol
		}
		if op.Operator != "" {
			meta.Operator = op.Operator
			t.event.To = op.Operator
		}
		t.batch.Metadata = meta
		t.event.From = caller
	}
	return nil
}

func (e *Engine) burn(t *transition, owner Address, amount decimal.Decimal, newA, amountC *big.Int) error {
	oldA, prev, err := e.account(owner)
	if err != nil {
		return err
	}
	newSupply, err := e.validator.Burn(t.meta.SupplyCommitment, oldA, newA, amountC)
	if err != nil {
		return err
	}
	total := t.meta.TotalSupply.Sub(amount)
	if total.IsNegative() {
		return reject(ErrConservation, "burn exceeds total supply")
	}
	t.stageAccount(owner, prev, newA)
	meta := t.meta.clone()
	meta.SupplyCommitment = newSupply
	meta.TotalSupply = total
	t.batch.Metadata = meta
	t.event.Delta = amount.Neg().InexactFloat64()
	return nil
}

// account returns the commitment of addr, the identity if it was never credited.
func (e *Engine) account(addr Address) (*big.Int, Account, error) {
	acct, ok, err := e.store.Account(addr)
	if err != nil {
		return nil, Account{}, fmt.Errorf("read account: %w", err)
	}
	if !ok {
		return commitment.Identity(), Account{}, nil
	}
	return acct.Commitment, acct, nil
}

func (t *transition) stageAccount(addr Address, prev Account, c *big.Int) {
	t.batch.SetAccount(addr, Account{
		Commitment:  c,
		LastUpdated: t.env.Height,
		Updates:     prev.Updates + 1,
	})
}

// atGate stamps a rejection with the gate it failed. Other errors pass through.
func atGate(gate Stage, err error) error {
	var lerr *Error
	if errors.As(err, &lerr) {
		lerr.Gate = gate
		return lerr
	}
	return err
}

func (e *Engine) logRejection(env Env, err *Error) {
	fields := []zap.Field{
		zap.String("op", string(err.Op)),
		zap.String("caller", string(env.Caller)),
		zap.String("gate", string(err.Gate)),
		zap.String("reason", err.Reason),
	}
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrReplay):
		e.log.Warn("operation rejected", fields...)
	default:
		e.log.Debug("operation rejected", fields...)
	}
}

// Account returns the public view of addr. A never-credited address reads as the identity.
func (e *Engine) Account(addr Address) (AccountView, error) {
	acct, ok, err := e.store.Account(addr)
	if err != nil {
		return AccountView{}, fmt.Errorf("read account: %w", err)
	}
	nonce, err := e.store.Nonce(addr)
	if err != nil {
		return AccountView{}, fmt.Errorf("read nonce: %w", err)
	}
	view := AccountView{Address: addr, Exists: ok, Nonce: nonce, Commitment: commitment.Identity()}
	if ok {
		view.Commitment = acct.Commitment
		view.LastUpdated = acct.LastUpdated
		view.Updates = acct.Updates
	}
	return view, nil
}

// Allowance returns the approval of owner to spender.
func (e *Engine) Allowance(owner, spender Address) (AllowanceView, error) {
	a, ok, err := e.store.Allowance(owner, spender)
	if err != nil {
		return AllowanceView{}, fmt.Errorf("read allowance: %w", err)
	}
	view := AllowanceView{Owner: owner, Spender: spender, Exists: ok, Commitment: commitment.Identity()}
	if ok {
		view.Commitment = a.Commitment
		view.ApprovedAt = a.ApprovedAt
	}
	return view, nil
}

// Nonce returns the nonce addr must submit next.
func (e *Engine) Nonce(addr Address) (uint64, error) {
	n, err := e.store.Nonce(addr)
	if err != nil {
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	return n, nil
}

// Metadata returns the token metadata.
func (e *Engine) Metadata() (*Metadata, error) {
	meta, ok, err := e.store.Metadata()
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if !ok {
		return nil, ErrNotDeployed
	}
	return meta, nil
}
