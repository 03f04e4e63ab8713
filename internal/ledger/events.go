// events.go - Notifications produced by committed operations.

package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event describes one committed operation. Amounts never appear except the public
// supply delta of mint and burn.
type Event struct {
	TxID    uint64  `json:"tx_id"`
	Kind    OpKind  `json:"kind"`
	From    Address `json:"from,omitempty"`
	To      Address `json:"to,omitempty"`
	Owner   Address `json:"owner,omitempty"`
	Spender Address `json:"spender,omitempty"`
	Delta   float64 `json:"delta,omitempty"` // supply change, mint and burn only
	Height  uint64  `json:"height"`
}

// Emitter receives an event after its operation has been committed.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Observer is notified of engine outcomes. Implementations must not block.
type Observer interface {
	OperationCommitted(kind OpKind, elapsed time.Duration)
	OperationRejected(kind OpKind, gate Stage, reason error)
	SupplyChanged(total decimal.Decimal)
	InvariantChecked(ok bool, accounts int)
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

type nopObserver struct{}

func (nopObserver) OperationCommitted(OpKind, time.Duration) {}
func (nopObserver) OperationRejected(OpKind, Stage, error)   {}
func (nopObserver) SupplyChanged(decimal.Decimal)            {}
func (nopObserver) InvariantChecked(bool, int)               {}
