package tx

import (
	"context"
	"time"

	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultIdleFlush = 2 * time.Second

// Assembler groups a stream of CDC events into transactions.
//
// Contiguous events with the same transaction id form one transaction. A
// transaction is complete when its last event is seen (total_order reaches
// event_count), when an event of another transaction arrives, or when Flush
// is called. Events without any transaction id become single-operation
// transactions with a generated id.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	id      string
	pending []cdc.Event
	logger  *zap.Logger
}

func NewAssembler(logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{logger: logger}
}

// Add feeds one event and returns the transactions it completed, in order.
func (a *Assembler) Add(event cdc.Event) []Transaction {
	var done []Transaction

	id := event.Payload.TxID()
	if id == "" {
		done = a.appendFlush(done)
		a.id = uuid.NewString()
		a.pending = append(a.pending, event)
		return a.appendFlush(done)
	}

	if len(a.pending) > 0 && id != a.id {
		done = a.appendFlush(done)
	}

	a.id = id
	a.pending = append(a.pending, event)
	if event.Payload.Transaction.Last() {
		done = a.appendFlush(done)
	}
	return done
}

// Pending reports whether a partially assembled transaction is buffered.
func (a *Assembler) Pending() bool {
	return len(a.pending) > 0
}

// Flush returns the buffered transaction, if any, and resets the assembler.
func (a *Assembler) Flush() (Transaction, bool) {
	if len(a.pending) == 0 {
		return Transaction{}, false
	}

	id, events := a.id, a.pending
	a.id, a.pending = "", nil

	t := Transaction{ID: id, Operations: make([]Operation, 0, len(events))}
	for _, event := range events {
		op, err := FromEvent(event)
		if err != nil {
			a.logger.Warn("dropping CDC event",
				zap.String("tx", id),
				zap.String("table", event.Payload.Source.Table),
				zap.String("op", string(event.Payload.Op)),
				zap.Error(err))
			continue
		}
		t.Operations = append(t.Operations, op)
	}

	if len(t.Operations) == 0 {
		return Transaction{}, false
	}
	return t, true
}

func (a *Assembler) appendFlush(done []Transaction) []Transaction {
	if t, ok := a.Flush(); ok {
		done = append(done, t)
	}
	return done
}

// Run assembles events until the input closes or ctx is canceled. A pending
// transaction is flushed after idle without new events. The returned channel
// is closed when Run stops.
func (a *Assembler) Run(ctx context.Context, events <-chan cdc.Event, idle time.Duration) <-chan Transaction {
	if idle <= 0 {
		idle = defaultIdleFlush
	}
	out := make(chan Transaction, cap(events))

	go func() {
		defer close(out)

		timer := time.NewTimer(idle)
		defer timer.Stop()

		emit := func(ts []Transaction) bool {
			for _, t := range ts {
				select {
				case out <- t:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					if t, ok := a.Flush(); ok {
						emit([]Transaction{t})
					}
					return
				}
				if !emit(a.Add(event)) {
					return
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idle)

			case <-timer.C:
				if t, ok := a.Flush(); ok {
					a.logger.Debug("flushing idle transaction", zap.String("tx", t.ID))
					if !emit([]Transaction{t}) {
						return
					}
				}
				timer.Reset(idle)

			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
