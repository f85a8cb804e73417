package caster

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCastInProgress is returned when a cast is already running for the
// target address.
var ErrCastInProgress = errors.New("cast already in progress for device")

// DefaultStuckTimeout is how long an operation may run before a new
// cast request is allowed to force-clean it.
const DefaultStuckTimeout = 3 * time.Minute

// Operation is one in-flight cast. Cancelling its context terminates
// any subprocess attached to the operation (graceful terminate first,
// forced kill after the grace period).
type Operation struct {
	ID        string
	Address   string
	URL       string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the operation-scoped context.
func (op *Operation) Context() context.Context { return op.ctx }

// inflightRegistry enforces at most one cast per device address.
type inflightRegistry struct {
	mu           sync.Mutex
	ops          map[string]*Operation
	stuckTimeout time.Duration
	logger       *log.Logger
	now          func() time.Time
}

func newInflightRegistry(stuckTimeout time.Duration, logger *log.Logger) *inflightRegistry {
	if stuckTimeout <= 0 {
		stuckTimeout = DefaultStuckTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &inflightRegistry{
		ops:          make(map[string]*Operation),
		stuckTimeout: stuckTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// begin claims the address for a new operation. A live operation that
// has not exceeded the stuck timeout rejects the claim; a stuck one is
// force-cancelled first.
func (r *inflightRegistry) begin(parent context.Context, address, url string) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.ops[address]; ok {
		age := r.now().Sub(existing.StartedAt)
		if age < r.stuckTimeout {
			return nil, ErrCastInProgress
		}
		r.logger.Printf("Force-cleaning stuck cast %s on %s (running %v)", existing.ID, address, age.Round(time.Second))
		existing.cancel()
		delete(r.ops, address)
	}

	ctx, cancel := context.WithCancel(parent)
	op := &Operation{
		ID:        uuid.NewString(),
		Address:   address,
		URL:       url,
		StartedAt: r.now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	r.ops[address] = op
	return op, nil
}

// release removes the operation and cancels its context so no
// subprocess outlives it.
func (r *inflightRegistry) release(op *Operation) {
	r.mu.Lock()
	if current, ok := r.ops[op.Address]; ok && current.ID == op.ID {
		delete(r.ops, op.Address)
	}
	r.mu.Unlock()
	op.cancel()
}

// active reports whether a cast is currently in flight for the address.
func (r *inflightRegistry) active(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ops[address]
	return ok
}

// cancelAll force-releases every in-flight operation.
func (r *inflightRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for address, op := range r.ops {
		op.cancel()
		delete(r.ops, address)
	}
}
