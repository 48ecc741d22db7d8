// Package journal keeps the audit trail of bridge operations operators reconcile against.
// Entries are informational: the processed marker, not the journal, guards against
// double payment.
package journal

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gorelaybridge/types"
)

var (
	ErrNilOperation  = errors.New("null object to store")
	ErrEmptyStatus   = errors.New("bridge operation cannot have empty status")
	ErrUnknownStatus = errors.New("unknown bridge operation status")
	ErrNotFound      = errors.New("bridge operation not found")
)

type Journal interface {
	Record(ctx context.Context, op *types.BridgeOperation) error
	Transition(ctx context.Context, op *types.BridgeOperation, prev types.OperationStatus) error
	Find(ctx context.Context, id string) (*types.BridgeOperation, error)
	ListByStatus(ctx context.Context, direction string, status types.OperationStatus) ([]*types.BridgeOperation, error)
}

// Validate checks op before it is stored and assigns an ID when missing.
func Validate(op *types.BridgeOperation) error {
	if op == nil {
		return ErrNilOperation
	}
	if op.Status == "" {
		return ErrEmptyStatus
	}
	if !types.ValidOperationStatus(string(op.Status)) {
		return ErrUnknownStatus
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	return nil
}

// Memory is an in-process journal.
type Memory struct {
	mu  sync.RWMutex
	ops map[string]types.BridgeOperation
}

func NewMemory() *Memory {
	return &Memory{ops: make(map[string]types.BridgeOperation)}
}

func (m *Memory) Record(_ context.Context, op *types.BridgeOperation) error {
	if err := Validate(op); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = *op
	return nil
}

func (m *Memory) Transition(ctx context.Context, op *types.BridgeOperation, _ types.OperationStatus) error {
	return m.Record(ctx, op)
}

func (m *Memory) ListByStatus(_ context.Context, direction string, status types.OperationStatus) ([]*types.BridgeOperation, error) {
	if !types.ValidOperationStatus(string(status)) {
		return nil, ErrUnknownStatus
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]*types.BridgeOperation, 0)
	for _, op := range m.ops {
		if op.Status != status {
			continue
		}
		if direction != "" && op.Direction != direction {
			continue
		}
		c := op
		ops = append(ops, &c)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].TsFound == ops[j].TsFound {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].TsFound < ops[j].TsFound
	})
	return ops, nil
}

// Find returns a copy of the operation with id.
func (m *Memory) Find(_ context.Context, id string) (*types.BridgeOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &op, nil
}
