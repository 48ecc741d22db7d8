// Package mock provides an in-memory chain ledger that can stand in for either side of a
// bridge direction in tests and local runs.
package mock

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	logger "github.com/sirupsen/logrus"

	"gorelaybridge/types"
)

var (
	ErrListFailed    = errors.New("mock: list failed")
	ErrSubmitFailed  = errors.New("mock: submit failed")
	ErrConfirmFailed = errors.New("mock: confirmation failed")
	ErrBalanceFailed = errors.New("mock: balance unavailable")
	ErrRateFailed    = errors.New("mock: fee rate unavailable")
	ErrSubscription  = errors.New("mock: subscription dropped")
)

// Submission is one outbound transfer the ledger accepted.
type Submission struct {
	Handle string
	To     string
	Asset  string
	Amount *big.Int
	Params types.ExecParams
	Refund bool
}

type Ledger struct {
	mu sync.Mutex

	balances  map[string]*big.Int
	rate      *big.Int
	transfers []*types.ObservedTransfer
	head      types.Position
	submitted []Submission
	confirmed map[string]int

	FailList    bool
	FailSubmit  bool
	FailConfirm bool
	FailBalance bool
	FailRate    bool

	subCh chan *types.ObservedTransfer
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[string]*big.Int),
		rate:      big.NewInt(1),
		transfers: make([]*types.ObservedTransfer, 0),
		submitted: make([]Submission, 0),
		confirmed: make(map[string]int),
		subCh:     make(chan *types.ObservedTransfer, 16),
	}
}

func balanceKey(address, asset string) string {
	return strings.ToLower(address) + "|" + strings.ToLower(asset)
}

func (l *Ledger) SetBalance(address, asset string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey(address, asset)] = new(big.Int).Set(amount)
}

func (l *Ledger) SetFeeRate(rate *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = new(big.Int).Set(rate)
}

func (l *Ledger) SetHead(pos types.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = pos
}

// AddTransfer appends tr as the newest activity on the ledger.
func (l *Ledger) AddTransfer(tr *types.ObservedTransfer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfers = append(l.transfers, tr)
}

// Push delivers tr to the current subscriber.
func (l *Ledger) Push(tr *types.ObservedTransfer) {
	l.subCh <- tr
}

// Submitted returns a copy of everything sent out through the ledger.
func (l *Ledger) Submitted() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Submission, len(l.submitted))
	copy(out, l.submitted)
	return out
}

func (l *Ledger) Balance(_ context.Context, address, asset string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailBalance {
		return nil, ErrBalanceFailed
	}
	if b, ok := l.balances[balanceKey(address, asset)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *Ledger) FeeRate(_ context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailRate {
		return nil, ErrRateFailed
	}
	return new(big.Int).Set(l.rate), nil
}

func (l *Ledger) Head(_ context.Context) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head, nil
}

// ListRecentTransfers returns the newest transfers first. Everything added to the ledger
// is reported as the bridge's activity, whatever its receiver.
func (l *Ledger) ListRecentTransfers(_ context.Context, _ string, limit int) ([]*types.ObservedTransfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailList {
		return nil, ErrListFailed
	}
	out := make([]*types.ObservedTransfer, 0, limit)
	for i := len(l.transfers) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.transfers[i])
	}
	return out, nil
}

func (l *Ledger) Submit(_ context.Context, to, asset string, amount *big.Int, params types.ExecParams) (string, error) {
	return l.submit(to, asset, amount, params, false)
}

func (l *Ledger) SubmitTransfer(_ context.Context, to, asset string, amount *big.Int) (string, error) {
	return l.submit(to, asset, amount, types.ExecParams{}, true)
}

func (l *Ledger) submit(to, asset string, amount *big.Int, params types.ExecParams, refund bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailSubmit {
		return "", ErrSubmitFailed
	}
	handle := fmt.Sprintf("0xmock%04d", len(l.submitted)+1)
	l.submitted = append(l.submitted, Submission{
		Handle: handle,
		To:     to,
		Asset:  asset,
		Amount: new(big.Int).Set(amount),
		Params: params,
		Refund: refund,
	})
	logger.Debugf("mock ledger accepted %s of %s to %s as %s", amount, asset, to, handle)
	return handle, nil
}

func (l *Ledger) WaitForConfirmation(_ context.Context, handle string, confirmations int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailConfirm {
		return ErrConfirmFailed
	}
	l.confirmed[handle] = confirmations
	return nil
}

func (l *Ledger) AwaitReceipt(ctx context.Context, handle string) error {
	return l.WaitForConfirmation(ctx, handle, 1)
}

// Confirmed reports whether handle was waited on successfully.
func (l *Ledger) Confirmed(handle string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.confirmed[handle]
	return ok
}

// Subscribe forwards pushed transfers to out until ctx is done.
func (l *Ledger) Subscribe(ctx context.Context, _ string, out chan<- *types.ObservedTransfer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-l.subCh:
			if !ok {
				return ErrSubscription
			}
			select {
			case out <- tr:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
