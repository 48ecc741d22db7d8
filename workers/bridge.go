package workers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gorelaybridge/checkpoint"
	"gorelaybridge/config"
	"gorelaybridge/journal"
	"gorelaybridge/relay"
	"gorelaybridge/settlement"
	"gorelaybridge/triage"
	"gorelaybridge/types"
	"gorelaybridge/workers/handlers"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateHalted  State = "halted"
	StateStopped State = "stopped"
)

// Chain is a ledger client able to serve as source and destination of a direction.
type Chain interface {
	relay.Source
	settlement.Destination
	Balance(ctx context.Context, address, asset string) (*big.Int, error)
	FeeRate(ctx context.Context) (*big.Int, error)
}

// Direction is one relay and its settler, sharing a queue and a checkpoint.
type Direction struct {
	Name       string
	Checkpoint *checkpoint.Checkpoint
	Queue      *settlement.Queue

	cfg        *config.DirectionConfig
	relay      *relay.Relay
	settler    *settlement.Settler
	subscriber relay.Subscriber
	dest       Chain
	assets     []types.SupportedAsset

	mu    sync.Mutex
	state State
	err   error
}

func (d *Direction) State() (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.err
}

func (d *Direction) setState(s State, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
	d.err = err
}

// Run blocks until ctx is done. A halted relay leaves the settler draining what was
// already accepted; the halt error is returned once both stop.
func (d *Direction) Run(ctx context.Context) error {
	d.setState(StateRunning, nil)

	var g errgroup.Group
	g.Go(func() error {
		err := d.runRelay(ctx)
		if errors.Is(err, triage.ErrReceiverMismatch) {
			d.setState(StateHalted, err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := d.settler.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	err := g.Wait()
	if st, _ := d.State(); st != StateHalted {
		d.setState(StateStopped, err)
	}
	return err
}

// runRelay restarts the relay after startup failures such as an unreachable store.
func (d *Direction) runRelay(ctx context.Context) error {
	log := logger.WithField("direction", d.Name)
	backoff := d.cfg.PollInterval
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	for {
		var err error
		if d.subscriber != nil {
			err = d.relay.Listen(ctx, d.subscriber)
		} else {
			err = d.relay.Start(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, triage.ErrReceiverMismatch) {
			return err
		}
		log.Errorf("relay stopped, restarting: %v", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// Bridge runs every configured direction and serves them to the HTTP API.
type Bridge struct {
	directions []*Direction
	chains     map[string]Chain
	journal    journal.Journal
}

func (b *Bridge) Directions() []*Direction {
	return b.directions
}

func (b *Bridge) Direction(name string) *Direction {
	for _, d := range b.directions {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (b *Bridge) Journal() journal.Journal {
	return b.journal
}

// Run starts all directions and waits for them. Directions are independent, a halted
// one does not stop the others.
func (b *Bridge) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, d := range b.directions {
		d := d
		g.Go(func() error {
			if err := d.Run(ctx); err != nil {
				logger.WithField("direction", d.Name).Errorf("direction halted: %v", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Bridge) Status(ctx context.Context) []handlers.DirectionStatus {
	out := make([]handlers.DirectionStatus, 0, len(b.directions))
	for _, d := range b.directions {
		state, err := d.State()
		st := handlers.DirectionStatus{
			Name:       d.Name,
			State:      string(state),
			Ordering:   d.cfg.Ordering,
			Mode:       string(d.cfg.Mode),
			QueueDepth: d.Queue.Len(),
		}
		if err != nil {
			st.Error = err.Error()
		}
		wm, found, err := d.Checkpoint.Watermark(ctx)
		if err != nil {
			st.Watermark = "error: " + err.Error()
		} else if found {
			st.Watermark = d.Checkpoint.Format(wm)
		}
		out = append(out, st)
	}
	return out
}

// Balances reads the float of each destination asset and subtracts what the queue has
// already promised.
func (b *Bridge) Balances(ctx context.Context, direction string) ([]handlers.AssetBalance, error) {
	d := b.Direction(direction)
	if d == nil {
		return nil, handlers.ErrUnknownDirection
	}

	out := make([]handlers.AssetBalance, 0, len(d.assets))
	seen := make(map[string]struct{}, len(d.assets))
	for _, a := range d.assets {
		if _, dup := seen[a.DestAsset]; dup {
			continue
		}
		seen[a.DestAsset] = struct{}{}

		balance, err := d.dest.Balance(ctx, d.cfg.FloatAddress, a.DestAsset)
		if err != nil {
			return nil, fmt.Errorf("%s balance: %w", a.DestAsset, err)
		}
		reserved := d.Queue.Pending(a.DestAsset)
		out = append(out, handlers.AssetBalance{
			Asset:     a.DestAsset,
			Symbol:    a.Symbol,
			Balance:   balance.String(),
			Reserved:  reserved.String(),
			Available: new(big.Int).Sub(balance, reserved).String(),
		})
	}
	return out, nil
}

func (b *Bridge) Queue(direction string) ([]types.SettlementItem, error) {
	d := b.Direction(direction)
	if d == nil {
		return nil, handlers.ErrUnknownDirection
	}
	items := d.Queue.Snapshot()
	if current, ok := d.Queue.InFlight(); ok {
		items = append([]types.SettlementItem{current}, items...)
	}
	return items, nil
}
