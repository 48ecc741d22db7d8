// Package sweep moves surplus float off the intermediate settlement account.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	logger "github.com/sirupsen/logrus"

	"gorelaybridge/metrics"
	"gorelaybridge/types"
)

var ErrNoTarget = errors.New("sweep target address not set")

// Ledger is the chain the float lives on.
type Ledger interface {
	Balance(ctx context.Context, address, asset string) (*big.Int, error)
	Submit(ctx context.Context, to, asset string, amount *big.Int, params types.ExecParams) (string, error)
	WaitForConfirmation(ctx context.Context, handle string, confirmations int) error
}

// Reserver reports float promised to settlements not yet confirmed.
type Reserver interface {
	Pending(asset string) *big.Int
}

type Config struct {
	Direction     string
	FloatAddress  string
	Target        string
	Asset         string
	Threshold     *big.Int
	Confirmations int
	GasLimit      uint64
}

type Sweeper struct {
	cfg      *Config
	ledger   Ledger
	reserved Reserver
}

// New builds a sweeper. reserved may be nil when nothing else draws on the float.
func New(cfg *Config, ledger Ledger, reserved Reserver) (*Sweeper, error) {
	if cfg.Target == "" {
		return nil, ErrNoTarget
	}
	if cfg.Threshold == nil {
		cfg.Threshold = new(big.Int)
	}
	return &Sweeper{cfg: cfg, ledger: ledger, reserved: reserved}, nil
}

// Sweep transfers the float left after reservations, minus threshold, to the target
// and waits for it to confirm. It returns the amount moved, zero when nothing is above
// the threshold.
func (s *Sweeper) Sweep(ctx context.Context) (*big.Int, error) {
	balance, err := s.ledger.Balance(ctx, s.cfg.FloatAddress, s.cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("float balance: %w", err)
	}
	free := new(big.Int).Set(balance)
	reserved := new(big.Int)
	if s.reserved != nil {
		if pending := s.reserved.Pending(s.cfg.Asset); pending != nil {
			reserved.Set(pending)
		}
	}
	free.Sub(free, reserved)
	if free.Cmp(s.cfg.Threshold) <= 0 {
		return new(big.Int), nil
	}

	surplus := new(big.Int).Sub(free, s.cfg.Threshold)
	log := logger.WithFields(logger.Fields{
		"direction": s.cfg.Direction,
		"asset":     s.cfg.Asset,
		"amount":    surplus.String(),
		"reserved":  reserved.String(),
		"target":    s.cfg.Target,
	})

	handle, err := s.ledger.Submit(ctx, s.cfg.Target, s.cfg.Asset, surplus, types.ExecParams{GasLimit: s.cfg.GasLimit})
	if err != nil {
		metrics.Sweeps.WithLabelValues(s.cfg.Direction, "submit_failed").Inc()
		return nil, fmt.Errorf("submit sweep: %w", err)
	}
	log = log.WithField("handle", handle)
	log.Info("sweep submitted")

	if err := s.ledger.WaitForConfirmation(ctx, handle, s.cfg.Confirmations); err != nil {
		metrics.Sweeps.WithLabelValues(s.cfg.Direction, "confirm_failed").Inc()
		return nil, fmt.Errorf("confirm sweep %s: %w", handle, err)
	}

	metrics.Sweeps.WithLabelValues(s.cfg.Direction, "confirmed").Inc()
	log.Info("sweep confirmed")
	return surplus, nil
}
