// Package settlement drains the bridge queue one item at a time onto the destination chain.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	logger "github.com/sirupsen/logrus"

	"gorelaybridge/checkpoint"
	"gorelaybridge/journal"
	"gorelaybridge/metrics"
	"gorelaybridge/types"
)

// Destination executes settlements on the destination chain.
type Destination interface {
	Submit(ctx context.Context, to, asset string, amount *big.Int, params types.ExecParams) (string, error)
	WaitForConfirmation(ctx context.Context, handle string, confirmations int) error
}

// Sweeper runs after every confirmed settlement.
type Sweeper interface {
	Sweep(ctx context.Context) (*big.Int, error)
}

type Config struct {
	Direction           string
	DrainInterval       time.Duration
	Confirmations       int
	ConfirmationTimeout time.Duration
}

type Settler struct {
	cfg     *Config
	queue   *Queue
	dest    Destination
	cp      *checkpoint.Checkpoint
	journal journal.Journal
	sweeper Sweeper
}

// New builds a settler. sweeper may be nil when the direction has no sweep configured.
func New(cfg *Config, queue *Queue, dest Destination, cp *checkpoint.Checkpoint, j journal.Journal, sweeper Sweeper) *Settler {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Second
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 10 * time.Minute
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 1
	}
	return &Settler{
		cfg:     cfg,
		queue:   queue,
		dest:    dest,
		cp:      cp,
		journal: j,
		sweeper: sweeper,
	}
}

func (s *Settler) Queue() *Queue {
	return s.queue
}

// Start drains one item per tick until ctx is done. An item already dispatched is
// followed to its confirmation even if ctx is cancelled meanwhile.
func (s *Settler) Start(ctx context.Context) error {
	logger.WithField("direction", s.cfg.Direction).Info("starting settler")
	defer logger.WithField("direction", s.cfg.Direction).Info("stopping settler")

	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.DrainOne(ctx)
		}
	}
}

// DrainOne settles the queue head. It reports false when the queue was empty.
// The item stays reserved until it confirms or fails, and is dropped afterwards
// whatever the outcome.
func (s *Settler) DrainOne(ctx context.Context) bool {
	item, ok := s.queue.Dequeue()
	metrics.QueueDepth.WithLabelValues(s.cfg.Direction).Set(float64(s.queue.Len()))
	if !ok {
		return false
	}
	defer s.queue.Done(item)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ConfirmationTimeout)
	defer cancel()

	log := logger.WithFields(logger.Fields{
		"direction": s.cfg.Direction,
		"id":        item.SourceID,
		"to":        item.To,
		"asset":     item.Asset,
		"amount":    item.Amount.String(),
		"fee":       item.Fee.String(),
	})

	log.Info("sending settlement")
	handle, err := s.dest.Submit(runCtx, item.To, item.Asset, item.Amount, item.Params)
	if err != nil {
		log.Errorf("settlement submission failed, dropping item: %v", err)
		metrics.Settlements.WithLabelValues(s.cfg.Direction, "submit_failed").Inc()
		s.record(runCtx, item, types.OpFailed, "", fmt.Sprintf("submit failed: %v", err))
		return true
	}
	log = log.WithField("handle", handle)

	if err := s.cp.MarkDispatched(runCtx, item.SourceID, handle); err != nil {
		log.Errorf("failed to store dispatched marker: %v", err)
	}
	s.record(runCtx, item, types.OpExecuting, handle, "")

	if err := s.dest.WaitForConfirmation(runCtx, handle, s.cfg.Confirmations); err != nil {
		log.Errorf("settlement not confirmed, dropping item: %v", err)
		metrics.Settlements.WithLabelValues(s.cfg.Direction, "confirm_failed").Inc()
		s.record(runCtx, item, types.OpFailed, handle, fmt.Sprintf("confirmation failed: %v", err))
		return true
	}

	log.Info("settlement confirmed")
	metrics.Settlements.WithLabelValues(s.cfg.Direction, "confirmed").Inc()
	s.record(runCtx, item, types.OpSuccess, handle, "")
	// the confirmed amount has left the float, so the sweep must not count it again
	s.queue.Done(item)

	if s.sweeper != nil {
		if _, err := s.sweeper.Sweep(runCtx); err != nil {
			log.Errorf("liquidity sweep failed: %v", err)
		}
	}
	return true
}

// record moves the journal entry for item to status. Journal failures are logged only.
func (s *Settler) record(ctx context.Context, item *types.SettlementItem, status types.OperationStatus, handle, msg string) {
	if s.journal == nil || item.OperationID == "" {
		return
	}
	log := logger.WithFields(logger.Fields{
		"direction": s.cfg.Direction,
		"operation": item.OperationID,
	})

	op, err := s.journal.Find(ctx, item.OperationID)
	if errors.Is(err, journal.ErrNotFound) {
		log.Warn("bridge operation missing from journal")
		return
	}
	if err != nil {
		log.Errorf("error getting bridge operation: %v", err)
		return
	}

	prev := op.Status
	op.Status = status
	if handle != "" {
		op.DestTxHash = handle
	}
	if msg != "" {
		op.AddMessage(msg)
	}
	if err := s.journal.Transition(ctx, op, prev); err != nil {
		log.Errorf("error saving updated bridge operation: %v", err)
	}
}
