// Package relay observes inbound transfers on the source chain of one bridge direction,
// runs them through triage and carries out the resulting refund or enqueue.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"gorelaybridge/checkpoint"
	"gorelaybridge/journal"
	"gorelaybridge/metrics"
	"gorelaybridge/settlement"
	"gorelaybridge/triage"
	"gorelaybridge/types"
)

// Source is the chain the bridge receives funds on.
type Source interface {
	// ListRecentTransfers returns activity touching address, newest first.
	ListRecentTransfers(ctx context.Context, address string, limit int) ([]*types.ObservedTransfer, error)
	// SubmitTransfer sends a refund back on the source chain.
	SubmitTransfer(ctx context.Context, to, asset string, amount *big.Int) (string, error)
	AwaitReceipt(ctx context.Context, handle string) error
}

// Subscriber pushes transfers to the bridge address into out in chain order.
// Subscribe blocks until ctx is done or the subscription drops.
type Subscriber interface {
	Subscribe(ctx context.Context, address string, out chan<- *types.ObservedTransfer) error
}

// HeadReader reports the current source position. Log ordered directions need it to
// reset the watermark.
type HeadReader interface {
	Head(ctx context.Context) (types.Position, error)
}

// AnomalyError halts a direction: the source reported a transfer that was not sent to
// the bridge address.
type AnomalyError struct {
	Direction  string
	TransferID string
	Receiver   string
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("%s: transfer %s received by %s: %v", e.Direction, e.TransferID, e.Receiver, triage.ErrReceiverMismatch)
}

func (e *AnomalyError) Unwrap() error {
	return triage.ErrReceiverMismatch
}

type Config struct {
	Direction       string
	BridgeAddress   string
	PageLimit       int
	PollInterval    time.Duration
	StalenessWindow time.Duration
	// BufferSize bounds the subscription channel.
	BufferSize int
	// RefundTimeout bounds a refund submission plus its receipt wait.
	RefundTimeout time.Duration
}

type Relay struct {
	cfg     *Config
	source  Source
	triager *triage.Triager
	cp      *checkpoint.Checkpoint
	queue   *settlement.Queue
	journal journal.Journal

	// triage is check-then-mark, one transfer at a time
	mu sync.Mutex
}

func New(
	cfg *Config,
	source Source,
	triager *triage.Triager,
	cp *checkpoint.Checkpoint,
	queue *settlement.Queue,
	j journal.Journal,
) *Relay {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 5 * time.Minute
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.RefundTimeout <= 0 {
		cfg.RefundTimeout = 10 * time.Minute
	}
	return &Relay{
		cfg:     cfg,
		source:  source,
		triager: triager,
		cp:      cp,
		queue:   queue,
		journal: j,
	}
}

func (r *Relay) log() *logger.Entry {
	return logger.WithField("direction", r.cfg.Direction)
}

// Initialize loads the watermark, resetting it to the source head when missing or stale.
func (r *Relay) Initialize(ctx context.Context) error {
	wall := time.Now()
	now := types.Position{Timestamp: wall}
	if hr, ok := r.source.(HeadReader); ok && r.cp.Ordering() == types.OrderingLog {
		head, err := hr.Head(ctx)
		if err != nil {
			return fmt.Errorf("source head: %w", err)
		}
		now = head
	}
	_, err := r.cp.Initialize(ctx, now, r.cfg.StalenessWindow, wall)
	return err
}

// Start initializes the watermark then polls the source every PollInterval until ctx is
// done or an anomaly halts the direction.
func (r *Relay) Start(ctx context.Context) error {
	r.log().Info("starting relay")
	defer r.log().Info("stopping relay")

	if err := r.Initialize(ctx); err != nil {
		return err
	}

	if err := r.Poll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil {
				return err
			}
		}
	}
}

// Poll fetches one page, oldest first, and handles each transfer. Only an anomaly is
// returned; fetch and transient triage failures are logged and retried on the next poll.
func (r *Relay) Poll(ctx context.Context) error {
	page, err := r.source.ListRecentTransfers(ctx, r.cfg.BridgeAddress, r.cfg.PageLimit)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(r.cfg.Direction).Inc()
		r.log().Errorf("error fetching transfers: %v", err)
		return nil
	}

	for i := len(page) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return nil
		}
		err := r.Handle(ctx, page[i])
		var anomaly *AnomalyError
		if errors.As(err, &anomaly) {
			return err
		}
		if err != nil {
			// later transfers would move the watermark past this one
			r.log().WithField("id", page[i].ID).Errorf("error handling transfer, retrying next poll: %v", err)
			break
		}
	}
	return nil
}

// Listen consumes a subscription in arrival order. The subscription is re-established
// after it drops. Transient failures retry the same transfer every PollInterval.
func (r *Relay) Listen(ctx context.Context, sub Subscriber) error {
	r.log().Info("starting relay subscription")
	defer r.log().Info("stopping relay subscription")

	if err := r.Initialize(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan *types.ObservedTransfer, r.cfg.BufferSize)
	go func() {
		for {
			err := sub.Subscribe(ctx, r.cfg.BridgeAddress, ch)
			if ctx.Err() != nil {
				return
			}
			metrics.FetchErrors.WithLabelValues(r.cfg.Direction).Inc()
			r.log().Errorf("subscription dropped, resubscribing: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.PollInterval):
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr := <-ch:
			if err := r.handleUntilDone(ctx, tr); err != nil {
				return err
			}
		}
	}
}

func (r *Relay) handleUntilDone(ctx context.Context, tr *types.ObservedTransfer) error {
	for {
		err := r.Handle(ctx, tr)
		if err == nil {
			return nil
		}
		var anomaly *AnomalyError
		if errors.As(err, &anomaly) {
			return err
		}
		r.log().WithField("id", tr.ID).Errorf("error handling transfer, retrying: %v", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// Handle triages tr and performs its action. Refunds are awaited; accepted transfers
// are queued for the settler.
func (r *Relay) Handle(ctx context.Context, tr *types.ObservedTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.triager.Evaluate(ctx, tr)
	if err != nil {
		return err
	}
	metrics.TriageOutcomes.WithLabelValues(r.cfg.Direction, d.Action.String(), string(d.Reason)).Inc()

	log := r.log().WithFields(logger.Fields{
		"id":     tr.ID,
		"action": d.Action.String(),
		"reason": string(d.Reason),
	})

	switch d.Action {
	case triage.ActionAbort:
		metrics.Halted.WithLabelValues(r.cfg.Direction).Set(1)
		log.WithField("receiver", tr.Receiver).Error("source reported a transfer to a foreign address, halting direction")
		return &AnomalyError{Direction: r.cfg.Direction, TransferID: tr.ID, Receiver: tr.Receiver}
	case triage.ActionRefund:
		log.Info("refunding transfer")
		r.refund(ctx, d)
	case triage.ActionAccept:
		log.WithFields(logger.Fields{
			"amount": d.Item.Amount.String(),
			"fee":    d.Item.Fee.String(),
		}).Info("transfer accepted")
		r.accept(ctx, d)
	case triage.ActionIgnoreMark:
		log.Info("transfer ignored")
	default:
		log.Debug("transfer skipped")
	}
	return nil
}

func (r *Relay) accept(ctx context.Context, d *triage.Decision) {
	tr := d.Transfer
	op := &types.BridgeOperation{
		Direction:     r.cfg.Direction,
		Status:        types.OpPending,
		TsFound:       time.Now().Unix(),
		Asset:         d.Item.Asset,
		Amount:        tr.Amount.String(),
		Fee:           d.Item.Fee.String(),
		SourceAddress: tr.Sender,
		DestAddress:   d.Item.To,
		SourceTxHash:  tr.ID,
	}
	if err := r.journal.Record(ctx, op); err != nil {
		r.log().WithField("id", tr.ID).Errorf("error recording bridge operation: %v", err)
	} else {
		d.Item.OperationID = op.ID
	}

	r.queue.Enqueue(d.Item)
	metrics.QueueDepth.WithLabelValues(r.cfg.Direction).Set(float64(r.queue.Len()))
}

// refund returns the full amount to the sender. The processed marker is already written
// so failures here are left for manual reconciliation.
func (r *Relay) refund(ctx context.Context, d *triage.Decision) {
	tr := d.Transfer
	log := r.log().WithFields(logger.Fields{
		"id":     tr.ID,
		"to":     tr.Sender,
		"asset":  tr.Asset,
		"amount": tr.Amount.String(),
	})

	op := &types.BridgeOperation{
		Direction:     r.cfg.Direction,
		Status:        types.OpReturning,
		TsFound:       time.Now().Unix(),
		Asset:         tr.Asset,
		Amount:        tr.Amount.String(),
		SourceAddress: tr.Sender,
		DestAddress:   tr.Sender,
		SourceTxHash:  tr.ID,
		Message:       string(d.Reason),
	}

	if tr.Amount == nil || tr.Amount.Sign() <= 0 {
		log.Warn("nothing to refund")
		return
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RefundTimeout)
	defer cancel()

	handle, err := r.source.SubmitTransfer(runCtx, tr.Sender, tr.Asset, tr.Amount)
	if err != nil {
		log.Errorf("error sending refund: %v", err)
		metrics.Refunds.WithLabelValues(r.cfg.Direction, "failed").Inc()
		op.Status = types.OpReturnFail
		op.AddMessage(fmt.Sprintf("refund failed: %v", err))
		r.record(runCtx, op)
		return
	}
	op.DestTxHash = handle
	r.record(runCtx, op)

	prev := op.Status
	if err := r.source.AwaitReceipt(runCtx, handle); err != nil {
		log.WithField("handle", handle).Errorf("refund not confirmed: %v", err)
		metrics.Refunds.WithLabelValues(r.cfg.Direction, "failed").Inc()
		op.Status = types.OpReturnFail
		op.AddMessage(fmt.Sprintf("refund not confirmed: %v", err))
	} else {
		log.WithField("handle", handle).Info("refund confirmed")
		metrics.Refunds.WithLabelValues(r.cfg.Direction, "sent").Inc()
		op.Status = types.OpReturnSuccess
	}
	if err := r.journal.Transition(runCtx, op, prev); err != nil {
		log.Errorf("error saving updated bridge operation: %v", err)
	}
}

func (r *Relay) record(ctx context.Context, op *types.BridgeOperation) {
	if err := r.journal.Record(ctx, op); err != nil {
		r.log().WithField("id", op.SourceTxHash).Errorf("error recording bridge operation: %v", err)
	}
}
