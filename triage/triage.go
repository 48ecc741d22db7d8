// Package triage classifies one observed inbound transfer and writes its checkpoints.
//
// Checks run in a fixed order and the first match wins. Every outcome that leads to a
// side effect (refund or settlement) has its processed marker written before the
// caller is told to act, so a crash between the two skips the transfer instead of
// paying it twice.
package triage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"gorelaybridge/checkpoint"
	"gorelaybridge/fee"
	"gorelaybridge/types"
)

var (
	ErrReceiverMismatch = errors.New("receiver does not match bridge address")
	ErrNilTransfer      = errors.New("nil transfer")
)

type Action int

const (
	ActionIgnore     Action = iota // already handled, nothing written
	ActionIgnoreMark               // handled now, marker written, funds kept
	ActionAbort                    // upstream feed is wrong, stop the direction
	ActionDefer                    // not final yet, look again next poll
	ActionRefund                   // marker written, return full amount to sender
	ActionAccept                   // marker written, settle on destination
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionIgnoreMark:
		return "ignore-mark"
	case ActionAbort:
		return "abort"
	case ActionDefer:
		return "defer"
	case ActionRefund:
		return "refund"
	case ActionAccept:
		return "accept"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type Reason string

const (
	ReasonAlreadyProcessed      Reason = "already processed"
	ReasonNotTransfer           Reason = "unsupported tx type"
	ReasonOutgoing              Reason = "outgoing tx"
	ReasonReceiverMismatch      Reason = "receiver does not match wallet"
	ReasonRejected              Reason = "rejected tx"
	ReasonNotCommitted          Reason = "not committed"
	ReasonFutureTimestamp       Reason = "timestamp in the future"
	ReasonBeforeWatermark       Reason = "before last processed position"
	ReasonDenied                Reason = "sender in deny list"
	ReasonUnsupportedAsset      Reason = "unsupported asset"
	ReasonInsufficientLiquidity Reason = "insufficient liquidity"
	ReasonZeroAmount            Reason = "zero amount"
	ReasonFeeExceedsAmount      Reason = "amount does not cover fee"
	ReasonAccepted              Reason = "accepted"
)

// Decision is the single terminal outcome for one transfer.
type Decision struct {
	Action   Action
	Reason   Reason
	Transfer *types.ObservedTransfer
	Asset    *types.SupportedAsset
	Quote    *fee.Quote
	Item     *types.SettlementItem
}

// Liquidity reads the bridge float on the destination chain.
type Liquidity interface {
	Balance(ctx context.Context, address, asset string) (*big.Int, error)
}

// FeeOracle quotes the current destination fee rate.
type FeeOracle interface {
	FeeRate(ctx context.Context) (*big.Int, error)
}

// Reserver reports float already promised to queued settlements.
type Reserver interface {
	Pending(asset string) *big.Int
}

type Config struct {
	// BridgeAddress is the bridge's own address on the source chain.
	BridgeAddress string
	// FloatAddress holds settlement liquidity on the destination chain.
	FloatAddress string
	DenyList     []string
	Assets       []types.SupportedAsset
	// GasLimit and GasPriceMultiplier shape the execution params snapshotted on accepted items.
	GasLimit           uint64
	GasPriceMultiplier int64
}

type Triager struct {
	cfg      *Config
	cp       *checkpoint.Checkpoint
	dest     Liquidity
	oracle   FeeOracle
	fees     *fee.Calculator
	reserved Reserver
	assets   map[string]types.SupportedAsset
	deny     map[string]struct{}
	now      func() time.Time
}

func New(
	cfg *Config,
	cp *checkpoint.Checkpoint,
	dest Liquidity,
	oracle FeeOracle,
	fees *fee.Calculator,
	reserved Reserver,
) *Triager {
	assets := make(map[string]types.SupportedAsset, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets[strings.ToLower(a.SourceAsset)] = a
	}
	deny := make(map[string]struct{}, len(cfg.DenyList))
	for _, addr := range cfg.DenyList {
		deny[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}

	return &Triager{
		cfg:      cfg,
		cp:       cp,
		dest:     dest,
		oracle:   oracle,
		fees:     fees,
		reserved: reserved,
		assets:   assets,
		deny:     deny,
		now:      time.Now,
	}
}

// SetClock replaces the wall clock used for the future timestamp check.
func (t *Triager) SetClock(now func() time.Time) {
	t.now = now
}

// Evaluate runs the triage table on tr. A returned error is transient: nothing has been
// written for tr and it will be looked at again on the next poll.
func (t *Triager) Evaluate(ctx context.Context, tr *types.ObservedTransfer) (*Decision, error) {
	if tr == nil {
		return nil, ErrNilTransfer
	}
	d := &Decision{Transfer: tr}

	processed, err := t.cp.IsProcessed(ctx, tr.ID)
	if err != nil {
		return nil, err
	}
	if processed {
		return t.decide(d, ActionIgnore, ReasonAlreadyProcessed), nil
	}

	if tr.Kind != types.KindTransfer {
		return t.markAndAdvance(ctx, d, ActionIgnoreMark, ReasonNotTransfer)
	}

	if types.SameAddress(tr.Sender, t.cfg.BridgeAddress) {
		return t.markAndAdvance(ctx, d, ActionIgnoreMark, ReasonOutgoing)
	}

	if !types.SameAddress(tr.Receiver, t.cfg.BridgeAddress) {
		return t.decide(d, ActionAbort, ReasonReceiverMismatch), nil
	}

	if tr.Status == types.StatusRejected {
		return t.markAndAdvance(ctx, d, ActionIgnoreMark, ReasonRejected)
	}

	if tr.Status != types.StatusCommitted && tr.Status != types.StatusFinalized {
		return t.decide(d, ActionDefer, ReasonNotCommitted), nil
	}

	if ts := tr.ObservedAt.Timestamp; !ts.IsZero() && ts.After(t.now()) {
		// also moves the watermark up so nothing before this point is paid out
		return t.markAndAdvance(ctx, d, ActionRefund, ReasonFutureTimestamp)
	}

	wm, found, err := t.cp.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	if found && tr.ObservedAt.Before(wm, t.cp.Ordering()) {
		if err := t.cp.MarkProcessed(ctx, tr.ID); err != nil {
			return nil, err
		}
		return t.decide(d, ActionIgnoreMark, ReasonBeforeWatermark), nil
	}

	if _, denied := t.deny[strings.ToLower(strings.TrimSpace(tr.Sender))]; denied {
		return t.markAndAdvance(ctx, d, ActionIgnoreMark, ReasonDenied)
	}

	asset, ok := t.assets[strings.ToLower(tr.Asset)]
	if !ok {
		return t.markAndAdvance(ctx, d, ActionRefund, ReasonUnsupportedAsset)
	}
	d.Asset = &asset

	if tr.Amount == nil || tr.Amount.Sign() <= 0 {
		return t.markAndAdvance(ctx, d, ActionIgnoreMark, ReasonZeroAmount)
	}

	balance, err := t.dest.Balance(ctx, t.cfg.FloatAddress, asset.DestAsset)
	if err != nil {
		return nil, fmt.Errorf("destination balance: %w", err)
	}
	available := new(big.Int).Set(balance)
	if t.reserved != nil {
		if pending := t.reserved.Pending(asset.DestAsset); pending != nil {
			available.Sub(available, pending)
		}
	}
	if available.Cmp(tr.Amount) < 0 {
		logger.WithFields(logger.Fields{
			"direction": t.cp.Direction(),
			"id":        tr.ID,
			"amount":    tr.Amount.String(),
			"balance":   balance.String(),
			"available": available.String(),
		}).Info("bridge has insufficient funds")
		return t.markAndAdvance(ctx, d, ActionRefund, ReasonInsufficientLiquidity)
	}

	// quote before marking so an oracle outage leaves the transfer for the next poll
	rate, err := t.oracle.FeeRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("destination fee rate: %w", err)
	}
	quote, err := t.fees.Quote(tr.Amount, rate, asset)
	if err != nil {
		return nil, err
	}
	d.Quote = &quote

	if !quote.Positive() {
		return t.markAndAdvance(ctx, d, ActionRefund, ReasonFeeExceedsAmount)
	}

	d.Item = &types.SettlementItem{
		SourceID: tr.ID,
		To:       tr.Sender,
		Asset:    asset.DestAsset,
		Amount:   new(big.Int).Set(quote.Net),
		Fee:      new(big.Int).Set(quote.Fee),
		Params:   t.execParams(rate),
	}
	return t.markAndAdvance(ctx, d, ActionAccept, ReasonAccepted)
}

func (t *Triager) execParams(rate *big.Int) types.ExecParams {
	mult := t.cfg.GasPriceMultiplier
	if mult <= 0 {
		mult = 1
	}
	return types.ExecParams{
		GasPrice: new(big.Int).Mul(rate, big.NewInt(mult)),
		GasLimit: t.cfg.GasLimit,
	}
}

func (t *Triager) markAndAdvance(ctx context.Context, d *Decision, action Action, reason Reason) (*Decision, error) {
	if err := t.cp.MarkProcessed(ctx, d.Transfer.ID); err != nil {
		return nil, err
	}
	if _, err := t.cp.Advance(ctx, d.Transfer.ObservedAt); err != nil {
		// the marker is down, so the action must still happen or the transfer is lost
		logger.WithFields(logger.Fields{
			"direction": t.cp.Direction(),
			"id":        d.Transfer.ID,
		}).Errorf("failed to advance watermark: %v", err)
	}
	return t.decide(d, action, reason), nil
}

func (t *Triager) decide(d *Decision, action Action, reason Reason) *Decision {
	d.Action = action
	d.Reason = reason
	return d
}
