// Package checkpoint implements the processed-marker and watermark protocol on top of
// a plain key/value store. The store is assumed single-writer per key with
// read-your-writes consistency.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"gorelaybridge/metrics"
	"gorelaybridge/types"
)

var (
	ErrCorruptWatermark = errors.New("corrupt watermark value")
	ErrEmptyID          = errors.New("empty transfer id")
)

// KV is the durable store the checkpoints live in.
// Get reports found=false for a missing key.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MultiSetter is implemented by stores able to write several keys atomically.
// Log ordered watermarks span two keys and use it when available.
type MultiSetter interface {
	SetMany(ctx context.Context, pairs map[string]string) error
}

type Checkpoint struct {
	kv        KV
	direction string
	ordering  types.Ordering
}

func New(kv KV, direction string, ordering types.Ordering) *Checkpoint {
	if ordering == "" {
		ordering = types.OrderingTimestamp
	}
	return &Checkpoint{
		kv:        kv,
		direction: direction,
		ordering:  ordering,
	}
}

func (c *Checkpoint) Direction() string {
	return c.direction
}

func (c *Checkpoint) Ordering() types.Ordering {
	return c.ordering
}

func (c *Checkpoint) processedKey(id string) string {
	return fmt.Sprintf("%s:%s:processed", c.direction, id)
}

func (c *Checkpoint) dispatchedKey(id string) string {
	return fmt.Sprintf("%s:%s:dispatched", c.direction, id)
}

func (c *Checkpoint) timestampKey() string {
	return c.direction + ":lastProcessedTimestamp"
}

func (c *Checkpoint) blockKey() string {
	return c.direction + ":lastProcessedBlockNum"
}

func (c *Checkpoint) logIndexKey() string {
	return c.direction + ":lastProcessedLogIndex"
}

func (c *Checkpoint) updatedKey() string {
	return c.direction + ":watermarkUpdatedAt"
}

// IsProcessed reports whether a processed marker exists for id. Any value counts.
func (c *Checkpoint) IsProcessed(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	_, found, err := c.kv.Get(ctx, c.processedKey(id))
	if err != nil {
		return false, fmt.Errorf("get processed marker: %w", err)
	}
	return found, nil
}

// MarkProcessed sets the never-act-again marker for id.
// It must be written before any side effect for the transfer.
func (c *Checkpoint) MarkProcessed(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := c.kv.Set(ctx, c.processedKey(id), "1"); err != nil {
		return fmt.Errorf("set processed marker: %w", err)
	}
	return nil
}

// MarkDispatched records the destination handle of a settlement submitted for id.
func (c *Checkpoint) MarkDispatched(ctx context.Context, id, handle string) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := c.kv.Set(ctx, c.dispatchedKey(id), handle); err != nil {
		return fmt.Errorf("set dispatched marker: %w", err)
	}
	return nil
}

// Dispatched returns the destination handle recorded for id, if any.
func (c *Checkpoint) Dispatched(ctx context.Context, id string) (string, bool, error) {
	if id == "" {
		return "", false, ErrEmptyID
	}
	handle, found, err := c.kv.Get(ctx, c.dispatchedKey(id))
	if err != nil {
		return "", false, fmt.Errorf("get dispatched marker: %w", err)
	}
	return handle, found, nil
}

// Watermark returns the stored watermark. found is false before the first write.
func (c *Checkpoint) Watermark(ctx context.Context) (types.Position, bool, error) {
	if c.ordering == types.OrderingLog {
		return c.logWatermark(ctx)
	}

	raw, found, err := c.kv.Get(ctx, c.timestampKey())
	if err != nil || !found {
		return types.Position{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("%w: %s=%q", ErrCorruptWatermark, c.timestampKey(), raw)
	}
	return types.Position{Timestamp: ts}, true, nil
}

func (c *Checkpoint) logWatermark(ctx context.Context) (types.Position, bool, error) {
	rawBlock, found, err := c.kv.Get(ctx, c.blockKey())
	if err != nil || !found {
		return types.Position{}, false, err
	}
	block, err := strconv.ParseUint(rawBlock, 10, 64)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("%w: %s=%q", ErrCorruptWatermark, c.blockKey(), rawBlock)
	}

	pos := types.Position{Block: block}
	rawIndex, found, err := c.kv.Get(ctx, c.logIndexKey())
	if err != nil {
		return types.Position{}, false, err
	}
	if found {
		idx, err := strconv.ParseUint(rawIndex, 10, 32)
		if err != nil {
			return types.Position{}, false, fmt.Errorf("%w: %s=%q", ErrCorruptWatermark, c.logIndexKey(), rawIndex)
		}
		pos.LogIndex = uint(idx)
	}
	return pos, true, nil
}

// Advance moves the watermark forward to pos. A pos at or before the stored
// watermark leaves it untouched. The resulting watermark is returned.
func (c *Checkpoint) Advance(ctx context.Context, pos types.Position) (types.Position, error) {
	current, found, err := c.Watermark(ctx)
	if err != nil {
		return types.Position{}, err
	}
	if found && !current.Before(pos, c.ordering) {
		return current, nil
	}
	if err := c.write(ctx, pos, time.Now()); err != nil {
		return types.Position{}, err
	}
	return pos, nil
}

// Initialize runs at cold start. A missing watermark, or one older than window,
// is reset to now; transfers from before are left for manual reconciliation.
// This is the only place the watermark may move backwards.
func (c *Checkpoint) Initialize(ctx context.Context, now types.Position, window time.Duration, wallNow time.Time) (types.Position, error) {
	current, found, err := c.Watermark(ctx)
	if err != nil {
		return types.Position{}, err
	}

	reset := !found
	if found {
		stale, err := c.isStale(ctx, current, window, wallNow)
		if err != nil {
			return types.Position{}, err
		}
		reset = stale
	}

	if !reset {
		logger.WithFields(logger.Fields{
			"direction": c.direction,
			"watermark": c.Format(current),
		}).Info("resuming from stored watermark")
		return current, nil
	}

	if err := c.write(ctx, now, wallNow); err != nil {
		return types.Position{}, err
	}
	logger.WithFields(logger.Fields{
		"direction": c.direction,
		"found":     found,
		"previous":  c.Format(current),
		"watermark": c.Format(now),
	}).Warn("watermark reset to now, older transfers need manual reconciliation")
	return now, nil
}

func (c *Checkpoint) isStale(ctx context.Context, current types.Position, window time.Duration, wallNow time.Time) (bool, error) {
	if c.ordering == types.OrderingTimestamp {
		return current.Timestamp.Before(wallNow.Add(-window)), nil
	}

	// block positions carry no wall clock, the last advance time is kept beside them
	raw, found, err := c.kv.Get(ctx, c.updatedKey())
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	updated, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return true, nil
	}
	return updated.Before(wallNow.Add(-window)), nil
}

func (c *Checkpoint) write(ctx context.Context, pos types.Position, at time.Time) error {
	pairs := map[string]string{
		c.updatedKey(): at.UTC().Format(time.RFC3339Nano),
	}
	if c.ordering == types.OrderingLog {
		pairs[c.blockKey()] = strconv.FormatUint(pos.Block, 10)
		pairs[c.logIndexKey()] = strconv.FormatUint(uint64(pos.LogIndex), 10)
	} else {
		pairs[c.timestampKey()] = pos.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	if ms, ok := c.kv.(MultiSetter); ok {
		if err := ms.SetMany(ctx, pairs); err != nil {
			return fmt.Errorf("set watermark: %w", err)
		}
	} else {
		for k, v := range pairs {
			if err := c.kv.Set(ctx, k, v); err != nil {
				return fmt.Errorf("set watermark %s: %w", k, err)
			}
		}
	}

	gauge := float64(pos.Block)
	if c.ordering != types.OrderingLog {
		gauge = float64(pos.Timestamp.Unix())
	}
	metrics.Watermark.WithLabelValues(c.direction).Set(gauge)
	return nil
}

// Format renders a position the way it is stored.
func (c *Checkpoint) Format(pos types.Position) string {
	if c.ordering == types.OrderingLog {
		return fmt.Sprintf("%d:%d", pos.Block, pos.LogIndex)
	}
	if pos.Timestamp.IsZero() {
		return ""
	}
	return pos.Timestamp.UTC().Format(time.RFC3339Nano)
}
