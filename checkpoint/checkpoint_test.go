package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorelaybridge/types"
)

func TestProcessedMarker(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	cp := New(kv, "zksync-polygon", types.OrderingTimestamp)

	processed, err := cp.IsProcessed(ctx, "0xabc")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, cp.MarkProcessed(ctx, "0xabc"))

	processed, err = cp.IsProcessed(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{"zksync-polygon:0xabc:processed"}, kv.Keys("zksync-polygon:0x"))

	// any value means set
	require.NoError(t, kv.Set(ctx, "zksync-polygon:0xdef:processed", "weird"))
	processed, err = cp.IsProcessed(ctx, "0xdef")
	require.NoError(t, err)
	assert.True(t, processed)

	assert.ErrorIs(t, cp.MarkProcessed(ctx, ""), ErrEmptyID)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	cp := New(NewMemoryKV(), "dir", types.OrderingTimestamp)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, found, err := cp.Watermark(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	wm, err := cp.Advance(ctx, types.Position{Timestamp: t0})
	require.NoError(t, err)
	assert.True(t, wm.Timestamp.Equal(t0))

	wm, err = cp.Advance(ctx, types.Position{Timestamp: t0.Add(-time.Minute)})
	require.NoError(t, err)
	assert.True(t, wm.Timestamp.Equal(t0), "older position must not regress the watermark")

	wm, err = cp.Advance(ctx, types.Position{Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, wm.Timestamp.Equal(t0.Add(time.Minute)))

	stored, found, err := cp.Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, stored.Timestamp.Equal(t0.Add(time.Minute)))
}

func TestAdvanceLogOrdering(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	cp := New(kv, "polygon-zksync", types.OrderingLog)

	_, err := cp.Advance(ctx, types.Position{Block: 100, LogIndex: 3})
	require.NoError(t, err)
	_, err = cp.Advance(ctx, types.Position{Block: 100, LogIndex: 1})
	require.NoError(t, err)

	wm, found, err := cp.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(100), wm.Block)
	assert.Equal(t, uint(3), wm.LogIndex)

	_, err = cp.Advance(ctx, types.Position{Block: 101})
	require.NoError(t, err)
	v, _, _ := kv.Get(ctx, "polygon-zksync:lastProcessedBlockNum")
	assert.Equal(t, "101", v)
	v, _, _ = kv.Get(ctx, "polygon-zksync:lastProcessedLogIndex")
	assert.Equal(t, "0", v)
	assert.Equal(t, "101:0", cp.Format(types.Position{Block: 101}))
}

func TestInitializeTimestamp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	t.Run("first run starts at now", func(t *testing.T) {
		cp := New(NewMemoryKV(), "dir", types.OrderingTimestamp)
		wm, err := cp.Initialize(ctx, types.Position{Timestamp: now}, window, now)
		require.NoError(t, err)
		assert.True(t, wm.Timestamp.Equal(now))
	})

	t.Run("recent watermark is kept", func(t *testing.T) {
		cp := New(NewMemoryKV(), "dir", types.OrderingTimestamp)
		recent := now.Add(-time.Minute)
		_, err := cp.Advance(ctx, types.Position{Timestamp: recent})
		require.NoError(t, err)

		wm, err := cp.Initialize(ctx, types.Position{Timestamp: now}, window, now)
		require.NoError(t, err)
		assert.True(t, wm.Timestamp.Equal(recent))
	})

	t.Run("stale watermark is reset", func(t *testing.T) {
		cp := New(NewMemoryKV(), "dir", types.OrderingTimestamp)
		_, err := cp.Advance(ctx, types.Position{Timestamp: now.Add(-time.Hour)})
		require.NoError(t, err)

		wm, err := cp.Initialize(ctx, types.Position{Timestamp: now}, window, now)
		require.NoError(t, err)
		assert.True(t, wm.Timestamp.Equal(now))
	})
}

func TestInitializeLogUsesUpdateTime(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	cp := New(kv, "dir", types.OrderingLog)
	head := types.Position{Block: 5000}

	_, err := cp.Advance(ctx, types.Position{Block: 4990, LogIndex: 2})
	require.NoError(t, err)

	// just written, so within the window
	wm, err := cp.Initialize(ctx, head, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(4990), wm.Block)

	// pretend the process was down for an hour
	wm, err = cp.Initialize(ctx, head, time.Minute, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), wm.Block)
	assert.Equal(t, uint(0), wm.LogIndex)
}

func TestCorruptWatermark(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "dir:lastProcessedTimestamp", "yesterday"))
	cp := New(kv, "dir", types.OrderingTimestamp)

	_, _, err := cp.Watermark(ctx)
	assert.ErrorIs(t, err, ErrCorruptWatermark)
}

func TestDispatchedMarker(t *testing.T) {
	ctx := context.Background()
	cp := New(NewMemoryKV(), "dir", types.OrderingTimestamp)

	_, found, err := cp.Dispatched(ctx, "0x1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cp.MarkDispatched(ctx, "0x1", "0xdest"))
	handle, found, err := cp.Dispatched(ctx, "0x1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0xdest", handle)
}
