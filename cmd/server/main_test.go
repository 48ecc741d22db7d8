package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorelaybridge/checkpoint"
	"gorelaybridge/journal"
	"gorelaybridge/types"
)

func TestPrintWatermark(t *testing.T) {
	ctx := context.Background()
	cp := checkpoint.New(checkpoint.NewMemoryKV(), "polygon-zksync", types.OrderingLog)

	var out bytes.Buffer
	require.NoError(t, printWatermark(ctx, &out, cp))
	assert.Contains(t, out.String(), "no watermark stored")

	_, err := cp.Advance(ctx, types.Position{Block: 77, LogIndex: 3})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, printWatermark(ctx, &out, cp))
	assert.Equal(t, "polygon-zksync: 77:3 (log)\n", out.String())
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	cp := checkpoint.New(checkpoint.NewMemoryKV(), "zksync-polygon", types.OrderingTimestamp)
	j := journal.NewMemory()

	executing := &types.BridgeOperation{
		Direction:    "zksync-polygon",
		Status:       types.OpExecuting,
		TsFound:      time.Now().Unix(),
		SourceTxHash: "sync-tx:01",
		Amount:       "1000000",
	}
	require.NoError(t, j.Record(ctx, executing))
	require.NoError(t, cp.MarkDispatched(ctx, "sync-tx:01", "0xfeed"))

	require.NoError(t, j.Record(ctx, &types.BridgeOperation{
		Direction:    "zksync-polygon",
		Status:       types.OpReturning,
		SourceTxHash: "sync-tx:02",
	}))
	require.NoError(t, j.Record(ctx, &types.BridgeOperation{
		Direction: "zksync-polygon",
		Status:    types.OpSuccess,
	}))
	require.NoError(t, j.Record(ctx, &types.BridgeOperation{
		Direction: "polygon-zksync",
		Status:    types.OpExecuting,
	}))

	var out bytes.Buffer
	n, err := reconcile(ctx, &out, cp, j)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, out.String(), "dest=0xfeed")
	assert.Contains(t, out.String(), "source=sync-tx:02\tdest=-")
}
