package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorelaybridge/checkpoint"
	"gorelaybridge/fee"
	"gorelaybridge/journal"
	"gorelaybridge/mock"
	"gorelaybridge/settlement"
	"gorelaybridge/triage"
	"gorelaybridge/types"
)

const (
	bridgeAddr = "0xb1d9e000000000000000000000000000000000b1"
	floatAddr  = "0xf10a7000000000000000000000000000000000f1"
	userAddr   = "0x5e4de5000000000000000000000000000000005e"
)

type harness struct {
	kv      *checkpoint.MemoryKV
	cp      *checkpoint.Checkpoint
	source  *mock.Ledger
	dest    *mock.Ledger
	queue   *settlement.Queue
	journal *journal.Memory
	relay   *Relay
	base    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		kv:      checkpoint.NewMemoryKV(),
		source:  mock.NewLedger(),
		dest:    mock.NewLedger(),
		queue:   settlement.NewQueue(),
		journal: journal.NewMemory(),
		base:    time.Now().Add(time.Minute),
	}
	h.cp = checkpoint.New(h.kv, "test", types.OrderingTimestamp)
	h.dest.SetBalance(floatAddr, "WETH", big.NewInt(10_000_000))
	h.dest.SetFeeRate(big.NewInt(15))

	fees, err := fee.NewCalculator(fee.Params{
		GasEstimate:      100,
		SafetyMultiplier: decimal.NewFromInt(2),
		FeeDecimals:      18,
	})
	require.NoError(t, err)

	tri := triage.New(&triage.Config{
		BridgeAddress: bridgeAddr,
		FloatAddress:  floatAddr,
		Assets: []types.SupportedAsset{
			{SourceAsset: "ETH", DestAsset: "WETH", Decimals: 18},
		},
		GasLimit:           21000,
		GasPriceMultiplier: 2,
	}, h.cp, h.dest, h.dest, fees, h.queue)
	tri.SetClock(func() time.Time { return h.base.Add(time.Hour) })

	h.relay = New(&Config{
		Direction:     "test",
		BridgeAddress: bridgeAddr,
		PageLimit:     5,
		PollInterval:  10 * time.Millisecond,
		BufferSize:    4,
	}, h.source, tri, h.cp, h.queue, h.journal)
	return h
}

func (h *harness) transfer(n int, amount int64) *types.ObservedTransfer {
	return &types.ObservedTransfer{
		ID:         fmt.Sprintf("0x%02d", n),
		Kind:       types.KindTransfer,
		Sender:     userAddr,
		Receiver:   bridgeAddr,
		Asset:      "ETH",
		Amount:     big.NewInt(amount),
		Status:     types.StatusCommitted,
		ObservedAt: types.Position{Timestamp: h.base.Add(time.Duration(n) * time.Second)},
	}
}

func (h *harness) refunds() []mock.Submission {
	out := make([]mock.Submission, 0)
	for _, s := range h.source.Submitted() {
		if s.Refund {
			out = append(out, s)
		}
	}
	return out
}

func TestAcceptedTransferIsQueued(t *testing.T) {
	h := newHarness(t)
	h.source.AddTransfer(h.transfer(1, 1_000_000))

	require.NoError(t, h.relay.Poll(context.Background()))

	items := h.queue.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, "997000", items[0].Amount.String())
	assert.Equal(t, "3000", items[0].Fee.String())
	assert.Equal(t, userAddr, items[0].To)
	assert.NotEmpty(t, items[0].OperationID)

	op, err := h.journal.Find(context.Background(), items[0].OperationID)
	require.NoError(t, err)
	assert.Equal(t, types.OpPending, op.Status)
	assert.Equal(t, "1000000", op.Amount)
	assert.Empty(t, h.refunds())
}

func TestReplayedPageQueuesOnce(t *testing.T) {
	h := newHarness(t)
	h.source.AddTransfer(h.transfer(1, 1_000_000))

	require.NoError(t, h.relay.Poll(context.Background()))
	require.NoError(t, h.relay.Poll(context.Background()))
	assert.Equal(t, 1, h.queue.Len())
}

func TestPageIsHandledOldestFirst(t *testing.T) {
	h := newHarness(t)
	for n := 1; n <= 3; n++ {
		h.source.AddTransfer(h.transfer(n, 1_000_000))
	}

	require.NoError(t, h.relay.Poll(context.Background()))

	items := h.queue.Snapshot()
	require.Len(t, items, 3, "newest-first pages must be reversed or the watermark drops older items")
	assert.Equal(t, "0x01", items[0].SourceID)
	assert.Equal(t, "0x03", items[2].SourceID)
}

func TestUnsupportedAssetIsRefunded(t *testing.T) {
	h := newHarness(t)
	tr := h.transfer(1, 1_000_000)
	tr.Asset = "DOGE"
	h.source.AddTransfer(tr)

	require.NoError(t, h.relay.Poll(context.Background()))

	refunds := h.refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, userAddr, refunds[0].To)
	assert.Equal(t, "DOGE", refunds[0].Asset)
	assert.Equal(t, "1000000", refunds[0].Amount.String())
	assert.Zero(t, h.queue.Len())

	done, err := h.journal.ListByStatus(context.Background(), "test", types.OpReturnSuccess)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, refunds[0].Handle, done[0].DestTxHash)
}

func TestLowLiquidityIsRefunded(t *testing.T) {
	h := newHarness(t)
	h.dest.SetBalance(floatAddr, "WETH", big.NewInt(500))
	h.source.AddTransfer(h.transfer(1, 1_000_000))

	require.NoError(t, h.relay.Poll(context.Background()))

	require.Len(t, h.refunds(), 1)
	assert.Zero(t, h.queue.Len())
}

func TestFailedRefundKeepsMarker(t *testing.T) {
	h := newHarness(t)
	h.source.FailSubmit = true
	tr := h.transfer(1, 1_000_000)
	tr.Asset = "DOGE"
	h.source.AddTransfer(tr)

	require.NoError(t, h.relay.Poll(context.Background()))

	processed, err := h.cp.IsProcessed(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.True(t, processed)

	failed, err := h.journal.ListByStatus(context.Background(), "test", types.OpReturnFail)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestReceiverMismatchHalts(t *testing.T) {
	h := newHarness(t)
	tr := h.transfer(1, 1_000_000)
	tr.Receiver = "0x0000000000000000000000000000000000000001"
	h.source.AddTransfer(tr)

	err := h.relay.Poll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, triage.ErrReceiverMismatch)

	var anomaly *AnomalyError
	require.True(t, errors.As(err, &anomaly))
	assert.Equal(t, tr.ID, anomaly.TransferID)
	assert.Zero(t, h.kv.Writes())
	assert.Empty(t, h.source.Submitted())
	assert.Zero(t, h.queue.Len())
}

func TestFetchFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.source.FailList = true

	assert.NoError(t, h.relay.Poll(context.Background()))
	assert.Zero(t, h.kv.Writes())
}

func TestTransientTriageFailureStopsPage(t *testing.T) {
	h := newHarness(t)
	h.dest.FailRate = true
	h.source.AddTransfer(h.transfer(1, 1_000_000))
	h.source.AddTransfer(h.transfer(2, 1_000_000))

	require.NoError(t, h.relay.Poll(context.Background()))
	assert.Zero(t, h.queue.Len())
	assert.Zero(t, h.kv.Writes())

	h.dest.FailRate = false
	require.NoError(t, h.relay.Poll(context.Background()))
	assert.Equal(t, 2, h.queue.Len())
}

func TestStartResetsMissingWatermark(t *testing.T) {
	h := newHarness(t)
	old := h.transfer(1, 1_000_000)
	old.ObservedAt.Timestamp = time.Now().Add(-time.Hour)
	h.source.AddTransfer(old)
	h.source.AddTransfer(h.transfer(2, 1_000_000))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.relay.Start(ctx) }()

	require.Eventually(t, func() bool { return h.queue.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	items := h.queue.Snapshot()
	assert.Equal(t, "0x02", items[0].SourceID)

	processed, err := h.cp.IsProcessed(context.Background(), old.ID)
	require.NoError(t, err)
	assert.True(t, processed, "transfers before the watermark are marked without action")
	assert.Empty(t, h.refunds())
}

func TestListenHandlesPushedTransfers(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.relay.Listen(ctx, h.source) }()

	h.source.Push(h.transfer(1, 1_000_000))
	h.source.Push(h.transfer(2, 2_000_000))

	require.Eventually(t, func() bool { return h.queue.Len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	items := h.queue.Snapshot()
	assert.Equal(t, "0x01", items[0].SourceID)
	assert.Equal(t, "1997000", items[1].Amount.String())
}

func TestListenHaltsOnAnomaly(t *testing.T) {
	h := newHarness(t)
	tr := h.transfer(1, 1_000_000)
	tr.Receiver = userAddr

	go h.source.Push(tr)
	err := h.relay.Listen(context.Background(), h.source)
	assert.ErrorIs(t, err, triage.ErrReceiverMismatch)
}
