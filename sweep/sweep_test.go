package sweep

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorelaybridge/mock"
)

const (
	float  = "0xf10a7000000000000000000000000000000000f1"
	target = "0x7a49e7000000000000000000000000000000007a"
)

type fixedReserve struct{ amount *big.Int }

func (r fixedReserve) Pending(string) *big.Int { return r.amount }

func newSweeper(t *testing.T, l *mock.Ledger) *Sweeper {
	t.Helper()
	return newReservedSweeper(t, l, nil)
}

func newReservedSweeper(t *testing.T, l *mock.Ledger, reserved Reserver) *Sweeper {
	t.Helper()
	s, err := New(&Config{
		Direction:     "test",
		FloatAddress:  float,
		Target:        target,
		Asset:         "WETH",
		Threshold:     big.NewInt(1000),
		Confirmations: 3,
	}, l, reserved)
	require.NoError(t, err)
	return s
}

func TestSweepMovesSurplus(t *testing.T) {
	l := mock.NewLedger()
	l.SetBalance(float, "WETH", big.NewInt(1500))

	moved, err := newSweeper(t, l).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "500", moved.String())

	subs := l.Submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, target, subs[0].To)
	assert.Equal(t, "500", subs[0].Amount.String())
	assert.True(t, l.Confirmed(subs[0].Handle))
}

func TestSweepLeavesQueuedAmounts(t *testing.T) {
	l := mock.NewLedger()
	l.SetBalance(float, "WETH", big.NewInt(10_000))

	moved, err := newReservedSweeper(t, l, fixedReserve{big.NewInt(5000)}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4000", moved.String())

	subs := l.Submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, "4000", subs[0].Amount.String())
}

func TestSweepSkipsWhenReservationsCoverFloat(t *testing.T) {
	l := mock.NewLedger()
	l.SetBalance(float, "WETH", big.NewInt(10_000))

	moved, err := newReservedSweeper(t, l, fixedReserve{big.NewInt(9500)}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, moved.Sign())
	assert.Empty(t, l.Submitted())
}

func TestSweepUnderThreshold(t *testing.T) {
	l := mock.NewLedger()
	l.SetBalance(float, "WETH", big.NewInt(1000))

	moved, err := newSweeper(t, l).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, moved.Sign())
	assert.Empty(t, l.Submitted())
}

func TestSweepFailures(t *testing.T) {
	l := mock.NewLedger()
	l.SetBalance(float, "WETH", big.NewInt(5000))
	s := newSweeper(t, l)

	l.FailSubmit = true
	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, mock.ErrSubmitFailed)

	l.FailSubmit = false
	l.FailConfirm = true
	_, err = s.Sweep(context.Background())
	assert.ErrorIs(t, err, mock.ErrConfirmFailed)
}

func TestSweepRequiresTarget(t *testing.T) {
	_, err := New(&Config{}, mock.NewLedger(), nil)
	assert.ErrorIs(t, err, ErrNoTarget)
}
