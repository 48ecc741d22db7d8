package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorelaybridge/journal"
	"gorelaybridge/types"
)

type fakeBackend struct {
	status     []DirectionStatus
	balanceErr error
}

func (f *fakeBackend) Status(context.Context) []DirectionStatus { return f.status }

func (f *fakeBackend) Balances(_ context.Context, direction string) ([]AssetBalance, error) {
	if direction != "zksync-polygon" {
		return nil, ErrUnknownDirection
	}
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return []AssetBalance{{Asset: "native", Balance: "100", Reserved: "40", Available: "60"}}, nil
}

func (f *fakeBackend) Queue(direction string) ([]types.SettlementItem, error) {
	if direction != "zksync-polygon" {
		return nil, ErrUnknownDirection
	}
	return []types.SettlementItem{{
		SourceID:   "sync-tx:01",
		To:         "0x5e4de5000000000000000000000000000000005e",
		Asset:      "native",
		Amount:     big.NewInt(997000),
		Fee:        big.NewInt(3000),
		EnqueuedAt: time.Unix(1700000000, 0),
	}}, nil
}

func router(backend Backend, j OperationLister) http.Handler {
	api := New(backend, j)
	r := chi.NewRouter()
	r.Get("/health", api.HealthCheck)
	r.Get("/state", api.State)
	r.Get("/balance/{direction}", api.Balance)
	r.Get("/queue/{direction}", api.Queue)
	r.Get("/stats/{status}", api.GetTransactions)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := get(t, router(&fakeBackend{}, journal.NewMemory()), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","message":"","field":""}`, rec.Body.String())
}

func TestStateReportsHalt(t *testing.T) {
	backend := &fakeBackend{status: []DirectionStatus{
		{Name: "zksync-polygon", State: "running"},
		{Name: "polygon-zksync", State: "halted", Error: "receiver mismatch"},
	}}
	rec := get(t, router(backend, journal.NewMemory()), "/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp APIStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "halted", resp.Status)
	assert.Contains(t, resp.Message, "polygon-zksync")
	assert.Len(t, resp.Directions, 2)

	backend.status = backend.status[:1]
	rec = get(t, router(backend, journal.NewMemory()), "/state")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestBalance(t *testing.T) {
	backend := &fakeBackend{}
	h := router(backend, journal.NewMemory())

	rec := get(t, h, "/balance/zksync-polygon")
	require.Equal(t, http.StatusOK, rec.Code)
	var balances []AssetBalance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balances))
	require.Len(t, balances, 1)
	assert.Equal(t, "60", balances[0].Available)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/balance/nowhere").Code)

	backend.balanceErr = errors.New("rpc down")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/balance/zksync-polygon").Code)
}

func TestQueue(t *testing.T) {
	h := router(&fakeBackend{}, journal.NewMemory())

	rec := get(t, h, "/queue/zksync-polygon")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []APIQueueItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "997000", items[0].Amount)
	assert.Equal(t, int64(1700000000), items[0].EnqueuedAt)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/queue/nowhere").Code)
}

func TestGetTransactions(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory()
	require.NoError(t, j.Record(ctx, &types.BridgeOperation{
		Direction:     "zksync-polygon",
		Status:        types.OpReturnFail,
		SourceAddress: "0x5e4de5000000000000000000000000000000005e",
		TsFound:       1,
	}))
	require.NoError(t, j.Record(ctx, &types.BridgeOperation{
		Direction:     "polygon-zksync",
		Status:        types.OpReturnFail,
		SourceAddress: "0x0000000000000000000000000000000000000001",
		TsFound:       2,
	}))
	h := router(&fakeBackend{}, j)

	var ops []*types.BridgeOperation
	rec := get(t, h, "/stats/returnfail")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	assert.Len(t, ops, 2)

	rec = get(t, h, "/stats/returnfail?direction=polygon-zksync")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "polygon-zksync", ops[0].Direction)

	rec = get(t, h, "/stats/returnfail?address=0x5E4DE5000000000000000000000000000000005E")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "zksync-polygon", ops[0].Direction)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/stats/returnfail?address=nobody").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/stats/bogus").Code)
}
