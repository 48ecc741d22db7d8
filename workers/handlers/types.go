package handlers

import (
	"context"
	"errors"

	"gorelaybridge/types"
)

var ErrUnknownDirection = errors.New("unknown direction")

// Backend is the running bridge as seen by the API.
type Backend interface {
	Status(ctx context.Context) []DirectionStatus
	Balances(ctx context.Context, direction string) ([]AssetBalance, error)
	Queue(direction string) ([]types.SettlementItem, error)
}

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

type DirectionStatus struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	Ordering   string `json:"ordering"`
	Mode       string `json:"mode"`
	Watermark  string `json:"watermark"`
	QueueDepth int    `json:"queueDepth"`
}

type APIStateResponse struct {
	Status     string            `json:"status"`
	Message    string            `json:"message"`
	Directions []DirectionStatus `json:"directions"`
}

// AssetBalance is the float of one destination asset; Available excludes queued settlements.
type AssetBalance struct {
	Asset     string `json:"asset"`
	Symbol    string `json:"symbol,omitempty"`
	Balance   string `json:"balance"`
	Reserved  string `json:"reserved"`
	Available string `json:"available"`
}

type APIQueueItem struct {
	SourceID    string `json:"sourceId"`
	OperationID string `json:"operationId"`
	To          string `json:"to"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	EnqueuedAt  int64  `json:"enqueuedAt"`
}

type API struct {
	backend Backend
	journal OperationLister
}

// OperationLister is the read side of the operation journal.
type OperationLister interface {
	ListByStatus(ctx context.Context, direction string, status types.OperationStatus) ([]*types.BridgeOperation, error)
}

func New(backend Backend, journal OperationLister) *API {
	return &API{backend: backend, journal: journal}
}
