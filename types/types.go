package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Ordering is the primitive a source chain orders its activity by.
type Ordering string

const (
	OrderingTimestamp Ordering = "timestamp"
	OrderingLog       Ordering = "log"
)

type TransferKind string

const (
	KindTransfer TransferKind = "transfer"
	KindOther    TransferKind = "other"
)

type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusCommitted TransferStatus = "committed"
	StatusFinalized TransferStatus = "finalized"
	StatusRejected  TransferStatus = "rejected"
)

// Position is where an event sits on its source chain.
// Timestamp-ordered chains fill Timestamp; log-ordered chains fill Block and LogIndex
// and may carry the block time in Timestamp.
type Position struct {
	Timestamp time.Time
	Block     uint64
	LogIndex  uint
}

// Compare returns -1, 0 or 1 depending on whether p is before, equal to or after o.
func (p Position) Compare(o Position, ord Ordering) int {
	if ord == OrderingLog {
		switch {
		case p.Block < o.Block:
			return -1
		case p.Block > o.Block:
			return 1
		case p.LogIndex < o.LogIndex:
			return -1
		case p.LogIndex > o.LogIndex:
			return 1
		}
		return 0
	}
	return p.Timestamp.Compare(o.Timestamp)
}

func (p Position) Before(o Position, ord Ordering) bool {
	return p.Compare(o, ord) < 0
}

// ObservedTransfer is one inbound activity record surfaced by a source chain client.
type ObservedTransfer struct {
	ID         string
	Kind       TransferKind
	Sender     string
	Receiver   string
	Asset      string
	Amount     *big.Int
	Status     TransferStatus
	ObservedAt Position
	Raw        any
}

// SupportedAsset maps a source asset to its destination counterpart.
// PriceRatio is the number of destination asset units worth one unit of the fee-paying asset.
type SupportedAsset struct {
	SourceAsset string
	DestAsset   string
	Decimals    int32
	Symbol      string
	PriceRatio  decimal.Decimal
}

// ExecParams are chain specific settlement parameters snapshotted at triage time.
// A nil GasPrice lets the destination client price the transaction itself.
type ExecParams struct {
	GasPrice *big.Int
	GasLimit uint64
}

// SettlementItem is owned by the settlement queue from enqueue until dequeue.
type SettlementItem struct {
	SourceID    string
	OperationID string
	To          string
	Asset       string
	Amount      *big.Int
	Fee         *big.Int
	Params      ExecParams
	EnqueuedAt  time.Time
}

// SameAddress compares two chain addresses ignoring hex case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
