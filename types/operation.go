package types

type OperationStatus string

// bridge operation lifecycle, kept for operators to reconcile out-of-band
const (
	OpPending       OperationStatus = "pending"       // accepted, waiting in the settlement queue
	OpFailed        OperationStatus = "failed"        // settlement submission or confirmation failed, needs manual replay
	OpExecuting     OperationStatus = "executing"     // destination transaction dispatched
	OpSuccess       OperationStatus = "success"       // destination transaction confirmed
	OpReturning     OperationStatus = "returning"     // refund dispatched on the source chain
	OpReturnFail    OperationStatus = "returnfail"    // refund could not be sent or confirmed
	OpReturnSuccess OperationStatus = "returnsuccess" // refund confirmed
)

var OperationStatuses = []OperationStatus{
	OpPending,
	OpFailed,
	OpExecuting,
	OpSuccess,
	OpReturning,
	OpReturnFail,
	OpReturnSuccess,
}

func ValidOperationStatus(s string) bool {
	for _, st := range OperationStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// BridgeOperation is a single bridge pair (input and output) having a status
type BridgeOperation struct {
	ID            string
	Direction     string
	Status        OperationStatus
	TsFound       int64
	Asset         string
	Amount        string // source amount in smallest units
	Fee           string
	SourceAddress string
	DestAddress   string
	SourceTxHash  string // transaction where funds are received by bridge
	DestTxHash    string // transaction where funds are sent by bridge (or returned)
	Message       string // messages that help to track processing/errors
}

// AddMessage appends msg to the operation log line.
func (op *BridgeOperation) AddMessage(msg string) {
	if op.Message == "" {
		op.Message = msg
	} else {
		op.Message += "; " + msg
	}
}
