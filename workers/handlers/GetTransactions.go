package handlers

import (
	"errors"
	"net/http"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"
	logger "github.com/sirupsen/logrus"

	"gorelaybridge/journal"
	"gorelaybridge/types"
)

// GetTransactions lists bridge operations in one status, optionally narrowed by
// ?direction= and ?address= (source or destination address).
func (a *API) GetTransactions(w http.ResponseWriter, r *http.Request) {
	status := types.OperationStatus(chi.URLParam(r, "status"))
	direction := r.URL.Query().Get("direction")
	address := r.URL.Query().Get("address")

	if address != "" {
		if err := ethav.Validate(common.HexToAddress(address).Hex()); err != nil || !common.IsHexAddress(address) {
			responseError(w, "address", "Invalid address provided", http.StatusBadRequest)
			return
		}
	}

	ops, err := a.journal.ListByStatus(r.Context(), direction, status)
	if errors.Is(err, journal.ErrUnknownStatus) {
		responseError(w, "status", "Unknown operation status", http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Errorf("Error listing %s bridge operations: %v", status, err)
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}

	if address != "" {
		filtered := make([]*types.BridgeOperation, 0, len(ops))
		for _, op := range ops {
			if types.SameAddress(op.SourceAddress, address) || types.SameAddress(op.DestAddress, address) {
				filtered = append(filtered, op)
			}
		}
		ops = filtered
	}
	responseJSON(w, ops, http.StatusOK)
}
