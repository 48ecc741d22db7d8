package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi"
)

func (a *API) Queue(w http.ResponseWriter, r *http.Request) {
	items, err := a.backend.Queue(chi.URLParam(r, "direction"))
	if errors.Is(err, ErrUnknownDirection) {
		responseError(w, "direction", "Direction not configured", http.StatusNotFound)
		return
	}
	if err != nil {
		responseError(w, "", err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]APIQueueItem, 0, len(items))
	for _, it := range items {
		q := APIQueueItem{
			SourceID:    it.SourceID,
			OperationID: it.OperationID,
			To:          it.To,
			Asset:       it.Asset,
			EnqueuedAt:  it.EnqueuedAt.Unix(),
		}
		if it.Amount != nil {
			q.Amount = it.Amount.String()
		}
		if it.Fee != nil {
			q.Fee = it.Fee.String()
		}
		out = append(out, q)
	}
	responseJSON(w, out, http.StatusOK)
}
