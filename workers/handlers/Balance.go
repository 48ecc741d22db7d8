package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	logger "github.com/sirupsen/logrus"
)

func (a *API) Balance(w http.ResponseWriter, r *http.Request) {
	direction := chi.URLParam(r, "direction")

	balances, err := a.backend.Balances(r.Context(), direction)
	if errors.Is(err, ErrUnknownDirection) {
		responseError(w, "direction", "Direction not configured", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithField("direction", direction).Errorf("Error getting float balance: %v", err)
		responseError(w, "", "Cannot read balance", http.StatusInternalServerError)
		return
	}
	responseJSON(w, balances, http.StatusOK)
}
