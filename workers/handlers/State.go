package handlers

import (
	"net/http"
)

// State reports every direction; the overall status is "halted" when any direction is.
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	directions := a.backend.Status(r.Context())

	resp := &APIStateResponse{
		Status:     "ok",
		Directions: directions,
	}
	for _, d := range directions {
		if d.State == "halted" {
			resp.Status = "halted"
			resp.Message = "direction " + d.Name + " halted: " + d.Error
			break
		}
	}
	responseJSON(w, resp, http.StatusOK)
}
