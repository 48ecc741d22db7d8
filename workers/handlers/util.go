package handlers

import (
	"encoding/json"
	"net/http"

	logger "github.com/sirupsen/logrus"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("error encoding response: %v", err)
	}
}

func responseError(w http.ResponseWriter, field, msg string, code int) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Field:   field,
		Message: msg,
	}, code)
}
