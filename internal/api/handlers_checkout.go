package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/transfa/donation-service/internal/domain"
)

var checkoutCORSHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization, X-Client-Info, Apikey",
}

func (h *Handler) handleCheckoutOptions(w http.ResponseWriter, r *http.Request) {
	for k, v := range checkoutCORSHeaders {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleProcessDonation(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		h.logger.Info("undecodable donation intent", zap.String("outcome", "reject"), zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid donation data")
		return
	}

	resp, err := h.checkout.CreateSession(r.Context(), req, r.Header.Get("Origin"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
