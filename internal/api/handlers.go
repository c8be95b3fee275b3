/**
 * @description
 * This file contains the HTTP handler functions for the recurring-transfer
 * CRUD surface. Handlers parse incoming requests, call the service layer and
 * write JSON responses. Malformed schedule expressions surface here as 422s so
 * bad recurrence text never reaches the batch engine.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/autotransfer-service/internal/app"
	"github.com/transfa/autotransfer-service/internal/domain"
	"github.com/transfa/autotransfer-service/internal/schedule"
	"github.com/transfa/autotransfer-service/internal/store"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// handleCreateTransfer registers a new recurring transfer instruction.
func (h *Handler) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	transfer, err := h.service.CreateTransfer(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, transfer)
}

// handleListTransfers lists transfers by source account or by user.
func (h *Handler) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("source_account_id"); raw != "" {
		accountID, err := uuid.Parse(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid source_account_id")
			return
		}
		transfers, err := h.service.ListBySourceAccount(r.Context(), accountID)
		if err != nil {
			respondWithServiceError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, transfers)
		return
	}

	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		respondWithError(w, http.StatusBadRequest, "source_account_id or user_id query parameter required")
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	transfers, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transfers)
}

// handleGetTransfer retrieves one recurring transfer.
func (h *Handler) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}

	transfer, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transfer)
}

// handleUpdateTransfer applies an owner edit to a transfer's terms.
func (h *Handler) handleUpdateTransfer(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}

	var req domain.UpdateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	transfer, err := h.service.UpdateTransfer(r.Context(), transferID, req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transfer)
}

// handleDeleteTransfer removes a recurring transfer instruction.
func (h *Handler) handleDeleteTransfer(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}

	if err := h.service.DeleteTransfer(r.Context(), transferID); err != nil {
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondWithServiceError maps service-layer errors to HTTP statuses.
func respondWithServiceError(w http.ResponseWriter, err error) {
	var malformed *schedule.MalformedScheduleError
	switch {
	case errors.As(err, &malformed):
		respondWithError(w, http.StatusUnprocessableEntity, malformed.Error())
	case errors.Is(err, app.ErrInvalidAmount):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrTransferNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondWithError writes a JSON error body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
