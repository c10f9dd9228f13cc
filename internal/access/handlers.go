package access

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medvault/dlt-phr/pkg/auth"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// Handlers handles HTTP requests for the access workflow
type Handlers struct {
	service *Service
	logger  *logger.Logger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(service *Service, log *logger.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  log,
	}
}

// RegisterRoutes registers HTTP routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/access-requests", h.CreateRequest).Methods("POST")
	router.HandleFunc("/access-requests", h.ListRequests).Methods("GET")
	router.HandleFunc("/access-requests/{requestID}", h.GetRequest).Methods("GET")
	router.HandleFunc("/access-requests/{requestID}/approve", h.ApproveRequest).Methods("POST")
	router.HandleFunc("/access-requests/{requestID}/deny", h.DenyRequest).Methods("POST")
	router.HandleFunc("/access-requests/{requestID}/extensions", h.RequestExtension).Methods("POST")
	router.HandleFunc("/access-requests/{requestID}/extensions/{index}", h.DecideExtension).Methods("POST")
	router.HandleFunc("/records/{recordID}/grants/{requesterID}", h.RevokeGrant).Methods("DELETE")
}

type createRequestBody struct {
	OwnerID         string   `json:"owner_id"`
	Reason          string   `json:"reason"`
	Scope           string   `json:"scope"`
	SelectedRecords []string `json:"selected_records,omitempty"`
}

// CreateRequest handles access request creation by a delegate
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}
	if caller.Kind != types.PrincipalDelegate {
		h.writeError(w, http.StatusForbidden, "access_denied", "Only delegates can request access")
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	request, err := h.service.Create(r.Context(), CreateInput{
		RequesterID:     caller.ID,
		OwnerID:         body.OwnerID,
		Reason:          body.Reason,
		Scope:           types.RequestScope(body.Scope),
		SelectedRecords: body.SelectedRecords,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, request)
}

type approveRequestBody struct {
	RecordIDs     []string `json:"record_ids"`
	DurationDays  int      `json:"duration_days,omitempty"`
	DecisionNotes string   `json:"decision_notes,omitempty"`
	// OwnerSignature is base64 encoded and optional
	OwnerSignature string `json:"owner_signature,omitempty"`
}

// ApproveRequest handles request approval by the owner
func (h *Handlers) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	var body approveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	var signature []byte
	if body.OwnerSignature != "" {
		var err error
		signature, err = base64.StdEncoding.DecodeString(body.OwnerSignature)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_error", "Owner signature must be base64 encoded")
			return
		}
	}

	request, err := h.service.Approve(r.Context(), mux.Vars(r)["requestID"], caller.ID, ApproveInput{
		RecordIDs:      body.RecordIDs,
		DurationDays:   body.DurationDays,
		DecisionNotes:  body.DecisionNotes,
		OwnerSignature: signature,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

type denyRequestBody struct {
	DecisionNotes string `json:"decision_notes,omitempty"`
}

// DenyRequest handles request denial by the owner
func (h *Handlers) DenyRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	var body denyRequestBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	request, err := h.service.Deny(r.Context(), mux.Vars(r)["requestID"], caller.ID, body.DecisionNotes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// GetRequest handles single request retrieval
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	request, err := h.service.GetByID(r.Context(), mux.Vars(r)["requestID"], caller)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// ListRequests handles request listing for the caller
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	requests, err := h.service.List(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []*types.AccessRequest{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

type extensionRequestBody struct {
	AdditionalDays int    `json:"additional_days"`
	Reason         string `json:"reason,omitempty"`
}

// RequestExtension handles extension solicitation by the requester
func (h *Handlers) RequestExtension(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	var body extensionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	request, err := h.service.RequestExtension(r.Context(), mux.Vars(r)["requestID"],
		caller.ID, body.AdditionalDays, body.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

type decideExtensionBody struct {
	Approve     bool   `json:"approve"`
	LedgerTxRef string `json:"ledger_tx_ref,omitempty"`
}

// DecideExtension handles extension decision by the owner
func (h *Handlers) DecideExtension(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Extension index must be an integer")
		return
	}

	var body decideExtensionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	request, err := h.service.DecideExtension(r.Context(), mux.Vars(r)["requestID"],
		index, caller.ID, body.Approve, body.LedgerTxRef)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// RevokeGrant handles immediate access revocation by the owner
func (h *Handlers) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	vars := mux.Vars(r)
	if err := h.service.Revoke(r.Context(), caller.ID, vars["recordID"], vars["requesterID"]); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// writeServiceError maps service errors to HTTP responses
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var vaultErr *types.VaultError
	if !errors.As(err, &vaultErr) {
		h.logger.WithError(err).Error("Unhandled service error")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
		return
	}

	switch vaultErr.Type {
	case types.ErrorTypeValidation:
		h.writeError(w, http.StatusBadRequest, vaultErr.Code, vaultErr.Message)
	case types.ErrorTypeNotFound:
		h.writeError(w, http.StatusNotFound, vaultErr.Code, vaultErr.Message)
	case types.ErrorTypeConflict:
		h.writeError(w, http.StatusConflict, vaultErr.Code, vaultErr.Message)
	case types.ErrorTypeForbidden:
		h.writeError(w, http.StatusForbidden, vaultErr.Code, vaultErr.Message)
	case types.ErrorTypeExternal:
		h.writeError(w, http.StatusServiceUnavailable, vaultErr.Code, vaultErr.Message)
	default:
		h.logger.WithError(err).Error("Internal service error")
		h.writeError(w, http.StatusInternalServerError, vaultErr.Code, "An internal error occurred")
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
