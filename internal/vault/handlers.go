package vault

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medvault/dlt-phr/pkg/auth"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// Handlers handles HTTP requests for the record vault
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
	router.HandleFunc("/records", h.UploadRecord).Methods("POST")
	router.HandleFunc("/records", h.ListRecords).Methods("GET")
	router.HandleFunc("/records/{recordID}", h.GetRecord).Methods("GET")
	router.HandleFunc("/records/{recordID}/download", h.DownloadRecord).Methods("POST")
}

type uploadRequest struct {
	RecordKind       string `json:"record_kind"`
	DisplayName      string `json:"display_name"`
	OriginalFilename string `json:"original_filename"`
	// Content and OwnerSignature are base64 encoded
	Content        string `json:"content"`
	OwnerSignature string `json:"owner_signature"`
}

type downloadRequest struct {
	OwnerSignature string `json:"owner_signature,omitempty"`
}

type downloadResponse struct {
	Record           *types.EncryptedRecord `json:"record"`
	Content          string                 `json:"content"`
	IntegrityVerdict string                 `json:"integrity_verdict"`
}

// UploadRecord handles encrypted record upload
func (h *Handlers) UploadRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}
	if caller.Kind != types.PrincipalOwner {
		h.writeError(w, http.StatusForbidden, "access_denied", "Only record owners can upload")
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Content must be base64 encoded")
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.OwnerSignature)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Owner signature must be base64 encoded")
		return
	}

	record, err := h.service.Upload(r.Context(), UploadInput{
		OwnerID:          caller.ID,
		RecordKind:       types.RecordKind(req.RecordKind),
		DisplayName:      req.DisplayName,
		OriginalFilename: req.OriginalFilename,
		Plaintext:        content,
		OwnerSignature:   signature,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, record)
}

// DownloadRecord handles record decryption and download
func (h *Handlers) DownloadRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	recordID := mux.Vars(r)["recordID"]

	var req downloadRequest
	if r.Body != nil {
		// An empty body is fine for delegate downloads
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var signature []byte
	if req.OwnerSignature != "" {
		var err error
		signature, err = base64.StdEncoding.DecodeString(req.OwnerSignature)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_error", "Owner signature must be base64 encoded")
			return
		}
	}

	result, err := h.service.Download(r.Context(), recordID, caller, signature)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, downloadResponse{
		Record:           result.Record,
		Content:          base64.StdEncoding.EncodeToString(result.Plaintext),
		IntegrityVerdict: string(result.Integrity.Verdict),
	})
}

// GetRecord handles record metadata retrieval
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	recordID := mux.Vars(r)["recordID"]

	record, err := h.service.Get(r.Context(), recordID, caller)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// ListRecords handles record listing for the calling owner
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	records, err := h.service.ListByOwner(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []*types.EncryptedRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
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
	case types.ErrorTypeIntegrity:
		h.writeError(w, http.StatusUnprocessableEntity, vaultErr.Code, vaultErr.Message)
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
