package exchange

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medvault/dlt-phr/pkg/auth"
	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// Handlers handles HTTP requests for the key exchange channel
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
	router.HandleFunc("/keys", h.GenerateKeyPair).Methods("POST")
	router.HandleFunc("/keys/{principalID}/public", h.GetPublicKey).Methods("GET")
	router.HandleFunc("/keys/{principalID}/wrap", h.WrapKey).Methods("POST")
	router.HandleFunc("/keys/unwrap", h.UnwrapKey).Methods("POST")
}

type generateKeyPairBody struct {
	Password string `json:"password"`
}

// GenerateKeyPair mints a keypair for the calling principal
func (h *Handlers) GenerateKeyPair(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	var body generateKeyPairBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	material, err := h.service.GenerateKeyPair(r.Context(), caller.ID, body.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, material)
}

// GetPublicKey returns any principal's public key
func (h *Handlers) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	principalID := mux.Vars(r)["principalID"]
	publicKey, err := h.service.PublicKey(r.Context(), principalID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"principal_id": principalID,
		"public_key":   publicKey,
	})
}

type wrapKeyBody struct {
	SymmetricKey string `json:"symmetric_key"` // hex
}

// WrapKey encrypts a symmetric key under the target principal's public key
func (h *Handlers) WrapKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	var body wrapKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	wrapped, err := h.service.WrapForDelegate(r.Context(), mux.Vars(r)["principalID"], body.SymmetricKey)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"wrapped_key": wrapped})
}

type unwrapKeyBody struct {
	Password   string `json:"password"`
	WrappedKey string `json:"wrapped_key"` // base64
}

// UnwrapKey recovers a wrapped symmetric key for the calling principal
func (h *Handlers) UnwrapKey(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Caller principal not found in request")
		return
	}

	var body unwrapKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	symmetricKeyHex, err := h.service.Unwrap(r.Context(), caller.ID, body.Password, body.WrappedKey)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"symmetric_key": symmetricKeyHex})
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
	case types.ErrorTypeForbidden:
		h.writeError(w, http.StatusForbidden, vaultErr.Code, vaultErr.Message)
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
