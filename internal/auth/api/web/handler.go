// Package web exposes the authentication core as a JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/keyfold/keyfold/internal/auth/session"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/platform/logging"
)

// maxBodyBytes caps request bodies; authenticator responses are small.
const maxBodyBytes = 1 << 20

// Service defines the ceremony operations consumed by the HTTP handlers.
type Service interface {
	RegisterStart(ctx context.Context, sess *session.Manager, input user.CreateUserInput) (json.RawMessage, error)
	RegisterFinish(ctx context.Context, sess *session.Manager, response []byte) (user.User, error)
	LoginStart(ctx context.Context, sess *session.Manager) (json.RawMessage, error)
	LoginFinish(ctx context.Context, sess *session.Manager, response []byte) (user.User, error)
	Logout(sess *session.Manager) error
	AddPasskeyStart(ctx context.Context, sess *session.Manager) (json.RawMessage, error)
	AddPasskeyFinish(ctx context.Context, sess *session.Manager, response []byte) (storage.PasskeyCredential, error)
	ListCredentials(ctx context.Context, sess *session.Manager) ([]storage.PasskeyCredential, error)
	RenameCredential(ctx context.Context, sess *session.Manager, credentialID, name string) error
	RemoveCredential(ctx context.Context, sess *session.Manager, credentialID string) error
	Profile(ctx context.Context, sess *session.Manager) (user.User, error)
	UpdateDisplayName(ctx context.Context, sess *session.Manager, displayName string) (user.User, error)
}

// Handler serves the authentication JSON API.
type Handler struct {
	service Service
	codec   *session.Codec
	cfg     session.Config
	logger  *logging.Logger
}

// NewHandler wires the ceremony service and session codec into HTTP handlers.
func NewHandler(service Service, codec *session.Codec, cfg session.Config, logger *logging.Logger) *Handler {
	return &Handler{service: service, codec: codec, cfg: cfg, logger: logger}
}

// Routes returns the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register/start", h.handleRegisterStart)
	mux.HandleFunc("POST /api/register/finish", h.handleRegisterFinish)
	mux.HandleFunc("POST /api/login/start", h.handleLoginStart)
	mux.HandleFunc("POST /api/login/finish", h.handleLoginFinish)
	mux.HandleFunc("POST /api/logout", h.handleLogout)
	mux.HandleFunc("POST /api/passkeys/start", h.handleAddPasskeyStart)
	mux.HandleFunc("POST /api/passkeys/finish", h.handleAddPasskeyFinish)
	mux.HandleFunc("GET /api/passkeys", h.handleListPasskeys)
	mux.HandleFunc("POST /api/passkeys/rename", h.handleRenamePasskey)
	mux.HandleFunc("POST /api/passkeys/remove", h.handleRemovePasskey)
	mux.HandleFunc("GET /api/profile", h.handleProfile)
	mux.HandleFunc("POST /api/profile/display-name", h.handleUpdateDisplayName)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	return mux
}

// sessionFor binds a session manager to this request/response exchange.
func (h *Handler) sessionFor(w http.ResponseWriter, r *http.Request) *session.Manager {
	transport := &cookieTransport{
		w:          w,
		r:          r,
		idleMaxAge: int(h.cfg.IdleTimeout / time.Second),
		secure:     h.cfg.CookieSecure,
	}
	return session.NewManager(h.codec, transport, h.cfg.AbsoluteTimeout, nil)
}

type registerStartRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type renameRequest struct {
	CredentialID string `json:"credentialId"`
	Name         string `json:"name"`
}

type removeRequest struct {
	CredentialID string `json:"credentialId"`
}

type displayNameRequest struct {
	DisplayName string `json:"displayName"`
}

type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	CreatedAt   string `json:"createdAt"`
}

type passkeyResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	CreatedAt  string   `json:"createdAt"`
	LastUsedAt string   `json:"lastUsedAt,omitempty"`
	BackedUp   bool     `json:"backedUp"`
	Transports []string `json:"transports,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	var req registerStartRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	options, err := h.service.RegisterStart(r.Context(), h.sessionFor(w, r), user.CreateUserInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, options)
}

func (h *Handler) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	account, err := h.service.RegisterFinish(r.Context(), h.sessionFor(w, r), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(account))
}

func (h *Handler) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	options, err := h.service.LoginStart(r.Context(), h.sessionFor(w, r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, options)
}

func (h *Handler) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	account, err := h.service.LoginFinish(r.Context(), h.sessionFor(w, r), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(account))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(h.sessionFor(w, r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddPasskeyStart(w http.ResponseWriter, r *http.Request) {
	options, err := h.service.AddPasskeyStart(r.Context(), h.sessionFor(w, r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, options)
}

func (h *Handler) handleAddPasskeyFinish(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	credential, err := h.service.AddPasskeyFinish(r.Context(), h.sessionFor(w, r), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPasskeyResponse(credential))
}

func (h *Handler) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	credentials, err := h.service.ListCredentials(r.Context(), h.sessionFor(w, r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	payload := make([]passkeyResponse, 0, len(credentials))
	for _, credential := range credentials {
		payload = append(payload, toPasskeyResponse(credential))
	}
	writeJSON(w, http.StatusOK, map[string][]passkeyResponse{"passkeys": payload})
}

func (h *Handler) handleRenamePasskey(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := h.service.RenameCredential(r.Context(), h.sessionFor(w, r), req.CredentialID, req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemovePasskey(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := h.service.RemoveCredential(r.Context(), h.sessionFor(w, r), req.CredentialID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Profile(r.Context(), h.sessionFor(w, r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(account))
}

func (h *Handler) handleUpdateDisplayName(w http.ResponseWriter, r *http.Request) {
	var req displayNameRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	account, err := h.service.UpdateDisplayName(r.Context(), h.sessionFor(w, r), req.DisplayName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(account))
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "INVALID_REQUEST", Message: "request body unreadable"})
		return nil, false
	}
	return body, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "INVALID_REQUEST", Message: "request body is not valid json"})
		return false
	}
	return true
}

// writeError maps domain error codes to HTTP statuses. Internal causes are
// logged but never leak to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	message := "internal error"
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) && status < http.StatusInternalServerError {
		message = domainErr.Message
	}
	if status >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: string(code), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func toUserResponse(account user.User) userResponse {
	return userResponse{
		ID:          account.ID,
		Username:    account.Username,
		DisplayName: account.DisplayName,
		CreatedAt:   account.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPasskeyResponse(credential storage.PasskeyCredential) passkeyResponse {
	resp := passkeyResponse{
		ID:         credential.CredentialID,
		Name:       credential.Name,
		CreatedAt:  credential.CreatedAt.UTC().Format(time.RFC3339),
		BackedUp:   credential.BackedUp,
		Transports: credential.Transports,
	}
	if credential.LastUsedAt != nil {
		resp.LastUsedAt = credential.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
