package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/provision"
	"github.com/wesm/tempmail/internal/store"
	syncpkg "github.com/wesm/tempmail/internal/sync"
)

// AccountResponse is the provisioned inbox as returned to clients. The
// bearer token stays server-side.
type AccountResponse struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Provider string `json:"provider"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool          `json:"running"`
	Inboxes []InboxStatus `json:"inboxes"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func toAccountResponse(a *store.Account) AccountResponse {
	return AccountResponse{
		ID:       a.ID,
		Email:    a.Email,
		Username: a.Username,
		Password: a.Password,
		Provider: a.Provider,
	}
}

// writeInboxError maps inbox and provider errors to HTTP responses.
func (s *Server) writeInboxError(w http.ResponseWriter, err error) {
	var throttled *syncpkg.ThrottledError
	switch {
	case errors.As(err, &throttled):
		w.Header().Set("Retry-After", retryAfterSeconds(throttled.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "throttled", err.Error())
	case errors.Is(err, store.ErrNoAccount):
		writeError(w, http.StatusNotFound, "no_account", "No inbox for this address")
	case errors.Is(err, mailtm.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
	case errors.Is(err, mailtm.ErrUnauthorized), errors.Is(err, mailtm.ErrAuthFailed):
		writeError(w, http.StatusUnauthorized, "provider_unauthorized", "Mail provider rejected the inbox credentials")
	case errors.Is(err, mailtm.ErrRateLimited):
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusServiceUnavailable, "provider_rate_limited", "Mail provider is rate limiting requests")
	default:
		s.logger.Error("inbox operation failed", "error", err)
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
	}
}

// retryAfterSeconds renders d as whole seconds, rounded up, at least 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// emailParam returns the unescaped {email} route parameter.
func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

// handleNewInbox provisions a new inbox, replacing the current one.
func (s *Server) handleNewInbox(w http.ResponseWriter, r *http.Request) {
	acct, err := s.inbox.ProvisionNewInbox(r.Context())
	if err != nil {
		if errors.Is(err, provision.ErrProvisioningFailed) {
			s.logger.Warn("provisioning failed", "error", err)
			writeError(w, http.StatusBadGateway, "provisioning_failed", "Could not create an inbox, try again shortly")
			return
		}
		s.writeInboxError(w, err)
		return
	}

	if s.scheduler != nil {
		if err := s.scheduler.Follow(acct.Email, s.cfg.Inbox.Schedule); err != nil {
			s.logger.Warn("failed to schedule inbox polling", "email", acct.Email, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(acct))
}

// handleGetInbox returns the current inbox account.
func (s *Server) handleGetInbox(w http.ResponseWriter, r *http.Request) {
	acct, err := s.inbox.Account()
	if err != nil {
		if errors.Is(err, store.ErrNoAccount) {
			writeError(w, http.StatusNotFound, "no_account", "No inbox has been created")
			return
		}
		s.logger.Error("failed to load account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

// handleLogout forgets the current inbox.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.inbox.Logout(); err != nil {
		s.logger.Error("failed to clear account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to clear account")
		return
	}
	if s.scheduler != nil {
		s.scheduler.UnwatchAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages syncs and returns the inbox snapshot. It never fails;
// unknown addresses get an empty snapshot.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.inbox.InboxSnapshot(r.Context(), emailParam(r)))
}

// handleRefresh forces a sync unless one ran too recently.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.inbox.ManualRefresh(r.Context(), emailParam(r))
	if err != nil {
		s.writeInboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetMessage returns a full message and marks it read.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.inbox.ReadMessage(r.Context(), emailParam(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeInboxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleDeleteMessage removes a message. Deleting a missing message
// succeeds.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.inbox.DeleteMessage(r.Context(), emailParam(r), chi.URLParam(r, "id")); err != nil {
		s.writeInboxError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	resp := SchedulerStatusResponse{Inboxes: []InboxStatus{}}
	if s.scheduler != nil {
		resp.Running = s.scheduler.IsRunning()
		if st := s.scheduler.Status(); st != nil {
			resp.Inboxes = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
