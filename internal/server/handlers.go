package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"cdnbox/internal/files"
	"cdnbox/internal/history"
	"cdnbox/internal/redeploy"
	"cdnbox/internal/session"
	"cdnbox/internal/webhook"
)

const (
	MaxPayloadBytes = 25 << 20 // GitHub caps deliveries at 25 MB
	MaxLoginBytes   = 4096
)

// Plain text response bodies
const (
	MsgRestarting       = "OK, restarting..."
	MsgNotConfigured    = "Webhook not configured"
	MsgMissingSignature = "Missing signature"
	MsgInvalidSignature = "Invalid signature"
	MsgUnauthorized     = "Unauthorized"
	MsgForbidden        = "Forbidden"
	MsgNotFound         = "Not found"
)

// HandleLoginPage serves the login page
func (s *Server) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.LoginPage.Content)
}

// HandleLogin checks the submitted password hash and issues a session
// cookie. A body that cannot be decoded counts as an empty hash.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxLoginBytes)).Decode(&req); err != nil {
		req.Hash = ""
	}

	if !session.CheckCredential(req.Hash, s.PasswordHash) {
		s.Logger.Warn("login_failed", "remote", r.RemoteAddr)
		s.respondJSON(w, http.StatusUnauthorized, map[string]bool{"ok": false})
		return
	}

	token, err := s.Auth.IssueToken()
	if err != nil {
		s.Logger.Error("Failed to issue session token", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]bool{"ok": false})
		return
	}

	http.SetCookie(w, session.NewCookie(token))
	s.Logger.Info("login_succeeded", "remote", r.RemoteAddr)
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleWebhook verifies a signed delivery and redeploys. The response is
// sent after fetch and reset finished and the restart was launched.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.Trigger.Configured() {
		s.Logger.Error("Webhook delivery received but webhook is not configured")
		s.respondText(w, http.StatusInternalServerError, MsgNotConfigured)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondText(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondText(w, http.StatusBadRequest, "Failed to read payload")
		return
	}

	startTime := time.Now()
	signature := r.Header.Get(webhook.SignatureHeader)
	err = s.Trigger.VerifyAndTrigger(r.Context(), body, signature)

	switch {
	case errors.Is(err, webhook.ErrNotConfigured):
		s.respondText(w, http.StatusInternalServerError, MsgNotConfigured)
		return
	case errors.Is(err, webhook.ErrMissingSignature):
		s.Logger.Warn("webhook_rejected", "reason", "missing signature", "remote", r.RemoteAddr)
		s.respondText(w, http.StatusUnauthorized, MsgMissingSignature)
		return
	case errors.Is(err, webhook.ErrInvalidSignature):
		s.Logger.Warn("webhook_rejected", "reason", "invalid signature", "remote", r.RemoteAddr)
		s.respondText(w, http.StatusUnauthorized, MsgInvalidSignature)
		return
	}

	// The delivery is authentic from here on
	delivery := webhook.ParseDelivery(r, body)
	duration := time.Since(startTime)

	s.recordRedeploy(r.Context(), delivery, startTime, duration, err)
	s.notifyForge(delivery, err)

	if err != nil {
		s.Logger.Error("redeploy_failed",
			"delivery", delivery.ID,
			"event", delivery.Event,
			"error", err)
		s.respondText(w, http.StatusInternalServerError, redeployFailureMessage(err))
		return
	}

	s.Logger.Info("redeploy_completed",
		"delivery", delivery.ID,
		"event", delivery.Event,
		"ref", delivery.Ref,
		"commit", delivery.Commit,
		"duration_ms", duration.Milliseconds())
	s.respondText(w, http.StatusOK, MsgRestarting)
}

// redeployFailureMessage maps a failed redeploy to its response body.
// A failed reset reports git's output; anything else reports the error.
func redeployFailureMessage(err error) string {
	var stepErr *redeploy.StepError
	if errors.As(err, &stepErr) && stepErr.Step == redeploy.StepReset {
		output := stepErr.Output
		if output == "" && stepErr.Err != nil {
			output = stepErr.Err.Error()
		}
		return "Git reset failed: " + output
	}

	var redeployErr *webhook.RedeployError
	if errors.As(err, &redeployErr) && redeployErr.Err != nil {
		return "Error: " + redeployErr.Err.Error()
	}
	return "Error: " + err.Error()
}

// recordRedeploy stores the outcome in history, if enabled
func (s *Server) recordRedeploy(ctx context.Context, d webhook.Delivery, started time.Time, duration time.Duration, redeployErr error) {
	if s.History == nil {
		return
	}

	seconds := duration.Seconds()
	record := &history.RedeployRecord{
		DeliveryID:      d.ID,
		Event:           d.Event,
		Ref:             d.Ref,
		Status:          history.StatusSuccess,
		StartedAt:       started,
		DurationSeconds: &seconds,
		CommitHash:      stringPtrOrNil(d.Commit),
	}
	if redeployErr != nil {
		record.Status = history.StatusFailed
		record.ErrorMessage = stringPtr(redeployFailureMessage(redeployErr))
	}

	if _, err := s.History.RecordRedeploy(context.WithoutCancel(ctx), record); err != nil {
		s.Logger.Error("Failed to record redeploy history", "error", err, "delivery", d.ID)
	}
}

// notifyForge posts a commit status in the background when a forge client
// is configured and the delivery names a repository and commit.
func (s *Server) notifyForge(d webhook.Delivery, redeployErr error) {
	if s.Forge == nil || d.Commit == "" {
		return
	}
	owner, repo, ok := d.OwnerRepo()
	if !ok {
		return
	}

	s.notifyWg.Add(1)
	go func() {
		defer s.notifyWg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), NotifyTimeout)
		defer cancel()

		if err := s.Forge.ReportRedeploy(ctx, owner, repo, d.Commit, redeployErr); err != nil {
			s.Logger.Warn("Failed to post commit status",
				"error", err,
				"repository", d.Repository,
				"commit", d.Commit)
			return
		}
		s.Logger.Info("commit_status_posted", "repository", d.Repository, "commit", d.Commit)
	}()
}

// HandleFiles serves listings and files to authenticated clients.
// Unauthenticated requests for the root get the login page.
func (s *Server) HandleFiles(w http.ResponseWriter, r *http.Request) {
	requestPath := r.URL.Path

	if !s.Auth.Authenticated(r) {
		if requestPath == "/" {
			s.HandleLoginPage(w, r)
			return
		}
		s.Logger.Warn("unauthorized_request", "path", requestPath, "remote", r.RemoteAddr)
		s.respondText(w, http.StatusUnauthorized, MsgUnauthorized)
		return
	}

	res, err := s.Resolver.Resolve(requestPath)
	if err != nil {
		s.Logger.Error("Failed to resolve path", "path", requestPath, "error", err)
		s.respondText(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	switch res.Kind {
	case files.KindForbidden:
		s.Logger.Warn("forbidden_path", "path", requestPath, "remote", r.RemoteAddr)
		s.respondText(w, http.StatusForbidden, MsgForbidden)
	case files.KindListing:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := files.RenderListing(w, requestPath, res.Entries); err != nil {
			s.Logger.Error("Failed to render listing", "path", requestPath, "error", err)
		}
	case files.KindFile:
		if err := files.ServeFile(w, r, res); err != nil {
			s.Logger.Warn("Failed to serve file", "path", requestPath, "error", err)
			s.respondText(w, http.StatusNotFound, MsgNotFound)
		}
	default:
		s.respondText(w, http.StatusNotFound, MsgNotFound)
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

// respondText sends a plain text response without a trailing newline
func (s *Server) respondText(w http.ResponseWriter, statusCode int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	_, _ = io.WriteString(w, msg)
}

// Helper functions
func stringPtr(s string) *string {
	return &s
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
