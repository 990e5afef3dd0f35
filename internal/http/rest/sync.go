package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/ftpmirror/internal/logctx"
	"github.com/italolelis/ftpmirror/internal/telemetry"
	"github.com/italolelis/ftpmirror/internal/transfer"
)

// Runner triggers mirror jobs and remembers the last result.
type Runner interface {
	Trigger(ctx context.Context) (transfer.Summary, error)
	Last() (transfer.Summary, bool)
}

type errorResponse struct {
	Error string `json:"error"`
}

type SyncHandler struct {
	lifetime  context.Context
	username  string
	password  string
	runner    Runner
	telemetry *telemetry.Telemetry
}

// NewSyncHandler creates a new sync handler. Basic auth is enforced when
// username is not empty. Jobs it triggers outlive their request and are only
// cancelled when lifetime is done.
func NewSyncHandler(lifetime context.Context, username, password string, runner Runner, t *telemetry.Telemetry) *SyncHandler {
	return &SyncHandler{
		lifetime:  lifetime,
		username:  username,
		password:  password,
		runner:    runner,
		telemetry: t,
	}
}

func (h *SyncHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/sync", h.HandleSync)
	r.Get("/sync/last", h.HandleLast)

	return r
}

// HandleSync runs a mirror job and replies with its summary once it is done.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received sync request")

	// A client that hangs up must not cancel the mirror for everyone.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	stop := context.AfterFunc(h.lifetime, cancel)
	defer stop()

	summary, err := h.runner.Trigger(ctx)
	if err != nil {
		if errors.Is(err, transfer.ErrJobInProgress) {
			writeJSON(r.Context(), w, http.StatusConflict, errorResponse{Error: err.Error()})

			return
		}

		logger.Error("sync job failed", "err", err)
		h.telemetry.RecordSystemError(r.Context(), "rest", errorType(err))

		writeJSON(r.Context(), w, syncErrorStatus(err), summary)

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, summary)
}

// HandleLast returns the summary of the most recent job.
func (h *SyncHandler) HandleLast(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.runner.Last()
	if !ok {
		writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Error: "no job has run yet"})

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, summary)
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SyncHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="ftpmirror"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// syncErrorStatus maps a fatal job error to an HTTP status. Configuration
// problems are ours; everything else is the upstream server's.
func syncErrorStatus(err error) int {
	var cfgErr *transfer.ConfigurationError
	if errors.As(err, &cfgErr) {
		return http.StatusInternalServerError
	}

	return http.StatusBadGateway
}

func errorType(err error) string {
	var (
		cfgErr  *transfer.ConfigurationError
		connErr *transfer.ConnectionError
		authErr *transfer.AuthError
		listErr *transfer.ListError
	)

	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &listErr):
		return "list"
	default:
		return "unknown"
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
