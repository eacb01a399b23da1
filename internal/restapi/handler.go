// Package restapi implements the REST gateway the upload UI talks to.
package restapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mtiwari1/tradeflow/internal/identity"
	"github.com/mtiwari1/tradeflow/internal/intake"
	"github.com/mtiwari1/tradeflow/internal/pipeline"
	"github.com/mtiwari1/tradeflow/internal/ratelimit"
	"github.com/mtiwari1/tradeflow/internal/repository"
)

const (
	// MaxUploadBody bounds one multipart request.
	MaxUploadBody = 64 << 20

	// Parts beyond this size are buffered on disk by the multipart reader.
	multipartMemory = 8 << 20

	recentOrdersLimit = 10
)

// Sessions hands out and releases per-user pipelines.
type Sessions interface {
	For(ctx context.Context) (*pipeline.Pipeline, error)
	Release(userID string) bool
}

// QuotaReader reads a user's allowance for the dashboard.
type QuotaReader interface {
	Quota(ctx context.Context, userID string) (repository.Quota, error)
}

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Revoker ends a session at the identity provider.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// Deps are the collaborators a Handler needs. Records, Quotas, Limiter and
// Health entries are optional.
type Deps struct {
	Sessions  Sessions
	Auth      identity.Provider
	Records   repository.RecordStore
	Quotas    QuotaReader
	Limiter   *ratelimit.Limiter
	UploadDir string
	Health    map[string]Pinger
	Logger    *slog.Logger
}

// Handler holds dependencies for REST endpoints.
type Handler struct {
	Deps
}

// NewHandler creates a new REST handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{Deps: deps}
}

// RegisterRoutes attaches all REST routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /uploads", h.authenticated(h.submit))
	mux.HandleFunc("GET /uploads", h.authenticated(h.listUploads))
	mux.HandleFunc("GET /uploads/stream", h.authenticated(h.stream))
	mux.HandleFunc("DELETE /uploads/{id}", h.authenticated(h.cancel))
	mux.HandleFunc("GET /credits", h.authenticated(h.credits))
	mux.HandleFunc("GET /dashboard", h.authenticated(h.dashboard))
	mux.HandleFunc("POST /logout", h.authenticated(h.logout))
	mux.HandleFunc("GET /healthz", h.healthz)
}

// ---------- POST /uploads ----------

type submitResponse struct {
	Accepted []string             `json:"accepted"`
	Rejected []pipeline.Rejection `json:"rejected"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	p, err := h.Sessions.For(r.Context())
	if err != nil {
		h.writeError(w, logger, err)
		return
	}
	if h.Limiter != nil {
		if err := h.Limiter.Allow(p.Owner()); err != nil {
			h.writeError(w, logger, err)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		logger.Warn("multipart form error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("no files in form field \"files\""))
		return
	}

	srcs := make([]intake.Source, len(headers))
	for i, fh := range headers {
		srcs[i] = intake.Source{Name: fh.Filename, Open: func() (io.ReadCloser, error) { return fh.Open() }}
	}

	ids, rejected, err := pipeline.Ingest(r.Context(), p, h.UploadDir, srcs)
	if err != nil {
		h.writeError(w, logger, err)
		return
	}

	logger.Info("upload request handled",
		slog.String("user_id", p.Owner()),
		slog.Int("accepted", len(ids)),
		slog.Int("rejected", len(rejected)),
	)
	if rejected == nil {
		rejected = []pipeline.Rejection{}
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Accepted: ids, Rejected: rejected})
}

// ---------- GET /uploads ----------

func (h *Handler) listUploads(w http.ResponseWriter, r *http.Request) {
	p, err := h.Sessions.For(r.Context())
	if err != nil {
		h.writeError(w, requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": p.Snapshot()})
}

// ---------- DELETE /uploads/{id} ----------

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	p, err := h.Sessions.For(r.Context())
	if err != nil {
		h.writeError(w, logger, err)
		return
	}
	if err := p.Cancel(r.PathValue("id")); err != nil {
		h.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- GET /credits ----------

func (h *Handler) credits(w http.ResponseWriter, r *http.Request) {
	p, err := h.Sessions.For(r.Context())
	if err != nil {
		h.writeError(w, requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": p.Credits()})
}

// ---------- GET /dashboard ----------

type dashboardResponse struct {
	MonthlyQuota     int                      `json:"monthly_quota"`
	RemainingCredits int                      `json:"remaining_credits"`
	Stats            repository.Stats         `json:"stats"`
	RecentOrders     []repository.OrderRecord `json:"recent_orders"`
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	p, err := h.Sessions.For(r.Context())
	if err != nil {
		h.writeError(w, logger, err)
		return
	}

	resp := dashboardResponse{RemainingCredits: p.Credits(), RecentOrders: []repository.OrderRecord{}}
	if h.Quotas != nil {
		q, err := h.Quotas.Quota(r.Context(), p.Owner())
		if err != nil {
			h.writeError(w, logger, errors.Mark(err, identity.ErrUnavailable))
			return
		}
		resp.MonthlyQuota = q.MonthlyQuota
	}
	if h.Records != nil {
		if resp.Stats, err = h.Records.Stats(r.Context(), p.Owner()); err != nil {
			h.writeError(w, logger, err)
			return
		}
		recent, err := h.Records.RecentOrders(r.Context(), p.Owner(), recentOrdersLimit)
		if err != nil {
			h.writeError(w, logger, err)
			return
		}
		if recent != nil {
			resp.RecentOrders = recent
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- POST /logout ----------

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)
	sess, _ := identity.FromContext(r.Context())

	h.Sessions.Release(sess.UserID)
	if rv, ok := h.Auth.(Revoker); ok {
		if err := rv.Revoke(r.Context(), sess.Token); err != nil {
			h.writeError(w, logger, err)
			return
		}
	}
	logger.Info("session ended", slog.String("user_id", sess.UserID))
	w.WriteHeader(http.StatusNoContent)
}

// ---------- GET /healthz ----------

// healthz verifies connectivity to every backend and the local disk.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := map[string]string{"status": "ok"}
	code := http.StatusOK

	for name, p := range h.Health {
		if err := p.Ping(ctx); err != nil {
			result["status"] = "degraded"
			result[name] = "unreachable: " + err.Error()
			code = http.StatusServiceUnavailable
		} else {
			result[name] = "connected"
		}
	}

	if _, err := os.Stat(h.UploadDir); err != nil {
		result["status"] = "degraded"
		result["disk"] = "upload dir inaccessible: " + err.Error()
		code = http.StatusServiceUnavailable
	} else {
		result["disk"] = "ok"
	}

	writeJSON(w, code, result)
}

// ---------- helpers ----------

type ctxLoggerKey struct{}

// requestLogger returns the per-request logger installed by authenticated.
func requestLogger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// authenticated resolves the bearer token, attaches the session and a
// request-scoped logger, and rejects the request otherwise. Browsers cannot
// set headers on websocket upgrades, so access_token is accepted as a query
// parameter too.
func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := h.Logger.With(slog.String("request_id", uuid.New().String()))

		token, ok := identity.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			h.writeError(w, logger, errors.Wrap(identity.ErrNoSession, "missing bearer token"))
			return
		}

		sess, err := h.Auth.Authenticate(r.Context(), token)
		if err != nil {
			h.writeError(w, logger, err)
			return
		}
		sess.Token = token

		ctx := identity.WithSession(r.Context(), sess)
		ctx = context.WithValue(ctx, ctxLoggerKey{}, logger.With(slog.String("user_id", sess.UserID)))
		next(w, r.WithContext(ctx))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", slog.Int("status", code), slog.String("error", err.Error()))
	} else {
		logger.Warn("request rejected", slog.Int("status", code), slog.String("error", err.Error()))
	}
	writeJSON(w, code, errorBody(err.Error()))
}

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrUnavailable), errors.Is(err, pipeline.ErrQuotaUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
