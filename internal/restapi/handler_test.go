package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/tradeflow/internal/credit"
	"github.com/mtiwari1/tradeflow/internal/extract"
	"github.com/mtiwari1/tradeflow/internal/identity"
	"github.com/mtiwari1/tradeflow/internal/intake"
	"github.com/mtiwari1/tradeflow/internal/pipeline"
	"github.com/mtiwari1/tradeflow/internal/ratelimit"
	"github.com/mtiwari1/tradeflow/internal/repository"
	"github.com/mtiwari1/tradeflow/internal/worker"
)

type fakeAuth struct {
	mu       sync.Mutex
	sessions map[string]identity.Session
	revoked  []string
}

func (f *fakeAuth) Authenticate(ctx context.Context, token string) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok {
		return identity.Session{}, errors.Wrap(identity.ErrNoSession, "unknown token")
	}
	return s, nil
}

func (f *fakeAuth) Revoke(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	delete(f.sessions, token)
	return nil
}

type fakeRepo struct {
	mu       sync.Mutex
	quotaErr error
}

func (f *fakeRepo) setQuotaErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotaErr = err
}

func (f *fakeRepo) RemainingCredits(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return 5, f.quotaErr
}

func (f *fakeRepo) Quota(ctx context.Context, userID string) (repository.Quota, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return repository.Quota{MonthlyQuota: 20, RemainingCredits: 5}, f.quotaErr
}

func (f *fakeRepo) SaveOrder(ctx context.Context, rec *repository.OrderRecord) error { return nil }

func (f *fakeRepo) RecentOrders(ctx context.Context, userID string, limit int) ([]repository.OrderRecord, error) {
	return []repository.OrderRecord{{ID: "old-1", FileName: "march.pdf", Status: repository.StatusCompleted, PONumber: "PO-2024-001"}}, nil
}

func (f *fakeRepo) Stats(ctx context.Context, userID string) (repository.Stats, error) {
	return repository.Stats{Total: 4, Completed: 3, Failed: 1, SuccessRate: 75}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type env struct {
	srv   *httptest.Server
	sched *pipeline.ManualScheduler
	reg   *pipeline.Registry
	auth  *fakeAuth
	repo  *fakeRepo
	dir   string
}

func newEnv(t *testing.T, limit int, health map[string]Pinger) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ext := extract.Func(func(ctx context.Context, f intake.FileRef) (extract.PurchaseOrder, error) {
		return extract.PurchaseOrder{PONumber: "PO-42", VendorName: "Acme", TotalAmount: 99, LineItemCount: 1}, nil
	})
	pool := worker.NewPool(2, ext, logger)
	pool.Start()

	e := &env{
		sched: pipeline.NewManualScheduler(),
		auth:  &fakeAuth{sessions: map[string]identity.Session{"tok": {UserID: "alice"}}},
		repo:  &fakeRepo{},
		dir:   t.TempDir(),
	}
	reg, err := pipeline.NewRegistry(pool, pipeline.Options{
		Config:    pipeline.DefaultConfig(),
		Overdraft: credit.OverdraftClamp,
		Scheduler: e.sched,
		Quotas:    e.repo,
		Logger:    logger,
	})
	require.NoError(t, err)
	reg.Start()
	t.Cleanup(reg.Shutdown)
	e.reg = reg

	limiter := ratelimit.New(limit)
	t.Cleanup(limiter.Stop)

	h := NewHandler(Deps{
		Sessions:  reg,
		Auth:      e.auth,
		Records:   e.repo,
		Quotas:    e.repo,
		Limiter:   limiter,
		UploadDir: e.dir,
		Health:    health,
		Logger:    logger,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	return e
}

type part struct{ name, body string }

func (e *env) upload(t *testing.T, token string, parts ...part) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile("files", p.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/uploads", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (e *env) do(t *testing.T, method, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type uploadResult struct {
	Accepted []string `json:"accepted"`
	Rejected []struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	} `json:"rejected"`
}

type listResult struct {
	Items []pipeline.UploadItem `json:"items"`
}

func TestUploadListCancel(t *testing.T) {
	e := newEnv(t, 0, nil)

	resp := e.upload(t, "tok",
		part{"po.txt", "PO Number: PO-42\nVendor: Acme\n"},
		part{"scan.png", "\x89PNG\r\n\x1a\n0000"},
	)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	up := decode[uploadResult](t, resp)
	require.Len(t, up.Accepted, 1)
	require.Len(t, up.Rejected, 1)
	assert.Equal(t, "scan.png", up.Rejected[0].Name)
	assert.Contains(t, up.Rejected[0].Reason, "unsupported file type")

	list := decode[listResult](t, e.do(t, http.MethodGet, "/uploads", "tok"))
	require.Len(t, list.Items, 1)
	assert.Equal(t, up.Accepted[0], list.Items[0].ID)
	assert.Equal(t, pipeline.StateUploading, list.Items[0].State)
	assert.Zero(t, list.Items[0].Progress)

	resp = e.do(t, http.MethodDelete, "/uploads/"+up.Accepted[0], "tok")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/uploads/"+up.Accepted[0], "tok")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	list = decode[listResult](t, e.do(t, http.MethodGet, "/uploads", "tok"))
	assert.Empty(t, list.Items)
}

func TestUploadCompletesAndDebits(t *testing.T) {
	e := newEnv(t, 0, nil)

	up := decode[uploadResult](t, e.upload(t, "tok", part{"po.txt", "PO Number: PO-42\n"}))
	require.Len(t, up.Accepted, 1)

	e.sched.Advance(time.Minute)
	p, err := e.reg.For(identity.WithSession(context.Background(), identity.Session{UserID: "alice"}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		items := p.Snapshot()
		return len(items) == 1 && items[0].State == pipeline.StateCompleted
	}, 5*time.Second, 5*time.Millisecond)

	list := decode[listResult](t, e.do(t, http.MethodGet, "/uploads", "tok"))
	require.Len(t, list.Items, 1)
	require.NotNil(t, list.Items[0].Result)
	assert.Equal(t, "PO-42", list.Items[0].Result.PONumber)

	credits := decode[map[string]int](t, e.do(t, http.MethodGet, "/credits", "tok"))
	assert.Equal(t, 4, credits["remaining"])
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	e := newEnv(t, 0, nil)

	big := "PO Number: PO-1\n" + strings.Repeat("x", 15<<20)
	resp := e.upload(t, "tok", part{"big.txt", big})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	up := decode[uploadResult](t, resp)
	assert.Empty(t, up.Accepted)
	require.Len(t, up.Rejected, 1)
	assert.Contains(t, up.Rejected[0].Reason, "file too large")

	list := decode[listResult](t, e.do(t, http.MethodGet, "/uploads", "tok"))
	assert.Empty(t, list.Items)
}

func TestUploadErrors(t *testing.T) {
	e := newEnv(t, 1, nil)

	resp := e.upload(t, "", part{"po.txt", "x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.upload(t, "wrong", part{"po.txt", "x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// No file parts at all.
	resp = e.upload(t, "tok")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.upload(t, "tok", part{"po.txt", "PO Number: PO-42\n"})
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestQuotaUnavailable(t *testing.T) {
	e := newEnv(t, 0, nil)
	e.repo.setQuotaErr(errors.New("connection refused"))

	resp := e.do(t, http.MethodGet, "/credits", "tok")
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDashboard(t *testing.T) {
	e := newEnv(t, 0, nil)

	resp := e.do(t, http.MethodGet, "/dashboard", "tok")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[dashboardResponse](t, resp)
	assert.Equal(t, 20, d.MonthlyQuota)
	assert.Equal(t, 5, d.RemainingCredits)
	assert.Equal(t, 75, d.Stats.SuccessRate)
	require.Len(t, d.RecentOrders, 1)
	assert.Equal(t, "PO-2024-001", d.RecentOrders[0].PONumber)
}

func TestLogoutReleasesSession(t *testing.T) {
	e := newEnv(t, 0, nil)

	up := decode[uploadResult](t, e.upload(t, "tok", part{"po.txt", "PO Number: PO-42\n"}))
	require.Len(t, up.Accepted, 1)
	assert.Equal(t, 1, e.reg.Sessions())

	resp := e.do(t, http.MethodPost, "/logout", "tok")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, e.reg.Sessions())
	e.auth.mu.Lock()
	assert.Equal(t, []string{"tok"}, e.auth.revoked)
	e.auth.mu.Unlock()

	resp = e.do(t, http.MethodGet, "/uploads", "tok")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, 0, map[string]Pinger{
		"database": pingFunc(func(ctx context.Context) error { return nil }),
		"redis":    pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})

	resp := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.Contains(t, body["redis"], "connection refused")
	assert.Equal(t, "ok", body["disk"])
}

func TestStream(t *testing.T) {
	e := newEnv(t, 0, nil)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/uploads/stream?access_token=tok"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Empty(t, msg.Items)

	up := decode[uploadResult](t, e.upload(t, "tok", part{"po.txt", "PO Number: PO-42\n"}))
	require.Len(t, up.Accepted, 1)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "updated", msg.Type)
	require.NotNil(t, msg.Item)
	assert.Equal(t, up.Accepted[0], msg.Item.ID)
	assert.Equal(t, pipeline.StateUploading, msg.Item.State)

	e.sched.Advance(200 * time.Millisecond)
	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, 10, msg.Item.Progress)

	require.NoError(t, e.do(t, http.MethodDelete, "/uploads/"+up.Accepted[0], "tok").Body.Close())
	msg = streamMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "removed", msg.Type)

	// Ending the session closes the stream.
	e.reg.Release("alice")
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
