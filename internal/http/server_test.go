package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fintrack/internal/core"
	"fintrack/internal/export"
	"fintrack/internal/metrics"
	"fintrack/internal/records"
	"fintrack/internal/remote"
	"fintrack/internal/services"
	"fintrack/internal/session"
	"fintrack/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2025, 9, 10, 15, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu      sync.Mutex
	raws    []records.Raw
	saveErr error
	saved   []remote.NewRecord
}

func (f *fakeBackend) FetchRecords(context.Context, string) ([]records.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raws, nil
}

func (f *fakeBackend) SaveRecord(_ context.Context, rec remote.NewRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, rec)
	return fmt.Sprintf("srv-%d", len(f.saved)), nil
}

func (f *fakeBackend) SignIn(_ context.Context, email, password string) (core.Account, error) {
	if email != "ada@example.com" || password != "secret1" {
		return core.Account{}, remote.ErrInvalidCredentials
	}
	return core.Account{ID: "42", FullName: "Ada Lovelace", Email: email}, nil
}

func (f *fakeBackend) SignUp(_ context.Context, req remote.SignUpRequest) (core.Account, error) {
	if req.Email == "taken@example.com" {
		return core.Account{}, remote.ErrEmailTaken
	}
	return core.Account{ID: "43", FullName: req.FullName, Username: req.Username, Email: req.Email}, nil
}

type memOutbox struct{ n int }

func (o *memOutbox) EnqueueSave(_ context.Context, userID string, _ []byte) (storage.PendingSave, error) {
	o.n++
	return storage.PendingSave{ID: fmt.Sprintf("p-%d", o.n), UserID: userID, Status: storage.StatusPending}, nil
}

func sampleRaws() []records.Raw {
	return []records.Raw{
		{ID: "1", Title: "Salary", Amount: "3000", Type: records.Descriptor{Value: "income"}, Category: records.Descriptor{Value: "salary"}, CreatedAt: "2025-09-01 09:00:00"},
		{ID: "2", Title: "Lunch", Amount: "45.50", Type: records.Descriptor{Value: "expense"}, Category: records.Descriptor{Value: "food"}, CreatedAt: "2025-09-09 12:30:00"},
		{ID: "3", Title: "Bus pass", Amount: "30", Type: records.Descriptor{Value: "expense"}, Category: records.Descriptor{Value: "transportation"}, CreatedAt: "2025-09-10 08:00:00"},
		{ID: "4", Title: "Groceries", Amount: "82.25", Type: records.Descriptor{Value: "expense"}, Category: records.Descriptor{Value: "food"}, CreatedAt: "2025-08-28 18:15:00"},
	}
}

type harness struct {
	srv     *Server
	backend *fakeBackend
	store   *session.MemoryStore
}

type option func(*Deps, *services.TransactionConfig)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	backend := &fakeBackend{raws: sampleRaws()}
	store := session.NewMemoryStore()

	tokens, err := NewTokens(testSecret, time.Hour)
	require.NoError(t, err)

	txCfg := services.TransactionConfig{
		Normalizer: records.Normalizer{Location: time.UTC, Now: func() time.Time { return testNow }},
	}
	deps := Deps{
		Accounts: services.NewAccountService(backend, nil),
		Sessions: func(userID string) *session.Session {
			return session.New(store, session.WithNamespace(userID))
		},
		Tokens:       tokens,
		RateLimitRPM: 100,
		Location:     time.UTC,
	}
	for _, o := range opts {
		o(&deps, &txCfg)
	}
	deps.Transactions = services.NewTransactionService(backend, txCfg)

	srv, err := NewServer(":0", deps)
	require.NoError(t, err)
	t.Cleanup(srv.rateLimiter.stop)
	return &harness{srv: srv, backend: backend, store: store}
}

func (h *harness) do(method, target, token string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) signIn(t *testing.T) string {
	t.Helper()
	rec := h.do(http.MethodPost, "/api/signin", "", map[string]string{"email": "ada@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz_SetsSecurityHeadersAndRequestID(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	req.Header.Set("X-Request-ID", "bad id with spaces")
	rec = httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "bad id with spaces", rec.Header().Get("X-Request-ID"))
}

func TestSignInAndDashboard(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	rec := h.do(http.MethodGet, "/api/dashboard?recent=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	d := decode[dashboardDTO](t, rec)
	assert.Equal(t, int64(300000), d.Summary.IncomeCents)
	assert.Equal(t, int64(15775), d.Summary.ExpenseCents)
	assert.Equal(t, int64(284225), d.Summary.BalanceCents)
	assert.Equal(t, "2842.25", d.Summary.Balance)
	assert.Equal(t, 4, d.Count)
	require.Len(t, d.Recent, 2)
	assert.Equal(t, "Bus pass", d.Recent[0].Title)
	require.NotEmpty(t, d.Expenses)
	assert.Equal(t, "Food", d.Expenses[0].Category)
	assert.Equal(t, "127.75", d.Expenses[0].Amount)

	rec = h.do(http.MethodGet, "/api/account", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc := decode[accountDTO](t, rec)
	assert.Equal(t, "42", acc.ID)
	assert.Equal(t, "Ada Lovelace", acc.FullName)
}

func TestDashboard_BadRecent(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/dashboard?recent=lots", h.signIn(t), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = h.do(http.MethodGet, "/api/dashboard", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewTokens(strings.Repeat("x", 32), time.Hour)
	require.NoError(t, err)
	forged, _, err := other.Issue("42")
	require.NoError(t, err)
	rec = h.do(http.MethodGet, "/api/dashboard", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/signin", "", map[string]string{"email": "ada@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, remote.ErrInvalidCredentials.Error(), decode[errorResponse](t, rec).Error)

	rec = h.do(http.MethodPost, "/api/signin", "", map[string]string{"email": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSignIn_MalformedBody(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignUp(t *testing.T) {
	h := newHarness(t)
	form := map[string]string{
		"fullName": "Grace Hopper", "username": "grace", "email": "grace@example.com",
		"password": "secret1", "confirmPassword": "secret1",
	}

	rec := h.do(http.MethodPost, "/api/signup", "", form)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[authResponse](t, rec)
	assert.Equal(t, "43", out.Account.ID)

	// the new account has a session right away
	rec = h.do(http.MethodGet, "/api/account", out.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "grace", decode[accountDTO](t, rec).Username)

	form["confirmPassword"] = "other"
	rec = h.do(http.MethodPost, "/api/signup", "", form)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "confirm_password", decode[errorResponse](t, rec).Field)

	form["confirmPassword"] = "secret1"
	form["email"] = "taken@example.com"
	rec = h.do(http.MethodPost, "/api/signup", "", form)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignOutEndsSession(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	rec := h.do(http.MethodPost, "/api/signout", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// the token still verifies but the session is gone
	rec = h.do(http.MethodGet, "/api/account", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, h.store.Len())
}

func TestHistoryFilters(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	tests := []struct {
		query  string
		titles []string
	}{
		{"", []string{"Bus pass", "Lunch", "Salary", "Groceries"}},
		{"?category=food", []string{"Lunch", "Groceries"}},
		{"?type=income", []string{"Salary"}},
		{"?type=all&category=all&date=all", []string{"Bus pass", "Lunch", "Salary", "Groceries"}},
		{"?date=today", []string{"Bus pass"}},
		{"?date=month&type=expense", []string{"Bus pass", "Lunch"}},
		{"?q=LUNCH", []string{"Lunch"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := h.do(http.MethodGet, "/api/transactions"+tt.query, token, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			out := decode[historyDTO](t, rec)

			titles := make([]string, len(out.Transactions))
			for i, tx := range out.Transactions {
				titles[i] = tx.Title
			}
			assert.Equal(t, tt.titles, titles)
			assert.Equal(t, len(tt.titles), out.Matched)
			assert.Equal(t, 4, out.Total)
		})
	}
}

func TestHistory_BadFilter(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	rec := h.do(http.MethodGet, "/api/transactions?date=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "date", decode[errorResponse](t, rec).Field)

	rec = h.do(http.MethodGet, "/api/transactions?type=refund", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type", decode[errorResponse](t, rec).Field)
}

func TestAddTransaction(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	rec := h.do(http.MethodPost, "/api/transactions", token, map[string]any{
		"title": "Coffee", "amount": 3.5, "type": "expense", "category": "food", "note": "  oat  ",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[addResponse](t, rec)
	assert.False(t, out.Queued)
	assert.Equal(t, "srv-1", out.Transaction.ID)
	assert.Equal(t, int64(350), out.Transaction.AmountCents)
	assert.Equal(t, "3.50", out.Transaction.Amount)
	assert.Equal(t, "oat", out.Transaction.Note)

	require.Len(t, h.backend.saved, 1)
	assert.Equal(t, "42", h.backend.saved[0].UserID)
}

func TestAddTransaction_ExplicitDate(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	rec := h.do(http.MethodPost, "/api/transactions", token, map[string]any{
		"title": "Book", "amount": "12", "type": "expense", "category": "education", "date": "2025-09-01 10:00:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-09-01T10:00:00Z", decode[addResponse](t, rec).Transaction.Date)

	rec = h.do(http.MethodPost, "/api/transactions", token, map[string]any{
		"title": "Book", "amount": "12", "type": "expense", "category": "education", "date": "someday",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "date", decode[errorResponse](t, rec).Field)
}

func TestAddTransaction_Validation(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing title", map[string]any{"amount": "1", "type": "expense", "category": "food"}, "title"},
		{"bad amount", map[string]any{"title": "x", "amount": "abc", "type": "expense", "category": "food"}, "amount"},
		{"zero amount", map[string]any{"title": "x", "amount": 0, "type": "expense", "category": "food"}, "amount"},
		{"bad type", map[string]any{"title": "x", "amount": "1", "type": "gift", "category": "food"}, "type"},
		{"missing category", map[string]any{"title": "x", "amount": "1", "type": "income"}, "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/transactions", token, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.field, decode[errorResponse](t, rec).Field)
		})
	}
	assert.Empty(t, h.backend.saved)
}

func TestAddTransaction_Unavailable(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)
	h.backend.saveErr = remote.ErrUnavailable

	rec := h.do(http.MethodPost, "/api/transactions", token, map[string]any{
		"title": "Coffee", "amount": "3.50", "type": "expense", "category": "food",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAddTransaction_QueuedWhenOutboxConfigured(t *testing.T) {
	outbox := &memOutbox{}
	h := newHarness(t, func(_ *Deps, cfg *services.TransactionConfig) { cfg.Outbox = outbox })
	token := h.signIn(t)
	h.backend.saveErr = remote.ErrUnavailable

	rec := h.do(http.MethodPost, "/api/transactions", token, map[string]any{
		"title": "Coffee", "amount": "3.50", "type": "expense", "category": "food",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode[addResponse](t, rec)
	assert.True(t, out.Queued)
	assert.Equal(t, "p-1", out.PendingID)
	assert.Equal(t, 1, outbox.n)
}

func TestSync(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)
	h.backend.raws = append(h.backend.raws, records.Raw{ID: "5", Title: "Broken", Amount: "abc", Type: records.Descriptor{Value: "expense"}})

	rec := h.do(http.MethodPost, "/api/sync", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[syncResponse](t, rec)
	assert.Equal(t, 4, out.Count)
	assert.Equal(t, 1, out.Issues)
	assert.False(t, out.Stale)
	assert.True(t, testNow.Equal(out.FetchedAt))
}

func TestExportXLSX(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t)

	rec := h.do(http.MethodGet, "/api/export?type=expense", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.XLSXContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, export.Headers, rows[0])
	assert.Equal(t, "Bus pass", rows[1][1])
}

func TestRateLimitOnPOST(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *services.TransactionConfig) { d.RateLimitRPM = 2 })
	body := map[string]string{"email": "ada@example.com", "password": "wrong1"}

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodPost, "/api/signin", "", body)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := h.do(http.MethodPost, "/api/signin", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// reads are not limited
	rec = h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	healthy := newHarness(t, func(d *Deps, _ *services.TransactionConfig) {
		d.ReadyChecks = map[string]ReadyCheck{"db": func(context.Context) error { return nil }}
	})
	assert.Equal(t, http.StatusOK, healthy.do(http.MethodGet, "/readyz", "", nil).Code)

	failing := newHarness(t, func(d *Deps, _ *services.TransactionConfig) {
		d.ReadyChecks = map[string]ReadyCheck{"broker": func(context.Context) error { return errors.New("down") }}
	})
	rec := failing.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus("fintrack")
	require.NoError(t, collector.Register(reg))

	h := newHarness(t, func(d *Deps, _ *services.TransactionConfig) {
		d.Metrics = collector
		d.Gatherer = reg
	})
	h.do(http.MethodGet, "/healthz", "", nil)
	h.do(http.MethodGet, "/nowhere", "", nil)

	rec := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "fintrack_http_requests_total")
	assert.Contains(t, body, `route="GET /healthz"`)
	assert.Contains(t, body, `route="unmatched"`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", services.ErrValidation), http.StatusUnprocessableEntity},
		{session.ErrNotSignedIn, http.StatusUnauthorized},
		{remote.ErrInvalidCredentials, http.StatusUnauthorized},
		{remote.ErrEmailTaken, http.StatusConflict},
		{fmt.Errorf("save record: %w", remote.ErrUnavailable), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{&remote.APIError{Op: "x", StatusCode: 503}, http.StatusServiceUnavailable},
		{&remote.APIError{Op: "x", StatusCode: 400}, http.StatusBadGateway},
		{remote.ErrInvalidResponse, http.StatusBadGateway},
		{&records.ParseFailure{Field: records.FieldCreatedAt}, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
