package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradedash/internal/dashboard"
	"github.com/betbot/tradedash/internal/domain"
	"github.com/betbot/tradedash/internal/stream"
	"github.com/betbot/tradedash/internal/tape"
)

type fakeBackend struct {
	state     dashboard.State
	loginErr  error
	submitErr error
	submitted []domain.OrderIntent
	logouts   int
	armed     bool
	tapeRows  []tape.QuoteRow
	tapeErr   error
	tapeQuery domain.Symbol
	tapeLimit int
	dismissed int
	snaps     []tape.OrderSnapshot
}

func (f *fakeBackend) State() dashboard.State { return f.state }

func (f *fakeBackend) Login(ctx context.Context, email, password string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.state.Session = domain.SessionAuthenticated
	f.state.User = &domain.Session{Email: email, DisplayName: "Test"}
	return nil
}

func (f *fakeBackend) Signup(ctx context.Context, req domain.SignupRequest) error {
	return f.Login(ctx, req.Email, req.Password)
}

func (f *fakeBackend) Logout() {
	f.logouts++
	f.state = dashboard.State{Session: domain.SessionAnonymous}
}

func (f *fakeBackend) Submit(ctx context.Context, intent domain.OrderIntent) (domain.Order, error) {
	f.submitted = append(f.submitted, intent)
	if f.submitErr != nil {
		return domain.Order{}, f.submitErr
	}
	return domain.Order{ID: "o1", Symbol: intent.Symbol, Side: intent.Side, Quantity: intent.Quantity, Price: intent.Price}, nil
}

func (f *fakeBackend) RefreshOrders(ctx context.Context) error { return nil }

func (f *fakeBackend) ReconnectStream() error {
	if !f.armed {
		return stream.ErrNotArmed
	}
	return nil
}

func (f *fakeBackend) DismissNotification() { f.dismissed++ }

func (f *fakeBackend) RecentOrderSnapshots(ctx context.Context, n int) ([]tape.OrderSnapshot, error) {
	f.tapeLimit = n
	return f.snaps, f.tapeErr
}

func (f *fakeBackend) RecentQuotes(ctx context.Context, symbol domain.Symbol, n int) ([]tape.QuoteRow, error) {
	f.tapeQuery, f.tapeLimit = symbol, n
	return f.tapeRows, f.tapeErr
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthz(t *testing.T) {
	h := New(Config{}, &fakeBackend{}).Router()
	rec, _ := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginAndState(t *testing.T) {
	fb := &fakeBackend{state: dashboard.State{Session: domain.SessionAnonymous}}
	h := New(Config{}, fb).Router()

	rec, body := do(t, h, http.MethodPost, "/api/session/login", `{"email":" a@b.com ","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "authenticated", body["session"])
	assert.Equal(t, "a@b.com", fb.state.User.Email)

	rec, body = do(t, h, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "a@b.com", user["email"])
	_, leaked := user["Credential"]
	assert.False(t, leaked)
}

func TestLogin_Rejected(t *testing.T) {
	fb := &fakeBackend{loginErr: &domain.AuthError{Message: "Invalid credentials"}}
	h := New(Config{}, fb).Router()

	rec, body := do(t, h, http.MethodPost, "/api/session/login", `{"email":"a@b.com","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", body["error"])
}

func TestLogin_BadJSON(t *testing.T) {
	h := New(Config{}, &fakeBackend{}).Router()
	rec, _ := do(t, h, http.MethodPost, "/api/session/login", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	fb := &fakeBackend{state: dashboard.State{Session: domain.SessionAuthenticated}}
	h := New(Config{}, fb).Router()
	rec, body := do(t, h, http.MethodPost, "/api/session/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", body["session"])
	assert.Equal(t, 1, fb.logouts)
}

func TestSubmitOrder(t *testing.T) {
	fb := &fakeBackend{}
	h := New(Config{}, fb).Router()

	rec, body := do(t, h, http.MethodPost, "/api/orders", `{"symbol":"AAPL","side":"BUY","quantity":2,"price":178.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, fb.submitted, 1)
	assert.True(t, fb.submitted[0].Price.Equal(decimal.RequireFromString("178.5")))
	assert.Equal(t, "o1", body["order"].(map[string]any)["id"])
}

func TestSubmitOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", &domain.ValidationError{Field: "quantity", Message: "Please enter a valid quantity"}, http.StatusBadRequest, "Please enter a valid quantity"},
		{"server rejection", &domain.ServerError{Status: 400, Message: "insufficient holdings"}, http.StatusUnprocessableEntity, "insufficient holdings"},
		{"no session", domain.ErrNoSession, http.StatusUnauthorized, domain.ErrNoSession.Error()},
		{"network", &domain.NetworkError{Op: "create order", Err: errors.New("refused")}, http.StatusBadGateway, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(Config{}, &fakeBackend{submitErr: tc.err}).Router()
			rec, body := do(t, h, http.MethodPost, "/api/orders", `{"symbol":"TSLA","side":"SELL","quantity":3,"price":250}`)
			assert.Equal(t, tc.status, rec.Code)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, body["error"])
			}
		})
	}
}

func TestReconnect(t *testing.T) {
	fb := &fakeBackend{}
	h := New(Config{}, fb).Router()

	rec, _ := do(t, h, http.MethodPost, "/api/stream/reconnect", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	fb.armed = true
	rec, _ = do(t, h, http.MethodPost, "/api/stream/reconnect", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTape(t *testing.T) {
	fb := &fakeBackend{tapeRows: []tape.QuoteRow{{Symbol: "AAPL", Price: decimal.NewFromInt(178), Direction: domain.DirectionUp}}}
	h := New(Config{}, fb).Router()

	rec, body := do(t, h, http.MethodGet, "/api/tape/quotes/aapl?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Symbol("AAPL"), fb.tapeQuery)
	assert.Equal(t, 5, fb.tapeLimit)
	assert.Len(t, body["quotes"], 1)

	fb.tapeErr = dashboard.ErrTapeDisabled
	rec, _ = do(t, h, http.MethodGet, "/api/tape/quotes/AAPL", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTapeOrders(t *testing.T) {
	fb := &fakeBackend{snaps: []tape.OrderSnapshot{{Orders: []domain.Order{{ID: "o1"}}}}}
	h := New(Config{}, fb).Router()

	rec, body := do(t, h, http.MethodGet, "/api/tape/orders?limit=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, fb.tapeLimit)
	assert.Len(t, body["snapshots"], 1)
}

func TestDismissNotification(t *testing.T) {
	fb := &fakeBackend{}
	h := New(Config{}, fb).Router()
	rec, _ := do(t, h, http.MethodPost, "/api/notification/dismiss", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, fb.dismissed)
}

func TestStartAndShutdown(t *testing.T) {
	s := New(Config{Listen: "127.0.0.1:0"}, &fakeBackend{})
	addr, err := s.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}
