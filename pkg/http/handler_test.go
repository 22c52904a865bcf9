package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/tunnels/pkg/browser"
	"github.com/txn2/tunnels/pkg/route"
	"github.com/txn2/tunnels/pkg/session"
	"github.com/txn2/tunnels/pkg/tunnel"
)

// advanceStep completes itself and redirects onward when the request
// carries complete=1.
type advanceStep struct {
	tunnel.StepBase
}

func (s *advanceStep) HandleRequest(fl *tunnel.Flow) (tunnel.Result, error) {
	if fl.Request().QueryParam("complete") != "1" {
		return s.StepBase.HandleRequest(fl)
	}
	redirect, err := fl.RedirectToNext(true)
	if err != nil {
		return nil, err
	}
	if redirect == nil {
		return tunnel.Stay{Step: fl.CurrentStep()}, nil
	}
	return *redirect, nil
}

func newAdvanceStep(name string) *advanceStep {
	return &advanceStep{StepBase: tunnel.NewStepBase(name)}
}

type fixture struct {
	handler *Handler
	repo    *session.MemoryRepository
	client  *testClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	router := route.NewTemplateRouter()
	require.NoError(t, router.Register("tunnel_index", "/tunnels/{tunnel}"))
	require.NoError(t, router.Register("tunnel_step", "/tunnels/{tunnel}/{step}"))

	repo := session.NewMemoryRepository()
	m, err := tunnel.NewManager(tunnel.Config{
		Name:       "checkout",
		RouteName:  "tunnel_step",
		Repository: repo,
		Routes:     router,
		Matcher:    router,
	})
	require.NoError(t, err)
	require.NoError(t, m.RegisterSteps(
		newAdvanceStep("cart"),
		newAdvanceStep("billing"),
		newAdvanceStep("confirm"),
	))

	cookies, err := browser.NewCookieStore(browser.CookieStoreConfig{
		SigningKey: []byte("test-signing-key-0123456789abcdef"),
	})
	require.NoError(t, err)

	h, err := NewHandler(HandlerConfig{
		Manager: m,
		Cookies: cookies,
		Matcher: router,
	})
	require.NoError(t, err)

	return &fixture{handler: h, repo: repo, client: &testClient{}}
}

// testClient carries cookies between requests like a browser would.
type testClient struct {
	cookies []*http.Cookie
}

func (c *testClient) do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:52000"
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	for _, cookie := range rec.Result().Cookies() {
		c.set(cookie)
	}
	return rec
}

func (c *testClient) set(cookie *http.Cookie) {
	for i, existing := range c.cookies {
		if existing.Name == cookie.Name {
			c.cookies[i] = cookie
			return
		}
	}
	c.cookies = append(c.cookies, cookie)
}

func TestHandler_BareTunnelRedirectsToFirstStep(t *testing.T) {
	f := newFixture(t)

	rec := f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/tunnels/checkout/cart", rec.Header().Get("Location"))
}

func TestHandler_UnknownStepIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UnknownPathIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.client.do(t, f.handler, http.MethodGet, "/elsewhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.client.do(t, f.handler, http.MethodGet, "/tunnels/othertunnel/cart")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_FirstStepServes(t *testing.T) {
	f := newFixture(t)

	rec := f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/cart")
	assert.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "tunnels/checkout/cart")

	// The session cookie was set.
	require.NotEmpty(t, f.client.cookies)
	assert.Equal(t, browser.DefaultCookieName, f.client.cookies[0].Name)
}

func TestHandler_SkipAheadRedirectsBack(t *testing.T) {
	f := newFixture(t)

	rec := f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/confirm")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/tunnels/checkout/cart", rec.Header().Get("Location"))
}

func TestHandler_FullTraversal(t *testing.T) {
	f := newFixture(t)

	// Complete cart.
	rec := f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/cart?complete=1")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/tunnels/checkout/billing", rec.Header().Get("Location"))

	// Confirm is still fenced.
	rec = f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/confirm")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/tunnels/checkout/billing", rec.Header().Get("Location"))

	// Complete billing, then confirm serves.
	rec = f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/billing?complete=1")
	require.Equal(t, http.StatusFound, rec.Code)

	rec = f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/confirm")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_SessionSurvivesAcrossRequests(t *testing.T) {
	f := newFixture(t)

	f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/cart?complete=1")

	// A second client without the cookie starts fresh and is fenced.
	other := &testClient{}
	rec := other.do(t, f.handler, http.MethodGet, "/tunnels/checkout/billing")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/tunnels/checkout/cart", rec.Header().Get("Location"))

	// The original client keeps its progress.
	rec = f.client.do(t, f.handler, http.MethodGet, "/tunnels/checkout/billing")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestAccessor_ClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr", "10.0.0.1:52000", "", "10.0.0.1"},
		{"unparseable remote addr", "10.0.0.1", "", "10.0.0.1"},
		{"forwarded single", "127.0.0.1:80", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain", "127.0.0.1:80", "203.0.113.7, 198.51.100.2", "203.0.113.7"},
		{"forwarded with spaces", "127.0.0.1:80", " 203.0.113.7 , 198.51.100.2", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			a := newRequestAccessor(req, "")
			assert.Equal(t, tt.want, a.ClientIP())
		})
	}
}

func TestRequestAccessor_FormValues(t *testing.T) {
	form := url.Values{"card_number": {"4242"}, "expiry": {"12/30"}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	a := newRequestAccessor(req, "")
	assert.Equal(t, http.MethodPost, a.Method())
	assert.Equal(t, map[string]string{"card_number": "4242", "expiry": "12/30"}, a.FormValues())
}

func TestRequestAccessor_QueryAndUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tunnels/checkout/cart?tunnel=abc", nil)
	a := newRequestAccessor(req, "user-1")

	assert.Equal(t, "abc", a.QueryParam("tunnel"))
	assert.Equal(t, "/tunnels/checkout/cart", a.Path())
	assert.Equal(t, "user-1", a.UserID())
}
