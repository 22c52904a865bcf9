// Package http adapts the tunnel engine to net/http: it extracts the
// engine's narrow request view from inbound requests, plumbs the cookie
// bag, and translates engine results into responses.
package http

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/txn2/tunnels/pkg/auth"
	"github.com/txn2/tunnels/pkg/browser"
	"github.com/txn2/tunnels/pkg/route"
	"github.com/txn2/tunnels/pkg/tunnel"
)

// slogKeyError is the slog attribute key for error values.
const slogKeyError = "error"

// HandlerConfig configures a tunnel HTTP handler.
type HandlerConfig struct {
	// Manager is the tunnel definition to serve. Required.
	Manager *tunnel.Manager

	// Cookies mints the per-browser bag. Required.
	Cookies *browser.CookieStore

	// Matcher maps request paths to route params. Required.
	Matcher route.Matcher

	// StepRoute and IndexRoute are the route names for step and bare
	// tunnel URLs.
	StepRoute  string
	IndexRoute string

	// Verifier resolves the current user. Optional; without it every
	// request is anonymous.
	Verifier *auth.Verifier

	// RenderStay renders a Stay result. Optional; the default writes the
	// step's view path as plain text.
	RenderStay func(w http.ResponseWriter, step tunnel.Step) error
}

// Handler serves one tunnel over HTTP.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates the HTTP adapter for a tunnel manager.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("tunnel manager is required")
	}
	if cfg.Cookies == nil {
		return nil, fmt.Errorf("cookie store is required")
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("route matcher is required")
	}
	if cfg.StepRoute == "" {
		cfg.StepRoute = "tunnel_step"
	}
	if cfg.IndexRoute == "" {
		cfg.IndexRoute = "tunnel_index"
	}
	if cfg.RenderStay == nil {
		cfg.RenderStay = renderStayDefault
	}
	return &Handler{cfg: cfg}, nil
}

// ServeHTTP routes the request through the tunnel engine.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stepName, ok := h.resolveStepName(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	bag := h.cfg.Cookies.Load(r)
	req := newRequestAccessor(r, h.userID(r))

	result, err := h.cfg.Manager.HandleRequest(r.Context(), req, bag, "http", stepName)
	if err != nil {
		slog.Error("tunnel: request failed",
			"tunnel", h.cfg.Manager.Name(),
			"step", stepName,
			slogKeyError, err,
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// The bag cookie must precede any body or status write.
	if err := bag.Write(w); err != nil {
		slog.Error("tunnel: writing bag cookie", slogKeyError, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeResult(w, r, result)
}

// resolveStepName maps the request path to a step name. Empty with ok=true
// means the bare tunnel URL (redirect to the first step).
func (h *Handler) resolveStepName(path string) (string, bool) {
	name, params, ok := h.cfg.Matcher.Match(path)
	if !ok || params["tunnel"] != h.cfg.Manager.Name() {
		return "", false
	}
	switch name {
	case h.cfg.IndexRoute:
		return "", true
	case h.cfg.StepRoute:
		return params["step"], true
	}
	return "", false
}

// userID resolves the authenticated user, or empty for anonymous.
func (h *Handler) userID(r *http.Request) string {
	if h.cfg.Verifier == nil {
		return ""
	}
	return h.cfg.Verifier.UserID(r)
}

// writeResult translates an engine result into a response.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, result tunnel.Result) {
	switch res := result.(type) {
	case tunnel.Redirect:
		http.Redirect(w, r, res.URL, http.StatusFound)
	case tunnel.NotFound:
		http.NotFound(w, r)
	case tunnel.Page:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if len(res.HTML) > 0 {
			_, _ = w.Write(res.HTML)
			return
		}
		fmt.Fprintf(w, "<!-- view: %s -->", res.View)
	case tunnel.Stay:
		if err := h.cfg.RenderStay(w, res.Step); err != nil {
			slog.Error("tunnel: rendering step", "step", res.Step.Name(), slogKeyError, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	default:
		slog.Error("tunnel: unhandled result type", "type", fmt.Sprintf("%T", result))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// renderStayDefault writes the step's view path; real deployments plug in
// their template renderer via HandlerConfig.RenderStay.
func renderStayDefault(w http.ResponseWriter, step tunnel.Step) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := fmt.Fprintln(w, step.View())
	return err
}

// requestAccessor is the engine's view of an *http.Request.
type requestAccessor struct {
	r      *http.Request
	userID string
}

func newRequestAccessor(r *http.Request, userID string) *requestAccessor {
	return &requestAccessor{r: r, userID: userID}
}

// ClientIP prefers the leftmost X-Forwarded-For hop, falling back to the
// connection's remote address.
func (a *requestAccessor) ClientIP() string {
	if fwd := a.r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(a.r.RemoteAddr)
	if err != nil {
		return a.r.RemoteAddr
	}
	return host
}

// Path returns the request path.
func (a *requestAccessor) Path() string {
	return a.r.URL.Path
}

// QueryParam returns a named query value, or empty.
func (a *requestAccessor) QueryParam(name string) string {
	return a.r.URL.Query().Get(name)
}

// UserID returns the authenticated user, or empty.
func (a *requestAccessor) UserID() string {
	return a.userID
}

// Method returns the HTTP method.
func (a *requestAccessor) Method() string {
	return a.r.Method
}

// FormValues flattens the submitted form to first values.
func (a *requestAccessor) FormValues() map[string]string {
	_ = a.r.ParseForm()
	values := make(map[string]string, len(a.r.PostForm))
	for name := range a.r.PostForm {
		values[name] = a.r.PostForm.Get(name)
	}
	return values
}

// Verify the accessor satisfies the engine contract.
var _ tunnel.Request = (*requestAccessor)(nil)
