// Package tunnel implements a resumable, server-side multi-step guided
// flow engine. A Manager owns one tunnel definition: a named, ordered list
// of steps a visitor traverses with forward-progress guards, persisted
// session affinity, and per-step completion tracking.
//
// The Manager itself is immutable after registration and shared across
// requests; all per-request mutable state (current step, bound session
// record, browser bag, controller identity) lives in a Flow created per
// request.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/txn2/tunnels/pkg/browser"
	"github.com/txn2/tunnels/pkg/route"
	"github.com/txn2/tunnels/pkg/session"
)

// SessionTTL is the fixed age threshold after which a session record is
// never rebound to a new request, regardless of external retention.
const SessionTTL = 24 * time.Hour

// DefaultSessionParam is the query parameter carrying a session-id hint
// when the browser bag has none, letting a link bootstrap a fresh browser.
const DefaultSessionParam = "tunnel"

// Request is the engine's view of the inbound request, kept narrow so the
// transport owns everything else.
type Request interface {
	// ClientIP is the requesting client's address.
	ClientIP() string

	// Path is the request path.
	Path() string

	// QueryParam returns a named query value, or empty.
	QueryParam(name string) string

	// UserID is the current authenticated user, or empty.
	UserID() string
}

// Config configures a Manager.
type Config struct {
	// Name identifies the tunnel definition (e.g. "checkout").
	Name string

	// RouteName is the named route used for step URLs.
	RouteName string

	// Repository persists session records.
	Repository session.Repository

	// Routes generates URLs for named routes.
	Routes route.Generator

	// Matcher reverse-matches request paths to steps. Optional.
	Matcher route.Matcher

	// SessionParam overrides the query parameter carrying the session-id
	// hint. Defaults to DefaultSessionParam.
	SessionParam string

	// Clock is swappable for tests. Defaults to time.Now.
	Clock func() time.Time
}

// Manager owns the ordered step collection of one tunnel definition and
// drives session affinity, the access guard, and step dispatch.
type Manager struct {
	name         string
	routeName    string
	repo         session.Repository
	routes       route.Generator
	matcher      route.Matcher
	sessionParam string
	now          func() time.Time

	steps  []Step
	byName map[string]Step
}

// NewManager creates a manager for one tunnel definition. RegisterSteps
// must be called before serving requests.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tunnel name is required")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("session repository is required")
	}
	if cfg.Routes == nil {
		return nil, fmt.Errorf("route generator is required")
	}
	if cfg.RouteName == "" {
		cfg.RouteName = "tunnel_step"
	}
	if cfg.SessionParam == "" {
		cfg.SessionParam = DefaultSessionParam
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Manager{
		name:         cfg.Name,
		routeName:    cfg.RouteName,
		repo:         cfg.Repository,
		routes:       cfg.Routes,
		matcher:      cfg.Matcher,
		sessionParam: cfg.SessionParam,
		now:          cfg.Clock,
		byName:       make(map[string]Step),
	}, nil
}

// Name returns the tunnel definition's name.
func (m *Manager) Name() string {
	return m.name
}

// RegisterSteps assigns 0-based positions in list order, binds each step's
// back-reference, and runs each step's one-time init hook. Re-registration
// replaces the set.
func (m *Manager) RegisterSteps(steps ...Step) error {
	m.steps = nil
	m.byName = make(map[string]Step, len(steps))

	for position, step := range steps {
		if _, dup := m.byName[step.Name()]; dup {
			return fmt.Errorf("duplicate step name %q", step.Name())
		}
		step.SetPosition(position)
		step.SetManager(m)
		m.steps = append(m.steps, step)
		m.byName[step.Name()] = step
	}

	// Init after the whole set is wired so hooks can see sibling steps.
	for _, step := range m.steps {
		if err := step.Init(); err != nil {
			return fmt.Errorf("initializing step %q: %w", step.Name(), err)
		}
	}
	return nil
}

// Steps returns the registered steps in position order.
func (m *Manager) Steps() []Step {
	return m.steps
}

// StepByPosition returns the step at the given position, or nil.
func (m *Manager) StepByPosition(position int) Step {
	if position < 0 || position >= len(m.steps) {
		return nil
	}
	return m.steps[position]
}

// StepByName returns the step with the given name, or nil.
func (m *Manager) StepByName(name string) Step {
	return m.byName[name]
}

// StepByRequestPath reverse-matches a request path to a registered step.
func (m *Manager) StepByRequestPath(path string) Step {
	if m.matcher == nil {
		return nil
	}
	name, params, ok := m.matcher.Match(path)
	if !ok || name != m.routeName || params["tunnel"] != m.name {
		return nil
	}
	return m.StepByName(params["step"])
}

// RouteName returns the named route for a step's URL.
func (m *Manager) RouteName(_ Step) string {
	return m.routeName
}

// RouteParams returns the route parameters identifying a step.
func (m *Manager) RouteParams(step Step) map[string]string {
	return map[string]string{
		"tunnel": m.name,
		"step":   step.Name(),
	}
}

// StepURL builds the URL for a step. Deterministic given a step.
func (m *Manager) StepURL(step Step) (string, error) {
	return m.routes.Generate(m.RouteName(step), m.RouteParams(step))
}

// HandleRequest resolves the session, locates the requested step, enforces
// the access guard, and dispatches. An empty step name redirects to the
// first step; an unknown one yields NotFound.
func (m *Manager) HandleRequest(
	ctx context.Context,
	req Request,
	bag browser.Bag,
	controller string,
	stepName string,
) (Result, error) {
	if stepName == "" {
		first := m.StepByPosition(0)
		if first == nil {
			return nil, fmt.Errorf("tunnel %q has no registered steps", m.name)
		}
		url, err := m.StepURL(first)
		if err != nil {
			return nil, err
		}
		return Redirect{URL: url}, nil
	}

	step := m.StepByName(stepName)
	if step == nil {
		return NotFound{StepName: stepName}, nil
	}

	fl := &Flow{
		manager:    m,
		ctx:        ctx,
		req:        req,
		bag:        bag,
		controller: controller,
	}

	if err := m.resolveSession(fl, step); err != nil {
		return nil, fmt.Errorf("resolving tunnel session: %w", err)
	}

	fl.current = step

	if redirect, err := m.guard(fl, step); err != nil {
		return nil, err
	} else if redirect != nil {
		return *redirect, nil
	}

	step.InitAsCurrentStep(fl)

	// Re-entering the first step starts a fresh traversal attempt on the
	// same record.
	if step.IsFirst() {
		fl.Record().ResetCompleted()
		if err := fl.saveRecord(); err != nil {
			return nil, err
		}
	}

	result, err := step.HandleRequest(fl)
	if err != nil {
		return nil, err
	}

	// A handler may park a redirect on the flow instead of returning one.
	if _, stayed := result.(Stay); stayed {
		if pending := fl.PendingRedirect(); pending != nil {
			return *pending, nil
		}
	}
	return result, nil
}

// guard evaluates the access policy for the requested step. A non-nil
// redirect means the step must not be served.
func (m *Manager) guard(fl *Flow, step Step) (*Redirect, error) {
	target := step.RedirectToStepPosition(fl)

	// The step asked no explicit redirect; apply the default policy.
	if target == nil && step.PreventAccess(fl) {
		position := -1
		for _, s := range m.steps {
			if s.Position() >= step.Position() {
				break
			}
			if !s.IsCompleted(fl) {
				position = s.Position()
				break
			}
		}
		if position < 0 {
			// No incomplete prior step found despite the refusal: go back
			// to the tunnel start.
			position = 0
		}
		target = &position
	}

	if target == nil {
		return nil, nil
	}

	dest := m.StepByPosition(*target)
	if dest == nil {
		return nil, fmt.Errorf("guard target position %d out of range", *target)
	}

	slog.Debug("tunnel: access denied",
		"tunnel", m.name,
		"step", step.Name(),
		"redirect_to", dest.Name(),
	)

	url, err := m.StepURL(dest)
	if err != nil {
		return nil, err
	}
	return &Redirect{URL: url}, nil
}

// bagKey is the browser-bag bucket for this tunnel definition.
func (m *Manager) bagKey() string {
	return "tunnel-" + m.name
}
