package tunnel

// Shared fixtures for the engine tests: a fake request accessor, step
// variants exercising the override hooks, and a manager wired against the
// in-memory repository and the template router.

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/txn2/tunnels/pkg/browser"
	"github.com/txn2/tunnels/pkg/route"
	"github.com/txn2/tunnels/pkg/session"
)

const (
	testTunnelName = "checkout"
	testClientIP   = "10.0.0.1"
)

// testRequest is a canned Request accessor.
type testRequest struct {
	ip    string
	path  string
	user  string
	query map[string]string
}

func (r *testRequest) ClientIP() string { return r.ip }
func (r *testRequest) Path() string     { return r.path }
func (r *testRequest) UserID() string   { return r.user }
func (r *testRequest) QueryParam(name string) string {
	return r.query[name]
}

func newRequest() *testRequest {
	return &testRequest{ip: testClientIP, query: map[string]string{}}
}

// completingStep marks itself completed and advances when the request
// carries complete=1.
type completingStep struct {
	StepBase
}

func newCompletingStep(name string) *completingStep {
	return &completingStep{StepBase: NewStepBase(name)}
}

func (s *completingStep) HandleRequest(fl *Flow) (Result, error) {
	if fl.Request().QueryParam("complete") != "1" {
		return s.StepBase.HandleRequest(fl)
	}
	redirect, err := fl.RedirectToNext(true)
	if err != nil {
		return nil, err
	}
	if redirect == nil {
		// Last step completed: the tunnel is done, stay put.
		return Stay{Step: fl.CurrentStep()}, nil
	}
	return *redirect, nil
}

// overrideStep forces an explicit guard target.
type overrideStep struct {
	StepBase
	target int
}

func (s *overrideStep) RedirectToStepPosition(_ *Flow) *int {
	t := s.target
	return &t
}

// openStep is re-enterable from anywhere.
type openStep struct {
	StepBase
}

func (*openStep) AllowDirectAccess(_ *Flow) bool {
	return true
}

func newTestRouter(t *testing.T) *route.TemplateRouter {
	t.Helper()
	r := route.NewTemplateRouter()
	require.NoError(t, r.Register("tunnel_step", "/tunnels/{tunnel}/{step}"))
	return r
}

func newTestManager(t *testing.T, steps ...Step) (*Manager, *session.MemoryRepository) {
	t.Helper()

	repo := session.NewMemoryRepository()
	router := newTestRouter(t)

	m, err := NewManager(Config{
		Name:       testTunnelName,
		RouteName:  "tunnel_step",
		Repository: repo,
		Routes:     router,
		Matcher:    router,
	})
	require.NoError(t, err)
	require.NoError(t, m.RegisterSteps(steps...))
	return m, repo
}

func newThreeStepManager(t *testing.T) (*Manager, *session.MemoryRepository) {
	t.Helper()
	return newTestManager(t,
		newCompletingStep("cart"),
		newCompletingStep("billing"),
		newCompletingStep("confirm"),
	)
}

// handle runs one request through the manager with the given browser bag.
func handle(t *testing.T, m *Manager, bag browser.Bag, req *testRequest, stepName string) Result {
	t.Helper()
	result, err := m.HandleRequest(context.Background(), req, bag, "TunnelController", stepName)
	require.NoError(t, err)
	return result
}

// boundRecord loads the session record the bag is currently pinned to.
func boundRecord(t *testing.T, repo *session.MemoryRepository, bag browser.Bag) *session.Record {
	t.Helper()
	bucket, ok := bag.Get("tunnel-" + testTunnelName)
	require.True(t, ok, "bag has no tunnel bucket")
	id, _ := bucket[sessionIDKey].(string)
	require.NotEmpty(t, id)

	rec, err := repo.Find(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

// stepURL is the canonical URL for a step name in the test tunnel.
func stepURL(name string) string {
	return "/tunnels/" + testTunnelName + "/" + name
}
