package tunnel

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/tunnels/pkg/browser"
	"github.com/txn2/tunnels/pkg/session"
)

func TestNewManager_Validation(t *testing.T) {
	repo := session.NewMemoryRepository()
	router := newTestRouter(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{Repository: repo, Routes: router}},
		{"missing repository", Config{Name: "checkout", Routes: router}},
		{"missing routes", Config{Name: "checkout", Repository: repo}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRegisterSteps_PositionsAreContiguous(t *testing.T) {
	for _, n := range []int{1, 2, 5, 9} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			steps := make([]Step, n)
			for i := range steps {
				steps[i] = newCompletingStep(fmt.Sprintf("step-%d", i))
			}
			m, _ := newTestManager(t, steps...)

			require.Len(t, m.Steps(), n)
			for i, s := range m.Steps() {
				assert.Equal(t, i, s.Position())
				assert.Same(t, steps[i], s)
				assert.Same(t, m, s.Manager())
			}
		})
	}
}

func TestRegisterSteps_DuplicateNameRejected(t *testing.T) {
	repo := session.NewMemoryRepository()
	m, err := NewManager(Config{
		Name:       testTunnelName,
		Repository: repo,
		Routes:     newTestRouter(t),
	})
	require.NoError(t, err)

	err = m.RegisterSteps(newCompletingStep("cart"), newCompletingStep("cart"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name")
}

func TestRegisterSteps_ReplacesPreviousSet(t *testing.T) {
	m, _ := newTestManager(t, newCompletingStep("cart"), newCompletingStep("billing"))
	require.NoError(t, m.RegisterSteps(newCompletingStep("welcome")))

	assert.Len(t, m.Steps(), 1)
	assert.Nil(t, m.StepByName("cart"))
	assert.NotNil(t, m.StepByName("welcome"))
	assert.Equal(t, 0, m.StepByName("welcome").Position())
}

func TestStepLookups(t *testing.T) {
	m, _ := newThreeStepManager(t)

	assert.Equal(t, "cart", m.StepByPosition(0).Name())
	assert.Equal(t, "confirm", m.StepByPosition(2).Name())
	assert.Nil(t, m.StepByPosition(-1))
	assert.Nil(t, m.StepByPosition(3))

	assert.Equal(t, 1, m.StepByName("billing").Position())
	assert.Nil(t, m.StepByName("missing"))
}

func TestStepByRequestPath(t *testing.T) {
	m, _ := newThreeStepManager(t)

	step := m.StepByRequestPath("/tunnels/checkout/billing")
	require.NotNil(t, step)
	assert.Equal(t, "billing", step.Name())

	assert.Nil(t, m.StepByRequestPath("/tunnels/checkout/missing"))
	assert.Nil(t, m.StepByRequestPath("/tunnels/other/billing"))
	assert.Nil(t, m.StepByRequestPath("/elsewhere"))
}

func TestStepURL(t *testing.T) {
	m, _ := newThreeStepManager(t)

	url, err := m.StepURL(m.StepByName("billing"))
	require.NoError(t, err)
	assert.Equal(t, stepURL("billing"), url)

	assert.Equal(t, "tunnel_step", m.RouteName(m.StepByName("billing")))
	assert.Equal(t, map[string]string{"tunnel": "checkout", "step": "billing"},
		m.RouteParams(m.StepByName("billing")))
}

func TestHandleRequest_EmptyStepRedirectsToFirst(t *testing.T) {
	m, _ := newThreeStepManager(t)

	result := handle(t, m, browser.NewMemoryBag(), newRequest(), "")
	redirect, ok := result.(Redirect)
	require.True(t, ok, "expected Redirect, got %T", result)
	assert.Equal(t, stepURL("cart"), redirect.URL)
}

func TestHandleRequest_UnknownStepIsNotFound(t *testing.T) {
	m, _ := newThreeStepManager(t)

	result := handle(t, m, browser.NewMemoryBag(), newRequest(), "missing")
	notFound, ok := result.(NotFound)
	require.True(t, ok, "expected NotFound, got %T", result)
	assert.Equal(t, "missing", notFound.StepName)
}

func TestHandleRequest_FirstStepAlwaysGranted(t *testing.T) {
	m, repo := newThreeStepManager(t)
	bag := browser.NewMemoryBag()

	result := handle(t, m, bag, newRequest(), "cart")
	stay, ok := result.(Stay)
	require.True(t, ok, "expected Stay, got %T", result)
	assert.Equal(t, "cart", stay.Step.Name())

	rec := boundRecord(t, repo, bag)
	assert.Equal(t, 0, rec.LastStep)
}

func TestHandleRequest_SkippingAheadRedirectsToLowestIncomplete(t *testing.T) {
	m, _ := newThreeStepManager(t)
	bag := browser.NewMemoryBag()

	// Fresh session, request confirm directly: back to cart.
	result := handle(t, m, bag, newRequest(), "confirm")
	redirect, ok := result.(Redirect)
	require.True(t, ok, "expected Redirect, got %T", result)
	assert.Equal(t, stepURL("cart"), redirect.URL)
}

func TestHandleRequest_ThreeStepTraversal(t *testing.T) {
	m, _ := newThreeStepManager(t)
	bag := browser.NewMemoryBag()

	// Complete cart: redirected to billing.
	req := newRequest()
	req.query["complete"] = "1"
	result := handle(t, m, bag, req, "cart")
	require.Equal(t, Redirect{URL: stepURL("billing")}, result)

	// Confirm is still fenced off by incomplete billing.
	result = handle(t, m, bag, newRequest(), "confirm")
	require.Equal(t, Redirect{URL: stepURL("billing")}, result)

	// Complete billing: redirected to confirm.
	req = newRequest()
	req.query["complete"] = "1"
	result = handle(t, m, bag, req, "billing")
	require.Equal(t, Redirect{URL: stepURL("confirm")}, result)

	// Now confirm is granted.
	result = handle(t, m, bag, newRequest(), "confirm")
	stay, ok := result.(Stay)
	require.True(t, ok, "expected Stay, got %T", result)
	assert.Equal(t, "confirm", stay.Step.Name())
}

func TestHandleRequest_BackNavigationAlwaysAllowed(t *testing.T) {
	m, repo := newThreeStepManager(t)
	bag := browser.NewMemoryBag()

	req := newRequest()
	req.query["complete"] = "1"
	handle(t, m, bag, req, "cart")

	// Going back to billing (granted) then forward again works, and the
	// last-accessed step follows each move.
	result := handle(t, m, bag, newRequest(), "billing")
	_, ok := result.(Stay)
	require.True(t, ok)
	assert.Equal(t, 1, boundRecord(t, repo, bag).LastStep)
}

func TestHandleRequest_ReenteringFirstStepResetsCompletion(t *testing.T) {
	m, repo := newThreeStepManager(t)
	bag := browser.NewMemoryBag()

	req := newRequest()
	req.query["complete"] = "1"
	handle(t, m, bag, req, "cart")
	handle(t, m, bag, req, "billing")

	rec := boundRecord(t, repo, bag)
	require.True(t, rec.IsCompleted(0))
	require.True(t, rec.IsCompleted(1))

	// Re-enter the first step: fresh traversal attempt, same record.
	firstID := rec.ID
	handle(t, m, bag, newRequest(), "cart")

	rec = boundRecord(t, repo, bag)
	assert.Equal(t, firstID, rec.ID)
	assert.False(t, rec.IsCompleted(0))
	assert.False(t, rec.IsCompleted(1))
	assert.False(t, rec.IsCompleted(2))

	// And the tunnel is fenced again.
	result := handle(t, m, bag, newRequest(), "confirm")
	assert.Equal(t, Redirect{URL: stepURL("cart")}, result)
}

func TestHandleRequest_ExplicitOverrideWins(t *testing.T) {
	// The override step redirects to position 0 even though its guard
	// conditions would otherwise grant access.
	override := &overrideStep{StepBase: NewStepBase("billing"), target: 0}
	m, _ := newTestManager(t, newCompletingStep("cart"), override, newCompletingStep("confirm"))
	bag := browser.NewMemoryBag()

	req := newRequest()
	req.query["complete"] = "1"
	handle(t, m, bag, req, "cart")

	result := handle(t, m, bag, newRequest(), "billing")
	assert.Equal(t, Redirect{URL: stepURL("cart")}, result)
}

func TestHandleRequest_OpenStepBypassesGuard(t *testing.T) {
	open := &openStep{StepBase: NewStepBase("help")}
	m, _ := newTestManager(t, newCompletingStep("cart"), newCompletingStep("billing"), open)

	// Direct access to the open step on a fresh session is granted.
	result := handle(t, m, browser.NewMemoryBag(), newRequest(), "help")
	stay, ok := result.(Stay)
	require.True(t, ok, "expected Stay, got %T", result)
	assert.Equal(t, "help", stay.Step.Name())
}

func TestHandleRequest_GuardTargetOutOfRange(t *testing.T) {
	override := &overrideStep{StepBase: NewStepBase("billing"), target: 99}
	m, _ := newTestManager(t, newCompletingStep("cart"), override)

	_, err := m.HandleRequest(context.Background(), newRequest(), browser.NewMemoryBag(), "", "billing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestHandleRequest_NoStepsRegistered(t *testing.T) {
	repo := session.NewMemoryRepository()
	m, err := NewManager(Config{
		Name:       testTunnelName,
		Repository: repo,
		Routes:     newTestRouter(t),
	})
	require.NoError(t, err)

	_, err = m.HandleRequest(context.Background(), newRequest(), browser.NewMemoryBag(), "", "")
	assert.Error(t, err)
}
