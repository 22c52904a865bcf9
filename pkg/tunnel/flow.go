package tunnel

import (
	"context"
	"fmt"

	"github.com/txn2/tunnels/pkg/browser"
	"github.com/txn2/tunnels/pkg/session"
)

// PositionType classifies a step position relative to the current step.
type PositionType string

const (
	PositionPrevious PositionType = "previous"
	PositionCurrent  PositionType = "current"
	PositionNext     PositionType = "next"
)

// Flow is the per-request context of one tunnel traversal: the bound
// session record, the current step, and the request-scoped collaborators.
// A Flow is never shared across requests.
type Flow struct {
	manager    *Manager
	ctx        context.Context
	req        Request
	bag        browser.Bag
	controller string

	record  *session.Record
	current Step

	// pending holds a redirect parked by AdaptiveRedirectToNext, consumed
	// by the render path when the handler itself returns Stay.
	pending *Redirect
}

// Context returns the request context.
func (fl *Flow) Context() context.Context {
	return fl.ctx
}

// Request returns the request accessor.
func (fl *Flow) Request() Request {
	return fl.req
}

// Manager returns the owning manager.
func (fl *Flow) Manager() *Manager {
	return fl.manager
}

// Controller returns the controller identity given to HandleRequest.
func (fl *Flow) Controller() string {
	return fl.controller
}

// Record returns the bound session record.
func (fl *Flow) Record() *session.Record {
	return fl.record
}

// CurrentStep returns the step resolved for this request.
func (fl *Flow) CurrentStep() Step {
	return fl.current
}

// StepByOffset returns the step at current position + offset, or nil when
// out of range. Offset 0 is the current step itself.
func (fl *Flow) StepByOffset(offset int) Step {
	if fl.current == nil {
		return nil
	}
	return fl.manager.StepByPosition(fl.current.Position() + offset)
}

// StepURLForOffset builds the URL of the step at the given offset.
func (fl *Flow) StepURLForOffset(offset int) (string, error) {
	step := fl.StepByOffset(offset)
	if step == nil {
		return "", fmt.Errorf("no step at offset %d from %q", offset, fl.current.Name())
	}
	return fl.manager.StepURL(step)
}

// PositionType classifies a position against the current step.
func (fl *Flow) PositionType(position int) PositionType {
	current := fl.current.Position()
	switch {
	case position > current:
		return PositionNext
	case position < current:
		return PositionPrevious
	}
	return PositionCurrent
}

// SetSessionVariable writes a traversal variable into the session record
// and persists it.
func (fl *Flow) SetSessionVariable(name string, value any) error {
	fl.record.SetVariable(name, value)
	return fl.saveRecord()
}

// SessionVariable reads a traversal variable, or def when unset.
func (fl *Flow) SessionVariable(name string, def any) any {
	return fl.record.Variable(name, def)
}

// ClearBrowserVariables removes this tunnel's bucket from the browser bag.
// The persisted session record is untouched.
func (fl *Flow) ClearBrowserVariables() {
	fl.bag.Remove(fl.manager.bagKey())
}

// BrowserVariable reads a value from this tunnel's browser-bag bucket.
func (fl *Flow) BrowserVariable(name string, def any) any {
	bucket, ok := fl.bag.Get(fl.manager.bagKey())
	if !ok {
		return def
	}
	if v, ok := bucket[name]; ok {
		return v
	}
	return def
}

// setBrowserVariable writes a value into this tunnel's browser-bag bucket.
func (fl *Flow) setBrowserVariable(name string, value any) {
	key := fl.manager.bagKey()
	bucket, ok := fl.bag.Get(key)
	if !ok {
		bucket = make(map[string]any)
	}
	bucket[name] = value
	fl.bag.Set(key, bucket)
}

// RedirectToNext optionally marks the current step completed, then
// redirects to the following step. On the last step it returns nil: the
// end of the tunnel is not a failure.
func (fl *Flow) RedirectToNext(saveComplete bool) (*Redirect, error) {
	if saveComplete {
		if err := fl.current.SetCompleted(fl, true); err != nil {
			return nil, err
		}
	}
	if fl.current.IsLast() {
		return nil, nil //nolint:nilnil // end of tunnel: nothing to redirect to
	}
	return fl.RedirectToOffset(1)
}

// AdaptiveRedirectToNext parks the next-step redirect on the flow instead
// of returning it, so a handler that still renders output can let the
// transport pick the redirect up.
func (fl *Flow) AdaptiveRedirectToNext(saveComplete bool) error {
	redirect, err := fl.RedirectToNext(saveComplete)
	if err != nil {
		return err
	}
	fl.pending = redirect
	return nil
}

// PendingRedirect returns the redirect parked by AdaptiveRedirectToNext.
func (fl *Flow) PendingRedirect() *Redirect {
	return fl.pending
}

// RedirectToOffset redirects to the step at the given offset from the
// current one.
func (fl *Flow) RedirectToOffset(offset int) (*Redirect, error) {
	step := fl.StepByOffset(offset)
	if step == nil {
		return nil, fmt.Errorf("no step at offset %d from %q", offset, fl.current.Name())
	}
	return fl.RedirectToStep(step)
}

// RedirectToStep redirects to the given step.
func (fl *Flow) RedirectToStep(step Step) (*Redirect, error) {
	url, err := fl.manager.StepURL(step)
	if err != nil {
		return nil, err
	}
	return &Redirect{URL: url}, nil
}

// saveRecord persists the bound session record.
func (fl *Flow) saveRecord() error {
	return fl.manager.repo.Save(fl.ctx, fl.record)
}
