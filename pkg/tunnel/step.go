package tunnel

import (
	"fmt"
	"strings"
)

// Step is one stage of a tunnel. Implementations embed StepBase for the
// default behavior and override only the hooks they need; there is no
// inheritance chain beyond that single composition.
type Step interface {
	// Name is the stable identifier, unique within a tunnel definition.
	Name() string

	// Position is the 0-based ordinal assigned at registration.
	Position() int

	// SetPosition and SetManager are called once by the manager during
	// registration. They are not for general use.
	SetPosition(position int)
	SetManager(m *Manager)

	// Manager returns the owning manager, set at registration.
	Manager() *Manager

	// Init runs once at registration. Form-driven steps use it to bind
	// themselves to their form processor.
	Init() error

	// InitAsCurrentStep runs after the access guard grants the step, before
	// dispatch. Side effects only.
	InitAsCurrentStep(fl *Flow)

	// HandleRequest produces the step's result once access is granted.
	HandleRequest(fl *Flow) (Result, error)

	// RedirectToStepPosition forces an explicit guard target, overriding
	// the default evaluation. Nil means no override.
	RedirectToStepPosition(fl *Flow) *int

	// PreventAccess reports whether the guard must redirect instead of
	// serving the step.
	PreventAccess(fl *Flow) bool

	// AllowDirectAccess reports whether the step may be entered directly.
	AllowDirectAccess(fl *Flow) bool

	// IsCompleted looks up this step's flag in the traversal's completion map.
	IsCompleted(fl *Flow) bool

	// SetCompleted writes this step's completion flag and persists it.
	SetCompleted(fl *Flow, done bool) error

	// IsFirst and IsLast report boundary positions.
	IsFirst() bool
	IsLast() bool

	// TranslationDomain derives the namespaced lookup key for this step's
	// translations.
	TranslationDomain() string

	// TranslationTitle is the lookup key for the step's page title.
	TranslationTitle() string

	// View is the template path for rendering this step.
	View() string

	// ViewParams are the parameters passed to the view.
	ViewParams(fl *Flow) map[string]any
}

// translation key separators, matching the convention
// tunnels.<tunnel>.<step>::<key>.
const (
	translationPartSeparator   = "."
	translationDomainSeparator = "::"
)

// StepBase is the default Step implementation. Embed it and override
// selectively.
type StepBase struct {
	name     string
	position int
	manager  *Manager
}

// NewStepBase creates the embeddable default step with the given name.
func NewStepBase(name string) StepBase {
	return StepBase{name: name, position: -1}
}

// Name returns the step's stable identifier.
func (b *StepBase) Name() string {
	return b.name
}

// Position returns the 0-based ordinal assigned at registration.
func (b *StepBase) Position() int {
	return b.position
}

// SetPosition assigns the registration ordinal.
func (b *StepBase) SetPosition(position int) {
	b.position = position
}

// SetManager binds the owning manager. Non-owning back-reference.
func (b *StepBase) SetManager(m *Manager) {
	b.manager = m
}

// Manager returns the owning manager.
func (b *StepBase) Manager() *Manager {
	return b.manager
}

// Init is a no-op by default.
func (*StepBase) Init() error {
	return nil
}

// InitAsCurrentStep is a no-op by default.
func (*StepBase) InitAsCurrentStep(_ *Flow) {}

// HandleRequest stays on the step by default; callers render the view.
func (b *StepBase) HandleRequest(_ *Flow) (Result, error) {
	return Stay{Step: b.manager.StepByPosition(b.position)}, nil
}

// RedirectToStepPosition returns nil: no explicit guard override.
func (*StepBase) RedirectToStepPosition(_ *Flow) *int {
	return nil
}

// PreventAccess redirects whenever direct access is not allowed.
func (b *StepBase) PreventAccess(fl *Flow) bool {
	return !b.self().AllowDirectAccess(fl)
}

// AllowDirectAccess permits the first step always, and any other step when
// the immediately preceding step is completed.
func (b *StepBase) AllowDirectAccess(fl *Flow) bool {
	if b.IsFirst() {
		return true
	}
	if previous := b.manager.StepByPosition(b.position - 1); previous != nil {
		return previous.IsCompleted(fl)
	}
	return false
}

// IsCompleted looks up this step's flag in the completion map. Missing or
// malformed entries read as false.
func (b *StepBase) IsCompleted(fl *Flow) bool {
	return fl.Record().IsCompleted(b.position)
}

// SetCompleted writes this step's completion flag and persists the record.
func (b *StepBase) SetCompleted(fl *Flow, done bool) error {
	fl.Record().SetCompleted(b.position, done)
	return fl.saveRecord()
}

// IsFirst reports whether this is the step at position 0.
func (b *StepBase) IsFirst() bool {
	return b.position == 0
}

// IsLast reports whether this is the final step.
func (b *StepBase) IsLast() bool {
	return b.position == len(b.manager.Steps())-1
}

// TranslationDomain is tunnels.<tunnel>.<step>.
func (b *StepBase) TranslationDomain() string {
	return strings.Join(
		[]string{"tunnels", b.manager.Name(), b.name},
		translationPartSeparator,
	)
}

// TranslationTitle is the page title key within the step's domain.
func (b *StepBase) TranslationTitle() string {
	return b.Trans("page_title")
}

// Trans builds a fully qualified translation key within the step's domain.
func (b *StepBase) Trans(key string) string {
	return b.TranslationDomain() + translationDomainSeparator + key
}

// View is the template path tunnels/<tunnel>/<step>.
func (b *StepBase) View() string {
	return fmt.Sprintf("tunnels/%s/%s", b.manager.Name(), b.name)
}

// ViewParams passes the manager to the view by default.
func (b *StepBase) ViewParams(_ *Flow) map[string]any {
	return map[string]any{"tunnel": b.manager}
}

// self resolves the registered step so overridden methods on the embedding
// type are reached even when called through StepBase defaults.
func (b *StepBase) self() Step {
	if b.manager != nil {
		if s := b.manager.StepByPosition(b.position); s != nil {
			return s
		}
	}
	return b
}

// Verify StepBase satisfies the full contract.
var _ Step = (*StepBase)(nil)
