package tunnel

// FormProcessor is the form/response collaborator consumed by form-driven
// steps: it either processes a submitted form or renders the step's view.
type FormProcessor interface {
	HandleStaticFormOrRender(fl *Flow, view string, params map[string]any) (Result, error)
}

// StepBinder is implemented by form processors that keep a back-reference
// to their step, set once at registration.
type StepBinder interface {
	BindStep(s Step)
}

// FormCallbacks are the hooks a form processor forwards to its step.
type FormCallbacks interface {
	// OnFormRender runs before the form is rendered.
	OnFormRender(fl *Flow)

	// OnFormValid runs after a submission passes validation.
	OnFormValid(fl *Flow, values map[string]string) error
}

// FormStep is a step whose request handling is delegated to a form
// processor. Embed it and override the form callbacks.
type FormStep struct {
	StepBase
	processor FormProcessor
}

// NewFormStep creates a form-driven step bound to the given processor.
func NewFormStep(name string, processor FormProcessor) FormStep {
	return FormStep{
		StepBase:  NewStepBase(name),
		processor: processor,
	}
}

// Processor returns the bound form processor.
func (s *FormStep) Processor() FormProcessor {
	return s.processor
}

// Init binds the processor back to this step.
func (s *FormStep) Init() error {
	if binder, ok := s.processor.(StepBinder); ok {
		binder.BindStep(s.self())
	}
	return nil
}

// HandleRequest delegates to the form processor.
func (s *FormStep) HandleRequest(fl *Flow) (Result, error) {
	return s.processor.HandleStaticFormOrRender(fl, s.self().View(), s.self().ViewParams(fl))
}

// OnFormRender is a no-op by default.
func (*FormStep) OnFormRender(_ *Flow) {}

// OnFormValid is a no-op by default.
func (*FormStep) OnFormValid(_ *Flow, _ map[string]string) error {
	return nil
}

// Verify FormStep satisfies both contracts.
var (
	_ Step          = (*FormStep)(nil)
	_ FormCallbacks = (*FormStep)(nil)
)
