package tunnel

// Result is the outcome of handling a tunnel request. The transport layer
// translates results into responses; the engine never touches the wire.
type Result interface {
	isResult()
}

// Redirect sends the visitor to another URL, usually an earlier step the
// access guard picked or the next step after completion.
type Redirect struct {
	URL string
}

// NotFound signals that no step matched the requested name. Callers decide
// the terminal response; this is a routing miss, not a fault.
type NotFound struct {
	StepName string
}

// Stay keeps the visitor on the resolved step. The default step handler
// returns it; callers render the step's view themselves.
type Stay struct {
	Step Step
}

// Page is rendered output produced by a form processor or a step handler.
type Page struct {
	View   string
	Params map[string]any
	HTML   []byte
}

func (Redirect) isResult() {}
func (NotFound) isResult() {}
func (Stay) isResult()     {}
func (Page) isResult()     {}
