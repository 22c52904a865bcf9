// Package forms provides the form/response collaborator consumed by
// form-driven tunnel steps: process a submitted form, or render the step's
// view, forwarding lifecycle callbacks to the bound step.
package forms

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"

	"github.com/txn2/tunnels/pkg/tunnel"
)

// FormRequest is implemented by request accessors that carry a form
// submission alongside the narrow engine contract.
type FormRequest interface {
	Method() string
	FormValues() map[string]string
}

// Config configures a Processor.
type Config struct {
	// Templates render step views by name. Optional; without templates a
	// Page result carries only the view name and params.
	Templates *template.Template

	// Required lists field names a submission must fill.
	Required []string
}

// Processor handles one step's form. It keeps a back-reference to the step
// set once at registration, mirroring the step's reference to its manager.
type Processor struct {
	templates *template.Template
	required  []string
	step      tunnel.Step
}

// NewProcessor creates a form processor.
func NewProcessor(cfg Config) *Processor {
	return &Processor{
		templates: cfg.Templates,
		required:  cfg.Required,
	}
}

// BindStep stores the owning step. Called by the step's Init hook.
func (p *Processor) BindStep(s tunnel.Step) {
	p.step = s
}

// Step returns the bound step.
func (p *Processor) Step() tunnel.Step {
	return p.step
}

// HandleStaticFormOrRender processes a POST submission or renders the view.
// A valid submission runs the step's OnFormValid hook; if that parks or
// returns a redirect, the redirect wins over rendering.
func (p *Processor) HandleStaticFormOrRender(
	fl *tunnel.Flow,
	view string,
	params map[string]any,
) (tunnel.Result, error) {
	if params == nil {
		params = make(map[string]any)
	}

	if fr, ok := fl.Request().(FormRequest); ok && fr.Method() == http.MethodPost {
		values := fr.FormValues()
		if missing := p.missingFields(values); len(missing) > 0 {
			params["errors"] = missing
		} else {
			if cb, ok := p.step.(tunnel.FormCallbacks); ok {
				if err := cb.OnFormValid(fl, values); err != nil {
					return nil, fmt.Errorf("form valid hook for step %q: %w", p.step.Name(), err)
				}
			}
			if pending := fl.PendingRedirect(); pending != nil {
				return *pending, nil
			}
		}
	}

	if cb, ok := p.step.(tunnel.FormCallbacks); ok {
		cb.OnFormRender(fl)
	}
	return p.render(view, params)
}

// missingFields returns required field names absent from the submission.
func (p *Processor) missingFields(values map[string]string) []string {
	var missing []string
	for _, name := range p.required {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// render produces the Page result, executing the view template when one is
// registered under the view name.
func (p *Processor) render(view string, params map[string]any) (tunnel.Result, error) {
	page := tunnel.Page{View: view, Params: params}

	if p.templates == nil || p.templates.Lookup(view) == nil {
		return page, nil
	}

	var buf bytes.Buffer
	if err := p.templates.ExecuteTemplate(&buf, view, params); err != nil {
		return nil, fmt.Errorf("rendering view %q: %w", view, err)
	}
	page.HTML = buf.Bytes()
	return page, nil
}

// Verify collaborator contracts.
var (
	_ tunnel.FormProcessor = (*Processor)(nil)
	_ tunnel.StepBinder    = (*Processor)(nil)
)
