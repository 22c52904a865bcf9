// Package route provides named-route URL generation and reverse matching
// for tunnel steps, backed by RFC 6570 URI templates.
package route

import (
	"fmt"
	"sort"

	"github.com/yosida95/uritemplate/v3"
)

// Generator generates URLs for named routes.
type Generator interface {
	// Generate expands the named route's template with the given params.
	Generate(routeName string, params map[string]string) (string, error)
}

// Matcher reverse-matches a request path against registered routes.
type Matcher interface {
	// Match returns the route name and extracted params for the first
	// registered route whose template matches the path.
	Match(path string) (string, map[string]string, bool)
}

// TemplateRouter maps route names to URI templates. Registration happens
// at wiring time; afterwards the router is read-only and safe for
// concurrent use.
type TemplateRouter struct {
	templates map[string]*uritemplate.Template
	names     []string
}

// NewTemplateRouter creates an empty router.
func NewTemplateRouter() *TemplateRouter {
	return &TemplateRouter{templates: make(map[string]*uritemplate.Template)}
}

// Register parses and stores a template under the given route name.
func (r *TemplateRouter) Register(name, template string) error {
	tmpl, err := uritemplate.New(template)
	if err != nil {
		return fmt.Errorf("invalid template %q: %w", template, err)
	}
	if _, exists := r.templates[name]; !exists {
		r.names = append(r.names, name)
		sort.Strings(r.names)
	}
	r.templates[name] = tmpl
	return nil
}

// Generate expands the named route's template with the given params.
func (r *TemplateRouter) Generate(routeName string, params map[string]string) (string, error) {
	tmpl, ok := r.templates[routeName]
	if !ok {
		return "", fmt.Errorf("unknown route %q", routeName)
	}

	values := uritemplate.Values{}
	for name, v := range params {
		values.Set(name, uritemplate.String(v))
	}

	url, err := tmpl.Expand(values)
	if err != nil {
		return "", fmt.Errorf("expanding route %q: %w", routeName, err)
	}
	return url, nil
}

// Match returns the first registered route matching the path, in
// lexicographic route-name order for determinism.
func (r *TemplateRouter) Match(path string) (string, map[string]string, bool) {
	for _, name := range r.names {
		tmpl := r.templates[name]
		match := tmpl.Match(path)
		if match == nil {
			continue
		}

		params := make(map[string]string)
		for _, varname := range tmpl.Varnames() {
			params[varname] = match.Get(varname).String()
		}
		return name, params, true
	}
	return "", nil, false
}

// Verify interface compliance.
var (
	_ Generator = (*TemplateRouter)(nil)
	_ Matcher   = (*TemplateRouter)(nil)
)
