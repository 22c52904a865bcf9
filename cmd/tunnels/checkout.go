package main

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/txn2/tunnels/pkg/forms"
	"github.com/txn2/tunnels/pkg/tunnel"
)

//go:embed views/*.gohtml
var viewFiles embed.FS

// loadViews parses the embedded step views, registering each under its
// view path so the form processor can look them up.
func loadViews() (*template.Template, error) {
	root := template.New("views")

	entries, err := viewFiles.ReadDir("views")
	if err != nil {
		return nil, fmt.Errorf("reading embedded views: %w", err)
	}
	for _, entry := range entries {
		content, err := viewFiles.ReadFile("views/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading view %s: %w", entry.Name(), err)
		}
		name := "tunnels/checkout/" + entry.Name()[:len(entry.Name())-len(".gohtml")]
		if _, err := root.New(name).Parse(string(content)); err != nil {
			return nil, fmt.Errorf("parsing view %s: %w", entry.Name(), err)
		}
	}
	return root, nil
}

// checkoutSteps builds the demo checkout tunnel: cart, billing, confirm.
func checkoutSteps() ([]tunnel.Step, error) {
	views, err := loadViews()
	if err != nil {
		return nil, err
	}

	cart := newCartStep(views)
	billing := newBillingStep(views)
	confirm := newConfirmStep(views)
	return []tunnel.Step{cart, billing, confirm}, nil
}

// cartStep completes on any submission.
type cartStep struct {
	tunnel.FormStep
}

func newCartStep(views *template.Template) *cartStep {
	s := &cartStep{}
	s.FormStep = tunnel.NewFormStep("cart", forms.NewProcessor(forms.Config{
		Templates: views,
	}))
	return s
}

func (s *cartStep) OnFormValid(fl *tunnel.Flow, values map[string]string) error {
	if err := fl.SetSessionVariable("quantity", values["quantity"]); err != nil {
		return err
	}
	return fl.AdaptiveRedirectToNext(true)
}

// billingStep requires payment fields before advancing.
type billingStep struct {
	tunnel.FormStep
}

func newBillingStep(views *template.Template) *billingStep {
	s := &billingStep{}
	s.FormStep = tunnel.NewFormStep("billing", forms.NewProcessor(forms.Config{
		Templates: views,
		Required:  []string{"card_number", "expiry"},
	}))
	return s
}

func (s *billingStep) OnFormValid(fl *tunnel.Flow, values map[string]string) error {
	if err := fl.SetSessionVariable("card_last4", last4(values["card_number"])); err != nil {
		return err
	}
	return fl.AdaptiveRedirectToNext(true)
}

func last4(card string) string {
	if len(card) <= 4 {
		return card
	}
	return card[len(card)-4:]
}

// confirmStep shows the order summary and marks the session complete on
// submission.
type confirmStep struct {
	tunnel.FormStep
}

func newConfirmStep(views *template.Template) *confirmStep {
	s := &confirmStep{}
	s.FormStep = tunnel.NewFormStep("confirm", forms.NewProcessor(forms.Config{
		Templates: views,
	}))
	return s
}

func (s *confirmStep) OnFormValid(fl *tunnel.Flow, _ map[string]string) error {
	return fl.AdaptiveRedirectToNext(true)
}

func (s *confirmStep) ViewParams(fl *tunnel.Flow) map[string]any {
	return map[string]any{
		"quantity":   fl.SessionVariable("quantity", "1"),
		"card_last4": fl.SessionVariable("card_last4", ""),
	}
}
