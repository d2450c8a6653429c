package detect

import "github.com/chanaliuxing/dirtyapply/pkg/dom"

// Kind classifies a fillable field by its structural type.
type Kind string

const (
	KindText     Kind = "text"
	KindEmail    Kind = "email"
	KindTel      Kind = "tel"
	KindFile     Kind = "file"
	KindSelect   Kind = "select"
	KindTextarea Kind = "textarea"
	KindCheckbox Kind = "checkbox"
	KindRadio    Kind = "radio"
	KindDate     Kind = "date"

	// KindButton is used for synthetic descriptors targeting advance and
	// submit controls; it never appears in Detect output for fields.
	KindButton Kind = "button"
)

// FieldDescriptor describes one fillable field found in a page snapshot.
// Descriptors are created fresh on each detection pass and are immutable
// once produced for a plan.
type FieldDescriptor struct {
	Key      string      `json:"key"`
	Kind     Kind        `json:"kind"`
	Locator  dom.Locator `json:"locator"`
	Required bool        `json:"required"`
	Visible  bool        `json:"visible"`
	Label    string      `json:"label,omitempty"`
	Stage    int         `json:"stage"`
}

// ControlRole classifies a clickable wizard control.
type ControlRole string

const (
	ControlSubmit  ControlRole = "submit"
	ControlAdvance ControlRole = "advance"
)

// Control is a clickable element that drives the wizard forward: a
// next/continue button or the final submit.
type Control struct {
	Role    ControlRole `json:"role"`
	Locator dom.Locator `json:"locator"`
	Label   string      `json:"label,omitempty"`
	Stage   int         `json:"stage"`
	Visible bool        `json:"visible"`
}
