// Package detect discovers fillable fields and wizard controls in a page
// snapshot. Detection is a pure read: it never mutates the snapshot and it
// never fails: an inaccessible root yields an empty result.
package detect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chanaliuxing/dirtyapply/pkg/dom"
)

var advanceLabelRe = regexp.MustCompile(`(?i)\b(next|continue|proceed|forward)\b`)
var submitLabelRe = regexp.MustCompile(`(?i)\b(submit|apply|finish|send)\b`)

// Detect traverses the snapshot, descending into shadow roots and
// same-origin iframes, and returns one descriptor per distinct fillable
// element in document order. Duplicate locators are dropped; duplicate
// semantic keys in different stages are kept as distinct descriptors.
func Detect(doc *dom.Document) []FieldDescriptor {
	w := newWalker(doc)
	if w == nil {
		return nil
	}
	w.run()
	return w.fields
}

// DetectControls returns the advance/submit controls of the snapshot in
// document order.
func DetectControls(doc *dom.Document) []Control {
	w := newWalker(doc)
	if w == nil {
		return nil
	}
	w.run()
	return w.controls
}

type walker struct {
	fields   []FieldDescriptor
	controls []Control
	visited  map[*dom.Node]struct{}
	seen     map[string]struct{} // locator strings, for dedup
	keyCount map[string]int

	// framePrefix is the chain of iframe locators from the top document down
	// to the document currently being walked.
	framePrefix []dom.Locator

	// lastText tracks the most recent visible text encountered in document
	// order, the "nearest preceding text" association fallback.
	lastText string

	doc *dom.Document
}

func newWalker(doc *dom.Document) *walker {
	if doc == nil || doc.Root == nil {
		return nil
	}
	return &walker{
		visited:  map[*dom.Node]struct{}{},
		seen:     map[string]struct{}{},
		keyCount: map[string]int{},
		doc:      doc,
	}
}

func (w *walker) run() {
	w.walkDocument(w.doc, 0)
}

// walkDocument starts a new tree scope. Frame documents inherit the stage of
// the enclosing iframe element.
func (w *walker) walkDocument(doc *dom.Document, stage int) {
	scope := newScope(doc.Root)
	w.walkNode(doc.Root, scope, stage)
}

// walkNode visits in document order: own children first, then the shadow
// tree, then a frame document. Shadow and frame boundaries are explicit
// edges; the visited set guards against re-entry through slotted content.
func (w *walker) walkNode(n *dom.Node, sc *scope, stage int) {
	if n == nil {
		return
	}
	if _, ok := w.visited[n]; ok {
		return
	}
	w.visited[n] = struct{}{}

	if n.IsText() {
		if n.Visible && n.Text != "" {
			w.lastText = n.Text
		}
		return
	}

	stage = stageOf(n, stage)

	switch n.Tag {
	case "input", "select", "textarea":
		w.emitField(n, sc, stage)
	case "button":
		w.emitControl(n, sc, stage)
	}
	if n.Tag == "input" {
		t := n.Attr("type")
		if t == "submit" || t == "button" {
			w.emitControl(n, sc, stage)
		}
	}

	for _, c := range n.Children {
		w.walkNode(c, sc, stage)
	}
	if n.ShadowRoot != nil {
		w.walkNode(n.ShadowRoot, newScope(n.ShadowRoot), stage)
	}
	if n.FrameDoc != nil && n.FrameDoc.Root != nil {
		w.framePrefix = append(w.framePrefix, dom.LocatorFor(n))
		w.walkDocument(n.FrameDoc, stage)
		w.framePrefix = w.framePrefix[:len(w.framePrefix)-1]
	}
}

func (w *walker) fullLocator(n *dom.Node) dom.Locator {
	loc := dom.LocatorFor(n)
	for i := len(w.framePrefix) - 1; i >= 0; i-- {
		loc = w.framePrefix[i].Append(loc)
	}
	return loc
}

func (w *walker) emitField(n *dom.Node, sc *scope, stage int) {
	kind, ok := kindOf(n)
	if !ok {
		return
	}
	loc := w.fullLocator(n)
	key := loc.String()
	if _, dup := w.seen[key]; dup {
		return
	}
	w.seen[key] = struct{}{}

	label := w.associateLabel(n, sc)
	fd := FieldDescriptor{
		Key:      fieldKey(n, label),
		Kind:     kind,
		Locator:  loc,
		Required: n.HasAttr("required") || n.Attr("aria-required") == "true",
		Visible:  n.Visible && !n.Disabled,
		Label:    label,
		Stage:    stage,
	}
	if fd.Key == "" {
		fd.Key = fmt.Sprintf("field_%d", len(w.fields)+1)
	}
	w.keyCount[fd.Key]++
	w.fields = append(w.fields, fd)
}

func (w *walker) emitControl(n *dom.Node, sc *scope, stage int) {
	label := n.TextContent()
	if label == "" {
		label = n.Attr("value")
	}
	if label == "" {
		label = n.Attr("aria-label")
	}

	var role ControlRole
	switch {
	case n.Attr("type") == "submit" || submitLabelRe.MatchString(label):
		role = ControlSubmit
	case advanceLabelRe.MatchString(label):
		role = ControlAdvance
	default:
		return
	}

	loc := w.fullLocator(n)
	key := loc.String()
	if _, dup := w.seen[key]; dup {
		return
	}
	w.seen[key] = struct{}{}

	w.controls = append(w.controls, Control{
		Role:    role,
		Locator: loc,
		Label:   label,
		Stage:   stage,
		Visible: n.Visible && !n.Disabled,
	})
}

// stageOf reads an explicit wizard-stage marker off the element, inheriting
// the enclosing stage when none is present.
func stageOf(n *dom.Node, inherited int) int {
	for _, attr := range []string{"data-step", "data-stage"} {
		if v := n.Attr(attr); v != "" {
			if idx, err := strconv.Atoi(v); err == nil && idx >= 0 {
				return idx
			}
		}
	}
	return inherited
}

func kindOf(n *dom.Node) (Kind, bool) {
	switch n.Tag {
	case "select":
		return KindSelect, true
	case "textarea":
		return KindTextarea, true
	case "input":
		switch n.Attr("type") {
		case "email":
			return KindEmail, true
		case "tel":
			return KindTel, true
		case "file":
			return KindFile, true
		case "checkbox":
			return KindCheckbox, true
		case "radio":
			return KindRadio, true
		case "date":
			return KindDate, true
		case "submit", "button", "reset", "image":
			return "", false
		default:
			// Unknown and hidden input types stay fillable as text; hidden
			// ones are already flagged invisible by the snapshot.
			return KindText, true
		}
	}
	return "", false
}

// fieldKey derives the stable identifier for a field: name, then id, then a
// slug of the associated label.
func fieldKey(n *dom.Node, label string) string {
	if v := normalizeKey(n.Attr("name")); v != "" {
		return v
	}
	if v := normalizeKey(n.Attr("id")); v != "" {
		return v
	}
	return normalizeKey(label)
}

var nonKeyCharRe = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonKeyCharRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
