package strategy

import (
	"strings"
	"sync"

	"github.com/chanaliuxing/dirtyapply/pkg/dom"
)

// Harness is a deterministic offline Target over a parsed document. It backs
// scripted-verify execution and tests: mutations apply to the in-memory tree
// and are observable through fresh snapshots.
type Harness struct {
	mu  sync.Mutex
	doc *dom.Document
	url string

	// OnSet, when non-nil, observes every applied mutation. Tests use it to
	// simulate page reactions such as a post-submit navigation.
	OnSet func(loc dom.Locator, value string)
}

func NewHarness(doc *dom.Document) *Harness {
	return &Harness{doc: doc, url: doc.URL}
}

func (h *Harness) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

// SetURL simulates a navigation.
func (h *Harness) SetURL(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.url = url
}

func (h *Harness) Snapshot() (*dom.Document, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc, nil
}

func (h *Harness) SetValue(l dom.Locator, value string) error {
	h.mu.Lock()
	node, err := l.Resolve(h.doc)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if node.Attrs == nil {
		node.Attrs = map[string]string{}
	}
	if node.Attr("type") == "checkbox" || node.Attr("type") == "radio" {
		node.Attrs["checked"] = value
	} else {
		node.Attrs["value"] = value
	}
	onSet := h.OnSet
	h.mu.Unlock()

	if onSet != nil {
		onSet(l, value)
	}
	return nil
}

// SetFiles simulates attaching files to a file input: the paths land in the
// value attribute, observable through fresh snapshots like any mutation.
func (h *Harness) SetFiles(l dom.Locator, paths []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, err := l.Resolve(h.doc)
	if err != nil {
		return err
	}
	if node.Attrs == nil {
		node.Attrs = map[string]string{}
	}
	node.Attrs["value"] = strings.Join(paths, ";")
	return nil
}

func (h *Harness) ScrollIntoView(l dom.Locator) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, err := l.Resolve(h.doc)
	if err != nil {
		return err
	}
	cx, cy := node.Rect.Center()
	h.doc.ScrollX = cx - h.doc.ViewportW/2
	h.doc.ScrollY = cy - h.doc.ViewportH/2
	if h.doc.ScrollX < 0 {
		h.doc.ScrollX = 0
	}
	if h.doc.ScrollY < 0 {
		h.doc.ScrollY = 0
	}
	return nil
}
