// Package dom models a point-in-time snapshot of a page's element tree,
// including nested shadow roots and same-origin iframe documents. Snapshots
// are produced either by the browser adapter (live capture) or by parsing
// HTML fixtures, and are read-only once linked.
package dom

import (
	"net/url"
	"strings"
)

// TextTag is the synthetic tag used for text nodes.
const TextTag = "#text"

// ShadowRootTag is the synthetic tag for the container node of a shadow tree.
const ShadowRootTag = "#shadow-root"

// Rect is an element's bounding box in CSS pixels, in document coordinates
// (independent of the current scroll position).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the visual center of the rect.
func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Document is one captured document: the top-level page or the content
// document of a same-origin iframe.
type Document struct {
	URL              string  `json:"url"`
	ScrollX          float64 `json:"scrollX"`
	ScrollY          float64 `json:"scrollY"`
	ViewportW        float64 `json:"viewportW"`
	ViewportH        float64 `json:"viewportH"`
	ScreenX          float64 `json:"screenX"`
	ScreenY          float64 `json:"screenY"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	Root             *Node   `json:"root"`
}

// Node is a single element or text node in a snapshot.
type Node struct {
	Tag         string            `json:"tag"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	Text        string            `json:"text,omitempty"`
	Children    []*Node           `json:"children,omitempty"`
	ShadowRoot  *Node             `json:"shadowRoot,omitempty"`
	FrameDoc    *Document         `json:"frameDoc,omitempty"`
	CrossOrigin bool              `json:"crossOrigin,omitempty"`
	Rect        Rect              `json:"rect"`
	Visible     bool              `json:"visible"`
	Disabled    bool              `json:"disabled,omitempty"`

	parent *Node
}

func (n *Node) Parent() *Node { return n.parent }

func (n *Node) IsText() bool { return n.Tag == TextTag }

func (n *Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

func (n *Node) HasAttr(name string) bool {
	if n.Attrs == nil {
		return false
	}
	_, ok := n.Attrs[name]
	return ok
}

// TextContent returns the concatenated, whitespace-normalized text of the
// node's own subtree. Shadow trees and frame documents are not included.
func (n *Node) TextContent() string {
	var sb strings.Builder
	var walk func(*Node)
	walk = func(cur *Node) {
		if cur.IsText() {
			sb.WriteString(cur.Text)
			sb.WriteString(" ")
			return
		}
		for _, c := range cur.Children {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Origin returns scheme://host for the document's URL, or "" if the URL is
// unparseable.
func (d *Document) Origin() string {
	u, err := url.Parse(d.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Link populates parent pointers throughout the document, descending into
// shadow roots and frame documents. Must be called once after a snapshot is
// decoded or parsed; snapshots are treated as immutable afterwards.
func (d *Document) Link() {
	if d.Root == nil {
		return
	}
	var walk func(n *Node, parent *Node)
	walk = func(n *Node, parent *Node) {
		n.parent = parent
		for _, c := range n.Children {
			walk(c, n)
		}
		if n.ShadowRoot != nil {
			walk(n.ShadowRoot, n)
		}
		if n.FrameDoc != nil {
			n.FrameDoc.Link()
		}
	}
	walk(d.Root, nil)
}
