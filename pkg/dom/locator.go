package dom

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoMatch reports that a locator no longer resolves to a live node.
	ErrNoMatch = errors.New("locator does not match any node")
)

// identifyingAttrs are the attributes recorded per hop. They are structural
// rather than semantic: enough to re-find an element, not to interpret it.
var identifyingAttrs = []string{"id", "name", "type"}

// Hop is one structural step of a locator path.
type Hop struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Index      int               `json:"index"`
	ShadowHost bool              `json:"shadow_host,omitempty"`
	Frame      bool              `json:"frame,omitempty"`
}

// Locator is a structural path from a document root to a single element.
// Index disambiguates among same-tag siblings, so a locator resolves to at
// most one node by construction.
type Locator struct {
	Hops []Hop `json:"hops"`
}

// LocatorFor builds the locator path for an element node. The node must
// belong to a linked document.
func LocatorFor(n *Node) Locator {
	var hops []Hop
	cur := n
	for cur != nil {
		if cur.Tag == ShadowRootTag {
			// The host element carries the shadow-host marker; the synthetic
			// container itself is not a hop.
			host := cur.parent
			if host == nil {
				break
			}
			hops = append(hops, hopFor(host, true, false))
			cur = host.parent
			continue
		}
		hops = append(hops, hopFor(cur, false, false))
		parent := cur.parent
		if parent == nil {
			// Possibly the root of a frame document; the iframe hop is added
			// by the caller walking the outer document (frame locators are
			// built per-document and joined by Append).
			break
		}
		cur = parent
	}
	// Reverse into root-first order.
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return Locator{Hops: hops}
}

func hopFor(n *Node, shadowHost, frame bool) Hop {
	h := Hop{Tag: n.Tag, Index: siblingIndex(n), ShadowHost: shadowHost, Frame: frame}
	for _, name := range identifyingAttrs {
		if v := n.Attr(name); v != "" {
			if h.Attributes == nil {
				h.Attributes = map[string]string{}
			}
			h.Attributes[name] = v
		}
	}
	return h
}

// siblingIndex is the node's ordinal among same-tag element siblings.
func siblingIndex(n *Node) int {
	if n.parent == nil {
		return 0
	}
	idx := 0
	for _, sib := range n.parent.Children {
		if sib == n {
			return idx
		}
		if !sib.IsText() && sib.Tag == n.Tag {
			idx++
		}
	}
	return idx
}

// Append joins an outer locator ending at an iframe element with the locator
// of a node inside the frame's document.
func (l Locator) Append(inner Locator) Locator {
	hops := make([]Hop, 0, len(l.Hops)+len(inner.Hops))
	hops = append(hops, l.Hops...)
	if len(hops) > 0 {
		hops[len(hops)-1].Frame = true
	}
	hops = append(hops, inner.Hops...)
	return Locator{Hops: hops}
}

// Resolve walks the locator from the document root. It fails closed: any hop
// that does not land on exactly the recorded tag, index, and attributes
// yields ErrNoMatch.
func (l Locator) Resolve(doc *Document) (*Node, error) {
	if doc == nil || doc.Root == nil || len(l.Hops) == 0 {
		return nil, ErrNoMatch
	}
	cur := doc.Root
	if !hopMatches(l.Hops[0], cur) {
		return nil, ErrNoMatch
	}
	i := 0
	for {
		hop := l.Hops[i]
		if hop.ShadowHost {
			if cur.ShadowRoot == nil {
				return nil, fmt.Errorf("%w: hop %d has no shadow root", ErrNoMatch, i)
			}
			cur = cur.ShadowRoot
		}
		if hop.Frame {
			if cur.FrameDoc == nil || cur.FrameDoc.Root == nil {
				return nil, fmt.Errorf("%w: hop %d has no frame document", ErrNoMatch, i)
			}
			cur = cur.FrameDoc.Root
			i++
			if i >= len(l.Hops) {
				return nil, fmt.Errorf("%w: locator ends at frame boundary", ErrNoMatch)
			}
			if !hopMatches(l.Hops[i], cur) {
				return nil, fmt.Errorf("%w: frame root mismatch at hop %d", ErrNoMatch, i)
			}
			// Re-enter the loop on the frame root hop so its own shadow or
			// frame markers are honored.
			continue
		}
		i++
		if i >= len(l.Hops) {
			return cur, nil
		}
		next := childAt(cur, l.Hops[i])
		if next == nil {
			return nil, fmt.Errorf("%w: hop %d (%s)", ErrNoMatch, i, l.Hops[i].Tag)
		}
		cur = next
	}
}

func childAt(parent *Node, hop Hop) *Node {
	idx := 0
	for _, c := range parent.Children {
		if c.IsText() || c.Tag != hop.Tag {
			continue
		}
		if idx == hop.Index {
			if !attrsMatch(hop, c) {
				return nil
			}
			return c
		}
		idx++
	}
	return nil
}

func hopMatches(hop Hop, n *Node) bool {
	return n.Tag == hop.Tag && attrsMatch(hop, n)
}

func attrsMatch(hop Hop, n *Node) bool {
	for k, v := range hop.Attributes {
		if n.Attr(k) != v {
			return false
		}
	}
	return true
}

// Equal reports structural equality of two locators.
func (l Locator) Equal(other Locator) bool {
	return l.String() == other.String()
}

// String renders a stable canonical form, usable as a map key for
// deduplication.
func (l Locator) String() string {
	parts := make([]string, 0, len(l.Hops))
	for _, h := range l.Hops {
		var sb strings.Builder
		sb.WriteString(h.Tag)
		if len(h.Attributes) > 0 {
			keys := make([]string, 0, len(h.Attributes))
			for k := range h.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, "[%s=%s]", k, h.Attributes[k])
			}
		}
		fmt.Fprintf(&sb, ":%d", h.Index)
		if h.ShadowHost {
			sb.WriteString("#shadow")
		}
		if h.Frame {
			sb.WriteString("#frame")
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, ">")
}
