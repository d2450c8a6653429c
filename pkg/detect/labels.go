package detect

import (
	"strings"

	"github.com/chanaliuxing/dirtyapply/pkg/dom"
)

// scope indexes one tree scope (a document root or a shadow root), since id
// lookups do not cross those boundaries.
type scope struct {
	byID     map[string]*dom.Node
	labelFor map[string]string // target id -> label text
}

func newScope(root *dom.Node) *scope {
	sc := &scope{
		byID:     map[string]*dom.Node{},
		labelFor: map[string]string{},
	}
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n == nil || n.IsText() {
			return
		}
		if id := n.Attr("id"); id != "" {
			if _, exists := sc.byID[id]; !exists {
				sc.byID[id] = n
			}
		}
		if n.Tag == "label" {
			if target := n.Attr("for"); target != "" {
				if _, exists := sc.labelFor[target]; !exists {
					sc.labelFor[target] = n.TextContent()
				}
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return sc
}

// associateLabel applies the priority-ordered association heuristic:
// label[for] -> aria-label/aria-labelledby -> enclosing label text ->
// placeholder -> nearest preceding text -> name token humanization.
func (w *walker) associateLabel(n *dom.Node, sc *scope) string {
	if id := n.Attr("id"); id != "" {
		if text := sc.labelFor[id]; text != "" {
			return text
		}
	}
	if v := strings.TrimSpace(n.Attr("aria-label")); v != "" {
		return v
	}
	if ids := strings.Fields(n.Attr("aria-labelledby")); len(ids) > 0 {
		var parts []string
		for _, id := range ids {
			if ref := sc.byID[id]; ref != nil {
				if text := ref.TextContent(); text != "" {
					parts = append(parts, text)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Tag == "label" {
			if text := p.TextContent(); text != "" {
				return text
			}
		}
	}
	if v := strings.TrimSpace(n.Attr("placeholder")); v != "" {
		return v
	}
	if w.lastText != "" {
		return w.lastText
	}
	return humanizeToken(n.Attr("name"))
}

// humanizeToken turns "first_name" or "firstName" into "first name".
func humanizeToken(name string) string {
	if name == "" {
		return ""
	}
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.':
			sb.WriteByte(' ')
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteRune(r - 'A' + 'a')
		default:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
