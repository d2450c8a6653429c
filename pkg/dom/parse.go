package dom

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ParseHTML builds a snapshot document from static HTML. This is the offline
// harness path: fixture pages for scripted verification and tests. Shadow
// trees are recognized from declarative <template shadowrootmode> markup and
// same-origin iframes from srcdoc content; an iframe with a src on another
// origin is recorded as cross-origin and not descended into.
//
// Geometry comes from inline styles (left/top/width/height in px) when
// present; fixtures that exercise coordinate math position their elements
// absolutely.
func ParseHTML(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot HTML: %w", err)
	}
	doc := &Document{
		URL:              pageURL,
		ViewportW:        1280,
		ViewportH:        800,
		DevicePixelRatio: 1,
	}
	htmlNode := findElement(root, "html")
	if htmlNode == nil {
		return nil, fmt.Errorf("snapshot HTML has no root element")
	}
	doc.Root = convertElement(htmlNode, pageURL, true, false)
	doc.Link()
	return doc, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

var stylePxRe = regexp.MustCompile(`(left|top|width|height)\s*:\s*(-?[0-9.]+)px`)

func convertElement(src *html.Node, pageURL string, visible, disabled bool) *Node {
	attrs := map[string]string{}
	for _, a := range src.Attr {
		attrs[strings.ToLower(a.Key)] = a.Val
	}
	n := &Node{Tag: strings.ToLower(src.Data)}
	if len(attrs) > 0 {
		n.Attrs = attrs
	}

	style := attrs["style"]
	if n.HasAttr("hidden") ||
		strings.Contains(style, "display:none") || strings.Contains(style, "display: none") ||
		strings.Contains(style, "visibility:hidden") || strings.Contains(style, "visibility: hidden") ||
		(n.Tag == "input" && attrs["type"] == "hidden") {
		visible = false
	}
	if n.HasAttr("disabled") {
		disabled = true
	}
	n.Visible = visible
	n.Disabled = disabled

	for _, m := range stylePxRe.FindAllStringSubmatch(style, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch m[1] {
		case "left":
			n.Rect.X = v
		case "top":
			n.Rect.Y = v
		case "width":
			n.Rect.W = v
		case "height":
			n.Rect.H = v
		}
	}

	if n.Tag == "iframe" {
		attachFrame(n, attrs, pageURL, visible)
		return n
	}

	for c := src.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text := strings.Join(strings.Fields(c.Data), " ")
			if text != "" {
				n.Children = append(n.Children, &Node{Tag: TextTag, Text: text, Visible: visible})
			}
		case html.ElementNode:
			child := convertElement(c, pageURL, visible, disabled)
			if child.Tag == "template" && isShadowTemplate(child) {
				n.ShadowRoot = &Node{Tag: ShadowRootTag, Children: child.Children, Visible: visible}
				continue
			}
			n.Children = append(n.Children, child)
		}
	}
	return n
}

func isShadowTemplate(n *Node) bool {
	mode := n.Attr("shadowrootmode")
	if mode == "" {
		mode = n.Attr("shadowroot") // older declarative syntax
	}
	return mode == "open" || mode == "closed"
}

func attachFrame(n *Node, attrs map[string]string, pageURL string, visible bool) {
	if srcdoc := attrs["srcdoc"]; srcdoc != "" {
		frameDoc, err := ParseHTML(strings.NewReader(srcdoc), pageURL)
		if err == nil {
			if !visible {
				markInvisible(frameDoc.Root)
			}
			n.FrameDoc = frameDoc
		}
		return
	}
	if src := attrs["src"]; src != "" {
		if !sameOrigin(pageURL, src) {
			n.CrossOrigin = true
		}
	}
}

func markInvisible(n *Node) {
	if n == nil {
		return
	}
	n.Visible = false
	for _, c := range n.Children {
		markInvisible(c)
	}
	if n.ShadowRoot != nil {
		markInvisible(n.ShadowRoot)
	}
}

func sameOrigin(pageURL, frameSrc string) bool {
	fu, err := url.Parse(frameSrc)
	if err != nil {
		return false
	}
	if !fu.IsAbs() {
		return true // relative src stays on the page's origin
	}
	pu, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return fu.Scheme == pu.Scheme && fu.Host == pu.Host
}
