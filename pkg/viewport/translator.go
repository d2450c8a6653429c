// Package viewport converts in-page element geometry into absolute
// pointing-device coordinates, accounting for scroll offset, window screen
// origin, and device pixel scaling.
package viewport

import (
	"context"
	"errors"
	"fmt"

	"github.com/chanaliuxing/dirtyapply/pkg/dom"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
)

// Point is a screen coordinate in device pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Scroller re-positions the page and re-captures geometry. Implemented by
// live page targets; nil disables the scroll-and-retry path.
type Scroller interface {
	ScrollIntoView(ctx context.Context, loc dom.Locator) error
	Snapshot(ctx context.Context) (*dom.Document, error)
}

// Translator resolves a locator to screen coordinates. Results are accurate
// to within 3 pixels of the element's visual center under normal (non-zoomed,
// no-pending-reflow) conditions; for a zero-scroll, DPR=1 viewport the result
// is the bounding-rectangle center exactly.
type Translator struct {
	Scroller Scroller
}

// ToScreenPoint converts the element's visual center to a screen point. If
// the element lies outside the visible viewport it issues one
// scroll-into-view and recomputes from a fresh snapshot; if the element is
// still unreachable it fails with ErrOutOfViewport.
func (t *Translator) ToScreenPoint(ctx context.Context, doc *dom.Document, loc dom.Locator) (Point, error) {
	pt, err := CenterOf(doc, loc)
	if err == nil {
		return pt, nil
	}
	if !errors.Is(err, plan.ErrOutOfViewport) || t.Scroller == nil {
		return Point{}, err
	}
	if scrollErr := t.Scroller.ScrollIntoView(ctx, loc); scrollErr != nil {
		return Point{}, fmt.Errorf("%w: scroll-into-view failed: %v", plan.ErrOutOfViewport, scrollErr)
	}
	fresh, snapErr := t.Scroller.Snapshot(ctx)
	if snapErr != nil {
		return Point{}, fmt.Errorf("re-capturing snapshot after scroll: %w", snapErr)
	}
	return CenterOf(fresh, loc)
}

// CenterOf is the pure conversion: bounding-rect center, minus scroll,
// plus window screen origin, scaled by the device pixel ratio.
func CenterOf(doc *dom.Document, loc dom.Locator) (Point, error) {
	node, err := loc.Resolve(doc)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", plan.ErrFieldUnresolved, err)
	}
	if node.Rect.Empty() {
		return Point{}, fmt.Errorf("%w: element has no layout box", plan.ErrOutOfViewport)
	}

	cx, cy := node.Rect.Center()
	clientX := cx - doc.ScrollX
	clientY := cy - doc.ScrollY

	if doc.ViewportW > 0 && doc.ViewportH > 0 {
		if clientX < 0 || clientY < 0 || clientX > doc.ViewportW || clientY > doc.ViewportH {
			return Point{}, fmt.Errorf("%w: center (%.0f, %.0f) outside %gx%g viewport",
				plan.ErrOutOfViewport, clientX, clientY, doc.ViewportW, doc.ViewportH)
		}
	}

	dpr := doc.DevicePixelRatio
	if dpr == 0 {
		dpr = 1
	}
	return Point{
		X: (clientX + doc.ScreenX) * dpr,
		Y: (clientY + doc.ScreenY) * dpr,
	}, nil
}
