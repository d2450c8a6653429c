// Package browser adapts playwright-go to the engine: live snapshot capture,
// structural value mutation, and the physical input driver used by the
// companion service.
package browser

import (
	"encoding/json"
	"fmt"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/chanaliuxing/dirtyapply/pkg/dom"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

const defaultNavigationTimeoutMs = 30000

type LaunchOptions struct {
	Headless bool
}

// Session owns one browser page for the lifetime of a run.
type Session struct {
	pw      *pw.Playwright
	browser pw.Browser
	page    pw.Page
	logger  types.Logger
}

func Launch(opts LaunchOptions, logger types.Logger) (*Session, error) {
	runner, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}
	browser, err := runner.Chromium.Launch(pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(opts.Headless),
	})
	if err != nil {
		_ = runner.Stop()
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	page, err := browser.NewPage()
	if err != nil {
		_ = browser.Close()
		_ = runner.Stop()
		return nil, fmt.Errorf("creating page: %w", err)
	}
	logger.Info().Bool("headless", opts.Headless).Msg("Browser session started")
	return &Session{pw: runner, browser: browser, page: page, logger: logger}, nil
}

func (s *Session) Goto(url string) error {
	s.logger.Info().Str("url", url).Msg("Navigating")
	if _, err := s.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateNetworkidle,
		Timeout:   pw.Float(defaultNavigationTimeoutMs),
	}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *Session) URL() string {
	return s.page.URL()
}

// Snapshot serializes the live page tree, including open shadow roots and
// same-origin iframe documents, into the engine's document model.
func (s *Session) Snapshot() (*dom.Document, error) {
	raw, err := s.page.Evaluate(snapshotScript)
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	doc, err := dom.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return doc, nil
}

// SetValue resolves a locator in the live page, sets the element's value, and
// dispatches input, change, and blur events so framework listeners observe
// the mutation.
func (s *Session) SetValue(l dom.Locator, value string) error {
	hops, err := json.Marshal(l.Hops)
	if err != nil {
		return fmt.Errorf("encoding locator: %w", err)
	}
	raw, err := s.page.Evaluate(setValueScript, map[string]any{
		"hops":  json.RawMessage(hops),
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("setting value: %w", err)
	}
	return checkResolveResult(raw, l)
}

// SetFiles resolves a locator to a file input and binds local files to it
// through the browser's native attachment path. Script writes to a file
// input's value are refused by browsers; this is the structural equivalent.
func (s *Session) SetFiles(l dom.Locator, paths []string) error {
	hops, err := json.Marshal(l.Hops)
	if err != nil {
		return fmt.Errorf("encoding locator: %w", err)
	}
	handle, err := s.page.EvaluateHandle(resolveElementScript, map[string]any{
		"hops": json.RawMessage(hops),
	})
	if err != nil {
		return fmt.Errorf("resolving file input: %w", err)
	}
	el := handle.AsElement()
	if el == nil {
		return fmt.Errorf("locator %s did not resolve to an element", l.String())
	}
	if err := el.SetInputFiles(paths); err != nil {
		return fmt.Errorf("attaching files: %w", err)
	}
	return nil
}

// ScrollIntoView resolves a locator and scrolls its element to the viewport
// center.
func (s *Session) ScrollIntoView(l dom.Locator) error {
	hops, err := json.Marshal(l.Hops)
	if err != nil {
		return fmt.Errorf("encoding locator: %w", err)
	}
	raw, err := s.page.Evaluate(scrollIntoViewScript, map[string]any{
		"hops": json.RawMessage(hops),
	})
	if err != nil {
		return fmt.Errorf("scrolling into view: %w", err)
	}
	if err := checkResolveResult(raw, l); err != nil {
		return err
	}
	// Smooth scrolling settles asynchronously.
	s.page.WaitForTimeout(150)
	return nil
}

func checkResolveResult(raw any, l dom.Locator) error {
	msg, ok := raw.(string)
	if !ok || msg == "ok" {
		return nil
	}
	return fmt.Errorf("locator %s: %s", l.String(), msg)
}

func (s *Session) Screenshot() ([]byte, error) {
	data, err := s.page.Screenshot(pw.PageScreenshotOptions{
		Type: pw.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("taking screenshot: %w", err)
	}
	return data, nil
}

func (s *Session) Close() error {
	var firstErr error
	if err := s.browser.Close(); err != nil {
		firstErr = err
	}
	if err := s.pw.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Driver implementation for the companion service.

func (s *Session) ScreenSize() (int, int, error) {
	raw, err := s.page.Evaluate(`() => [window.screen.width * window.devicePixelRatio, window.screen.height * window.devicePixelRatio]`)
	if err != nil {
		return 0, 0, fmt.Errorf("reading screen size: %w", err)
	}
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, fmt.Errorf("unexpected screen size result %v", raw)
	}
	return int(toFloat(pair[0])), int(toFloat(pair[1])), nil
}

func (s *Session) MoveAndClick(x, y float64, button string, clicks int) error {
	if err := s.page.Mouse().Move(x, y); err != nil {
		return fmt.Errorf("moving pointer: %w", err)
	}
	opts := pw.MouseClickOptions{ClickCount: pw.Int(clicks)}
	if button == "right" {
		opts.Button = pw.MouseButtonRight
	}
	if err := s.page.Mouse().Click(x, y, opts); err != nil {
		return fmt.Errorf("clicking: %w", err)
	}
	return nil
}

func (s *Session) TypeText(text string, interval time.Duration) error {
	if err := s.page.Keyboard().Type(text, pw.KeyboardTypeOptions{
		Delay: pw.Float(float64(interval.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("typing: %w", err)
	}
	return nil
}

func (s *Session) Focus(x, y float64) error {
	return s.MoveAndClick(x, y, "left", 1)
}

// UploadFile completes an open native file dialog: the dialog owns keyboard
// focus, so typing the path and pressing Enter selects the file.
func (s *Session) UploadFile(path string) error {
	if err := s.page.Keyboard().Type(path, pw.KeyboardTypeOptions{Delay: pw.Float(20)}); err != nil {
		return fmt.Errorf("typing file path: %w", err)
	}
	if err := s.page.Keyboard().Press("Enter"); err != nil {
		return fmt.Errorf("confirming file dialog: %w", err)
	}
	return nil
}

func (s *Session) Scroll(deltaX, deltaY int) error {
	if err := s.page.Mouse().Wheel(float64(deltaX), float64(deltaY)); err != nil {
		return fmt.Errorf("scrolling: %w", err)
	}
	return nil
}

func (s *Session) CaptureScreen() ([]byte, error) {
	return s.Screenshot()
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
