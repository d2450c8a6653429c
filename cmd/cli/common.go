package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/dom"
	"github.com/chanaliuxing/dirtyapply/pkg/plan"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

// loadDocumentFile reads a page snapshot (.json) or raw HTML file into the
// document model.
func loadDocumentFile(path string) (*dom.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading page file %q: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return dom.DecodeSnapshot(data)
	}
	return dom.ParseHTML(strings.NewReader(string(data)), "file://"+path)
}

// consoleConfirmer asks the operator for submit approval on stdin. No answer
// within the timeout counts as a timeout, not a denial.
type consoleConfirmer struct {
	timeout time.Duration
	logger  types.Logger
}

func newConsoleConfirmer(timeout time.Duration, logger types.Logger) *consoleConfirmer {
	return &consoleConfirmer{timeout: timeout, logger: logger}
}

func (c *consoleConfirmer) Confirm(ctx context.Context, p *plan.ActionPlan) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fmt.Printf("Submit application to %s? [y/N]: ", p.PageOrigin)

	answer := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			answer <- ""
			return
		}
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case line := <-answer:
		return line == "y" || line == "yes", nil
	case <-ctx.Done():
		c.logger.Warn().Msgf("No confirmation within %s", c.timeout)
		return false, ctx.Err()
	}
}
