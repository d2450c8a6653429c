package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/security"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

const defaultClientTimeout = 30 * time.Second

// Client talks to a running companion service. Base URLs must point at the
// loopback interface; the companion drives the local pointer and keyboard and
// is never exposed to the network.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  types.Logger
}

func NewClient(baseURL, token string, logger types.Logger) (*Client, error) {
	if len(token) < MinTokenLength {
		return nil, fmt.Errorf("companion token must be at least %d characters, got %d", MinTokenLength, len(token))
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing companion base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("companion base URL %q must use http or https", baseURL)
	}
	if !isLoopbackHost(u.Hostname()) {
		return nil, fmt.Errorf("companion base URL %q is not a loopback address", baseURL)
	}
	logger.Debug().
		Str("base_url", baseURL).
		Str("token", security.MaskToken(token)).
		Msg("Companion client configured")
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultClientTimeout},
		logger:  logger,
	}, nil
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "127.0.0.1", "::1", "localhost":
		return true
	}
	return false
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("creating health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("companion health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("companion health check returned status %d", resp.StatusCode)
	}
	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	return &out, nil
}

func (c *Client) Click(ctx context.Context, req ClickRequest) (*ActionResponse, error) {
	return c.postAction(ctx, "/click", req)
}

func (c *Client) Focus(ctx context.Context, req FocusRequest) (*ActionResponse, error) {
	return c.postAction(ctx, "/focus", req)
}

func (c *Client) Type(ctx context.Context, req TypeRequest) (*ActionResponse, error) {
	return c.postAction(ctx, "/type", req)
}

func (c *Client) Scroll(ctx context.Context, req ScrollRequest) (*ActionResponse, error) {
	return c.postAction(ctx, "/scroll", req)
}

// Upload completes a native file dialog that a preceding click opened.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*ActionResponse, error) {
	return c.postAction(ctx, "/upload", req)
}

// OpticalClick locates text on screen and clicks it. A reply with
// Success=false and a nonzero Confidence means a match was found but fell
// below the requested threshold; the caller decides how to escalate.
func (c *Client) OpticalClick(ctx context.Context, req OpticalClickRequest) (*ActionResponse, error) {
	return c.postAction(ctx, "/optical_click", req)
}

func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	body, err := c.post(ctx, "/screenshot", struct{}{})
	if err != nil {
		return nil, err
	}
	var out ScreenshotResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding screenshot response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("companion screenshot failed: %s", out.Message)
	}
	return out.PNG, nil
}

func (c *Client) postAction(ctx context.Context, path string, payload any) (*ActionResponse, error) {
	body, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	var out ActionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding companion response for %s: %w", path, err)
	}
	c.logger.Debug().
		Str("path", path).
		Bool("success", out.Success).
		Int("duration_ms", int(out.DurationMs)).
		Msg("Companion action completed")
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body to JSON: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AuthHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("companion request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading companion response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("companion rejected token %s", security.MaskToken(c.token))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("companion %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
