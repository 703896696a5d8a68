// Package browser drives a headless Chrome over the DevTools protocol to
// obtain fully rendered page HTML.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Default configuration values.
const (
	DefaultDevToolsURL      = "http://127.0.0.1:9222"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultAcceptLanguage   = "en-US,en"
	DefaultPlatform         = "Win32"
)

// ErrWaitTimeout is returned when awaited content does not appear within the wait budget.
var ErrWaitTimeout = errors.New("timed out waiting for page content")

// Config configures Client behavior.
type Config struct {
	// DevToolsURL is the browser's remote debugging HTTP endpoint.
	DevToolsURL string
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// PollInterval is the interval between selector checks in WaitFor.
	PollInterval time.Duration
	// UserAgent, AcceptLanguage and Platform override the browser identity.
	UserAgent      string
	AcceptLanguage string
	Platform       string
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		DevToolsURL:      DefaultDevToolsURL,
		HandshakeTimeout: DefaultHandshakeTimeout,
		PollInterval:     DefaultPollInterval,
		UserAgent:        DefaultUserAgent,
		AcceptLanguage:   DefaultAcceptLanguage,
		Platform:         DefaultPlatform,
	}
}

// Client opens browser tabs through the DevTools HTTP endpoint.
// It is safe for concurrent use; every Render uses its own tab.
type Client struct {
	config Config
	http   *http.Client
	dialer websocket.Dialer
	logger logrus.FieldLogger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client for the DevTools endpoint.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a DevTools client. Zero config fields take defaults.
func NewClient(config *Config, opts ...ClientOption) *Client {
	cfg := DefaultConfig()
	if config != nil {
		if config.DevToolsURL != "" {
			cfg.DevToolsURL = config.DevToolsURL
		}
		if config.HandshakeTimeout > 0 {
			cfg.HandshakeTimeout = config.HandshakeTimeout
		}
		if config.PollInterval > 0 {
			cfg.PollInterval = config.PollInterval
		}
		if config.UserAgent != "" {
			cfg.UserAgent = config.UserAgent
		}
		if config.AcceptLanguage != "" {
			cfg.AcceptLanguage = config.AcceptLanguage
		}
		if config.Platform != "" {
			cfg.Platform = config.Platform
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// targetInfo is the DevTools description of a tab.
type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Render opens url in a new tab, waits up to wait for selector to match at
// least one element and returns the document's outer HTML. The tab is closed
// before returning.
func (c *Client) Render(ctx context.Context, pageURL, selector string, wait time.Duration) (string, error) {
	page, err := c.OpenPage(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.WithError(err).Warn("close page")
		}
	}()

	if err := page.Prepare(ctx, c.config); err != nil {
		return "", err
	}

	c.logger.WithField("url", pageURL).Debug("navigating")
	if err := page.Navigate(ctx, pageURL); err != nil {
		return "", err
	}

	if err := page.WaitFor(ctx, selector, wait, c.config.PollInterval); err != nil {
		return "", err
	}

	return page.OuterHTML(ctx)
}

// OpenPage creates a blank tab and attaches to it.
func (c *Client) OpenPage(ctx context.Context) (*Page, error) {
	target, err := c.newTarget(ctx)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		_ = c.closeTarget(context.Background(), target.ID)
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	return &Page{
		conn:     conn,
		targetID: target.ID,
		client:   c,
	}, nil
}

// newTarget opens a blank tab. Recent Chrome versions require PUT.
func (c *Client) newTarget(ctx context.Context) (*targetInfo, error) {
	endpoint := strings.TrimRight(c.config.DevToolsURL, "/") + "/json/new?" + url.QueryEscape("about:blank")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("open target: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var target targetInfo
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return nil, fmt.Errorf("decode target: %w", err)
	}
	if target.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("open target: missing webSocketDebuggerUrl")
	}
	return &target, nil
}

func (c *Client) closeTarget(ctx context.Context, id string) error {
	endpoint := strings.TrimRight(c.config.DevToolsURL, "/") + "/json/close/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("close target: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("close target: status %d", resp.StatusCode)
	}
	return nil
}
