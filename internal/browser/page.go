package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// cdpRequest represents a DevTools protocol command.
type cdpRequest struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// cdpMessage is either a command response (ID set) or an event (Method set).
type cdpMessage struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

// cdpError represents a DevTools protocol error.
type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("CDP error %d: %s", e.Code, e.Message)
}

// Page is an attached browser tab. Commands are serialized; a Page is meant
// to be used by one scrape at a time.
type Page struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	targetID  string
	client    *Client
	requestID atomic.Uint64
	closed    atomic.Bool
}

// Call sends a command and decodes its result into result (may be nil).
// Events received while waiting are discarded.
func (p *Page) Call(ctx context.Context, method string, params, result interface{}) error {
	if p.closed.Load() {
		return fmt.Errorf("page closed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.requestID.Add(1)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = p.conn.SetWriteDeadline(deadline)
	_ = p.conn.SetReadDeadline(deadline)

	// Unblock the read when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := p.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params}); err != nil {
		if ctxErr := expired(ctx); ctxErr != nil {
			return fmt.Errorf("%s: %w", method, ctxErr)
		}
		return fmt.Errorf("write %s: %w", method, err)
	}

	for {
		var msg cdpMessage
		if err := p.conn.ReadJSON(&msg); err != nil {
			if ctxErr := expired(ctx); ctxErr != nil {
				return fmt.Errorf("%s: %w", method, ctxErr)
			}
			return fmt.Errorf("read %s: %w", method, err)
		}
		if msg.ID != id {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if result != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Prepare enables the page domain and applies the configured browser identity.
func (p *Page) Prepare(ctx context.Context, cfg Config) error {
	if err := p.Call(ctx, "Page.enable", nil, nil); err != nil {
		return err
	}
	if cfg.UserAgent == "" {
		return nil
	}
	return p.Call(ctx, "Network.setUserAgentOverride", map[string]string{
		"userAgent":      cfg.UserAgent,
		"acceptLanguage": cfg.AcceptLanguage,
		"platform":       cfg.Platform,
	}, nil)
}

// Navigate loads url in the tab.
func (p *Page) Navigate(ctx context.Context, url string) error {
	var res struct {
		FrameID   string `json:"frameId"`
		ErrorText string `json:"errorText"`
	}
	if err := p.Call(ctx, "Page.navigate", map[string]string{"url": url}, &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, res.ErrorText)
	}
	return nil
}

// Evaluate runs a JavaScript expression and decodes its value into out.
func (p *Page) Evaluate(ctx context.Context, expression string, out interface{}) error {
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}

	params := map[string]interface{}{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	}
	if err := p.Call(ctx, "Runtime.evaluate", params, &res); err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("evaluate: %s", res.ExceptionDetails.Text)
	}
	if out == nil || len(res.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Result.Value, out); err != nil {
		return fmt.Errorf("decode evaluate value (%s): %w", res.Result.Type, err)
	}
	return nil
}

// WaitFor polls until selector matches at least one element or wait elapses.
func (p *Page) WaitFor(ctx context.Context, selector string, wait, interval time.Duration) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return fmt.Errorf("encode selector: %w", err)
	}
	expr := fmt.Sprintf("document.querySelector(%s) !== null", quoted)

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timedOut := func() error {
		if err := expired(ctx); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s after %v", ErrWaitTimeout, selector, wait)
	}

	for {
		var found bool
		err := p.Evaluate(waitCtx, expr, &found)
		switch {
		case err == nil && found:
			return nil
		case err != nil && expired(waitCtx) == nil:
			return err
		case err != nil:
			return timedOut()
		}

		select {
		case <-waitCtx.Done():
			return timedOut()
		case <-ticker.C:
		}
	}
}

// expired reports ctx's error, treating a passed deadline as exceeded even
// before the context's own timer has fired.
func expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

// OuterHTML returns the serialized document.
func (p *Page) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := p.Evaluate(ctx, "document.documentElement.outerHTML", &html); err != nil {
		return "", err
	}
	return html, nil
}

// Close detaches from and closes the tab.
func (p *Page) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.mu.Lock()
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	connErr := p.conn.Close()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(p.client.closeTarget(ctx, p.targetID), ignoreClosed(connErr))
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
