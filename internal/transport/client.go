// Package transport talks to the remote chat backend over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/meshchat/internal/domain"
)

// DefaultTimeout bounds one chat request when no budget is configured.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Request is the body of a chat query.
type Request struct {
	ConversationID string          `json:"conversation_id"`
	Query          string          `json:"query"`
	Context        json.RawMessage `json:"context,omitempty"`
}

// UsedModels reports which backend models produced an answer.
type UsedModels struct {
	CompletionModel string `json:"completion_model"`
	EmbeddingModel  string `json:"embedding_model"`
}

// Answer is the body of a 200 chat reply.
type Answer struct {
	Answer     string                      `json:"answer"`
	Citations  []domain.ReferencedDocument `json:"citations"`
	Actions    []domain.Action             `json:"actions"`
	UsedModels *UsedModels                 `json:"used_models,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

// Reply is a successful (2xx) exchange. Answer is set for status 200 only;
// any other 2xx status carries the server text in ErrorText.
type Reply struct {
	StatusCode int
	Answer     *Answer
	ErrorText  string
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client. Its Jar is replaced when nil.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends chat queries and manages backend conversation ids.
//
// Each Client carries its own cookie jar so the backend scopes its
// conversations to one browser session.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a chat backend client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("chat backend URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse chat backend URL: %w", err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	} else {
		cp := *hc
		hc = &cp
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		token:   opts.Token,
		timeout: timeout,
		http:    hc,
		logger:  logger,
	}, nil
}

// SendQuery posts one query for the given provider and model. No retries
// are attempted.
func (c *Client) SendQuery(ctx context.Context, provider, model string, req Request) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Message: "failed to encode chat request", Err: err}
	}

	endpoint := fmt.Sprintf("%s/api/chat/%s/%s/ai", c.baseURL, url.PathEscape(provider), url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Message: "failed to create chat request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	if resp.StatusCode == http.StatusOK {
		var answer Answer
		if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
			if isTimeout(ctx, err) {
				return nil, &Error{Kind: KindTimeout, Err: err}
			}
			return nil, &Error{Kind: KindGeneric, StatusCode: resp.StatusCode, Message: "invalid chat response", Err: err}
		}
		return &Reply{StatusCode: resp.StatusCode, Answer: &answer}, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Reply{StatusCode: resp.StatusCode, ErrorText: readErrorText(resp.Body)}, nil
	}

	return nil, statusError(resp)
}

// ListConversations returns the conversation ids the backend holds for this
// client's session.
func (c *Client) ListConversations(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/chat/conversations", nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode conversation ids: %w", err)
	}
	return ids, nil
}

// DeleteConversations removes conversations from the backend.
func (c *Client) DeleteConversations(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("conversationIDs", strings.Join(ids, ","))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/chat/conversations?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &Error{Kind: KindTimeout, Err: err}
		}
		return nil, &Error{Kind: KindGeneric, Err: err}
	}
	return resp, nil
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("failed to close chat response body", "error", err)
	}
}

func statusError(resp *http.Response) *Error {
	kind := KindGeneric
	if resp.StatusCode == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	msg := readErrorText(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{Kind: kind, StatusCode: resp.StatusCode, Message: msg}
}

// readErrorText extracts the "error" field of a JSON body, falling back to
// the trimmed raw text.
func readErrorText(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
