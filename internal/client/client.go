// Package client talks to the reference backend over HTTP and implements
// reconcile.Backend for every collection kind.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"poolcore/internal/export"
	"poolcore/pkg/api"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

const maxErrorBody = 64 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	var payload api.ErrorResponse
	if json.Unmarshal([]byte(e.Body), &payload) == nil && payload.Error != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, payload.Error)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is a JSON client for the reference backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New constructs a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{base: u, http: http.DefaultClient, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(segments ...string) string {
	parts := []string{"api"}
	for _, s := range segments {
		if s != "" {
			parts = append(parts, url.PathEscape(s))
		}
	}
	return c.base.JoinPath(parts...).String()
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// Export asks the backend to export kind under parentID.
func (c *Client) Export(ctx context.Context, kind domain.Kind, parentID string) (export.Artifact, error) {
	var artifact export.Artifact
	err := c.do(ctx, http.MethodPost, c.endpoint(string(kind), parentID, "export"), nil, &artifact)
	return artifact, err
}

// CollectionClient implements reconcile.Backend for one kind.
type CollectionClient[T any] struct {
	c    *Client
	kind domain.Kind
}

var _ reconcile.Backend[domain.ConsumableDefinition] = (*CollectionClient[domain.ConsumableDefinition])(nil)

// Collection returns a backend for kind. Group kinds ignore parentID.
func Collection[T any](c *Client, kind domain.Kind) *CollectionClient[T] {
	return &CollectionClient[T]{c: c, kind: kind}
}

// Kind returns the collection kind.
func (cc *CollectionClient[T]) Kind() domain.Kind { return cc.kind }

func (cc *CollectionClient[T]) parent(parentID string) string {
	if cc.kind.IsGroup() {
		return ""
	}
	return parentID
}

// Fetch lists the collection under parentID.
func (cc *CollectionClient[T]) Fetch(ctx context.Context, parentID string) ([]reconcile.Item[T], error) {
	items := []reconcile.Item[T]{}
	err := cc.c.do(ctx, http.MethodGet, cc.c.endpoint(string(cc.kind), cc.parent(parentID)), nil, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SubmitBatch posts batch and returns the collection the server sent back.
func (cc *CollectionClient[T]) SubmitBatch(ctx context.Context, parentID string, batch reconcile.Batch[T]) ([]reconcile.Item[T], error) {
	var items []reconcile.Item[T]
	err := cc.c.do(ctx, http.MethodPost, cc.c.endpoint(string(cc.kind), cc.parent(parentID), "batch"), batch, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SelectorGroupClient reads and saves whole selector group trees.
type SelectorGroupClient struct {
	c *Client
}

// SelectorGroups returns the selector group tree client.
func SelectorGroups(c *Client) *SelectorGroupClient {
	return &SelectorGroupClient{c: c}
}

// Tree fetches the group with its questions and options.
func (sc *SelectorGroupClient) Tree(ctx context.Context, groupID string) (api.SelectorGroupTree, error) {
	var tree api.SelectorGroupTree
	err := sc.c.do(ctx, http.MethodGet, sc.c.endpoint(string(domain.KindSelectorGroups), groupID), nil, &tree)
	return tree, err
}

// SubmitBatch saves a group edit session. The tree is nil when the group
// was deleted or the server did not return one.
func (sc *SelectorGroupClient) SubmitBatch(ctx context.Context, groupID string, batch api.SelectorGroupBatch) (*api.SelectorGroupTree, error) {
	var tree *api.SelectorGroupTree
	err := sc.c.do(ctx, http.MethodPost, sc.c.endpoint(string(domain.KindSelectorGroups), groupID, "batch"), batch, &tree)
	if err != nil {
		return nil, err
	}
	return tree, nil
}
