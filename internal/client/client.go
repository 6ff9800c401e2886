package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	api "github.com/disputeflow/verifier/api/v1"
)

// ApiKeyHeader matches the admission header expected by the api server.
const ApiKeyHeader = "X-API-Key"

const defaultTimeout = 30 * time.Second

// Client is a thin JSON client for the verifier api, used by the
// operator CLI.
type Client struct {
	server string
	apiKey string
	http   *http.Client
}

type Option func(*Client)

// WithApiKey sets the key sent in the admission header on every request.
func WithApiKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

func New(server string, opts ...Option) *Client {
	c := &Client{
		server: strings.TrimRight(server, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError carries a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// DeadLetterQuery narrows a dead letter listing. Zero values are omitted
// from the request.
type DeadLetterQuery struct {
	Stage         string
	DocumentID    string
	OnlyPending   bool
	OnlyRetryable bool
	Limit         int
	Offset        int
}

func (q DeadLetterQuery) values() url.Values {
	v := url.Values{}
	if q.Stage != "" {
		v.Set("stage", q.Stage)
	}
	if q.DocumentID != "" {
		v.Set("documentId", q.DocumentID)
	}
	if q.OnlyPending {
		v.Set("pending", "true")
	}
	if q.OnlyRetryable {
		v.Set("retryable", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

func (c *Client) QueueStats(ctx context.Context) (*api.QueueStatsReply, error) {
	reply := &api.QueueStatsReply{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue/stats", nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) DocumentStatus(ctx context.Context, id uuid.UUID) (*api.StatusReply, error) {
	reply := &api.StatusReply{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+id.String()+"/status", nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) DocumentResults(ctx context.Context, id uuid.UUID) (*api.DocumentResults, error) {
	reply := &api.DocumentResults{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+id.String()+"/results", nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) CancelDocument(ctx context.Context, id uuid.UUID) (*api.StatusReply, error) {
	reply := &api.StatusReply{}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/documents/"+id.String(), nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) ListDeadLetters(ctx context.Context, query DeadLetterQuery) ([]api.DeadLetterReply, error) {
	path := "/api/v1/deadletters"
	if encoded := query.values().Encode(); encoded != "" {
		path += "?" + encoded
	}
	replies := []api.DeadLetterReply{}
	if err := c.do(ctx, http.MethodGet, path, nil, &replies); err != nil {
		return nil, err
	}
	return replies, nil
}

func (c *Client) RequeueDeadLetter(ctx context.Context, id uuid.UUID, requeuedBy string) (*api.DeadLetterReply, error) {
	body := map[string]string{}
	if requeuedBy != "" {
		body["requeuedBy"] = requeuedBy
	}
	reply := &api.DeadLetterReply{}
	if err := c.do(ctx, http.MethodPost, "/api/v1/deadletters/"+id.String()+"/requeue", body, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) DiscardDeadLetter(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/deadletters/"+id.String(), nil, nil)
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(ApiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		decoded := api.Error{}
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Message != "" {
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
