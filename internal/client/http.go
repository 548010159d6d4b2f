package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/model"
)

// HTTPClient talks to the memlog JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient returns a client for baseURL, such as "http://localhost:8080".
// A non-empty token is sent as a bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func groupPath(groupID, suffix string) string {
	return "/v1/groups/" + url.PathEscape(groupID) + suffix
}

// boundsQuery encodes the optional range and limit shared by the list calls.
func boundsQuery(start, end string, limit int) url.Values {
	q := url.Values{}
	if start != "" {
		q.Set("start", start)
	}
	if end != "" {
		q.Set("end", end)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *HTTPClient) IngestRecord(ctx context.Context, req listener.ObservedRequest) (*model.Record, error) {
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodPost, "/v1/records", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) GetRecord(ctx context.Context, requestID string) (*model.Record, error) {
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodGet, "/v1/records/"+url.PathEscape(requestID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) ListGroupRecords(ctx context.Context, req api.ListGroupRecordsRequest) ([]*model.Record, error) {
	q := boundsQuery(req.Start, req.End, req.Limit)
	if req.Status != "" {
		q.Set("status", req.Status)
	}
	var resp api.RecordsResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery(groupPath(req.GroupID, "/records"), q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *HTTPClient) ListUserRecords(ctx context.Context, userID string, limit int) ([]*model.Record, error) {
	var resp api.RecordsResponse
	path := withQuery("/v1/users/"+url.PathEscape(userID)+"/records", boundsQuery("", "", limit))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// PurgeGroup permanently deletes a group's records. Callers confirm with the
// user before calling it.
func (c *HTTPClient) PurgeGroup(ctx context.Context, groupID string) (int64, error) {
	var resp api.PurgeGroupResponse
	if err := c.doJSON(ctx, http.MethodDelete, groupPath(groupID, "/records?confirm=true"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (c *HTTPClient) ConfirmWindow(ctx context.Context, req api.ConfirmWindowRequest) (*api.WindowResult, error) {
	var res api.WindowResult
	if err := c.doJSON(ctx, http.MethodPost, groupPath(req.GroupID, "/window/confirm"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) ReadWindow(ctx context.Context, req api.ReadWindowRequest) ([]*model.Message, error) {
	var resp api.ReadWindowResponse
	path := withQuery(groupPath(req.GroupID, "/window"), boundsQuery(req.Start, req.End, req.Limit))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *HTTPClient) CloseWindow(ctx context.Context, groupID string) (*api.WindowResult, error) {
	var res api.WindowResult
	if err := c.doJSON(ctx, http.MethodPost, groupPath(groupID, "/window/close"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) ArchiveGroup(ctx context.Context, groupID string) (*api.ArchiveResult, error) {
	var res api.ArchiveResult
	if err := c.doJSON(ctx, http.MethodPost, groupPath(groupID, "/archive"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp api.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// StreamEvent is one server-sent event.
type StreamEvent struct {
	ID    string
	Topic string
	Data  json.RawMessage
}

// StreamEvents follows GET /v1/events/stream and calls fn for every event
// until ctx ends, the server closes the stream, or fn returns an error.
// lastEventID resumes after a previously seen event when non-empty.
func (c *HTTPClient) StreamEvents(ctx context.Context, topics []string, lastEventID string, fn func(StreamEvent) error) error {
	q := url.Values{}
	if len(topics) > 0 {
		q.Set("topics", strings.Join(topics, ","))
	}
	req, err := c.newRequest(ctx, http.MethodGet, withQuery("/v1/events/stream", q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, body)
	}

	if err := readEventStream(resp.Body, fn); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// readEventStream parses server-sent event frames from r. Comment lines are
// skipped and a blank line dispatches the pending event.
func readEventStream(r io.Reader, fn func(StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	var cur StreamEvent
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if cur.Topic != "" || len(cur.Data) > 0 {
				if err := fn(cur); err != nil {
					return err
				}
			}
			cur = StreamEvent{}
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			cur.ID = value
		case "event":
			cur.Topic = value
		case "data":
			cur.Data = json.RawMessage(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func decodeAPIError(code int, body []byte) error {
	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: code, Message: errResp.Error}
	}
	return &APIError{StatusCode: code, Message: string(body)}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends body as JSON and decodes the response into result when it is
// non-nil. Error statuses become *APIError.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
