package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method     string
	path       string
	rawPath    string
	query      string
	body       string
	auth       string
	lastEvent  string
	contentTyp string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.auth = r.Header.Get("Authorization")
	h.lastEvent = r.Header.Get("Last-Event-ID")
	h.contentTyp = r.Header.Get("Content-Type")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "tok")
}

func TestHTTPClient_IngestRecord(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusCreated,
		responseBody: `{"id":"rec-1","request_id":"req-1","group_id":"g1","message_id":"m1","sync_status":-1}`,
	}
	c := newTestClient(t, h)

	rec, err := c.IngestRecord(context.Background(), listener.ObservedRequest{
		RequestID: "req-1", GroupID: "g1", Body: []byte(`{"message_id":"m1"}`),
	})
	if err != nil {
		t.Fatalf("IngestRecord: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/records" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.contentTyp != "application/json" || h.auth != "Bearer tok" {
		t.Errorf("headers: content-type=%q auth=%q", h.contentTyp, h.auth)
	}
	if !strings.Contains(h.body, `"body":{"message_id":"m1"}`) {
		t.Errorf("body = %s", h.body)
	}
	if rec.ID != "rec-1" || rec.SyncStatus != model.StatusLogged {
		t.Errorf("rec = %+v", rec)
	}
}

func TestHTTPClient_GetRecordEscapesPath(t *testing.T) {
	h := &testHandler{responseBody: `{"id":"rec-1","request_id":"a/b"}`}
	c := newTestClient(t, h)

	if _, err := c.GetRecord(context.Background(), "a/b"); err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if h.rawPath != "/v1/records/a%2Fb" {
		t.Errorf("raw path = %q", h.rawPath)
	}
}

func TestHTTPClient_ListGroupRecordsQuery(t *testing.T) {
	h := &testHandler{responseBody: `{"records":[{"id":"r1"},{"id":"r2"}]}`}
	c := newTestClient(t, h)

	recs, err := c.ListGroupRecords(context.Background(), api.ListGroupRecordsRequest{
		GroupID: "g1", Status: "logged", Start: "2024-01-01", Limit: 5,
	})
	if err != nil {
		t.Fatalf("ListGroupRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if h.path != "/v1/groups/g1/records" || h.query != "limit=5&start=2024-01-01&status=logged" {
		t.Errorf("request = %s?%s", h.path, h.query)
	}
}

func TestHTTPClient_ListUserRecords(t *testing.T) {
	h := &testHandler{responseBody: `{"records":[]}`}
	c := newTestClient(t, h)

	if _, err := c.ListUserRecords(context.Background(), "u1", 0); err != nil {
		t.Fatalf("ListUserRecords: %v", err)
	}
	if h.path != "/v1/users/u1/records" || h.query != "" {
		t.Errorf("request = %s?%s", h.path, h.query)
	}
}

func TestHTTPClient_PurgeGroup(t *testing.T) {
	h := &testHandler{responseBody: `{"group_id":"g1","deleted":4}`}
	c := newTestClient(t, h)

	n, err := c.PurgeGroup(context.Background(), "g1")
	if err != nil {
		t.Fatalf("PurgeGroup: %v", err)
	}
	if n != 4 || h.method != http.MethodDelete || h.query != "confirm=true" {
		t.Errorf("n=%d request=%s ?%s", n, h.method, h.query)
	}
}

func TestHTTPClient_WindowCalls(t *testing.T) {
	h := &testHandler{responseBody: `{"group_id":"g1","modified":2,"precise":true}`}
	c := newTestClient(t, h)
	ctx := context.Background()

	res, err := c.ConfirmWindow(ctx, api.ConfirmWindowRequest{GroupID: "g1", MessageIDs: []string{"m1", "m2"}})
	if err != nil {
		t.Fatalf("ConfirmWindow: %v", err)
	}
	if h.path != "/v1/groups/g1/window/confirm" || !strings.Contains(h.body, `"message_ids":["m1","m2"]`) {
		t.Errorf("request = %s body=%s", h.path, h.body)
	}
	if res.Modified != 2 || !res.Precise {
		t.Errorf("res = %+v", res)
	}

	if _, err := c.CloseWindow(ctx, "g1"); err != nil {
		t.Fatalf("CloseWindow: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/groups/g1/window/close" || h.body != "" {
		t.Errorf("close request = %s %s body=%q", h.method, h.path, h.body)
	}

	h.responseBody = `{"group_id":"g1","messages":[{"message_id":"m1","sender":"u1","refer_list":[]}]}`
	msgs, err := c.ReadWindow(ctx, api.ReadWindowRequest{GroupID: "g1", End: "2024-01-02", Limit: 10})
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "m1" {
		t.Errorf("msgs = %+v", msgs)
	}
	if h.path != "/v1/groups/g1/window" || h.query != "end=2024-01-02&limit=10" {
		t.Errorf("read request = %s?%s", h.path, h.query)
	}
}

func TestHTTPClient_APIError(t *testing.T) {
	for _, tc := range []struct {
		name    string
		code    int
		body    string
		wantMsg string
	}{
		{"json error", http.StatusNotFound, `{"error":"record not found"}`, "record not found"},
		{"plain body", http.StatusBadGateway, `upstream down`, "upstream down"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tc.code, responseBody: tc.body})
			_, err := c.GetRecord(context.Background(), "x")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tc.code || apiErr.Message != tc.wantMsg {
				t.Errorf("apiErr = %+v", apiErr)
			}
		})
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	c := newTestClient(t, h)
	status, err := c.Health(context.Background())
	if err != nil || status != "ok" {
		t.Fatalf("Health = %q, %v", status, err)
	}
}

func TestHTTPClient_StreamEvents(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("topics") != "memlog.window.*,memlog.group.*" {
			http.Error(w, `{"error":"bad topics"}`, http.StatusBadRequest)
			return
		}
		if r.Header.Get("Last-Event-ID") != "7" {
			http.Error(w, `{"error":"missing last event id"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ":keepalive\n\n")
		_, _ = io.WriteString(w, "id:8\nevent:memlog.window.confirmed\ndata:{\"group_id\":\"g1\",\"modified\":1}\n\n")
		_, _ = io.WriteString(w, "id:9\nevent:memlog.window.closed\ndata:{\"group_id\":\"g1\",\"modified\":2}\n\n")
	})
	c := newTestClient(t, h)

	var got []StreamEvent
	err := c.StreamEvents(context.Background(), []string{"memlog.window.*", "memlog.group.*"}, "7", func(e StreamEvent) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events: %+v", len(got), got)
	}
	if got[0].ID != "8" || got[0].Topic != "memlog.window.confirmed" || string(got[1].Data) != `{"group_id":"g1","modified":2}` {
		t.Errorf("events = %+v", got)
	}
}

func TestHTTPClient_StreamEventsStopsOnCallbackError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		for {
			if _, err := io.WriteString(w, "event:memlog.record.logged\ndata:{}\n\n"); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	c := newTestClient(t, h)

	stop := errors.New("enough")
	n := 0
	err := c.StreamEvents(context.Background(), nil, "", func(StreamEvent) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestHTTPClient_StreamEventsHTTPError(t *testing.T) {
	c := newTestClient(t, &testHandler{statusCode: http.StatusUnauthorized, responseBody: `{"error":"invalid token"}`})
	err := c.StreamEvents(context.Background(), nil, "", func(StreamEvent) error { return nil })
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestReadEventStream_FieldForms(t *testing.T) {
	in := ": ping\n\nid: 3\nevent: memlog.group.archived\ndata: {\"group_id\":\"g1\"}\nretry: 100\n\nid:4\n\n"
	var got []StreamEvent
	if err := readEventStream(strings.NewReader(in), func(e StreamEvent) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("readEventStream: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1 (id-only frames are ignored): %+v", len(got), got)
	}
	if got[0].ID != "3" || got[0].Topic != "memlog.group.archived" || string(got[0].Data) != `{"group_id":"g1"}` {
		t.Errorf("event = %+v", got[0])
	}
}
