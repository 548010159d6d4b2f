package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// replaySize is how many recent events a reconnecting stream can resume from.
	replaySize = 1000

	streamBuffer      = 64
	keepaliveInterval = 15 * time.Second
)

var errHubClosed = errors.New("event hub closed")

type hubEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// eventRing keeps the last len(buf) events in publish order.
type eventRing struct {
	buf   []hubEvent
	start int
	n     int
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]hubEvent, size)}
}

func (r *eventRing) push(e hubEvent) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// after returns the retained events with an ID greater than id.
func (r *eventRing) after(id uint64) []hubEvent {
	var out []hubEvent
	for i := range r.n {
		if e := r.buf[(r.start+i)%len(r.buf)]; e.ID > id {
			out = append(out, e)
		}
	}
	return out
}

// topicFilter is a set of subscription patterns. Empty matches everything.
type topicFilter []string

func (f topicFilter) allows(topic string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if matchTopic(p, topic) {
			return true
		}
	}
	return false
}

// matchTopic matches a dot-separated topic against a pattern in which "*"
// stands for one segment and a final ">" for one or more.
func matchTopic(pattern, topic string) bool {
	for {
		p, prest, pmore := strings.Cut(pattern, ".")
		if p == ">" {
			return topic != ""
		}
		t, trest, tmore := strings.Cut(topic, ".")
		if p != "*" && p != t {
			return false
		}
		if !pmore || !tmore {
			return pmore == tmore
		}
		pattern, topic = prest, trest
	}
}

// parseTopics splits a comma-separated topics query value.
func parseTopics(q string) topicFilter {
	var f topicFilter
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f = append(f, t)
		}
	}
	return f
}

type streamSub struct {
	filter  topicFilter
	ch      chan hubEvent
	dropped atomic.Uint64
}

// EventHub fans lifecycle events out to SSE streams and keeps a short replay
// history. It is an events.Publisher.
type EventHub struct {
	mu     sync.Mutex
	subs   map[*streamSub]struct{}
	ring   *eventRing
	lastID uint64
	closed bool
}

func NewEventHub() *EventHub {
	return &EventHub{
		subs: make(map[*streamSub]struct{}),
		ring: newEventRing(replaySize),
	}
}

func (h *EventHub) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	_, err = h.emit(topic, data)
	return err
}

// Close rejects further events. Open streams run until their requests end.
func (h *EventHub) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// emit records an event and offers it to every matching stream. A stream
// whose buffer is full misses the event.
func (h *EventHub) emit(topic string, data []byte) (hubEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return hubEvent{}, errHubClosed
	}
	h.lastID++
	e := hubEvent{ID: h.lastID, Topic: topic, Data: data}
	h.ring.push(e)
	for s := range h.subs {
		if !s.filter.allows(topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
	return e, nil
}

// attach registers a stream. When resume is set it also returns the retained
// events after lastID that pass the filter; nothing published in between is
// lost or duplicated since both happen under the hub lock.
func (h *EventHub) attach(filter topicFilter, lastID uint64, resume bool) (*streamSub, []hubEvent) {
	s := &streamSub{filter: filter, ch: make(chan hubEvent, streamBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	if !resume {
		return s, nil
	}
	var backlog []hubEvent
	for _, e := range h.ring.after(lastID) {
		if filter.allows(e.Topic) {
			backlog = append(backlog, e)
		}
	}
	return s, backlog
}

func (h *EventHub) detach(s *streamSub) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *EventHub) streams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// lastEventID reads the resume point from the Last-Event-ID header, falling
// back to the last_event_id query parameter for clients that cannot set it.
func lastEventID(r *http.Request) (uint64, bool) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("last_event_id")
	}
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	return id, err == nil
}

type sseWriter struct {
	w http.ResponseWriter
}

func (sw sseWriter) event(e hubEvent) error {
	_, err := fmt.Fprintf(sw.w, "id:%d\nevent:%s\ndata:%s\n\n", e.ID, e.Topic, e.Data)
	return err
}

func (sw sseWriter) comment(text string) error {
	_, err := fmt.Fprintf(sw.w, ":%s\n\n", text)
	return err
}

// handleEventStream handles GET /v1/events/stream.
func (s *RecordServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	lastID, resume := lastEventID(r)
	sub, backlog := s.hub.attach(parseTopics(r.URL.Query().Get("topics")), lastID, resume)
	defer s.hub.detach(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := sseWriter{w: w}
	for _, e := range backlog {
		if sw.event(e) != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			if n := sub.dropped.Load(); n > 0 {
				s.logger.Warn("event stream fell behind", "dropped", n)
			}
			return
		case e := <-sub.ch:
			err = sw.event(e)
		case <-keepalive.C:
			err = sw.comment("keepalive")
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}
