// Package archive exports group records as JSONL to S3 or a local
// directory, either on demand or in the background after a window closes.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/memlog/internal/events"
	"github.com/alfredjeanlab/memlog/internal/metrics"
	"github.com/alfredjeanlab/memlog/internal/store"
)

// stopFlushTimeout bounds the final flush run by Stop.
const stopFlushTimeout = 30 * time.Second

// Result describes one completed export.
type Result struct {
	GroupID string `json:"group_id"`
	Object  string `json:"object"`
	Records int    `json:"records"`
}

// Archiver exports groups to one or more destinations.
type Archiver struct {
	store        store.Store
	destinations []Destination
	publisher    events.Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an Archiver. A nil publisher drops events; a nil logger uses
// slog.Default.
func New(s store.Store, destinations []Destination, p events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Archiver {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:        s,
		destinations: destinations,
		publisher:    p,
		metrics:      m,
		logger:       logger.With("component", "archive"),
		now:          time.Now,
	}
}

// ObjectName returns the relative name of an export of groupID taken at t.
func ObjectName(groupID string, t time.Time) string {
	return url.PathEscape(groupID) + "/" + t.UTC().Format("20060102T150405.000000000Z") + ".jsonl"
}

// ArchiveNow exports the group and writes it to every destination. Every
// destination is attempted; their errors are joined.
func (a *Archiver) ArchiveNow(ctx context.Context, groupID string) (Result, error) {
	if len(a.destinations) == 0 {
		return Result{}, errors.New("no archive destinations configured")
	}

	spool, err := os.CreateTemp("", "memlog-archive-*.jsonl")
	if err != nil {
		a.metrics.Archive("error")
		return Result{}, fmt.Errorf("create archive spool: %w", err)
	}
	defer os.Remove(spool.Name()) //nolint:errcheck
	defer spool.Close()          //nolint:errcheck

	n, err := ExportGroupJSONL(ctx, a.store, groupID, spool)
	if err != nil {
		a.metrics.Archive("error")
		a.logger.Error("archive export failed", "group_id", groupID, "err", err)
		return Result{}, err
	}
	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		a.metrics.Archive("error")
		return Result{}, fmt.Errorf("size archive spool: %w", err)
	}
	name := ObjectName(groupID, a.now())

	var errs []error
	for i, dest := range a.destinations {
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			errs = append(errs, fmt.Errorf("rewind archive spool: %w", err))
			break
		}
		if err := dest.Write(ctx, name, spool, size); err != nil {
			a.logger.Error("archive destination write failed", "destination", destName(i, dest), "group_id", groupID, "err", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.metrics.Archive("error")
		return Result{}, err
	}

	res := Result{GroupID: groupID, Object: name, Records: n}
	a.metrics.Archive("ok")
	a.logger.Info("group archived", "group_id", groupID, "object", name, "records", n, "bytes", size)
	if err := a.publisher.Publish(ctx, events.TopicGroupArchived, events.GroupArchived{GroupID: groupID, Object: name, Records: n}); err != nil {
		a.logger.Warn("failed to publish event", "topic", events.TopicGroupArchived, "group_id", groupID, "error", err)
	}
	return res, nil
}

func destName(i int, d Destination) string {
	if s, ok := d.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("#%d", i)
}

// Scheduler archives enqueued groups in the background.
type Scheduler struct {
	archiver *Archiver
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that flushes queued groups through a at
// the specified interval.
func NewScheduler(a *Archiver, interval time.Duration) *Scheduler {
	return &Scheduler{
		archiver: a,
		interval: interval,
		logger:   a.logger,
		pending:  make(map[string]struct{}),
	}
}

// Enqueue queues groupID for the next flush. Repeats before a flush collapse.
func (s *Scheduler) Enqueue(groupID string) {
	s.mu.Lock()
	s.pending[groupID] = struct{}{}
	s.mu.Unlock()
}

// Pending returns the queued group ids, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for g := range s.pending {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Start begins periodic flushing.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler, waits for the current flush (if any) to
// finish, then flushes whatever is still queued.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), stopFlushTimeout)
	defer cancel()
	s.Flush(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush archives every queued group. A group whose export fails is queued
// again for the next flush.
func (s *Scheduler) Flush(ctx context.Context) {
	s.mu.Lock()
	groups := make([]string, 0, len(s.pending))
	for g := range s.pending {
		groups = append(groups, g)
	}
	s.pending = make(map[string]struct{})
	s.mu.Unlock()
	if len(groups) == 0 {
		return
	}
	sort.Strings(groups)

	var failed int
	for _, g := range groups {
		if ctx.Err() != nil {
			s.Enqueue(g)
			failed++
			continue
		}
		if _, err := s.archiver.ArchiveNow(ctx, g); err != nil {
			s.Enqueue(g)
			failed++
		}
	}
	s.logger.Info("archive flush completed", "groups", len(groups), "failed", failed)
}
