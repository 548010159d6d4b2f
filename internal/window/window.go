// Package window is the accumulation repository: the three lifecycle
// operations callers use to confirm records into a group's open window,
// read the window as messages, and close it.
package window

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/memlog/internal/events"
	"github.com/alfredjeanlab/memlog/internal/mapper"
	"github.com/alfredjeanlab/memlog/internal/metrics"
	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

// ErrEmptyGroup is returned when an operation is called without a group id.
var ErrEmptyGroup = errors.New("group_id is required")

// Result reports the effect of a lifecycle transition. Modified counts the
// records that actually changed state; zero is a successful no-op.
type Result struct {
	GroupID  string `json:"group_id"`
	Modified int64  `json:"modified"`
	Precise  bool   `json:"precise"` // confirmed by message id rather than the whole group
}

// ReadOptions bounds a window read. Nil bounds are open.
type ReadOptions struct {
	Start *time.Time
	End   *time.Time
	Limit int
}

// Repository is the accumulation window contract.
type Repository interface {
	ConfirmWindow(ctx context.Context, groupID string, messages []model.Message) (Result, error)
	ReadWindow(ctx context.Context, groupID string, opts ReadOptions) ([]*model.Message, error)
	CloseWindow(ctx context.Context, groupID string) (Result, error)
}

// Enqueuer receives groups whose window has closed, for archiving.
type Enqueuer interface {
	Enqueue(groupID string)
}

// Service implements Repository on top of a store.Store.
type Service struct {
	store     store.Store
	mapper    *mapper.Mapper
	publisher events.Publisher
	metrics   *metrics.Metrics
	archiver  Enqueuer
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithArchiver enqueues every group with a non-empty close for export.
func WithArchiver(a Enqueuer) Option {
	return func(s *Service) { s.archiver = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service over st. A nil mapper gets a default one.
func New(st store.Store, m *mapper.Mapper, opts ...Option) *Service {
	s := &Service{
		store:     st,
		mapper:    m,
		publisher: &events.NoopPublisher{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mapper == nil {
		s.mapper = mapper.New(s.logger, s.metrics)
	}
	s.logger = s.logger.With("component", "window")
	return s
}

// ConfirmWindow moves LOGGED records of the group into the window. When the
// messages carry ids only those records are confirmed; otherwise every
// LOGGED record of the group is.
func (s *Service) ConfirmWindow(ctx context.Context, groupID string, messages []model.Message) (Result, error) {
	const op = "confirm"
	if strings.TrimSpace(groupID) == "" {
		s.metrics.WindowOp(op, "error")
		return Result{}, ErrEmptyGroup
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.MessageID)
	}
	ids = store.CompactIDs(ids)

	res := Result{GroupID: groupID, Precise: len(ids) > 0}
	var err error
	if res.Precise {
		res.Modified, err = s.store.ConfirmMessages(ctx, groupID, ids)
	} else {
		res.Modified, err = s.store.ConfirmGroup(ctx, groupID)
	}
	if err != nil {
		s.fail(op, groupID, err)
		return Result{}, err
	}

	s.metrics.WindowOp(op, "ok")
	s.metrics.Transitioned(model.StatusAccumulating.String(), res.Modified)
	s.logger.Info("window confirmed",
		"group_id", groupID, "modified", res.Modified, "precise", res.Precise, "ids", len(ids))
	if res.Modified > 0 {
		ev := events.WindowConfirmed{GroupID: groupID, Modified: res.Modified, Precise: res.Precise}
		if res.Precise {
			ev.MessageIDs = ids
		}
		s.publish(ctx, events.TopicWindowConfirmed, groupID, ev)
	}
	return res, nil
}

// ReadWindow returns the group's ACCUMULATING records as messages, oldest
// first. Records that cannot be reconstructed are skipped.
func (s *Service) ReadWindow(ctx context.Context, groupID string, opts ReadOptions) ([]*model.Message, error) {
	const op = "read"
	if strings.TrimSpace(groupID) == "" {
		s.metrics.WindowOp(op, "error")
		return nil, ErrEmptyGroup
	}

	recs, err := s.store.FindByGroup(ctx, model.RecordFilter{
		GroupID: groupID,
		Status:  model.StatusPtr(model.StatusAccumulating),
		Start:   opts.Start,
		End:     opts.End,
		Limit:   opts.Limit,
	})
	if err != nil {
		s.fail(op, groupID, err)
		return nil, err
	}

	msgs := s.mapper.ToMessageList(recs)
	s.metrics.WindowOp(op, "ok")
	s.logger.Debug("window read", "group_id", groupID, "records", len(recs), "messages", len(msgs))
	return msgs, nil
}

// CloseWindow marks every LOGGED or ACCUMULATING record of the group
// CONSUMED. Nothing is deleted.
func (s *Service) CloseWindow(ctx context.Context, groupID string) (Result, error) {
	const op = "close"
	if strings.TrimSpace(groupID) == "" {
		s.metrics.WindowOp(op, "error")
		return Result{}, ErrEmptyGroup
	}

	n, err := s.store.CloseGroup(ctx, groupID)
	if err != nil {
		s.fail(op, groupID, err)
		return Result{}, err
	}

	s.metrics.WindowOp(op, "ok")
	s.metrics.Transitioned(model.StatusConsumed.String(), n)
	s.logger.Info("window closed", "group_id", groupID, "modified", n)
	if n > 0 {
		s.publish(ctx, events.TopicWindowClosed, groupID, events.WindowClosed{GroupID: groupID, Modified: n})
		if s.archiver != nil {
			s.archiver.Enqueue(groupID)
		}
	}
	return Result{GroupID: groupID, Modified: n}, nil
}

func (s *Service) fail(op, groupID string, err error) {
	s.metrics.WindowOp(op, "error")
	s.metrics.StoreError(op)
	s.logger.Error("window "+op+" failed", "group_id", groupID, "error", err)
}

// publish is best-effort; failures are logged but do not fail the operation.
func (s *Service) publish(ctx context.Context, topic, groupID string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "group_id", groupID, "error", err)
	}
}
