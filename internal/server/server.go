package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/archive"
	"github.com/alfredjeanlab/memlog/internal/events"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/metrics"
	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
	"github.com/alfredjeanlab/memlog/internal/window"
)

// errArchiveDisabled is returned by ArchiveGroup when no destination is set.
var errArchiveDisabled = inputError("archiving is not configured")

// Options holds the collaborators of a RecordServer. Store and Window are
// required.
type Options struct {
	Store     store.Store
	Window    window.Repository
	Listener  *listener.Listener
	Archiver  *archive.Archiver
	Publisher events.Publisher
	Hub       *EventHub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// RecordServer implements the memlog operations behind the HTTP and gRPC
// transports.
type RecordServer struct {
	store     store.Store
	window    window.Repository
	listener  *listener.Listener
	archiver  *archive.Archiver
	publisher events.Publisher
	hub       *EventHub
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRecordServer returns a RecordServer. Missing optional collaborators get
// working defaults: a noop publisher, a fresh hub and a listener over Store.
func NewRecordServer(opts Options) *RecordServer {
	s := &RecordServer{
		store:     opts.Store,
		window:    opts.Window,
		listener:  opts.Listener,
		archiver:  opts.Archiver,
		publisher: opts.Publisher,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.hub == nil {
		s.hub = NewEventHub()
	}
	if s.publisher == nil {
		s.publisher = s.hub
	}
	if s.listener == nil {
		s.listener = listener.New(s.store, s.publisher, s.metrics, s.logger)
	}
	return s
}

// Hub returns the event hub feeding the SSE stream.
func (s *RecordServer) Hub() *EventHub {
	return s.hub
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// isInputError reports whether err was caused by the caller.
func isInputError(err error) bool {
	var ie inputError
	var ve *model.ValidationError
	return errors.As(err, &ie) || errors.As(err, &ve) || errors.Is(err, window.ErrEmptyGroup)
}

func required(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return inputError(name + " is required")
	}
	return nil
}

// Health pings the store.
func (s *RecordServer) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IngestRecord stores an observed request as a LOGGED record.
func (s *RecordServer) IngestRecord(ctx context.Context, req listener.ObservedRequest) (*model.Record, error) {
	return s.listener.Observe(ctx, req)
}

// GetRecord returns the first record logged for requestID.
func (s *RecordServer) GetRecord(ctx context.Context, requestID string) (*model.Record, error) {
	if err := required("request_id", requestID); err != nil {
		return nil, err
	}
	return s.store.GetByRequestID(ctx, requestID)
}

// ListGroupRecords returns a group's records, oldest first.
func (s *RecordServer) ListGroupRecords(ctx context.Context, req api.ListGroupRecordsRequest) ([]*model.Record, error) {
	if err := required("group_id", req.GroupID); err != nil {
		return nil, err
	}
	filter := model.RecordFilter{GroupID: req.GroupID, Limit: req.Limit}

	switch st := strings.TrimSpace(req.Status); st {
	case "", "all":
	default:
		parsed, err := model.ParseSyncStatus(st)
		if err != nil {
			return nil, inputError(err.Error())
		}
		filter.Status = &parsed
	}

	var err error
	if filter.Start, err = window.ParseBound(req.Start); err != nil {
		return nil, inputError(fmt.Sprintf("invalid start: %v", err))
	}
	if filter.End, err = window.ParseBound(req.End); err != nil {
		return nil, inputError(fmt.Sprintf("invalid end: %v", err))
	}
	return s.store.FindByGroup(ctx, filter)
}

// ListUserRecords returns a user's records, newest first.
func (s *RecordServer) ListUserRecords(ctx context.Context, userID string, limit int) ([]*model.Record, error) {
	if err := required("user_id", userID); err != nil {
		return nil, err
	}
	return s.store.FindByUser(ctx, userID, limit)
}

// PurgeGroup physically deletes every record of a group. It is an
// administrative operation and refuses to run unless confirm is set.
func (s *RecordServer) PurgeGroup(ctx context.Context, groupID string, confirm bool) (int64, error) {
	if err := required("group_id", groupID); err != nil {
		return 0, err
	}
	if !confirm {
		return 0, inputError("purge permanently deletes records; pass confirm=true")
	}
	n, err := s.store.DeleteByGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("group purged", "group_id", groupID, "deleted", n)
	if err := s.publisher.Publish(ctx, events.TopicGroupPurged, events.GroupPurged{GroupID: groupID, Deleted: n}); err != nil {
		s.logger.Warn("failed to publish event", "topic", events.TopicGroupPurged, "group_id", groupID, "error", err)
	}
	return n, nil
}

// ConfirmWindow confirms records into the group's window.
func (s *RecordServer) ConfirmWindow(ctx context.Context, groupID string, messages []model.Message) (window.Result, error) {
	return s.window.ConfirmWindow(ctx, groupID, messages)
}

// ReadWindow returns the group's open window. start and end are ISO-8601.
func (s *RecordServer) ReadWindow(ctx context.Context, req api.ReadWindowRequest) ([]*model.Message, error) {
	start, err := window.ParseBound(req.Start)
	if err != nil {
		return nil, inputError(fmt.Sprintf("invalid start: %v", err))
	}
	end, err := window.ParseBound(req.End)
	if err != nil {
		return nil, inputError(fmt.Sprintf("invalid end: %v", err))
	}
	return s.window.ReadWindow(ctx, req.GroupID, window.ReadOptions{Start: start, End: end, Limit: req.Limit})
}

// CloseWindow marks the group's records CONSUMED.
func (s *RecordServer) CloseWindow(ctx context.Context, groupID string) (window.Result, error) {
	return s.window.CloseWindow(ctx, groupID)
}

// ArchiveGroup exports the group synchronously.
func (s *RecordServer) ArchiveGroup(ctx context.Context, groupID string) (archive.Result, error) {
	if err := required("group_id", groupID); err != nil {
		return archive.Result{}, err
	}
	if s.archiver == nil {
		return archive.Result{}, errArchiveDisabled
	}
	return s.archiver.ArchiveNow(ctx, groupID)
}

func toWindowResult(r window.Result) api.WindowResult {
	return api.WindowResult{GroupID: r.GroupID, Modified: r.Modified, Precise: r.Precise}
}

func toArchiveResult(r archive.Result) api.ArchiveResult {
	return api.ArchiveResult{GroupID: r.GroupID, Object: r.Object, Records: r.Records}
}
