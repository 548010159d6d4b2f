// Package client provides a transport-agnostic interface for the memlog
// service with HTTP/JSON and gRPC implementations.
package client

import (
	"context"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/model"
)

// RecordClient is the interface that all mlog CLI commands use to talk to
// the memlog server. It is implemented by HTTPClient (default) and GRPCClient.
type RecordClient interface {
	// Records
	IngestRecord(ctx context.Context, req listener.ObservedRequest) (*model.Record, error)
	GetRecord(ctx context.Context, requestID string) (*model.Record, error)
	ListGroupRecords(ctx context.Context, req api.ListGroupRecordsRequest) ([]*model.Record, error)
	ListUserRecords(ctx context.Context, userID string, limit int) ([]*model.Record, error)
	PurgeGroup(ctx context.Context, groupID string) (int64, error)

	// Accumulation window
	ConfirmWindow(ctx context.Context, req api.ConfirmWindowRequest) (*api.WindowResult, error)
	ReadWindow(ctx context.Context, req api.ReadWindowRequest) ([]*model.Message, error)
	CloseWindow(ctx context.Context, groupID string) (*api.WindowResult, error)

	// Archive
	ArchiveGroup(ctx context.Context, groupID string) (*api.ArchiveResult, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

var (
	_ RecordClient = (*HTTPClient)(nil)
	_ RecordClient = (*GRPCClient)(nil)
)
