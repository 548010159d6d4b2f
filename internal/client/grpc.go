package client

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCClient implements RecordClient using the gRPC transport.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// call invokes method with req and decodes the response into resp.
func (c *GRPCClient) call(ctx context.Context, method string, req, resp any) error {
	in, err := api.ToStruct(req)
	if err != nil {
		return err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	return api.FromStruct(out, resp)
}

// --- Records ---

func (c *GRPCClient) IngestRecord(ctx context.Context, req listener.ObservedRequest) (*model.Record, error) {
	var rec model.Record
	if err := c.call(ctx, api.MethodIngestRecord, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *GRPCClient) GetRecord(ctx context.Context, requestID string) (*model.Record, error) {
	var rec model.Record
	if err := c.call(ctx, api.MethodGetRecord, api.GetRecordRequest{RequestID: requestID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *GRPCClient) ListGroupRecords(ctx context.Context, req api.ListGroupRecordsRequest) ([]*model.Record, error) {
	var resp api.RecordsResponse
	if err := c.call(ctx, api.MethodListGroupRecords, req, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *GRPCClient) ListUserRecords(ctx context.Context, userID string, limit int) ([]*model.Record, error) {
	var resp api.RecordsResponse
	if err := c.call(ctx, api.MethodListUserRecords, api.ListUserRecordsRequest{UserID: userID, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *GRPCClient) PurgeGroup(ctx context.Context, groupID string) (int64, error) {
	var resp api.PurgeGroupResponse
	if err := c.call(ctx, api.MethodPurgeGroup, api.PurgeGroupRequest{GroupID: groupID, Confirm: true}, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// --- Window ---

func (c *GRPCClient) ConfirmWindow(ctx context.Context, req api.ConfirmWindowRequest) (*api.WindowResult, error) {
	var res api.WindowResult
	if err := c.call(ctx, api.MethodConfirmWindow, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) ReadWindow(ctx context.Context, req api.ReadWindowRequest) ([]*model.Message, error) {
	var resp api.ReadWindowResponse
	if err := c.call(ctx, api.MethodReadWindow, req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *GRPCClient) CloseWindow(ctx context.Context, groupID string) (*api.WindowResult, error) {
	var res api.WindowResult
	if err := c.call(ctx, api.MethodCloseWindow, api.GroupRequest{GroupID: groupID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Archive ---

func (c *GRPCClient) ArchiveGroup(ctx context.Context, groupID string) (*api.ArchiveResult, error) {
	var res api.ArchiveResult
	if err := c.call(ctx, api.MethodArchiveGroup, api.GroupRequest{GroupID: groupID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Health ---

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp api.HealthResponse
	if err := c.call(ctx, api.MethodHealth, struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
