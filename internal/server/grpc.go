package server

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var healthMethod = api.FullMethod(api.MethodHealth)

// GRPCOptions configures NewGRPCServer.
type GRPCOptions struct {
	AuthToken string
	Limiter   *RateLimiter
}

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the RecordService and reflection, and returns the server ready to serve.
func NewGRPCServer(rs *RecordServer, opts GRPCOptions) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(opts.AuthToken),
			RateLimitInterceptor(opts.Limiter),
		),
	)

	srv.RegisterService(&recordServiceDesc, rs)
	reflection.Register(srv)

	return srv
}

// recordServiceDesc registers the RecordService without generated stubs.
// Every request and response is a google.protobuf.Struct holding the JSON
// form of the api types.
var recordServiceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(api.MethodHealth, func(ctx context.Context, s *RecordServer, _ *structpb.Struct) (any, error) {
			if err := s.Health(ctx); err != nil {
				return nil, status.Errorf(codes.Unavailable, "store unavailable: %v", err)
			}
			return api.HealthResponse{Status: "ok"}, nil
		}),
		unaryMethod(api.MethodIngestRecord, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req listener.ObservedRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			return s.IngestRecord(ctx, req)
		}),
		unaryMethod(api.MethodGetRecord, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.GetRecordRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			return s.GetRecord(ctx, req.RequestID)
		}),
		unaryMethod(api.MethodListGroupRecords, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.ListGroupRecordsRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			recs, err := s.ListGroupRecords(ctx, req)
			if err != nil {
				return nil, err
			}
			return api.RecordsResponse{Records: recs}, nil
		}),
		unaryMethod(api.MethodListUserRecords, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.ListUserRecordsRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			recs, err := s.ListUserRecords(ctx, req.UserID, req.Limit)
			if err != nil {
				return nil, err
			}
			return api.RecordsResponse{Records: recs}, nil
		}),
		unaryMethod(api.MethodPurgeGroup, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.PurgeGroupRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			n, err := s.PurgeGroup(ctx, req.GroupID, req.Confirm)
			if err != nil {
				return nil, err
			}
			return api.PurgeGroupResponse{GroupID: req.GroupID, Deleted: n}, nil
		}),
		unaryMethod(api.MethodConfirmWindow, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.ConfirmWindowRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			res, err := s.ConfirmWindow(ctx, req.GroupID, req.AllMessages())
			if err != nil {
				return nil, err
			}
			return toWindowResult(res), nil
		}),
		unaryMethod(api.MethodReadWindow, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.ReadWindowRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			msgs, err := s.ReadWindow(ctx, req)
			if err != nil {
				return nil, err
			}
			return api.ReadWindowResponse{GroupID: req.GroupID, Messages: msgs}, nil
		}),
		unaryMethod(api.MethodCloseWindow, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.GroupRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			res, err := s.CloseWindow(ctx, req.GroupID)
			if err != nil {
				return nil, err
			}
			return toWindowResult(res), nil
		}),
		unaryMethod(api.MethodArchiveGroup, func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error) {
			var req api.GroupRequest
			if err := api.FromStruct(in, &req); err != nil {
				return nil, inputError(err.Error())
			}
			res, err := s.ArchiveGroup(ctx, req.GroupID)
			if err != nil {
				return nil, err
			}
			return toArchiveResult(res), nil
		}),
	},
	Metadata: "memlog/v1/record_service.proto",
}

type unaryCall func(ctx context.Context, s *RecordServer, in *structpb.Struct) (any, error)

// unaryMethod adapts call to a grpc.MethodDesc, running it through the
// server's interceptor chain and converting its result and error.
func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := api.FullMethod(name)
	invoke := func(ctx context.Context, s *RecordServer, in *structpb.Struct) (*structpb.Struct, error) {
		out, err := call(ctx, s, in)
		if err != nil {
			return nil, toStatus(err)
		}
		resp, err := api.ToStruct(out)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode response: %v", err)
		}
		return resp, nil
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*RecordServer)
			if interceptor == nil {
				return invoke(ctx, s, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return invoke(ctx, s, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// toStatus maps a service error to a gRPC status error.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case isInputError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
