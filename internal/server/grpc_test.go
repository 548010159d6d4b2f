package server

import (
	"context"
	"net"
	"testing"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// startGRPC serves ts over an in-memory listener and returns a connection.
func startGRPC(t *testing.T, ts *testServer, opts GRPCOptions) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(ts.srv, opts)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// invoke calls method with req and decodes the response into resp.
func invoke(ctx context.Context, t *testing.T, conn *grpc.ClientConn, method string, req, resp any) error {
	t.Helper()
	in, err := api.ToStruct(req)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	if resp != nil {
		if err := api.FromStruct(out, resp); err != nil {
			t.Fatalf("FromStruct: %v", err)
		}
	}
	return nil
}

// requireCode asserts that err is a gRPC error with the given status code.
func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected gRPC error with code %v, got nil", code)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status error, got %v", err)
	}
	if st.Code() != code {
		t.Fatalf("expected code=%v, got %v (%v)", code, st.Code(), err)
	}
}

func TestGRPC_WindowLifecycle(t *testing.T) {
	ts := newTestServer(t)
	conn := startGRPC(t, ts, GRPCOptions{})
	ctx := context.Background()

	var rec model.Record
	if err := invoke(ctx, t, conn, api.MethodIngestRecord, map[string]any{
		"request_id": "req-1",
		"group_id":   "g1",
		"body":       map[string]any{"message_id": "m1", "sender": "u1", "content": "hi"},
	}, &rec); err != nil {
		t.Fatalf("IngestRecord: %v", err)
	}
	if rec.MessageID != "m1" || rec.SyncStatus != model.StatusLogged {
		t.Fatalf("ingested = %+v", rec)
	}
	ts.ingest(t, "g1", 1)

	var res api.WindowResult
	if err := invoke(ctx, t, conn, api.MethodConfirmWindow, api.ConfirmWindowRequest{GroupID: "g1", MessageIDs: []string{"m1"}}, &res); err != nil {
		t.Fatalf("ConfirmWindow: %v", err)
	}
	if res.Modified != 1 || !res.Precise {
		t.Fatalf("confirm = %+v", res)
	}

	var window api.ReadWindowResponse
	if err := invoke(ctx, t, conn, api.MethodReadWindow, api.ReadWindowRequest{GroupID: "g1"}, &window); err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if len(window.Messages) != 1 || window.Messages[0].Content != "hi" {
		t.Fatalf("window = %+v", window.Messages)
	}

	if err := invoke(ctx, t, conn, api.MethodCloseWindow, api.GroupRequest{GroupID: "g1"}, &res); err != nil {
		t.Fatalf("CloseWindow: %v", err)
	}
	if res.Modified != 2 {
		t.Fatalf("close = %+v", res)
	}

	var recs api.RecordsResponse
	if err := invoke(ctx, t, conn, api.MethodListGroupRecords, api.ListGroupRecordsRequest{GroupID: "g1"}, &recs); err != nil {
		t.Fatalf("ListGroupRecords: %v", err)
	}
	for _, r := range recs.Records {
		if r.SyncStatus != model.StatusConsumed {
			t.Fatalf("record %s status = %v, want consumed", r.ID, r.SyncStatus)
		}
	}

	var archived api.ArchiveResult
	if err := invoke(ctx, t, conn, api.MethodArchiveGroup, api.GroupRequest{GroupID: "g1"}, &archived); err != nil {
		t.Fatalf("ArchiveGroup: %v", err)
	}
	if archived.Records != 2 {
		t.Fatalf("archived = %+v", archived)
	}
}

func TestGRPC_ErrorCodes(t *testing.T) {
	ts := newTestServer(t)
	conn := startGRPC(t, ts, GRPCOptions{})
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		method string
		req    any
		code   codes.Code
	}{
		{"GetRecord/MissingID", api.MethodGetRecord, api.GetRecordRequest{}, codes.InvalidArgument},
		{"GetRecord/NotFound", api.MethodGetRecord, api.GetRecordRequest{RequestID: "nope"}, codes.NotFound},
		{"ConfirmWindow/MissingGroup", api.MethodConfirmWindow, api.ConfirmWindowRequest{}, codes.InvalidArgument},
		{"CloseWindow/MissingGroup", api.MethodCloseWindow, api.GroupRequest{}, codes.InvalidArgument},
		{"PurgeGroup/NoConfirm", api.MethodPurgeGroup, api.PurgeGroupRequest{GroupID: "g1"}, codes.InvalidArgument},
		{"ListUserRecords/MissingUser", api.MethodListUserRecords, api.ListUserRecordsRequest{}, codes.InvalidArgument},
		{"IngestRecord/Invalid", api.MethodIngestRecord, map[string]any{"request_id": "r"}, codes.InvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			requireCode(t, invoke(ctx, t, conn, tc.method, tc.req, nil), tc.code)
		})
	}
}

func TestGRPC_AuthAndHealth(t *testing.T) {
	ts := newTestServer(t)
	conn := startGRPC(t, ts, GRPCOptions{AuthToken: "secret"})
	ctx := context.Background()

	var health api.HealthResponse
	if err := invoke(ctx, t, conn, api.MethodHealth, struct{}{}, &health); err != nil {
		t.Fatalf("Health should be exempt from auth: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("health = %+v", health)
	}

	err := invoke(ctx, t, conn, api.MethodCloseWindow, api.GroupRequest{GroupID: "g1"}, nil)
	requireCode(t, err, codes.Unauthenticated)

	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer secret")
	if err := invoke(authed, t, conn, api.MethodCloseWindow, api.GroupRequest{GroupID: "g1"}, nil); err != nil {
		t.Fatalf("authed CloseWindow: %v", err)
	}
}

func TestGRPC_RateLimited(t *testing.T) {
	ts := newTestServer(t)
	conn := startGRPC(t, ts, GRPCOptions{Limiter: NewRateLimiter(0.001, 1)})
	ctx := context.Background()

	if err := invoke(ctx, t, conn, api.MethodCloseWindow, api.GroupRequest{GroupID: "g1"}, nil); err != nil {
		t.Fatalf("first call: %v", err)
	}
	requireCode(t, invoke(ctx, t, conn, api.MethodCloseWindow, api.GroupRequest{GroupID: "g1"}, nil), codes.ResourceExhausted)
}

func TestToStatus(t *testing.T) {
	if got := status.Code(toStatus(context.Canceled)); got != codes.Canceled {
		t.Errorf("context.Canceled -> %v", got)
	}
	already := status.Error(codes.Unavailable, "down")
	if toStatus(already) != already {
		t.Error("status errors should pass through")
	}
	if got := status.Code(toStatus(net.ErrClosed)); got != codes.Internal {
		t.Errorf("unexpected error -> %v", got)
	}
}
