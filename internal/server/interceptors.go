package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const bearerPrefix = "Bearer "

var (
	errMissingAuth   = errors.New("missing authorization header")
	errInvalidScheme = errors.New("invalid authorization scheme")
	errInvalidToken  = errors.New("invalid token")
)

// openPaths are served without a token or a rate limit.
var openPaths = map[string]bool{
	"/v1/health": true,
	"/metrics":   true,
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, bool) {
	tok, ok := strings.CutPrefix(header, bearerPrefix)
	return tok, ok
}

// checkBearer validates an Authorization header value against want.
func checkBearer(header, want string) error {
	if header == "" {
		return errMissingAuth
	}
	got, ok := bearerToken(header)
	if !ok {
		return errInvalidScheme
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return errInvalidToken
	}
	return nil
}

// incomingAuth returns the first authorization metadata value, or "".
func incomingAuth(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get("authorization"); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// rpcLogLevel picks the level for a finished call. Caller mistakes are
// warnings, everything else that failed is an error.
func rpcLogLevel(code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelInfo
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition,
		codes.Unauthenticated, codes.ResourceExhausted, codes.Canceled:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// LoggingInterceptor logs every unary call with its duration and status code.
func LoggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}
	if err != nil {
		attrs = append(attrs, "code", code.String(), "err", err)
	}
	slog.Log(ctx, rpcLogLevel(code), "rpc completed", attrs...)
	return resp, err
}

// RecoveryInterceptor turns a handler panic into codes.Internal.
func RecoveryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in rpc handler",
				"method", info.FullMethod,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			resp, err = nil, status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// AuthInterceptor requires "authorization: Bearer <token>" metadata on every
// call except Health. An empty token disables the check.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if token != "" && info.FullMethod != healthMethod {
			if err := checkBearer(incomingAuth(ctx), token); err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}
		return handler(ctx, req)
	}
}

// AuthMiddleware is the HTTP form of AuthInterceptor. GET requests for the
// health and metrics endpoints skip the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if err := checkBearer(r.Header.Get("Authorization"), token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
