package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	limiterTTL           = 10 * time.Minute
	limiterCleanupPeriod = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client. A client is its bearer token
// when present, otherwise its remote host. Idle buckets are evicted after ten
// minutes.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*limiterEntry
	now     func() time.Time

	start    sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRateLimiter returns a limiter allowing rps requests per second with the
// given burst per client. It returns nil when rps <= 0; a nil limiter allows
// everything.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Stop ends idle-bucket eviction and waits for it to exit. It is safe to
// call more than once and on a nil limiter.
func (l *RateLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stop) })
	// Claim the start if eviction never ran so done is still closed.
	l.start.Do(func() { close(l.done) })
	<-l.done
}

// Allow reports whether key may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.start.Do(func() { go l.cleanupLoop() })

	l.mu.Lock()
	e, ok := l.clients[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = l.now()
	l.mu.Unlock()
	return e.l.Allow()
}

func (l *RateLimiter) cleanupLoop() {
	defer close(l.done)
	ticker := time.NewTicker(limiterCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *RateLimiter) evictIdle() {
	cutoff := l.now().Add(-limiterTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.clients {
		if e.lastSeen.Before(cutoff) {
			delete(l.clients, k)
		}
	}
}

// httpClientKey identifies the caller of an HTTP request.
func httpClientKey(r *http.Request) string {
	if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return "token:" + tok
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// grpcClientKey identifies the caller of an RPC.
func grpcClientKey(ctx context.Context) string {
	if tok, ok := bearerToken(incomingAuth(ctx)); ok {
		return "token:" + tok
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host, _, err := net.SplitHostPort(p.Addr.String())
		if err != nil {
			host = p.Addr.String()
		}
		return "ip:" + host
	}
	return "unknown"
}

// RateLimitMiddleware rejects requests over the client's budget with 429.
// The health and metrics endpoints are never limited.
func RateLimitMiddleware(l *RateLimiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if !l.Allow(httpClientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitInterceptor is the gRPC counterpart of RateLimitMiddleware.
func RateLimitInterceptor(l *RateLimiter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if l == nil || info.FullMethod == healthMethod {
			return handler(ctx, req)
		}
		if !l.Allow(grpcClientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
