package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agencyhub/api/internal/config"
	redisinfra "github.com/agencyhub/api/internal/infra/redis"
	"github.com/agencyhub/api/internal/metrics"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/apierror"
	"github.com/agencyhub/api/pkg/logger"
)

const visitorTTL = 3 * time.Minute

// ClientLimiter is an in-process token bucket per caller. Authenticated
// callers are keyed by user id, anonymous ones by client address.
type ClientLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	logger   *logger.Logger

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter starts a limiter and its idle visitor sweeper. Call Stop
// on shutdown.
func NewClientLimiter(cfg config.RateLimitConfig, log *logger.Logger) *ClientLimiter {
	cl := &ClientLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		logger:   log.With("component", "client_rate_limit"),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go cl.sweep(time.Minute)
	return cl
}

// Stop ends the sweeper. Safe to call more than once.
func (cl *ClientLimiter) Stop() {
	cl.stopOnce.Do(func() { close(cl.done) })
	<-cl.stopped
}

func (cl *ClientLimiter) visitor(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	v, ok := cl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (cl *ClientLimiter) sweep(every time.Duration) {
	defer close(cl.stopped)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			for k, v := range cl.visitors {
				if time.Since(v.lastSeen) > visitorTTL {
					delete(cl.visitors, k)
				}
			}
			cl.mu.Unlock()
		}
	}
}

// Middleware enforces the limit and sets the X-RateLimit headers.
func (cl *ClientLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			lim := cl.visitor(key)

			allowed := lim.Allow()
			tokens := lim.Tokens()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cl.burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, math.Floor(tokens)))))

			if !allowed {
				metrics.RateLimited.WithLabelValues("client").Inc()
				cl.logger.WithContext(r.Context()).Warn("client rate limit exceeded", "key", key, "path", r.URL.Path)
				retry := 1
				if cl.limit > 0 {
					retry = max(1, int(math.Ceil((1-tokens)/float64(cl.limit))))
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				apierror.TooManyRequests("").WriteJSONWithRequestID(w, GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey prefers the authenticated user over the address. RemoteAddr is
// already resolved from proxy headers by the router.
func clientKey(r *http.Request) string {
	if p, ok := tenancy.PrincipalFrom(r.Context()); ok && !p.UserID.IsZero() {
		return "user:" + p.UserID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// QuotaLimiter is a window quota shared across API instances.
type QuotaLimiter interface {
	Allow(ctx context.Context, key string) (*redisinfra.RateLimitResult, error)
	Limit() int
}

// SubmissionQuota caps analysis submissions per agency. Unrestricted
// principals without an agency share the "platform" bucket. When the quota
// store is unreachable the request is let through.
func SubmissionQuota(q QuotaLimiter, log *logger.Logger) func(http.Handler) http.Handler {
	log = log.With("component", "submission_quota")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "platform"
			if p, ok := tenancy.PrincipalFrom(r.Context()); ok && !p.AgencyID.IsZero() {
				key = "agency:" + p.AgencyID.String()
			}

			res, err := q.Allow(r.Context(), key)
			if err != nil {
				log.WithContext(r.Context()).Error("submission quota check failed", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				metrics.RateLimited.WithLabelValues("submission").Inc()
				retry := max(1, int(math.Ceil(time.Until(res.ResetAt).Seconds())))
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				log.WithContext(r.Context()).Warn("submission quota exceeded", "key", key, "reset_at", res.ResetAt)
				apierror.TooManyRequests("Analysis submission quota exceeded").
					WriteJSONWithRequestID(w, GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
