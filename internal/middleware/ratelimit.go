package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tablepay/payments-reconciler/internal/auth"
	"github.com/tablepay/payments-reconciler/internal/domain"
	"github.com/tablepay/payments-reconciler/internal/handler"
	"github.com/tablepay/payments-reconciler/internal/logging"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds one token bucket per caller key. Buckets idle for
// longer than idleTTL are dropped by Sweep.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

func NewKeyedLimiter(perMinute, burst int, idleTTL time.Duration) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

func (l *KeyedLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Allow takes a token for key. When the bucket is empty it returns a
// RateLimitError with the time until the next token.
func (l *KeyedLimiter) Allow(key string) error {
	now := l.now()
	res := l.get(key, now).ReserveN(now, 1)
	if !res.OK() {
		return &domain.RateLimitError{RetryAfter: time.Minute}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return &domain.RateLimitError{RetryAfter: delay}
	}
	return nil
}

// Sweep drops buckets not used within idleTTL and returns how many it
// dropped. A dropped key starts again with a full bucket, so idleTTL should
// be at least the time a bucket takes to refill.
func (l *KeyedLimiter) Sweep() int {
	if l.idleTTL <= 0 {
		return 0
	}
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Start sweeps idle buckets every interval until ctx is done.
func (l *KeyedLimiter) Start(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logger.Debug("evicted idle rate limit buckets", "count", n, "remaining", l.Len())
			}
		}
	}
}

// KeyFunc picks the identity a request is limited by. An empty key falls
// back to the peer address.
type KeyFunc func(r *http.Request) string

func OperatorKey(r *http.Request) string {
	if id, ok := auth.OperatorFromContext(r.Context()); ok {
		return "operator:" + id
	}
	return ""
}

// ParseTrustedProxies accepts CIDR prefixes or bare addresses.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIPKey keys requests by the peer address. X-Forwarded-For is only
// read when the peer is a trusted proxy, and then the rightmost hop that is
// not itself trusted is the client.
func ClientIPKey(trusted []netip.Prefix) KeyFunc {
	return func(r *http.Request) string {
		peer := peerAddr(r)
		addr, err := netip.ParseAddr(peer)
		if err != nil || !isTrusted(addr.Unmap(), trusted) {
			return "ip:" + peer
		}

		hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
		client := peer
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			a, err := netip.ParseAddr(hop)
			if err != nil {
				break
			}
			client = a.Unmap().String()
			if !isTrusted(a.Unmap(), trusted) {
				break
			}
		}
		return "ip:" + client
	}
}

func RateLimit(limiter *KeyedLimiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				key = "ip:" + peerAddr(r)
			}

			if err := limiter.Allow(key); err != nil {
				logging.FromContext(r.Context()).Warn("rate limit exceeded", "key", key, "error", err)
				handler.RespondDomainError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
