package service

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// ipLimiter keeps a token bucket per client ip, idle buckets are forgotten.
type ipLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:   limit,
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](4096, nil, time.Hour),
	}
}

// allow takes a token for ip, when there is none it returns how long until there will be.
func (l *ipLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	bucket, ok := l.buckets.Get(ip)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(ip, bucket)
	}
	l.mu.Unlock()

	reservation := bucket.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Service) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := s.limiter.allow(ip, s.time.Now())
		if !ok {
			s.tel.ReportDebug("rate limited", ip)
			seconds := int(math.Ceil(wait.Seconds()))
			w.Header().Set("retry-after", strconv.Itoa(seconds))
			s.writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again in "+strconv.Itoa(seconds)+" seconds.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
