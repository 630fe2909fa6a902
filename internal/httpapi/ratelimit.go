package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callerLimiter hands out one token-bucket limiter per caller address. The
// admin surface sees a handful of operator browsers, so the map stays small;
// entries idle for an hour are dropped on the next lookup sweep.
type callerLimiter struct {
	perMin int

	mu      sync.Mutex
	callers map[string]*callerEntry
}

type callerEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(perMin int) *callerLimiter {
	return &callerLimiter{
		perMin:  perMin,
		callers: make(map[string]*callerEntry),
	}
}

func (l *callerLimiter) allow(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.callers[caller]
	if !ok {
		e = &callerEntry{
			lim:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin),
			lastSeen: now,
		}
		l.callers[caller] = e
		l.sweep(now)
	}
	e.lastSeen = now
	return e.lim.Allow()
}

func (l *callerLimiter) sweep(now time.Time) {
	for k, e := range l.callers {
		if now.Sub(e.lastSeen) > time.Hour {
			delete(l.callers, k)
		}
	}
}

// rateLimit rejects over-limit callers with 429 before the handler runs, so
// an exhausted limit never has side effects.
func rateLimit(l *callerLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(callerKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited",
				"too many requests from this caller, slow down")
			return
		}
		next(w, r)
	}
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
