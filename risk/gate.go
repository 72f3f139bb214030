package risk

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synnergy-labs/challenge-gate/kv"
)

// Gate composes the two admission stages, rate limiter then header/ASN
// scorer, into one middleware run before any protected route handler.
type Gate struct {
	Limiter *RateLimiter
	Scorer  *Scorer
	Store   kv.Store
	Logger  *logrus.Logger
}

// NewGate builds a Gate from its two stages.
func NewGate(limiter *RateLimiter, scorer *Scorer, store kv.Store, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{Limiter: limiter, Scorer: scorer, Store: store, Logger: logger}
}

// Middleware returns the func(http.Handler) http.Handler to register
// in front of the protected routes.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ctx := r.Context()

		if g.Limiter != nil {
			if blockErr, err := g.Limiter.Allow(ctx, g.Store, ip, time.Now()); err != nil {
				g.Logger.WithError(err).Error("risk: rate limiter failure")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			} else if blockErr != nil {
				if g.Scorer != nil {
					g.Scorer.RecordBlockedIP(ctx, ip)
				}
				w.Header().Set("Retry-After", strconv.Itoa(blockErr.RetryAfter))
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}

		if g.Scorer != nil {
			headers := Headers{
				UserAgent: r.Header.Get("User-Agent"),
				Origin:    r.Header.Get("Origin"),
				Referer:   r.Header.Get("Referer"),
				SecCHUA:   r.Header.Get("Sec-CH-UA"),
				Via:       r.Header.Get("Via"),
				RemoteIP:  ip,
			}
			if blockErr := g.Scorer.Evaluate(ctx, headers); blockErr != nil {
				if logrus.GetLevel() == logrus.DebugLevel {
					g.Logger.WithField("reasons", blockErr.Reasons).Debug("risk: request blocked")
				}
				http.Error(w, "risk", http.StatusForbidden)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the request's source IP, preferring the first hop
// of X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if comma := strings.IndexByte(xff, ','); comma >= 0 {
			return xff[:comma]
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
