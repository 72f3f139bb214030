package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/synnergy-labs/challenge-gate/challengeserver/services"
)

// statusRecorder captures the status code written by the handler chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Recorder appends every request to the manager request log,
// best-effort: recording failures never affect the response.
func Recorder(svc *services.ManagerService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			svc.RecordRequest(r.Context(), services.RequestRecord{
				Timestamp: time.Now().Unix(),
				RemoteIP:  remoteIP(r),
				Path:      r.URL.Path,
				Status:    rec.status,
			})
		})
	}
}

func remoteIP(r *http.Request) string {
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
