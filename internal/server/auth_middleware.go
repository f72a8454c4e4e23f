package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zeusync/cogniagent/internal/core/observability/log"
)

// tokenAuth rejects requests that do not carry the configured token. HTTP
// clients send it as a bearer token; browsers opening a websocket cannot set
// headers, so the token query parameter is accepted as well.
type tokenAuth struct {
	token  string
	logger log.Log
}

func (m tokenAuth) authorized(r *http.Request) bool {
	if m.token == "" {
		return true
	}
	presented := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		presented = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) == 1
}

func (m tokenAuth) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		m.logger.WithContext(r.Context()).Warn("Rejected unauthorized request",
			log.String("path", r.URL.Path),
			log.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, ErrUnauthorized)
	})
}
