// Package realip resolves the originating client address of an HTTP
// request. Rate limiting and connection throttling key on it, so the
// websocket and REST paths must agree on the answer.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest returns the peer address, trusting the first hop of
// X-Forwarded-For when a proxy set it. Without the header the host part
// of RemoteAddr is used.
func FromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
