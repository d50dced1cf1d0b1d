// Package httputil holds small HTTP request helpers shared by the API and
// stream layers.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the address the per-IP stream limiter keys on. By
// default that is the peer address from RemoteAddr with the port stripped.
// With trustProxy set, forwarding headers are consulted first so streams are
// limited per end client rather than per reverse proxy; never set it on a
// directly exposed server, since the headers are client-controlled.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := forwardedClient(r.Header); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, seen with some test clients.
		return r.RemoteAddr
	}
	return host
}

// forwardedClient reads X-Forwarded-For (leftmost entry, the originating
// client) and falls back to X-Real-IP.
func forwardedClient(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(h.Get("X-Real-IP"))
}
