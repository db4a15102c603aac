package handlers

import (
	"net/http"
	"strings"
)

// LoopbackIdentity is used when no client address header is present.
const LoopbackIdentity = "127.0.0.1"

// ClientIdentity derives the admission key for r: the first non-empty entry of
// X-Forwarded-For, else X-Real-IP, else LoopbackIdentity. Headers are trusted
// as sent; the service is expected to run behind a proxy that sets them.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return LoopbackIdentity
}
