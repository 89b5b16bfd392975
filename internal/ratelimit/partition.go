package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kjstillabower/forecast-service/internal/auth"
)

// KeyFunc derives the partition key for a request.
type KeyFunc func(r *http.Request) string

// PartitionKey returns the key derivation used by the rate gate, in order:
//  1. the authenticated principal name,
//  2. the client IP (first X-Forwarded-For hop when trustForwardedFor, else RemoteAddr),
//  3. a fresh random UUID.
//
// The third step gives every such request its own partition, so clients with neither
// identity nor address are effectively not rate limited.
func PartitionKey(trustForwardedFor bool) KeyFunc {
	return func(r *http.Request) string {
		if name, ok := auth.PrincipalFromContext(r.Context()); ok {
			return name
		}
		if ip := ClientIP(r, trustForwardedFor); ip != "" {
			return ip
		}
		return uuid.NewString()
	}
}

// ClientIP returns the request's client address in canonical form, or "" when none
// can be parsed.
func ClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
