// Package auth performs connection admission: allowlist, rate ceiling and
// credential checks run once per connection, strictly before any streaming
// resource is allocated.
package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

const bearerPrefix = "bearer."

// Rejection is a failed admission. It carries the HTTP status the handshake
// should be terminated with; it is never retried server-side.
type Rejection struct {
	Status int
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// Admitter runs the three admission checks in order: source allowlist,
// sliding-window rate ceiling, bearer sub-protocol credential.
type Admitter struct {
	secret    string
	allowlist []string
	limiter   *RateLimiter
}

// NewAdmitter builds an admitter. An empty allowlist admits any source
// address; the secret must be non-empty for any connection to pass.
func NewAdmitter(secret string, allowlist []string, limiter *RateLimiter) *Admitter {
	return &Admitter{secret: secret, allowlist: allowlist, limiter: limiter}
}

// Admit validates the handshake request. On success it returns the exact
// sub-protocol token the upgrade response must echo back.
func (a *Admitter) Admit(r *http.Request) (string, *Rejection) {
	host := remoteHost(r)

	if len(a.allowlist) > 0 && !a.hostAllowed(host) {
		return "", &Rejection{Status: http.StatusForbidden, Reason: "source address not allowed"}
	}

	if a.limiter != nil && !a.limiter.Allow(host+" "+r.URL.Path) {
		return "", &Rejection{Status: http.StatusTooManyRequests, Reason: "rate limit exceeded"}
	}

	proto, ok := selectBearerProtocol(r.Header)
	if !ok {
		return "", &Rejection{Status: http.StatusUnauthorized, Reason: "missing bearer sub-protocol"}
	}
	token := proto[len(bearerPrefix):]
	if a.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
		return "", &Rejection{Status: http.StatusUnauthorized, Reason: "invalid credential"}
	}

	return proto, nil
}

func (a *Admitter) hostAllowed(host string) bool {
	for _, prefix := range a.allowlist {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

// selectBearerProtocol returns the first offered sub-protocol matching
// bearer.<token>, prefix-matched case-insensitively. The token itself is
// returned verbatim so the response can echo it exactly.
func selectBearerProtocol(h http.Header) (string, bool) {
	for _, line := range h.Values("Sec-WebSocket-Protocol") {
		for _, offer := range strings.Split(line, ",") {
			offer = strings.TrimSpace(offer)
			if len(offer) > len(bearerPrefix) && strings.EqualFold(offer[:len(bearerPrefix)], bearerPrefix) {
				return offer, true
			}
		}
	}
	return "", false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
