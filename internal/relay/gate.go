package relay

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Upgrade gating for the two WebSocket endpoints. Rejections happen before
// the handshake completes and log only a reason category, never the supplied
// token.

const extensionOriginScheme = "chrome-extension://"

// authorizeClient validates a /cdp upgrade request. When a token is
// configured the token query parameter must match byte-for-byte; the
// comparison is constant-time so response timing does not leak the token.
func (r *Relay) authorizeClient(req *http.Request) (ok bool, reason string) {
	if r.opts.Token == "" {
		return true, ""
	}
	supplied := req.URL.Query().Get("token")
	if supplied == "" {
		return false, "no-token"
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(r.opts.Token)) != 1 {
		return false, "bad-token"
	}
	return true, ""
}

// authorizeExtension validates a /extension upgrade request. The Origin
// header must name an allowlisted extension.
func (r *Relay) authorizeExtension(req *http.Request) (extensionID string, ok bool, reason string) {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return "", false, "bad-origin"
	}
	id, found := extensionIDFromOrigin(origin)
	if !found {
		return "", false, "bad-origin"
	}
	for _, allowed := range r.opts.ExtensionIDs {
		if id == allowed {
			return id, true, ""
		}
	}
	return "", false, "unknown-ext"
}

// extensionIDFromOrigin extracts the extension id from a
// chrome-extension:// origin. Chrome extension ids are 32 characters drawn
// from a-p.
func extensionIDFromOrigin(origin string) (string, bool) {
	if !strings.HasPrefix(origin, extensionOriginScheme) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(origin, extensionOriginScheme), "/")
	if len(id) != 32 {
		return "", false
	}
	for _, c := range id {
		if c < 'a' || c > 'p' {
			return "", false
		}
	}
	return id, true
}
