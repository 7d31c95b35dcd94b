package relay

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeClientToken(t *testing.T) {
	r := New(Options{Token: "secret-token"})
	defer r.Close(context.Background())

	tests := []struct {
		name   string
		url    string
		ok     bool
		reason string
	}{
		{"matching token", "/cdp?token=secret-token", true, ""},
		{"missing token", "/cdp", false, "no-token"},
		{"wrong token", "/cdp?token=wrong", false, "bad-token"},
		// Same length, differing only in the last byte: the constant-time
		// comparison must still reject it.
		{"last byte differs", "/cdp?token=secret-tokeM", false, "bad-token"},
		{"prefix of token", "/cdp?token=secret", false, "bad-token"},
		{"token with suffix", "/cdp?token=secret-token1", false, "bad-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			ok, reason := r.authorizeClient(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestAuthorizeClientNoTokenConfigured(t *testing.T) {
	r := New(Options{})
	defer r.Close(context.Background())

	req := httptest.NewRequest("GET", "/cdp", nil)
	ok, _ := r.authorizeClient(req)
	assert.True(t, ok, "localhost trust model: no token configured accepts everyone")
}

func TestAuthorizeExtension(t *testing.T) {
	r := New(Options{})
	defer r.Close(context.Background())

	tests := []struct {
		name   string
		origin string
		ok     bool
		reason string
	}{
		{"production id", "chrome-extension://" + ProductionExtensionID, true, ""},
		{"missing origin", "", false, "bad-origin"},
		{"http origin", "http://localhost:19988", false, "bad-origin"},
		{"unlisted id", "chrome-extension://aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false, "unknown-ext"},
		{"short id", "chrome-extension://abc", false, "bad-origin"},
		{"invalid alphabet", "chrome-extension://ZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ", false, "bad-origin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/extension", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			id, ok, reason := r.authorizeExtension(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
			if tt.ok {
				require.Equal(t, ProductionExtensionID, id)
			}
		})
	}
}

func TestAuthorizeExtensionCustomAllowlist(t *testing.T) {
	custom := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	r := New(Options{ExtensionIDs: []string{custom}})
	defer r.Close(context.Background())

	req := httptest.NewRequest("GET", "/extension", nil)
	req.Header.Set("Origin", "chrome-extension://"+custom)
	_, ok, _ := r.authorizeExtension(req)
	assert.True(t, ok)

	// The compiled-in production id is not implied by a custom allowlist.
	req.Header.Set("Origin", "chrome-extension://"+ProductionExtensionID)
	_, ok, reason := r.authorizeExtension(req)
	assert.False(t, ok)
	assert.Equal(t, "unknown-ext", reason)
}

func TestExtensionIDFromOrigin(t *testing.T) {
	id, ok := extensionIDFromOrigin("chrome-extension://" + ProductionExtensionID + "/")
	assert.True(t, ok, "trailing slash is tolerated")
	assert.Equal(t, ProductionExtensionID, id)

	_, ok = extensionIDFromOrigin("chrome-extension://")
	assert.False(t, ok)
}
