package websocket

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	appURL := "https://polls.example.com/app"

	tests := []struct {
		name          string
		origin        string
		isDevelopment bool
		want          bool
	}{
		{"empty origin", "", false, true},
		{"app origin", "https://polls.example.com", false, true},

		{"different host", "https://evil.com", false, false},
		{"different port", "https://polls.example.com:9090", false, false},
		{"http instead of https", "http://polls.example.com", false, false},
		{"subdomain", "https://sub.polls.example.com", false, false},

		{"next dev server", "http://localhost:3000", true, true},
		{"localhost no port dev", "http://localhost", true, true},
		{"loopback dev", "http://127.0.0.1:3000", true, true},
		{"localhost prod rejected", "http://localhost:3000", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(appURL, tt.isDevelopment)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestNewCheckOrigin_NoAppURL(t *testing.T) {
	checker := NewCheckOrigin("", false)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example.com")

	assert.False(t, checker(r))
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"full URL with path", "https://example.com/polls", "https://example.com"},
		{"URL with port", "https://example.com:8443/path", "https://example.com:8443"},
		{"http URL", "http://localhost:3000/", "http://localhost:3000"},
		{"empty string", "", ""},
		{"no host", "mailto:user@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractOrigin(tt.rawURL))
		})
	}
}
