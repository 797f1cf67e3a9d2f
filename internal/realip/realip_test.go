package realip

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"bare remote addr", "203.0.113.4:51234", "", "203.0.113.4"},
		{"remote addr without port", "203.0.113.4", "", "203.0.113.4"},
		{"ipv6 remote addr", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"forwarded single hop", "10.0.0.1:80", "198.51.100.7", "198.51.100.7"},
		{"forwarded chain keeps first hop", "10.0.0.1:80", "198.51.100.7, 10.0.0.2, 10.0.0.3", "198.51.100.7"},
		{"forwarded with spaces", "10.0.0.1:80", "  198.51.100.7  ", "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, FromRequest(r))
		})
	}
}
