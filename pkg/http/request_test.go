package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			xri:        "192.168.1.1",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1/32"}},
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses first forwarded address",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 203.0.113.43, 10.0.0.5",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.5:54321",
			xri:        "203.0.113.77",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			want:       "203.0.113.77",
		},
		{
			name:       "ipv6 trusted proxy",
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::1",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"::1/128"}},
			want:       "2001:db8::1",
		},
		{
			name:       "nil config",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			want:       "203.0.113.10",
		},
		{
			name:       "invalid cidr ranges",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"invalid-cidr-range"}},
			want:       "203.0.113.10",
		},
		{
			name:       "localhost claim from untrusted peer",
			remoteAddr: "203.0.113.10:54321",
			xff:        "127.0.0.1, 203.0.113.10",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestRequestHost(t *testing.T) {
	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	req := httptest.NewRequest("POST", "http://internal:8080/webauthn/options", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-Host", "www.example.org, internal")
	assert.Equal(t, "www.example.org", pkghttp.RequestHost(req, config))

	req.RemoteAddr = "203.0.113.10:1234"
	assert.Equal(t, "internal:8080", pkghttp.RequestHost(req, config))
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Code string `json:"code"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"code":"123456"}`))
	require.NoError(t, pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "123456", dst.Code)

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"code":`))
	assert.ErrorIs(t, pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst), pkghttp.ErrInvalidBody)

	big := `{"code":"` + strings.Repeat("x", pkghttp.MaxBodyBytes) + `"}`
	req = httptest.NewRequest("POST", "/", strings.NewReader(big))
	assert.ErrorIs(t, pkghttp.DecodeJSON(httptest.NewRecorder(), req, &dst), pkghttp.ErrInvalidBody)
}
