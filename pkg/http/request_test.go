package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/mailgate/pkg/http"
	"github.com/stretchr/testify/assert"
)

var proxyConfig = &pkghttp.IPConfig{
	TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "2001:db8::/32"},
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores spoofed headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			xRealIP:    "192.168.1.1",
			config:     proxyConfig,
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy forwards first valid address",
			remoteAddr: "10.0.0.5:54321",
			xff:        "garbage, 198.51.100.7, 10.0.0.5",
			config:     proxyConfig,
			want:       "198.51.100.7",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "172.16.4.4:443",
			xRealIP:    "198.51.100.9",
			config:     proxyConfig,
			want:       "198.51.100.9",
		},
		{
			name:       "ipv6 trusted proxy",
			remoteAddr: "[2001:db8::1]:8080",
			xff:        "2001:db8:ffff::42",
			config:     proxyConfig,
			want:       "2001:db8:ffff::42",
		},
		{
			name:       "nil config never trusts headers",
			remoteAddr: "127.0.0.1:9999",
			xff:        "8.8.8.8",
			config:     nil,
			want:       "127.0.0.1",
		},
		{
			name:       "invalid cidr is skipped",
			remoteAddr: "10.1.1.1:80",
			xff:        "8.8.4.4",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"not-a-cidr"}},
			want:       "10.1.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/auth/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestExtractDevice(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)")

	device := pkghttp.ExtractDevice(req, nil)

	assert.Equal(t, "203.0.113.10", device.IPAddress)
	assert.Equal(t, "macos", device.Platform)
	assert.Contains(t, device.UserAgent, "Macintosh")
}

func TestExtractDevice_ExplicitPlatformAndTruncation(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", 2000))
	req.Header.Set("X-Client-Platform", "cli")

	device := pkghttp.ExtractDevice(req, nil)

	assert.Equal(t, "cli", device.Platform)
	assert.Len(t, device.UserAgent, 512)
}

func TestDetectPlatform(t *testing.T) {
	cases := map[string]string{
		"":                                      "unknown",
		"mailgate-cli/1.4.0":                    "cli",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17)": "ios",
		"Mozilla/5.0 (Linux; Android 14)":       "android",
		"Mozilla/5.0 (Windows NT 10.0; Win64)":  "windows",
		"Mozilla/5.0 (X11; Linux x86_64)":       "linux",
		"curl/8.4.0":                            "api",
		"SomethingElse/1.0":                     "other",
	}
	for ua, want := range cases {
		assert.Equal(t, want, pkghttp.DetectPlatform(ua), ua)
	}
}
