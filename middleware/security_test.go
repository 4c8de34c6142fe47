package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/config"
)

func testConfig() *config.Config {
	return &config.Config{
		SecurityHeadersEnabled:  true,
		XContentTypeOptions:     "nosniff",
		XFrameOptions:           "DENY",
		XXSSProtection:          "1; mode=block",
		ContentSecurityPolicy:   "default-src 'self'",
		ReferrerPolicy:          "strict-origin-when-cross-origin",
		StrictTransportSecurity: "max-age=31536000; includeSubDomains",
	}
}

func serve(t *testing.T, cfg *config.Config, host string) *httptest.ResponseRecorder {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler := NewSecurityHeaders(cfg, logger).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = host
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestProductionHeaders(t *testing.T) {
	rec := serve(t, testConfig(), "dashboard.example.com")

	want := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Content-Security-Policy":   "default-src 'self'",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestLocalhostGetsDevelopmentHeaders(t *testing.T) {
	tests := []string{"localhost:8080", "127.0.0.1:8080", "[::1]:8080"}

	for _, host := range tests {
		t.Run(host, func(t *testing.T) {
			rec := serve(t, testConfig(), host)

			if got := rec.Header().Get("X-Frame-Options"); got != DevXFrameOptions {
				t.Errorf("X-Frame-Options = %q, want %q", got, DevXFrameOptions)
			}
			if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
				t.Errorf("HSTS = %q, want unset in development", got)
			}
		})
	}
}

func TestDevModeFlagForcesDevelopmentHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.DevMode = true

	rec := serve(t, cfg, "dashboard.example.com")
	if got := rec.Header().Get("Content-Security-Policy"); got != DevContentSecurityPolicy {
		t.Errorf("CSP = %q, want development policy", got)
	}
}

func TestHeadersDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.SecurityHeadersEnabled = false

	rec := serve(t, cfg, "dashboard.example.com")
	if got := rec.Header().Get("X-Frame-Options"); got != "" {
		t.Errorf("X-Frame-Options = %q, want none when disabled", got)
	}
}
