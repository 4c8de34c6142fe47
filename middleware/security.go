package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/config"
)

const (
	// Development mode CSP - more permissive for local dashboards
	DevContentSecurityPolicy = "default-src 'self' 'unsafe-inline' 'unsafe-eval'; connect-src 'self' ws: wss:; img-src 'self' data: blob: https:;"
	DevXFrameOptions         = "SAMEORIGIN"
)

// SecurityHeaders middleware adds security headers to HTTP responses
type SecurityHeaders struct {
	config *config.Config
	logger *logrus.Logger
}

func NewSecurityHeaders(cfg *config.Config, logger *logrus.Logger) *SecurityHeaders {
	return &SecurityHeaders{
		config: cfg,
		logger: logger,
	}
}

// Handler returns the middleware handler function
func (s *SecurityHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.SecurityHeadersEnabled {
			next.ServeHTTP(w, r)
			return
		}

		if s.isDevModeRequest(r) {
			s.addDevelopmentHeaders(w)
		} else {
			s.addProductionHeaders(w)
		}

		next.ServeHTTP(w, r)
	})
}

// isDevModeRequest treats explicit dev mode and localhost traffic as
// development.
func (s *SecurityHeaders) isDevModeRequest(r *http.Request) bool {
	if s.config.IsDevMode() {
		return true
	}

	host := r.Host
	// IPv6 hosts arrive bracketed, like [::1]:8080
	if strings.HasPrefix(host, "[") {
		if closeBracket := strings.Index(host, "]"); closeBracket != -1 {
			host = host[1:closeBracket]
		}
	} else if colonIndex := strings.LastIndex(host, ":"); colonIndex != -1 {
		host = host[:colonIndex]
	}

	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func (s *SecurityHeaders) addProductionHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("X-Content-Type-Options", s.config.XContentTypeOptions)
	headers.Set("X-Frame-Options", s.config.XFrameOptions)
	headers.Set("X-XSS-Protection", s.config.XXSSProtection)
	headers.Set("Content-Security-Policy", s.config.ContentSecurityPolicy)
	headers.Set("Referrer-Policy", s.config.ReferrerPolicy)
	headers.Set("Strict-Transport-Security", s.config.StrictTransportSecurity)
}

func (s *SecurityHeaders) addDevelopmentHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("X-Content-Type-Options", s.config.XContentTypeOptions)
	headers.Set("X-Frame-Options", DevXFrameOptions)
	headers.Set("X-XSS-Protection", s.config.XXSSProtection)
	headers.Set("Content-Security-Policy", DevContentSecurityPolicy)
	headers.Set("Referrer-Policy", s.config.ReferrerPolicy)
	// No HSTS in development; it would pin localhost to https
}
