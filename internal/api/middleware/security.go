package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeaders adds security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		// The web client needs its own scripts, avatars from anywhere and the websocket.
		if r.URL.Path == "/" || strings.HasPrefix(r.URL.Path, "/live-chat/") {
			w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; connect-src 'self' ws: wss:")
		} else {
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize limits request body size.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateRequest validates incoming requests for common attack patterns.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check Content-Type for requests with a body
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if r.ContentLength > 0 && !strings.HasPrefix(ct, "application/json") {
				http.Error(w, `{"error":"content-type must be application/json"}`, http.StatusUnsupportedMediaType)
				return
			}
		}

		if containsSuspiciousPatterns(r.URL.Path) || containsSuspiciousPatterns(r.URL.RawQuery) {
			http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r)
	})
}

var suspiciousPatterns = []string{
	"..",          // Path traversal
	"//",          // Path manipulation
	"<script",     // XSS
	"javascript:", // XSS
	"vbscript:",   // XSS
	"onload=",     // XSS event handlers
	"onerror=",    // XSS event handlers
}

// containsSuspiciousPatterns checks for common attack patterns.
func containsSuspiciousPatterns(input string) bool {
	if input == "" {
		return false
	}
	lower := strings.ToLower(input)
	for _, s := range suspiciousPatterns {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
