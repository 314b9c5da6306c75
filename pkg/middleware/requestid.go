package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns every request an id (reusing the client-supplied header
// when present), stores it on the context for request-scoped logging, and
// echoes it back in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(r *http.Request) string {
	return logger.RequestIDFromContext(r.Context())
}
