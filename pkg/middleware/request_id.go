package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/disputeflow/verifier/pkg/requestid"
)

// RequestID takes the request ID from the x-request-id header, or from chi's
// own middleware when the header is absent, and makes it available through the
// requestid package for the rest of the application. A fresh UUID is generated
// when neither source has one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("x-request-id")

		if requestID == "" {
			requestID = middleware.GetReqID(r.Context())
		}

		if requestID == "" {
			requestID = requestid.Generate()
		}

		ctx := requestid.ToContext(r.Context(), requestID)
		w.Header().Set("x-request-id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
