// internal/middleware/signature.go
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/pkg/response"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/signature"

	"go.uber.org/zap"
)

const maxSignedBodyBytes = 1 << 20

// RequireSignature accepts only requests whose body is signed by the chat gateway:
// X-Signature = hex(HMAC-SHA256(secret, "<body>.<X-Timestamp>")), with the timestamp
// within maxSkew of now. An empty secret refuses every request.
func RequireSignature(secret string, maxSkew time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				response.Error(w, http.StatusServiceUnavailable, "webhook is not configured")
				return
			}

			sig := r.Header.Get(signature.HeaderSignature)
			rawTS := r.Header.Get(signature.HeaderTimestamp)
			if sig == "" || rawTS == "" {
				logger.Warn("unsigned webhook request",
					zap.String("path", r.URL.Path),
					zap.String("ip", clientID(r)))
				response.Error(w, http.StatusUnauthorized, "missing signature")
				return
			}

			ts, err := strconv.ParseInt(rawTS, 10, 64)
			if err != nil {
				response.Error(w, http.StatusUnauthorized, "invalid timestamp")
				return
			}
			if age := time.Since(time.Unix(ts, 0)); age > maxSkew || age < -maxSkew {
				logger.Warn("stale webhook signature",
					zap.String("ip", clientID(r)),
					zap.Duration("age", age))
				response.Error(w, http.StatusUnauthorized, "signature expired")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
			if err != nil {
				response.Error(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if !signature.Equal(sig, signature.Sign(secret, body, ts)) {
				logger.Warn("invalid webhook signature",
					zap.String("path", r.URL.Path),
					zap.String("ip", clientID(r)))
				response.Error(w, http.StatusUnauthorized, "invalid signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
