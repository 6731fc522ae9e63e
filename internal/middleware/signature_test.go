package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/pkg/signature"

	"go.uber.org/zap/zaptest"
)

func TestRequireSignature(t *testing.T) {
	const secret = "gateway-secret"
	body := `{"from":"254701339573@c.us","body":"admin credit 254712345678@c.us 99999"}`
	now := time.Now().Unix()
	old := time.Now().Add(-10 * time.Minute).Unix()

	tests := []struct {
		name      string
		secret    string
		signature string
		timestamp string
		want      int
	}{
		{name: "valid", secret: secret, signature: signature.Sign(secret, []byte(body), now), timestamp: strconv.FormatInt(now, 10), want: http.StatusOK},
		{name: "unsigned", secret: secret, want: http.StatusUnauthorized},
		{name: "wrong secret", secret: secret, signature: signature.Sign("guess", []byte(body), now), timestamp: strconv.FormatInt(now, 10), want: http.StatusUnauthorized},
		{name: "body tampered", secret: secret, signature: signature.Sign(secret, []byte(`{"from":"x"}`), now), timestamp: strconv.FormatInt(now, 10), want: http.StatusUnauthorized},
		{name: "stale timestamp", secret: secret, signature: signature.Sign(secret, []byte(body), old), timestamp: strconv.FormatInt(old, 10), want: http.StatusUnauthorized},
		{name: "bad timestamp", secret: secret, signature: "abc", timestamp: "yesterday", want: http.StatusUnauthorized},
		{name: "not configured", secret: "", signature: signature.Sign("", []byte(body), now), timestamp: strconv.FormatInt(now, 10), want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := RequireSignature(tt.secret, 5*time.Minute, zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				got = string(b)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/whatsapp", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(signature.HeaderSignature, tt.signature)
			}
			if tt.timestamp != "" {
				req.Header.Set(signature.HeaderTimestamp, tt.timestamp)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && got != body {
				t.Fatalf("handler did not receive the signed body: %q", got)
			}
			if tt.want != http.StatusOK && got != "" {
				t.Fatalf("rejected request reached the handler")
			}
		})
	}
}
