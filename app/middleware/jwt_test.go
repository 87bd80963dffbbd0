package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"video-transcoder/app/auth"
	"video-transcoder/app/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestInternalJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "video-transcoder", Audience: "main-app", CallerIssuer: "main-app"}

	r := gin.New()
	r.GET("/p", InternalJWTAuth(auth.NewJWTService(cfg)), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("caller"))
	})

	sign := func(iss string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    iss,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}).SignedString([]byte("s3cret"))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + sign("intruder"), http.StatusUnauthorized},
		{"ok", "Bearer " + sign("main-app"), http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, tt.want)
		}
		if tt.want == http.StatusOK && w.Body.String() != "main-app" {
			t.Errorf("%s: caller = %q", tt.name, w.Body.String())
		}
	}
}
