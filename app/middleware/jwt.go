package middleware

import (
	"net/http"
	"strings"

	"video-transcoder/app/auth"

	"github.com/gin-gonic/gin"
)

// InternalJWTAuth 校验主应用签发的 Bearer 令牌，失败直接返回 401
func InternalJWTAuth(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Unauthorized: Token missing",
			})
			return
		}

		// 检查Bearer前缀
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Authorization header format must be Bearer {token}",
			})
			return
		}

		claims, err := jwtService.ValidateCallerToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Unauthorized: Invalid token",
			})
			return
		}

		c.Set("caller", claims.Issuer)
		c.Next()
	}
}
