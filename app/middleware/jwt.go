package middleware

import (
	"net/http"
	"strings"

	"os-downloads/app/auth"
	"os-downloads/app/config"

	"github.com/gin-gonic/gin"
)

// CallerUIDKey gin 上下文中保存调用方身份的键
const CallerUIDKey = "caller_uid"

// JWTAuth JWT认证中间件，验证通过后把调用方身份写入请求上下文
func JWTAuth(cfg *config.Config) gin.HandlerFunc {
	jwtService := auth.NewJWTService(cfg)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Authorization header is required",
			})
			c.Abort()
			return
		}

		// 检查Bearer前缀
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Authorization header format must be Bearer {token}",
			})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Invalid token: " + err.Error(),
			})
			c.Abort()
			return
		}

		c.Set(CallerUIDKey, claims.UID)
		c.Request = c.Request.WithContext(auth.WithCallerUID(c.Request.Context(), claims.UID))
		c.Next()
	}
}
