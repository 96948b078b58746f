package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
)

const identityKey = "identity"

var errInvalidHeader = errors.New("Authorization header format must be Bearer {token}")

// Authenticator 把 token 轉成身份
type Authenticator interface {
	Authenticate(token string) (protocol.Identity, error)
}

// AuthMiddleware 是一個 Gin 中間件，用於驗證請求的 JWT token
// required 為 false 時，沒有 token 的請求會以 name 參數取得匿名身份
func AuthMiddleware(auth Authenticator, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		if token == "" {
			if required {
				abortUnauthorized(c, "Authorization header is required")
				return
			}
			c.Set(identityKey, protocol.AnonymousIdentity(c.Query("name")))
			c.Next()
			return
		}

		// 解析 JWT token
		identity, err := auth.Authenticate(token)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		// 將用戶信息設置到上下文中
		c.Set(identityKey, identity)
		c.Next()
	}
}

// Identity 取出 AuthMiddleware 設定的身份
func Identity(c *gin.Context) (protocol.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return protocol.Identity{}, false
	}
	identity, ok := v.(protocol.Identity)
	return identity, ok
}

// bearerToken 讀取 Authorization 頭，瀏覽器的 WebSocket 無法帶頭時改用 token 參數
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("token"), nil
	}

	// 檢查 Authorization 頭的格式
	parts := strings.SplitN(authHeader, " ", 2)
	if !(len(parts) == 2 && parts[0] == "Bearer") {
		return "", errInvalidHeader
	}
	return parts[1], nil
}

func abortUnauthorized(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": detail,
		"code":  apperrors.CodeUnauthorized,
	})
}
