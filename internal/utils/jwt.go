package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"

	"debate_live/internal/protocol"
)

type Claims struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Anonymous bool   `json:"anonymous,omitempty"`
	jwt.StandardClaims
}

// TokenManager 負責簽發與驗證 JWT
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 240 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// GenerateToken 為一個身份生成新的 JWT token
func (m *TokenManager) GenerateToken(identity protocol.Identity) (string, error) {
	nowTime := time.Now()
	expireTime := nowTime.Add(m.ttl)

	claims := Claims{
		UserID:    identity.UserID,
		Name:      identity.Name,
		Anonymous: identity.Anonymous,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expireTime.Unix(),
			IssuedAt:  nowTime.Unix(),
			Subject:   identity.UserID,
		},
	}

	tokenClaims := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tokenClaims.SignedString(m.secret)
}

// ParseToken 解析和驗證 JWT token
func (m *TokenManager) ParseToken(token string) (*Claims, error) {
	tokenClaims, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})

	if tokenClaims != nil {
		if claims, ok := tokenClaims.Claims.(*Claims); ok && tokenClaims.Valid {
			return claims, nil
		}
	}

	if err == nil {
		err = errors.New("invalid token")
	}
	return nil, err
}

// Identity 把 claims 轉成連線身份
func (c *Claims) Identity() protocol.Identity {
	return protocol.Identity{UserID: c.UserID, Name: c.Name, Anonymous: c.Anonymous}
}

// PeekIdentity 讀取 token 內的身份但不驗證簽章，只供客戶端顯示與查詢使用
// 過期的 token 會回傳錯誤
func PeekIdentity(token string) (protocol.Identity, error) {
	var claims Claims
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &claims); err != nil {
		return protocol.Identity{}, err
	}
	if err := claims.Valid(); err != nil {
		return protocol.Identity{}, err
	}
	return claims.Identity(), nil
}
