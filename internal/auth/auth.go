package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserNotFound = errors.New("user not found")
)

// Identity 是房间逻辑看到的调用者身份，对令牌本身不可见。
type Identity struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	LeaderCardID int    `json:"leader_card_id"`
}

// Resolver 将不透明的调用凭证解析为 Identity。
type Resolver interface {
	ByToken(ctx context.Context, token string) (*Identity, error)
}

type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// GenerateToken 签发用户令牌，ttlMinutes 为 0 时不设置过期时间。
func GenerateToken(userID uint, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatUint(uint64(userID), 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttlMinutes != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// BearerToken 从 Authorization 头中取出 Bearer 凭证。
func BearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}

// AuthMiddleware 解析调用者身份：缺少或无效的凭证返回 401，用户不存在返回 404。
func AuthMiddleware(users Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		ident, err := users.ByToken(c.Request.Context(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, ErrUserNotFound):
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			case errors.Is(err, ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
			}
			return
		}
		c.Set("identity", *ident)
		c.Next()
	}
}

// GetIdentity 读取中间件写入的调用者身份。
func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get("identity"); ok {
		if ident, ok2 := v.(Identity); ok2 {
			return ident
		}
	}
	return Identity{}
}
