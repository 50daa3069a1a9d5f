package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Eveneto/sistema-crm-simples-sub000/internal/config"
)

// Claims CRM 坐席会话令牌的载荷。令牌由 CRM 的认证服务签发，
// 本服务只用共享密钥解析
type Claims struct {
	AgentID int64  `json:"agent_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// GenerateToken 生成坐席 JWT（联调探针和测试用，线上由认证服务签发）
func GenerateToken(cfg *config.JWTConfig, agentID int64, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		AgentID: agentID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(8 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken 解析 JWT，支持带 Bearer 前缀的原始头
func ParseToken(cfg *config.JWTConfig, tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
