package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 定义访问令牌中承载的声明。sub 为调用者 ID，role 为角色。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// VerifierConfig 配置 JWT 校验参数。令牌签发不在本服务范围内。
type VerifierConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTVerifier 校验 HS256 签名的访问令牌并解析出 Actor。
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier 创建校验器。
func NewJWTVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("jwt secret must be configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &JWTVerifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify 解析令牌并返回调用者。
func (v *JWTVerifier) Verify(token string) (Actor, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Actor{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return Actor{Role: role, ID: claims.Subject}, nil
}

// VerifyAuthorization 解析 Authorization 头中的 Bearer 令牌。
func (v *JWTVerifier) VerifyAuthorization(header string) (Actor, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Actor{}, ErrMissingToken
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return Actor{}, ErrMissingToken
	}
	return v.Verify(strings.TrimSpace(header[len(prefix):]))
}
