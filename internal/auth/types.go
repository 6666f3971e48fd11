package auth

import (
	"errors"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

// Role 表示参与方在市场中的身份。
type Role string

const (
	RoleRequester Role = "requester"
	RoleAgent     Role = "agent"
	RoleAdmin     Role = "admin"
)

// ParseRole 解析角色字符串，大小写不敏感。
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleRequester:
		return RoleRequester, nil
	case RoleAgent:
		return RoleAgent, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrUnknownRole
	}
}

// Actor 描述一次调用的发起者。
type Actor struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// Valid reports whether the actor carries a known role and a non-empty id.
func (a Actor) Valid() bool {
	if strings.TrimSpace(a.ID) == "" {
		return false
	}
	_, err := ParseRole(string(a.Role))
	return err == nil
}

func (a Actor) String() string {
	return string(a.Role) + ":" + a.ID
}

// Requester 构造请求方身份。
func Requester(id string) Actor { return Actor{Role: RoleRequester, ID: id} }

// Agent 构造代购方身份。
func Agent(id string) Actor { return Actor{Role: RoleAgent, ID: id} }

// Admin 构造管理员身份。
func Admin(id string) Actor { return Actor{Role: RoleAdmin, ID: id} }
