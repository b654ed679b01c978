package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/types"
)

// Role 请求方的角色，数值越大权限越高.
type Role int

const (
	RoleAnonymous Role = iota
	RoleUser
	RoleStaff
	RoleSuperuser
)

// String 返回角色的字符串表示.
func (r Role) String() string {
	switch r {
	case RoleSuperuser:
		return "superuser"
	case RoleStaff:
		return "staff"
	case RoleUser:
		return "user"
	case RoleAnonymous:
		fallthrough
	default:
		return "anonymous"
	}
}

const roleKey = "role"

// RoleOf 由身份推出角色. API token 与魔术 API cookie 视为普通用户.
func RoleOf(p *access.Principal) Role {
	switch {
	case p.Superuser():
		return RoleSuperuser
	case p.Staff():
		return RoleStaff
	case p != nil && (p.User != nil || p.Token || p.MagicAPI):
		return RoleUser
	default:
		return RoleAnonymous
	}
}

// GetRole 当前请求的角色. 没有经过 IdentifyMiddleware 时为匿名.
func GetRole(c *gin.Context) Role {
	if v, ok := c.Get(roleKey); ok {
		if r, ok := v.(Role); ok {
			return r
		}
	}

	return RoleOf(access.FromContext(c.Request.Context()))
}

// RequireMinRole 要求最小角色，不满足则返回 403.
func RequireMinRole(minRole Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) < minRole {
			c.AbortWithStatusJSON(http.StatusForbidden, types.ErrorResponse{
				Error: "requires " + minRole.String() + " access",
				Code:  "forbidden",
			})

			return
		}

		c.Next()
	}
}
