package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/log"
)

const principalKey = "principal"

// IdentifyMiddleware 识别请求方身份并放入 request context，同时写入角色.
// 识别失败时按匿名处理.
func IdentifyMiddleware(gate *access.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := gate.Identify(c.Request.Context(), c.Request)
		if err != nil {
			log.Logger().Warn().Err(err).Str("path", c.Request.URL.Path).Msg("identify request failed, treating as anonymous")

			p = access.Anonymous()
		}

		c.Set(principalKey, p)
		c.Set(roleKey, RoleOf(p))
		c.Request = c.Request.WithContext(access.WithPrincipal(c.Request.Context(), p))

		c.Next()
	}
}

// GetPrincipal 当前请求的身份.
func GetPrincipal(c *gin.Context) *access.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*access.Principal); ok && p != nil {
			return p
		}
	}

	return access.FromContext(c.Request.Context())
}
