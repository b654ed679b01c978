// Package router 把 handle 中的处理器绑定到 gin 引擎.
//
// 归档端点沿用历史路径 (/jsonfilelist/<sel>、/calmgr/<sel>、/file/<name> 等)，选择条件以
// 通配参数 sel 整段传给处理器解析；管理与健康检查端点位于 /api/v1 下.
package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	appcache "github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
	"github.com/yeisme/fitsvault/pkg/middleware"
)

// Options 路由注册参数.
type Options struct {
	// Cache 目录查询的响应缓存，nil 时不缓存
	Cache *appcache.Cache
	// CacheTTL 响应缓存的生存时间，<=0 时使用中间件默认值
	CacheTTL time.Duration
	Auth     configs.AuthConfig
	Server   configs.ServerConfig
	// Peers groupcache 节点间取值的处理器，单节点时为 nil
	Peers http.Handler
}

// Register 注册所有路由.
func Register(e *gin.Engine, opts Options) {
	RegisterCatalogRoutes(e.Group("", catalogMiddleware(opts)...))
	RegisterCalMgrRoutes(e.Group(""))
	RegisterDownloadRoutes(e.Group(""))
	RegisterOpsRoutes(e.Group(""), opts.Auth)

	v1 := e.Group("/api/v1")
	RegisterHealthCheckRoute(v1)
	RegisterSchedulerRoutes(v1.Group("", middleware.AuthMiddleware(opts.Auth), middleware.RequireMinRole(middleware.RoleStaff)))

	if opts.Peers != nil {
		e.Any(kv.GroupcachePath+"*key", gin.WrapH(opts.Peers))
	}

	RegisterSwaggerRoute(e, opts.Server)
}

// catalogMiddleware 目录查询压缩输出，并只对匿名请求做响应缓存. 按文件与 present 的查询不缓存.
func catalogMiddleware(opts Options) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{gzip.Gzip(gzip.DefaultCompression)}

	if opts.Cache != nil {
		cfg := middleware.DefaultCacheConfig(opts.Cache)
		cfg.Skipper = middleware.SkipAny(middleware.SkipIdentified, middleware.SkipFileLookups)

		if opts.CacheTTL > 0 {
			cfg.TTL = opts.CacheTTL
		}

		chain = append(chain, middleware.CacheMiddleware(cfg))
	}

	return chain
}
