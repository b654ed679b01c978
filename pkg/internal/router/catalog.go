package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/internal/handle"
)

// RegisterCatalogRoutes 注册按选择查询目录的路由.
func RegisterCatalogRoutes(g *gin.RouterGroup) {
	g.GET("/jsonfilelist/*sel", handle.JSONFileList)
	g.GET("/jsonfilenames/*sel", handle.JSONFileNames)
	g.GET("/jsonsummary/*sel", handle.JSONSummary)
}

// RegisterCalMgrRoutes 注册定标管理路由. /calmgr 与 /xmlcalmgr 输出相同的 XML.
func RegisterCalMgrRoutes(g *gin.RouterGroup) {
	for _, path := range []string{"/calmgr/*sel", "/xmlcalmgr/*sel"} {
		g.GET(path, handle.CalMgr)
		g.POST(path, handle.CalMgr)
	}

	g.GET("/jsoncalmgr/*sel", handle.JSONCalMgr)
	g.POST("/jsoncalmgr/*sel", handle.JSONCalMgr)
}

// RegisterDownloadRoutes 注册下载路由. /download/associated_calibrations/<sel> 由 Download 分派.
func RegisterDownloadRoutes(g *gin.RouterGroup) {
	g.GET("/file/*name", handle.File)
	g.HEAD("/file/*name", handle.File)
	g.GET("/download/*sel", handle.Download)
	g.GET("/preview/:filename", handle.Preview)
}
