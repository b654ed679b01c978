package handle

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	ctxPkg "github.com/yeisme/fitsvault/pkg/context"
)

// File 下载单个文件. 请求名带 .bz2 时返回压缩流，否则返回解压后的内容.
// 路径可以是 <filename> 或 <path>/<filename>.
//
//	@Summary	下载单个文件
//	@Tags		下载
//	@Produce	octet-stream
//	@Param		name	path		string	true	"文件名，可带 .bz2 与存储目录"
//	@Success	200		{file}		binary
//	@Failure	403		{string}	string	"专有数据"
//	@Failure	404		{string}	string	"文件不存在"
//	@Router		/file/{name} [get]
func File(c *gin.Context) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	fs, err := svc.OpenFile(c.Request.Context(), principal(c), trimParam(c, "name"))
	if err != nil {
		failText(c, err)
		return
	}
	defer fs.Close()

	h := c.Writer.Header()
	h.Set("Content-Type", "application/fits")
	h.Set("Content-Disposition", "attachment; filename=\""+fs.Name+"\"")
	h.Set("Last-Modified", fs.Lastmod.UTC().Format(http.TimeFormat))

	if fs.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(fs.Size, 10))
	}

	c.Status(http.StatusOK)

	if c.Request.Method == http.MethodHead {
		return
	}

	if n, err := io.Copy(c.Writer, fs); err != nil {
		// 头已发出，只能断开连接
		l := ctxPkg.Logger(c.Request.Context(), "http")
		l.Warn().Err(err).Str("filename", fs.Name).Int64("bytes", n).Msg("file download interrupted")
		_ = c.Error(err)
		c.Abort()
		closeConn(c)
	}
}

// associatedPrefix /download 下按关联定标打包的路径前缀. gin 的通配路由不能与同级静态路由共存，
// 因此在处理器内分派.
const associatedPrefix = "/associated_calibrations"

// Download 以 tar 流下载选择命中的文件.
//
//	@Summary	打包下载
//	@Tags		下载
//	@Produce	application/x-tar
//	@Param		sel	path		string	true	"选择路径"
//	@Success	200	{file}		binary
//	@Failure	406	{string}	string	"开放查询超出上限"
//	@Failure	413	{string}	string	"超出下载上限"
//	@Router		/download/{sel} [get]
func Download(c *gin.Context) {
	sel := c.Param(selectionParam)
	if rest, ok := strings.CutPrefix(sel, associatedPrefix); ok && (rest == "" || rest[0] == '/') {
		setParam(c, selectionParam, rest)
		DownloadAssociatedCalibrations(c)

		return
	}

	download(c, false)
}

// DownloadAssociatedCalibrations 以 tar 流下载选择命中帧的定标.
//
//	@Summary	打包下载关联定标
//	@Tags		下载
//	@Produce	application/x-tar
//	@Param		sel	path	string	true	"选择路径"
//	@Success	200	{file}	binary
//	@Router		/download/associated_calibrations/{sel} [get]
func DownloadAssociatedCalibrations(c *gin.Context) {
	download(c, true)
}

func download(c *gin.Context, associated bool) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	dl, err := svc.PrepareDownload(c.Request.Context(), principal(c), parseSelection(c), associated)
	if err != nil {
		failText(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "application/x-tar")
	h.Set("Content-Disposition", "attachment; filename=\""+dl.Filename+"\"")
	c.Status(http.StatusOK)

	if err := dl.Write(c.Request.Context(), c.Writer); err != nil {
		_ = c.Error(err)
		c.Abort()

		// 截断的 tar 不能被当作完整文件
		closeConn(c)
	}
}

// closeConn 断开连接，使客户端看到不完整的响应. 底层 writer 不支持 hijack 时忽略.
func closeConn(c *gin.Context) {
	defer func() { _ = recover() }()

	if conn, _, err := c.Writer.Hijack(); err == nil {
		_ = conn.Close()
	}
}

// setParam 改写已解析的路由参数.
func setParam(c *gin.Context, key, value string) {
	for i := range c.Params {
		if c.Params[i].Key == key {
			c.Params[i].Value = value
			return
		}
	}

	c.Params = append(c.Params, gin.Param{Key: key, Value: value})
}
