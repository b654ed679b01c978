package handle

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueueStatus 各队列的条目计数.
//
//	@Summary	队列状态
//	@Tags		运维
//	@Produce	json
//	@Success	200	{object}	types.QueueStatusResponse
//	@Router		/queuestatus [get]
func QueueStatus(c *gin.Context) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	st, err := svc.QueueStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// Curation 目录一致性检查.
//
//	@Summary	目录一致性检查
//	@Tags		运维
//	@Produce	json
//	@Param		checkonly			query		string	false	"只检查该仪器"
//	@Param		exclude_engineering	query		bool	false	"跳过工程数据"
//	@Success	200					{object}	types.CurationReport
//	@Router		/curation [get]
func Curation(c *gin.Context) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	excl, _ := strconv.ParseBool(c.DefaultQuery("exclude_engineering", "false"))

	r, err := svc.Curation(c.Request.Context(), excl, c.Query("checkonly"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, r)
}

// Preview 文件的 JPEG 预览图.
//
//	@Summary	预览图
//	@Tags		下载
//	@Produce	jpeg
//	@Param		filename	path	string	true	"文件名"
//	@Success	200			{file}	binary
//	@Failure	404			{object}	types.ErrorResponse
//	@Router		/preview/{filename} [get]
func Preview(c *gin.Context) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	rc, err := svc.Preview(c.Request.Context(), principal(c), c.Param("filename"))
	if err != nil {
		fail(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "image/jpeg")
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}
