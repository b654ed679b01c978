package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONFileList 按选择列出文件.
//
//	@Summary	按选择列出文件
//	@Tags		目录查询
//	@Produce	json
//	@Param		sel	path		string	true	"选择路径，例如 GN-2020A-Q-1/20200101"
//	@Success	200	{array}		types.FileListItem
//	@Failure	500	{object}	types.ErrorResponse
//	@Router		/jsonfilelist/{sel} [get]
func JSONFileList(c *gin.Context) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	items, err := svc.FileList(c.Request.Context(), parseSelection(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

// JSONFileNames 只返回文件名.
//
//	@Summary	按选择列出文件名
//	@Tags		目录查询
//	@Produce	json
//	@Param		sel	path	string	true	"选择路径"
//	@Success	200	{array}	types.FileNameItem
//	@Router		/jsonfilenames/{sel} [get]
func JSONFileNames(c *gin.Context) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	items, err := svc.FileNames(c.Request.Context(), parseSelection(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

// JSONSummary 文件与头信息，受保护坐标按身份隐藏.
//
//	@Summary	文件与头信息摘要
//	@Tags		目录查询
//	@Produce	json
//	@Param		sel	path	string	true	"选择路径"
//	@Success	200	{array}	types.SummaryItem
//	@Router		/jsonsummary/{sel} [get]
func JSONSummary(c *gin.Context) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	items, err := svc.Summary(c.Request.Context(), principal(c), parseSelection(c))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}
