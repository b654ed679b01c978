package handle

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/yeisme/fitsvault/pkg/internal/service"
	"github.com/yeisme/fitsvault/pkg/internal/types"
)

// calmgr 输出格式.
const (
	calmgrXML  = "xml"
	calmgrJSON = "json"
)

// NoCaltypeMessage POST 没有给出定标类型时的 XML 回复.
const NoCaltypeMessage = "<!-- Error: No calibration type specified-->"

// CalMgr /calmgr 与 /xmlcalmgr，XML 输出.
//
//	@Summary	定标管理 (XML)
//	@Tags		定标
//	@Produce	xml
//	@Param		sel	path		string	true	"选择路径，POST 时包含定标类型"
//	@Success	200	{object}	types.CalMgrResponse
//	@Failure	406	{string}	string	"开放查询或缺少定标类型"
//	@Router		/calmgr/{sel} [get]
//	@Router		/calmgr/{sel} [post]
func CalMgr(c *gin.Context) {
	calMgr(c, calmgrXML)
}

// JSONCalMgr /jsoncalmgr，JSON 输出.
//
//	@Summary	定标管理 (JSON)
//	@Tags		定标
//	@Produce	json
//	@Param		sel	path		string	true	"选择路径"
//	@Success	200	{object}	types.CalMgrResponse
//	@Failure	406	{object}	types.ErrorResponse
//	@Router		/jsoncalmgr/{sel} [get]
//	@Router		/jsoncalmgr/{sel} [post]
func JSONCalMgr(c *gin.Context) {
	calMgr(c, calmgrJSON)
}

func calMgr(c *gin.Context, format string) {
	svc, ok := archive(c)
	if !ok {
		return
	}

	sel := parseSelection(c)

	var (
		resp *types.CalMgrResponse
		err  error
	)

	if c.Request.Method == http.MethodPost {
		var req *types.CalMgrRequest

		req, err = calMgrRequest(c)
		if err == nil {
			resp, err = svc.CalMgrPost(c.Request.Context(), sel.CalType(), req)
		}
	} else {
		resp, err = svc.CalMgr(c.Request.Context(), sel)
	}

	if err != nil {
		calMgrError(c, format, err)
		return
	}

	if format == calmgrJSON {
		c.JSON(http.StatusOK, resp)
		return
	}

	c.XML(http.StatusOK, resp)
}

// calMgrRequest 读取 POST 负载: JSON，或旧格式的 descriptors=&types= 表单.
func calMgrRequest(c *gin.Context) (*types.CalMgrRequest, error) {
	if strings.HasPrefix(c.ContentType(), binding.MIMEJSON) {
		var req types.CalMgrRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, fmt.Errorf("%w: %w", service.ErrBadRequest, err)
		}

		return &req, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrBadRequest, err)
	}

	return service.ParseCalMgrForm(c.Request.PostForm)
}

func calMgrError(c *gin.Context, format string, err error) {
	if format == calmgrJSON {
		fail(c, err)
		return
	}

	status, _ := statusOf(err)
	logError(c, status, err)
	c.Abort()

	if errors.Is(err, service.ErrNoCaltype) {
		c.Data(status, "text/xml; charset=utf-8", []byte(NoCaltypeMessage))
		return
	}

	c.Data(status, "text/xml; charset=utf-8", []byte("<!-- Error: "+xmlComment(explain(err))+" -->"))
}

// xmlComment 去掉会提前结束注释的 "--".
func xmlComment(s string) string {
	return strings.ReplaceAll(s, "--", "- -")
}
