package handle

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/configs"
	ctxPkg "github.com/yeisme/fitsvault/pkg/context"
	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/service"
	"github.com/yeisme/fitsvault/pkg/internal/types"
)

// processedCalPrefix upload_file 路径中标记已处理定标的前缀.
const processedCalPrefix = "processed_cal/"

// UploadFile 接收上游归档推送的文件，暂存后排入 ingest.
//
//	@Summary	接收上传文件
//	@Tags		运维
//	@Accept		octet-stream
//	@Produce	json
//	@Param		name	path	string	true	"文件名，可带 processed_cal/ 前缀"
//	@Success	200		{array}	types.UploadVerification
//	@Failure	403		{object}	types.ErrorResponse
//	@Failure	406		{object}	types.ErrorResponse	"非 POST 请求"
//	@Failure	413		{object}	types.ErrorResponse
//	@Router		/upload_file/{name} [post]
func UploadFile(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.AbortWithStatusJSON(http.StatusNotAcceptable, types.ErrorResponse{Error: "upload_file only accepts POST", Code: "method"})
		return
	}

	if !uploadAllowed(c, configs.GetConfig()) {
		fail(c, access.ErrDenied)
		return
	}

	name := trimParam(c, "name")
	name, processed := strings.CutPrefix(name, processedCalPrefix)

	svc, ok := archive(c)
	if !ok {
		return
	}

	v, err := svc.StageUpload(c.Request.Context(), name, processed, c.Request.Body)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, []types.UploadVerification{*v})
}

// uploadAllowed 职员，或带有与 upload_cookie_value 一致的上传 cookie.
func uploadAllowed(c *gin.Context, cfg *configs.AppConfig) bool {
	if principal(c).Staff() {
		return true
	}

	want := cfg.Auth.UploadCookieValue
	if want == "" {
		return false
	}

	got, err := c.Cookie(cfg.Export.CookieName)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// UpdateHeaders 批量提交头修改请求. 负载为 {"request": [...]} 或直接的列表.
//
//	@Summary	提交头修改请求
//	@Tags		运维
//	@Accept		json
//	@Produce	json
//	@Param		body	body		types.UpdateHeadersRequest	true	"修改请求"
//	@Success	200		{array}		types.UpdateHeadersResult
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	403		{object}	types.ErrorResponse
//	@Router		/update_headers [post]
func UpdateHeaders(c *gin.Context) {
	if !principal(c).CanUpdateHeaders() {
		fail(c, access.ErrDenied)
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", service.ErrBadRequest, err))
		return
	}

	items, err := decodeUpdateHeaders(raw)
	if err != nil {
		fail(c, err)
		return
	}

	svc, ok := archive(c)
	if !ok {
		return
	}

	res := svc.UpdateHeaders(c.Request.Context(), items)

	l := ctxPkg.Logger(c.Request.Context(), "http")
	l.Info().Int("items", len(items)).Str("user", principal(c).Username()).Msg("header updates submitted")
	c.JSON(http.StatusOK, res)
}

func decodeUpdateHeaders(raw []byte) ([]types.HeaderUpdateItem, error) {
	raw = bytes.TrimSpace(raw)

	var items []types.HeaderUpdateItem

	if len(raw) > 0 && raw[0] == '[' {
		if err := sonic.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %w", service.ErrBadRequest, err)
		}
	} else {
		var req types.UpdateHeadersRequest
		if err := sonic.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %w", service.ErrBadRequest, err)
		}

		items = req.Request
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no header updates given", service.ErrBadRequest)
	}

	return items, nil
}
