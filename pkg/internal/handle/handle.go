// Package handle 提供 HTTP 请求处理器. 处理器只做参数解析与状态码映射，业务逻辑在 service 中.
package handle

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/fitsvault/pkg/configs"
	ctxPkg "github.com/yeisme/fitsvault/pkg/context"
	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/preview"
	"github.com/yeisme/fitsvault/pkg/internal/selection"
	"github.com/yeisme/fitsvault/pkg/internal/service"
	"github.com/yeisme/fitsvault/pkg/internal/types"
	"github.com/yeisme/fitsvault/pkg/middleware"
)

// selectionParam 路由中携带选择路径的通配参数名.
const selectionParam = "sel"

// errorStatus 业务错误对应的 HTTP 状态码与错误码.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{selection.ErrOpenQuery, http.StatusNotAcceptable, "open_query"},
	{service.ErrNoCaltype, http.StatusNotAcceptable, "no_caltype"},
	{access.ErrDenied, http.StatusForbidden, "denied"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{preview.ErrNoPreview, http.StatusNotFound, "no_preview"},
	{service.ErrTooLarge, http.StatusRequestEntityTooLarge, "too_large"},
	{service.ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{fits.ErrInvalidUpdate, http.StatusBadRequest, "invalid_update"},
	{service.ErrNoStorage, http.StatusServiceUnavailable, "no_storage"},
}

func statusOf(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}

	return http.StatusInternalServerError, "internal"
}

// fail 以 JSON 返回错误. 5xx 记 error 日志，其余记 warn.
func fail(c *gin.Context, err error) {
	status, code := statusOf(err)
	logError(c, status, err)

	c.AbortWithStatusJSON(status, types.ErrorResponse{Error: err.Error(), Code: code})
}

// failText 以纯文本返回错误，用于 /file、/download 这类非 JSON 端点.
func failText(c *gin.Context, err error) {
	status, _ := statusOf(err)
	logError(c, status, err)

	c.Abort()
	c.String(status, "%s\n", explain(err))
}

func logError(c *gin.Context, status int, err error) {
	_ = c.Error(err)

	l := ctxPkg.Logger(c.Request.Context(), "http")
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		return
	}

	l.Warn().Err(err).Str("path", c.Request.URL.Path).Int("status", status).Msg("request refused")
}

// explain 面向用户的错误说明.
func explain(err error) string {
	switch {
	case errors.Is(err, selection.ErrOpenQuery):
		return "Your selection criteria does not restrict the number of results. " +
			"Please add a date, date range, program ID, observation ID or data label. (" + err.Error() + ")"
	case errors.Is(err, service.ErrTooLarge):
		return "The selection matches more data than can be downloaded in one request. " +
			"Please narrow your selection. (" + err.Error() + ")"
	case errors.Is(err, access.ErrDenied):
		return "You do not have access to this file. It may still be proprietary."
	case errors.Is(err, service.ErrNotFound):
		return "Could not find the requested data. (" + err.Error() + ")"
	default:
		return err.Error()
	}
}

// archive 为本次请求创建 ArchiveService.
func archive(c *gin.Context) (*service.ArchiveService, bool) {
	svc, err := service.NewArchiveService(c.Request.Context())
	if err != nil {
		fail(c, err)
		return nil, false
	}

	return svc, true
}

// parseSelection 解析 *sel 路由参数. 山顶部署的裸日期按观测夜解释.
func parseSelection(c *gin.Context) *selection.Selection {
	cfg := configs.GetConfig()
	return selection.Parse(selection.Split(c.Param(selectionParam)), cfg.Archive.IsArchive(), time.Now())
}

// principal 当前请求的身份.
func principal(c *gin.Context) *access.Principal {
	return middleware.GetPrincipal(c)
}

// trimParam 去掉通配参数的前导 '/'.
func trimParam(c *gin.Context, name string) string {
	return strings.TrimPrefix(c.Param(name), "/")
}
