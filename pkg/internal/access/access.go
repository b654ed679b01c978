// Package access 决定请求方能否下载某个文件，以及是否需要隐藏坐标.
//
// 请求方身份来自魔术 cookie、会话 cookie、API token 或反向代理注入的邮箱头.
// 对每个 Header 的判断依次检查: 魔术 cookie、API token、职员、已公开、
// 工程或定标项目数据、UserProgram 授权.
package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// ErrDenied 请求方无权获取该文件.
var ErrDenied = errors.New("not enough privileges to download this content")

// ProprietaryPlaceholder 隐藏坐标时替换对象名的文本.
const ProprietaryPlaceholder = "-- proprietary --"

// Principal 一次请求的身份.
type Principal struct {
	User *model.User
	// Magic 请求带有正确的魔术下载 cookie
	Magic bool
	// MagicAPI 请求带有正确的魔术 API cookie
	MagicAPI bool
	// Token 请求带有有效的 API token
	Token bool

	grants *Grants
}

// Anonymous 未登录用户.
func Anonymous() *Principal {
	return &Principal{grants: &Grants{}}
}

// Staff 职员或超级用户.
func (p *Principal) Staff() bool {
	return p != nil && p.User != nil && (p.User.Staff || p.User.Superuser)
}

// Superuser 可执行管理操作.
func (p *Principal) Superuser() bool {
	return p != nil && p.User != nil && p.User.Superuser
}

// CanUpdateHeaders 头修改 API 只对超级用户、魔术 API cookie 与 API token 开放.
func (p *Principal) CanUpdateHeaders() bool {
	return p != nil && (p.Superuser() || p.MagicAPI || p.Token)
}

// Username 日志中使用的用户名.
func (p *Principal) Username() string {
	if p == nil || p.User == nil {
		return ""
	}

	return p.User.Username
}

// Grants 用户持有的 UserProgram 授权.
type Grants struct {
	Programs     map[string]struct{}
	Observations map[string]struct{}
	Filenames    map[string]struct{}
}

func (g *Grants) has(h *model.Header, filename string) bool {
	if g == nil {
		return false
	}

	if _, ok := g.Programs[h.ProgramID]; ok && h.ProgramID != "" {
		return true
	}

	if _, ok := g.Observations[h.ObservationID]; ok && h.ObservationID != "" {
		return true
	}

	_, ok := g.Filenames[filename]

	return ok && filename != ""
}

// Decision 对单个文件的判断结果，记录命中的规则.
type Decision struct {
	Allowed  bool
	Released bool
	PI       bool
	Staff    bool
	Magic    bool
	Eng      bool
}

// Record 把判断结果写入下载日志.
func (d Decision) Record(l *model.FileDownloadLog) {
	l.CanHaveIt = d.Allowed
	l.Released = d.Released
	l.PIAccess = d.PI
	l.StaffAccess = d.Staff
	l.MagicAccess = d.Magic
	l.EngAccess = d.Eng
}

// Gate 访问控制.
type Gate struct {
	db  *gorm.DB
	cfg configs.AuthConfig
	now func() time.Time
}

// Option 配置 Gate.
type Option func(*Gate)

// WithClock 替换时钟.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New 创建 Gate.
func New(db *gorm.DB, cfg configs.AuthConfig, opts ...Option) *Gate {
	g := &Gate{db: db, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(g)
	}

	return g
}

// Identify 从请求中识别身份. 未识别的请求返回匿名身份.
func (g *Gate) Identify(ctx context.Context, r *http.Request) (*Principal, error) {
	p := Anonymous()

	p.Magic = g.cookieMatches(r, g.cfg.MagicDownloadCookieName, g.cfg.MagicDownloadCookieValue)
	p.MagicAPI = g.cookieMatches(r, g.cfg.MagicAPICookieName, g.cfg.MagicAPICookieValue)

	user, token, err := g.lookupUser(ctx, r)
	if err != nil {
		return nil, err
	}

	p.User = user
	p.Token = token

	if user != nil {
		grants, err := g.LoadGrants(ctx, user.ID)
		if err != nil {
			return nil, err
		}

		p.grants = grants
	}

	return p, nil
}

func (g *Gate) cookieMatches(r *http.Request, name, value string) bool {
	if name == "" || value == "" {
		return false
	}

	c, err := r.Cookie(name)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(value)) == 1
}

// lookupUser 依次尝试 Bearer token、会话 cookie、代理邮箱头.
func (g *Gate) lookupUser(ctx context.Context, r *http.Request) (*model.User, bool, error) {
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && tok != "" {
		for _, t := range g.cfg.APITokens {
			if subtle.ConstantTimeCompare([]byte(t), []byte(tok)) == 1 {
				return nil, true, nil
			}
		}

		u, err := g.findUser(ctx, "api_token = ?", tok)
		if u != nil || err != nil {
			return u, u != nil, err
		}
	}

	if g.cfg.SessionCookie != "" {
		if c, err := r.Cookie(g.cfg.SessionCookie); err == nil && c.Value != "" {
			u, err := g.findUser(ctx, "cookie = ?", c.Value)
			if u != nil || err != nil {
				return u, false, err
			}
		}
	}

	email := strings.TrimSpace(r.Header.Get("X-Auth-Request-Email"))
	if email == "" {
		email = strings.TrimSpace(r.Header.Get("X-Forwarded-Email"))
	}

	if email != "" {
		u, err := g.findUser(ctx, "email = ?", email)
		return u, false, err
	}

	return nil, false, nil
}

func (g *Gate) findUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User

	err := g.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &u, nil
}

// LoadGrants 读取用户的全部授权.
func (g *Gate) LoadGrants(ctx context.Context, userID uint) (*Grants, error) {
	var rows []model.UserProgram
	if err := g.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := &Grants{
		Programs:     make(map[string]struct{}),
		Observations: make(map[string]struct{}),
		Filenames:    make(map[string]struct{}),
	}

	for _, r := range rows {
		switch {
		case r.ProgramID != "":
			out.Programs[r.ProgramID] = struct{}{}
		case r.ObservationID != "":
			out.Observations[r.ObservationID] = struct{}{}
		case r.Filename != "":
			out.Filenames[r.Filename] = struct{}{}
		}
	}

	return out, nil
}

// Decide 判断身份能否获取 h 描述的文件. filename 为 File 的逻辑名.
func (g *Gate) Decide(p *Principal, h *model.Header, filename string) Decision {
	if p == nil {
		p = Anonymous()
	}

	switch {
	case p.Magic:
		return Decision{Allowed: true, Magic: true}
	case p.Token:
		return Decision{Allowed: true}
	case p.Staff():
		return Decision{Allowed: true, Staff: true}
	case h.Release != nil && !g.now().Before(*h.Release):
		return Decision{Allowed: true, Released: true}
	case h.Engineering || h.CalibrationProgram:
		return Decision{Allowed: true, Eng: true}
	case p.grants.has(h, filename):
		return Decision{Allowed: true, PI: true}
	}

	return Decision{}
}

// Redact 坐标受保护且身份无权访问时清除坐标与对象名，返回是否做了修改.
func (g *Gate) Redact(p *Principal, h *model.Header, filename string) bool {
	if !h.ProprietaryCoordinates || g.Decide(p, h, filename).Allowed {
		return false
	}

	h.RA = nil
	h.Dec = nil
	h.Azimuth = nil
	h.Elevation = nil
	h.Airmass = nil
	h.CassRotatorPA = nil
	h.Object = ProprietaryPlaceholder

	return true
}

type principalKey struct{}

// WithPrincipal 把身份放入 context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext 取出身份，没有时返回匿名.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok && p != nil {
		return p
	}

	return Anonymous()
}
