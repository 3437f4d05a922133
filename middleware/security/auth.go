package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"PShop/tools/errs"
	"PShop/tools/security"
)

// ---- context key ----
// 后续 handler 统一用这些 key 读取
const (
	PPCtxUserKey = "pshop.user" // string
	PPCtxRoleKey = "pshop.role" // string
	PPCtxNameKey = "pshop.name" // string
)

type Options struct {
	Token security.Options

	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	EnableQueryToken          bool   // ?token=，websocket 握手用
}

func DefaultOptions(token security.Options) *Options {
	return &Options{
		Token:                     token,
		HeaderToken:               "authorization",
		EnableAuthorizationBearer: true,
		EnableQueryToken:          true,
	}
}

func (o *Options) extract(c *gin.Context) string {
	token := strings.TrimSpace(c.GetHeader(o.HeaderToken))
	// 兼容 Authorization: Bearer xxx
	if o.EnableAuthorizationBearer {
		if bearer := security.BearerToken(token); bearer != "" {
			token = bearer
		}
	}
	if token == "" && o.EnableQueryToken {
		token = strings.TrimSpace(c.Query("token"))
	}
	return token
}

// Middleware verifies the JWT and stores the subject, role and name in the context.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := opts.extract(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail("missing token"))
			return
		}
		claims, err := security.Verify(opts.Token, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail(err.Error()))
			return
		}
		c.Set(PPCtxUserKey, claims.Subject)
		c.Set(PPCtxRoleKey, claims.Role)
		c.Set(PPCtxNameKey, claims.Name)
		c.Next()
	}
}

// Authenticator adapts token verification for the websocket upgrade.
func Authenticator(opts *Options) func(token string) (string, error) {
	return func(token string) (string, error) {
		claims, err := security.Verify(opts.Token, token)
		if err != nil {
			return "", errs.ErrTokenInvalid.WrapMsg(err.Error())
		}
		return claims.Subject, nil
	}
}

// UserID 读当前用户；未鉴权路由返回空
func UserID(c *gin.Context) string { return c.GetString(PPCtxUserKey) }

func Role(c *gin.Context) string { return c.GetString(PPCtxRoleKey) }
