package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"PShop/logger"
	chatmodel "PShop/module/chat/model"
	chatstore "PShop/module/chat/store"
	ordermodel "PShop/module/order/model"
	usermodel "PShop/module/user/model"
	"PShop/middleware"
	"PShop/service/chat/protocol"
	"PShop/service/storage"
	"PShop/tools/errs"
)

type OnlineLister interface {
	OnlineUsers(ctx context.Context) ([]protocol.OnlineUser, error)
}

type OrderRepo interface {
	Create(ctx context.Context, o *ordermodel.Order) (*ordermodel.Order, error)
	Get(ctx context.Context, id string) (*ordermodel.Order, error)
	UpdateStatus(ctx context.Context, id, status string) (*ordermodel.Order, error)
}

// OrderEvents announces order changes: NATS publisher across gateways, or the
// local notifier when there is no broker.
type OrderEvents interface {
	OrderCreated(ctx context.Context, o *ordermodel.Order) error
	OrderUpdated(ctx context.Context, o *ordermodel.Order) error
}

type HistoryRepo interface {
	List(ctx context.Context, q chatstore.ListQuery) ([]*chatmodel.Message, error)
	SessionsOf(ctx context.Context, userID string, limit int64) ([]*chatmodel.Session, error)
}

type UserRepo interface {
	Upsert(ctx context.Context, u *usermodel.User) error
}

type PresenceReader interface {
	List(ctx context.Context) ([]storage.OnlineRecord, error)
}

// Deps 每个字段都可以为空，对应的路由返回 503
type Deps struct {
	WS       gin.HandlerFunc
	Auth     gin.HandlerFunc
	Online   OnlineLister
	Orders   OrderRepo
	Events   OrderEvents
	History  HistoryRepo
	Users    UserRepo
	Presence PresenceReader
	NewID    func() string

	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Health         func(ctx context.Context) map[string]string
}

type Server struct {
	d Deps
}

func NewRouter(d Deps) *gin.Engine {
	s := &Server{d: d}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog())
	mids := middleware.NewManager()
	mids.Add(middleware.Origin(d.AllowedOrigins))
	r.Use(mids.Use())

	if d.WS != nil {
		r.GET("/ws", d.WS)
	}
	r.GET("/healthz", s.healthz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	rt := middleware.Routes{R: r.Group("/api"), Auth: d.Auth}
	rt.GET("/online-users", wrap(s.onlineUsers), middleware.RouteOpt{})
	rt.GET("/presence", wrap(s.presence), middleware.RouteOpt{IsAuth: true})
	rt.POST("/orders", wrap(s.createOrder), middleware.RouteOpt{IsAuth: true})
	rt.GET("/orders/:id", wrap(s.getOrder), middleware.RouteOpt{IsAuth: true})
	rt.PATCH("/orders/:id/status", wrap(s.updateOrderStatus), middleware.RouteOpt{IsAuth: true})
	rt.GET("/chats/:chatId/messages", wrap(s.chatMessages), middleware.RouteOpt{IsAuth: true})
	rt.GET("/users/:id/chats", wrap(s.userChats), middleware.RouteOpt{IsAuth: true})
	rt.POST("/users", wrap(s.upsertUser), middleware.RouteOpt{IsAuth: true})
	return r
}

// wrap 让 handler 直接返回 error，统一映射状态码
func wrap(h func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h(c); err != nil {
			ce, coded := errs.AsCode(err)
			status := httpStatus(ce)
			if !coded || status >= http.StatusInternalServerError {
				logger.Warn("api error", zap.String("path", c.FullPath()), zap.Error(err))
			}
			if !coded {
				ce = errs.ErrInternal
			}
			c.AbortWithStatusJSON(status, gin.H{"error": ce})
		}
	}
}

func httpStatus(ce errs.CodeError) int {
	switch {
	case errors.Is(ce, errs.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(ce, errs.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(ce, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(ce, errs.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(ce, errs.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func unavailable(what string) error {
	return errs.ErrUnavailable.WrapMsg(what + " not configured")
}

func (s *Server) healthz(c *gin.Context) {
	out := map[string]string{"status": "ok"}
	if s.d.Health != nil {
		for k, v := range s.d.Health(c.Request.Context()) {
			out[k] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) onlineUsers(c *gin.Context) error {
	if s.d.Online == nil {
		return unavailable("gateway")
	}
	users, err := s.d.Online.OnlineUsers(c.Request.Context())
	if err != nil {
		return err
	}
	if users == nil {
		users = []protocol.OnlineUser{}
	}
	c.JSON(http.StatusOK, gin.H{"items": users})
	return nil
}

// presence 读 redis 镜像，看得到所有网关的在线用户
func (s *Server) presence(c *gin.Context) error {
	if s.d.Presence == nil {
		return unavailable("presence mirror")
	}
	recs, err := s.d.Presence.List(c.Request.Context())
	if err != nil {
		return err
	}
	items := make([]gin.H, 0, len(recs))
	for _, r := range recs {
		items = append(items, gin.H{
			"id": r.UserID, "name": r.Name, "role": r.Role,
			"node": r.NodeID, "since": r.Since,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
	return nil
}
