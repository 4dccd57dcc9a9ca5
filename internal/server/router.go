package server

import (
	"net/http"
	"time"

	"github.com/MunoLike/gameserver/internal/auth"
	"github.com/MunoLike/gameserver/internal/config"
	"github.com/MunoLike/gameserver/internal/metrics"
	"github.com/MunoLike/gameserver/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件与 REST API。
func SetupRouter(cfg config.Config, h *Handler, users auth.Resolver) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	// 控制单个 IP+路由的速率，客户端轮询 wait/result 时也不至于压垮数据库。
	r.Use(mw.RateLimit(requestRate(cfg.RateLimitPerSecond), cfg.RateLimitBurst))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/user/create", h.CreateUser)
	r.POST("/room/list", h.ListRooms)

	// 需要 Bearer Token 的业务接口。
	authed := r.Group("")
	authed.Use(auth.AuthMiddleware(users))

	authed.GET("/user/me", h.Me)
	authed.POST("/user/update", h.UpdateUser)

	authed.POST("/room/create", h.CreateRoom)
	authed.POST("/room/join", h.JoinRoom)
	authed.POST("/room/wait", h.WaitRoom)
	authed.POST("/room/start", h.StartRoom)
	authed.POST("/room/end", h.EndRoom)
	authed.POST("/room/result", h.ResultRoom)
	authed.POST("/room/leave", h.LeaveRoom)
	return r
}

// requestRate 把每秒请求数换算为令牌桶速率，非正数表示不限速。
func requestRate(perSecond int) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Second / time.Duration(perSecond))
}
