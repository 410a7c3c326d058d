package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/server/handlers/files"
	"github.com/gobox/gobox/internal/server/handlers/users"
	"github.com/gobox/gobox/internal/server/handlers/ws"
	"github.com/gobox/gobox/internal/server/middlewares"
	"github.com/gobox/gobox/internal/version"
)

func SetupRoutes(config *Config, svc *Services, hub *ws.WebsocketHub) http.Handler {
	r := gin.New()

	filesH := files.New(svc.Blob)
	usersH := users.New(svc.Users)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	{
		userRoutes := v1.Group("/users", middlewares.RateLimiter(config.UserRateLimit))
		userRoutes.POST("/register", usersH.Register)
		userRoutes.POST("/activate", usersH.Activate)

		authed := v1.Group("", middlewares.BasicAuth(svc.Users, config.RequireAuth))
		authed.GET("/timestamp", filesH.Timestamp)
		authed.GET("/listing", middlewares.GZIP(), filesH.List)
		authed.GET("/files/*path", filesH.Download)
		authed.POST("/files/*path", filesH.Upload)
		authed.PUT("/files/*path", filesH.Modify)
		authed.DELETE("/files/*path", filesH.Delete)

		// websocket events
		authed.GET("/events", hub.WebsocketHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, boxapi.NewAPIError(boxapi.CodeInvalidRequest, "not found"))
	})

	return r.Handler()
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
