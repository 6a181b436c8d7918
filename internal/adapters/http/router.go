package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Interview/internal/adapters/signal"
	"github.com/dkeye/Interview/internal/app/orch"
	"github.com/dkeye/Interview/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionName = "InterviewSessions"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, router *orch.Router) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{router: router}
	ctrl := &signal.SignalWSController{
		Router:     router,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendQueue:  cfg.SendQueue,
	}

	r.GET("/health", h.health)
	r.POST("/interview/:room/checkpoint", h.checkpoint)

	api := r.Group("/api")
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:room/members", h.listMembers)
	if cfg.Mode == "debug" {
		api.DELETE("/rooms/:room", h.evictRoom)
	}

	api.GET("/ws/signal", func(c *gin.Context) {
		creds, err := credentials(c)
		if err != nil || len(creds) == 0 {
			log.Warn().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal without checkpoint credential")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "checkpoint required"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, creds)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
