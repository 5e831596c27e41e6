package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session for log correlation.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("client_token").(string)
		if token == "" {
			token = genClientToken()
			s.Set("client_token", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	ws := func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	}
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	}

	r.GET("/health", health)
	r.GET("/ws", ws)
	r.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			ws(c)
			return
		}
		health(c)
	})

	reg := ctl.Orch.Registry
	api := r.Group("/api")
	api.GET("/meetings", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Meetings())
	})
	api.GET("/meetings/:id/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.MeetingConnections(domain.MeetingID(c.Param("id"))))
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
