package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fitchat/config"
	"fitchat/internal/bus"
	"fitchat/internal/channel"
	"fitchat/internal/identity"
	"fitchat/internal/message"
	"fitchat/internal/presence"
)

type Server struct {
	router    *gin.Engine
	cfg       *config.Config
	directory *channel.Directory
	messages  *message.Service
	registry  *presence.Registry
	bus       *bus.Bus
	profiles  identity.Provider
	log       zerolog.Logger
}

func NewServer(
	cfg *config.Config,
	directory *channel.Directory,
	messages *message.Service,
	registry *presence.Registry,
	b *bus.Bus,
	profiles identity.Provider,
	log zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Logger(log))
	router.Use(RateLimitMiddleware(cfg.RateLimitRPS))

	server := &Server{
		router:    router,
		cfg:       cfg,
		directory: directory,
		messages:  messages,
		registry:  registry,
		bus:       b,
		profiles:  profiles,
		log:       log.With().Str("component", "api").Logger(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	// Group for authenticated routes
	authRoute := s.router.Group("/")
	authRoute.Use(AuthMiddleware([]byte(s.cfg.JWTSecret)))
	{
		authRoute.GET("/channels", s.listChannels)
		authRoute.GET("/channels/:id", s.getChannel)
		authRoute.GET("/channels/:id/messages", s.channelHistory)
		authRoute.POST("/channels/:id/messages", s.sendMessage)
		authRoute.DELETE("/channels/:id/messages/:messageID", s.deleteMessage)
		authRoute.POST("/channels/:id/reactions", s.toggleReaction)
		authRoute.POST("/channels/:id/read", s.markRead)
		authRoute.POST("/channels/:id/typing", s.setTyping)
		authRoute.GET("/channels/:id/presence", s.channelPresence)
		authRoute.GET("/channels/:id/ws", s.serveWS)
		authRoute.POST("/presence/heartbeat", s.heartbeat)
		authRoute.POST("/presence/activity", s.reportActivity)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status": "ok",
	})
}

// channelRef parses and authorizes the :id path parameter, answering
// the channel meta on success. Writes the error response itself.
func (s *Server) channelRef(c *gin.Context) (channel.Ref, *channel.Meta, bool) {
	ref, err := channel.ParseRef(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid channel id"})
		return channel.Ref{}, nil, false
	}

	meta, err := s.directory.Authorize(c.Request.Context(), ref, c.GetString("userID"))
	if err != nil {
		s.abortWithError(c, err)
		return channel.Ref{}, nil, false
	}
	return ref, meta, true
}
