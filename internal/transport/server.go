// Package transport is the Transport / Bridge component from spec.md
// §4.G: it serializes engine events to WebSocket subscribers and
// demultiplexes inbound commands into engine calls. It holds no domain
// logic of its own.
package transport

import (
	"net/http"
	"time"

	"spotbot-core/internal/engine"
	"spotbot-core/internal/events"
	"spotbot-core/internal/monitor"

	"github.com/gin-gonic/gin"
)

// SystemMeta describes static runtime info exposed alongside status.
type SystemMeta struct {
	ExchangeID string `json:"exchangeId"`
	Sandbox    bool   `json:"sandbox"`
	Version    string `json:"version"`
}

// Server wires the HTTP and WebSocket surface around the engine and
// event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Engine    *engine.Engine
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
}

// NewServer builds a Server with the full middleware stack applied in
// the order the teacher's gateway API used: recovery, then request ID,
// then logging (so it can see the ID), then rate limiting, timeout and
// CORS.
func NewServer(bus *events.Bus, eng *engine.Engine, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret string, rateLimitRPS float64, rateLimitBurst int) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware(rateLimitRPS, rateLimitBurst))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Engine:    eng,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		api.GET("/status", s.getStatus)
		api.GET("/snapshot", s.getSnapshot)
		api.GET("/metrics", s.getMetrics)
		api.POST("/commands", s.postCommand)
		api.PUT("/settings", s.putSettings)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
