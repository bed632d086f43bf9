package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sterling-gateway/internal/events"
	"sterling-gateway/internal/ledger"
	"sterling-gateway/internal/position"
	"sterling-gateway/internal/terminal"
)

// Server wires the HTTP surface around the ledger, position store, and
// automation adapter. No business logic lives here.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Ledger    *ledger.Ledger
	Positions *position.Store
	Adapter   *terminal.Adapter
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed on /health.
type SystemMeta struct {
	Version      string
	DefaultRoute string
}

func NewServer(bus *events.Bus, led *ledger.Ledger, pos *position.Store, adapter *terminal.Adapter, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Ledger:    led,
		Positions: pos,
		Adapter:   adapter,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	protected := s.Router.Group("")
	if s.JWTSecret != "" {
		protected.Use(AuthMiddleware(s.JWTSecret))
	}
	{
		protected.POST("/order", s.createLimitOrder)
		protected.POST("/order/market", s.createMarketOrder)
		protected.DELETE("/order", s.cancelOrder)
		protected.GET("/order/status/:order_id", s.getOrderStatus)
		protected.GET("/orders", s.listOpenOrders)
		protected.GET("/positions/:account/:symbol", s.getPosition)
		protected.GET("/positions/:account", s.listPositions)
		protected.GET("/accounts", s.listAccounts)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"ready":   s.Adapter.Ready(),
		"version": s.Meta.Version,
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
