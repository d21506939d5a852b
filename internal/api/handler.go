package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"orderflow-core/internal/engine"
	"orderflow-core/internal/monitor"
	"orderflow-core/pkg/db"
)

// Server wires HTTP endpoints around the pipeline views.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	DB      *db.Database
	Hub     *Hub
	Metrics *monitor.PipelineMetrics
	Meta    SystemMeta
	logger  zerolog.Logger
}

// SystemMeta describes the running process.
type SystemMeta struct {
	Symbol    string `json:"symbol"`
	Delimiter string `json:"delimiter"`
	Mode      string `json:"mode"`
	RunID     string `json:"run_id,omitempty"`
	Version   string `json:"version"`
}

// NewServer builds the router. database and hub may be nil; their routes
// then answer 503.
func NewServer(svc engine.Service, database *db.Database, hub *Hub, metrics *monitor.PipelineMetrics, meta SystemMeta, logger zerolog.Logger) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())              // Panic recovery (first)
	r.Use(RequestIDMiddleware())       // Request ID tracking
	r.Use(RequestLogger(logger))       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(logger)) // Rate limiting
	r.Use(CORSMiddleware())            // CORS (last before routes)

	s := &Server{
		Router:  r,
		Engine:  svc,
		DB:      database,
		Hub:     hub,
		Metrics: metrics,
		Meta:    meta,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/metrics/prom", gin.WrapH(promhttp.Handler()))

		// Chart and analytics views
		api.GET("/candles", s.getCandles)
		api.GET("/profiles", s.getProfiles)
		api.GET("/price-actions", s.getPriceActions)
		api.GET("/levels", s.getLevels)
		api.GET("/volatility", s.getVolatility)
		api.GET("/extremes", s.getExtremes)

		// Ledger views
		api.GET("/bets", s.getBets)
		api.GET("/stats", s.getStats)
		api.GET("/streaks", s.getStreaks)
		api.GET("/samples", s.getSamples)

		// Persisted runs
		runs := api.Group("/runs")
		{
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
			runs.GET("/:id/profiles", s.getRunProfiles)
			runs.GET("/:id/price-events", s.getRunPriceEvents)
			runs.GET("/:id/bets", s.getRunBets)
			runs.GET("/:id/streaks", s.getRunStreaks)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
