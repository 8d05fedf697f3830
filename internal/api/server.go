package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/internal/database"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/engine"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
)

// entryConfirmWait bounds how long a signal response waits for the
// entry fill before answering with the in-flight state.
const entryConfirmWait = 3 * time.Second

// ServerConfig holds the admin HTTP surface settings.
type ServerConfig struct {
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowOrigins   []string `json:"allow_origins"`
}

// Server exposes engine status and governor controls over HTTP.
type Server struct {
	config      ServerConfig
	router      *gin.Engine
	httpServer  *http.Server
	coordinator *engine.Coordinator
	journal     *database.Journal // nil when the journal is disabled
	logger      zerolog.Logger
}

func NewServer(
	config ServerConfig,
	coordinator *engine.Coordinator,
	journal *database.Journal,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		config:      config,
		router:      router,
		coordinator: coordinator,
		journal:     journal,
		logger:      logger.With().Str("component", "APIServer").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/position", s.handlePosition)
		api.GET("/governor", s.handleGovernor)
		api.POST("/governor/halt", s.handleHalt)
		api.POST("/governor/resume", s.handleResume)
		api.POST("/signal", s.handleSignal)
		api.GET("/trades", s.handleTrades)
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info().Int("port", s.config.Port).Msg("Admin API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.Status())
}

func (s *Server) handlePosition(c *gin.Context) {
	st := s.coordinator.Status()
	if st.Position == nil {
		c.JSON(http.StatusOK, gin.H{"open": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"open": true, "position": st.Position})
}

func (s *Server) handleGovernor(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.Status().Governor)
}

func (s *Server) handleHalt(c *gin.Context) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Message == "" {
		body.Message = "halted by operator"
	}

	s.coordinator.Halt(body.Message)
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.coordinator.ResumeTrading()
	c.JSON(http.StatusOK, gin.H{"resumed": true})
}

func (s *Server) handleSignal(c *gin.Context) {
	var body struct {
		Symbol     string  `json:"symbol" binding:"required"`
		Side       string  `json:"side" binding:"required"`
		EntryPrice float64 `json:"entry_price" binding:"required"`
		StopLoss   float64 `json:"stop_loss" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	side := exchange.Side(body.Side)
	if side != exchange.SideBuy && side != exchange.SideSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be Buy or Sell"})
		return
	}

	res, err := s.coordinator.HandleSignal(c.Request.Context(), engine.Signal{
		Symbol:     body.Symbol,
		Side:       side,
		EntryPrice: body.EntryPrice,
		StopLoss:   body.StopLoss,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !res.Executed {
		c.JSON(http.StatusOK, res)
		return
	}

	// hold the response briefly so the caller learns whether the entry
	// confirmed; on timeout the fill still arrives through the stream
	state := s.coordinator.AwaitEntry(c.Request.Context(), res.ClientID, entryConfirmWait)
	c.JSON(http.StatusOK, gin.H{
		"executed":    true,
		"client_id":   res.ClientID,
		"sizing":      res.Sizing,
		"entry_state": state,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	trades, err := s.journal.RecentTrades(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}
