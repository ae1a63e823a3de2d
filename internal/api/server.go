package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/austinmroczek/neovolta/config"
	"github.com/austinmroczek/neovolta/internal/collector"
	"github.com/austinmroczek/neovolta/internal/inverter"
	"github.com/austinmroczek/neovolta/internal/setup"
	"github.com/austinmroczek/neovolta/internal/stats"
)

// Source provides the snapshot served by the API.
type Source interface {
	Latest() *inverter.Snapshot
	Status() collector.Status
}

// Validator checks an inverter configuration by contacting the device.
type Validator func(ctx context.Context, cfg *config.Config) (*setup.Result, error)

type Server struct {
	router   *gin.Engine
	server   *http.Server
	source   Source
	stats    *stats.Stats
	config   *config.Config
	validate Validator
	port     int
	logger   *zap.Logger
}

type ServerConfig struct {
	Port      int
	Source    Source
	Stats     *stats.Stats
	Config    *config.Config
	Validator Validator
	Logger    *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}

	s := &Server{
		router:   router,
		source:   cfg.Source,
		stats:    cfg.Stats,
		config:   cfg.Config,
		validate: cfg.Validator,
		port:     cfg.Port,
		logger:   logger,
	}
	router.Use(s.requestLogger)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api/v1")
	{
		api.GET("/snapshot", s.snapshotHandler)
		api.GET("/snapshot/:key", s.valueHandler)
		api.GET("/sensors", s.sensorsHandler)
		api.GET("/stats", s.statsHandler)

		api.GET("/config/inverter", s.getInverterConfigHandler)
		api.POST("/config/inverter/test", s.testInverterConfigHandler)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server starting", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("http request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)))
}

func (s *Server) healthHandler(c *gin.Context) {
	status := s.source.Status()
	inverterOnline := status.LastError == "" && !status.LastSuccess.IsZero()

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"inverter_online": inverterOnline,
		"collector":       status,
		"timestamp":       time.Now(),
	})
}

func (s *Server) snapshotHandler(c *gin.Context) {
	snap := s.source.Latest()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No data available yet",
		})
		return
	}

	c.Header("Last-Modified", snap.UpdatedAt.UTC().Format(http.TimeFormat))
	c.JSON(http.StatusOK, gin.H{
		"updated_at": snap.UpdatedAt,
		"stale":      s.source.Status().Stale,
		"data":       snap,
	})
}

func (s *Server) valueHandler(c *gin.Context) {
	key := inverter.Key(c.Param("key"))
	sensor, ok := inverter.SensorFor(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown key %q", key)})
		return
	}

	v, ok := s.source.Latest().Get(key)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No data available yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":    key,
		"value":  v,
		"sensor": sensor,
	})
}

func (s *Server) sensorsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, inverter.Sensors)
}

type StatsResponse struct {
	stats.Counters
	Failures uint64 `json:"failures"`
}

func (s *Server) statsHandler(c *gin.Context) {
	var counters stats.Counters
	if s.stats != nil {
		counters = s.stats.Counters()
	}
	c.JSON(http.StatusOK, StatsResponse{Counters: counters, Failures: counters.Failures()})
}

type InverterConfigResponse struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	UnitID  uint8  `json:"unit_id"`
	Driver  string `json:"driver"`
	Timeout string `json:"timeout"`
}

type InverterConfigRequest struct {
	Host           string `json:"host" binding:"required"`
	Port           int    `json:"port"`
	UnitID         uint8  `json:"unit_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (s *Server) getInverterConfigHandler(c *gin.Context) {
	inv := s.config.Inverter
	c.JSON(http.StatusOK, InverterConfigResponse{
		Host:    inv.Host,
		Port:    inv.Port,
		UnitID:  inv.UnitID,
		Driver:  inv.Driver,
		Timeout: inv.Timeout.String(),
	})
}

// testInverterConfigHandler runs the setup validation against a candidate
// address without touching the running collector.
func (s *Server) testInverterConfigHandler(c *gin.Context) {
	var req InverterConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "success": false})
		return
	}

	candidate := *s.config
	candidate.Inverter.Host = req.Host
	if req.Port > 0 {
		candidate.Inverter.Port = req.Port
	}
	if req.UnitID > 0 {
		candidate.Inverter.UnitID = req.UnitID
	}
	if req.TimeoutSeconds > 0 {
		candidate.Inverter.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	res, err := s.validate(c.Request.Context(), &candidate)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   setup.Message(err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"serial_number": res.SerialNumber,
	})
}
