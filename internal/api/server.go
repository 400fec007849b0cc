// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smartpneu/label-engine/internal/engine"
	"github.com/smartpneu/label-engine/internal/printer"
	"github.com/smartpneu/label-engine/internal/store"
	"github.com/smartpneu/label-engine/pkg/tirespec"
)

// Server is the API server
type Server struct {
	router   *gin.Engine
	engine   *engine.Engine
	manager  *printer.Manager
	hub      *hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, manager *printer.Manager, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	router.Use(corsMiddleware())

	server := &Server{
		router:  router,
		engine:  eng,
		manager: manager,
		hub:     newHub(log),
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	server.setupRoutes()

	return server
}

// JobTransition is wired into the dispatcher so every status change reaches
// connected WebSocket clients.
func (s *Server) JobTransition(job store.Job) {
	s.hub.broadcastJob(job)
}

func (s *Server) setupRoutes() {
	s.router.POST("/labels", s.handleGenerateLabel)
	s.router.GET("/labels/:sku", s.handleGetLabel)
	s.router.POST("/labels/:sku/print", s.handlePrintLabel)
	s.router.POST("/labels/:sku/reprint", s.handlePrintLabel)

	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/jobs/:id", s.handleGetJob)
	s.router.DELETE("/jobs/:id", s.handleCancelJob)

	s.router.GET("/devices", s.handleGetDevices)
	s.router.GET("/devices/:name/health", s.handleDeviceHealth)

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// handleGenerateLabel validates a tire record, renders and stores its label.
// With ?dispatch=true the label is also queued for printing.
func (s *Server) handleGenerateLabel(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	rec, err := tirespec.Parse(data)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	dispatch := c.Query("dispatch") == "true"
	device := c.Query("device")

	if !dispatch {
		art, _, err := s.engine.Generate(rec)
		if err != nil {
			s.writeEngineError(c, err)
			return
		}
		c.JSON(201, gin.H{"artifact": art})
		return
	}

	art, jobID, err := s.engine.GenerateAndDispatch(rec, device)
	if err != nil {
		s.writeEngineError(c, err)
		return
	}
	c.JSON(201, gin.H{"artifact": art, "job_id": jobID})
}

// handleGetLabel returns artifact metadata, or the rendered page itself
// with ?format=png.
func (s *Server) handleGetLabel(c *gin.Context) {
	sku := c.Param("sku")

	art, page, err := s.engine.Artifact(sku)
	if err != nil {
		s.writeEngineError(c, err)
		return
	}

	if c.Query("format") == "png" {
		c.Data(200, "image/png", page)
		return
	}
	c.JSON(200, gin.H{"artifact": art})
}

// handlePrintLabel queues an already stored label for printing. Reprints go
// through the same path: the stored artifact is sent as-is.
func (s *Server) handlePrintLabel(c *gin.Context) {
	sku := c.Param("sku")

	var req struct {
		Device string `json:"device"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
	}

	jobID, err := s.engine.Dispatch(sku, req.Device)
	if err != nil {
		s.writeEngineError(c, err)
		return
	}

	c.JSON(202, gin.H{"job_id": jobID})
}

// handleGetJobs returns recent print jobs, newest first
func (s *Server) handleGetJobs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(400, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	jobs, err := s.engine.Jobs(limit)
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"jobs": jobs})
}

// handleGetJob returns a specific print job
func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.engine.Status(c.Param("id"))
	if err != nil {
		s.writeEngineError(c, err)
		return
	}
	c.JSON(200, job)
}

// handleCancelJob withdraws a job that was not handed to a printer yet
func (s *Server) handleCancelJob(c *gin.Context) {
	if err := s.engine.Cancel(c.Param("id")); err != nil {
		s.writeEngineError(c, err)
		return
	}
	c.JSON(200, gin.H{"success": true})
}

// handleGetDevices returns all configured print devices
func (s *Server) handleGetDevices(c *gin.Context) {
	c.JSON(200, gin.H{"devices": s.manager.All()})
}

// handleDeviceHealth probes whether the named device is reachable
func (s *Server) handleDeviceHealth(c *gin.Context) {
	name := c.Param("name")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.manager.Health(ctx, name); err != nil {
		if !printer.Retryable(err) {
			c.JSON(404, gin.H{"device": name, "healthy": false, "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"device": name, "healthy": false, "error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"device": name, "healthy": true})
}

func (s *Server) writeEngineError(c *gin.Context, err error) {
	switch {
	case tirespec.IsValidationError(err):
		c.JSON(400, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(404, gin.H{"error": err.Error()})
	default:
		c.JSON(500, gin.H{"error": err.Error()})
	}
}

// Run starts the API server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests and custom http.Server setups.
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
