package aggregator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jirwin/casetracker/pkg/steam"
)

// Server is the aggregator's HTTP surface: the history endpoint, the upload
// endpoint, the countdown endpoint and the two WebSocket streams.
type Server struct {
	handler *Handler
	logger  *zap.Logger

	srv *http.Server
}

// NewServer creates a server around the given handler.
func NewServer(handler *Handler, logger *zap.Logger) *Server {
	return &Server{handler: handler, logger: logger}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/", s.handleState)
	router.POST("/upload", s.handleUpload)
	router.GET("/stream", s.handleStream)
	router.POST("/countdown", s.handleCountdown)
	router.GET("/sync", s.handleSync)

	return router
}

// Start begins serving on addr. It returns once the listener is running;
// serve errors are logged.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     s.router(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		s.logger.Info("starting aggregator", zap.String("addr", addr))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down: new connections stop being accepted
// and in-flight requests run to completion.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// bearerToken reads the Authorization header, accepting both the bare
// pre-shared key and the "Bearer <key>" convention.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return header
}

func (s *Server) handleState(c *gin.Context) {
	unlocks, err := s.handler.State(c.Request.Context())
	if err != nil {
		s.logger.Error("error serving state request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, unlocks)
}

func (s *Server) handleUpload(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrBadKey.Error()})
		return
	}

	var items []steam.UnhydratedUnlock
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.handler.Save(c.Request.Context(), token, items); err != nil {
		if errors.Is(err, ErrBadKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("error serving save request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) handleCountdown(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrBadKey.Error()})
		return
	}

	var req steam.CountdownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.handler.Countdown(c.Request.Context(), token, req); err != nil {
		if errors.Is(err, ErrBadKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("error serving countdown request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) handleStream(c *gin.Context) {
	events, err := s.handler.UnlockStream(c.Request.Context())
	if err != nil {
		s.logger.Error("error getting data stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.serveWebsocket(c, func(ctx context.Context, conn *websocket.Conn) error {
		return serveEvents(ctx, conn, events, s.logger)
	})
}

func (s *Server) handleSync(c *gin.Context) {
	events, err := s.handler.SyncStream(c.Request.Context())
	if err != nil {
		s.logger.Error("error getting sync stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.serveWebsocket(c, func(ctx context.Context, conn *websocket.Conn) error {
		return serveEvents(ctx, conn, events, s.logger)
	})
}

func (s *Server) serveWebsocket(c *gin.Context, serve func(context.Context, *websocket.Conn) error) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("error upgrading websocket", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	if err := serve(c.Request.Context(), conn); err != nil {
		s.logger.Error("error serving websocket", zap.Error(err))
	}
}
