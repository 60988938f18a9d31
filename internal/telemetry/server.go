package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/striderobotics/cyclekit/internal/logging"
	"github.com/striderobotics/cyclekit/internal/monitoring"
	"github.com/striderobotics/cyclekit/internal/params"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // operator tooling connects from arbitrary origins
	},
}

const writeTimeout = 5 * time.Second

// Server exposes telemetry subscriptions, parameter access, and metrics to
// external tooling over HTTP.
type Server struct {
	publisher *Publisher
	store     *params.Store
	logger    *logging.Logger
	engine    *gin.Engine
	http      *http.Server
}

// ServerConfig configures the external interface.
type ServerConfig struct {
	Publisher     *Publisher
	Params        *params.Store
	Logger        *logging.Logger
	EnableMetrics bool
}

// NewServer builds the HTTP surface. Routes:
//
//	GET /cyclers            list subscribable cycler streams
//	GET /telemetry/:cycler  websocket frame stream
//	GET /params/            list parameter leaf paths
//	GET /params/*path       read a parameter leaf
//	PUT /params/*path       write a parameter leaf
//	GET /metrics            Prometheus scrape endpoint
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	s := &Server{
		publisher: cfg.Publisher,
		store:     cfg.Params,
		logger:    cfg.Logger.Named("telemetry"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET("/cyclers", s.handleCyclers)
	engine.GET("/telemetry/:cycler", s.handleSubscribe)
	if s.store != nil {
		engine.GET("/params/*path", s.handleParamRead)
		engine.PUT("/params/*path", s.handleParamWrite)
	}
	if cfg.EnableMetrics {
		engine.GET("/metrics", gin.WrapH(monitoring.Handler()))
	}

	s.engine = engine
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("telemetry server listening", zap.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleCyclers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cyclers": s.publisher.Cyclers()})
}

func (s *Server) handleSubscribe(c *gin.Context) {
	name := c.Param("cycler")
	stream, ok := s.publisher.Stream(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown cycler: " + name})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := stream.Subscribe()
	defer sub.Close()
	s.logger.Info("subscriber attached",
		zap.String("cycler", name), zap.String("id", sub.ID))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only serve to detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			break
		}
		payload, err := sonic.Marshal(frame)
		if err != nil {
			s.logger.Warn("frame serialization failed",
				zap.String("cycler", name), zap.Error(err))
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}

	s.logger.Info("subscriber detached",
		zap.String("cycler", name), zap.String("id", sub.ID))
}

func (s *Server) handleParamRead(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		view := s.store.View()
		paths := view.Paths()
		sort.Strings(paths)
		c.JSON(http.StatusOK, gin.H{
			"paths":      paths,
			"count":      view.Len(),
			"generation": view.Generation(),
		})
		return
	}
	value, generation, err := s.store.Read(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"path":       path,
		"value":      value,
		"generation": generation,
	})
}

func (s *Server) handleParamWrite(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var req struct {
		Value any `json:"value"`
	}
	if err := sonic.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON: " + err.Error()})
		return
	}

	value := coerceNumeric(s.store, path, req.Value)
	if err := s.store.Write(path, value); err != nil {
		status := http.StatusBadRequest
		var unknown *params.UnknownPathError
		if errors.As(err, &unknown) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	_, generation, _ := s.store.Read(path)
	s.logger.Info("parameter written",
		zap.String("path", path), zap.Uint64("generation", generation))
	c.JSON(http.StatusOK, gin.H{"path": path, "generation": generation})
}

// coerceNumeric maps JSON's float64 onto integer-typed leaves when the value
// is integral, so operator tooling can write int parameters. The store's own
// type check still rejects genuine mismatches.
func coerceNumeric(store *params.Store, path string, value any) any {
	f, ok := value.(float64)
	if !ok {
		return value
	}
	current, _, err := store.Read(path)
	if err != nil {
		return value
	}
	switch current.(type) {
	case int:
		if f == float64(int(f)) {
			return int(f)
		}
	case int64:
		if f == float64(int64(f)) {
			return int64(f)
		}
	case uint64:
		if f >= 0 && f == float64(uint64(f)) {
			return uint64(f)
		}
	}
	return value
}
