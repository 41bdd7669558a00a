// Package server exposes the gateway over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
	"github.com/wilhg/toolgate/pkg/gateway"
	"github.com/wilhg/toolgate/pkg/journal"
)

const maxArgsBytes = 1 << 20

// Gateway is the routing surface the server needs.
type Gateway interface {
	Interfaces() []gateway.InterfaceInfo
	Operations(name string) ([]adapter.Operation, error)
	Health(ctx context.Context, name string) (adapter.Health, error)
	Route(ctx context.Context, name, tool string, args map[string]any) (any, error)
	Journal() journal.Journal
}

// Server serves the gateway routes.
type Server struct {
	gw      Gateway
	logger  *slog.Logger
	version string
	engine  *gin.Engine
}

// New builds the route table.
func New(gw Gateway, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{gw: gw, logger: logger.With("component", "http"), version: version, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.accessLog)

	s.engine.GET("/healthz", s.healthz)
	v1 := s.engine.Group("/v1")
	{
		v1.GET("/interfaces", s.listInterfaces)
		v1.GET("/interfaces/:name/operations", s.operations)
		v1.GET("/interfaces/:name/health", s.health)
		v1.POST("/interfaces/:name/tools/:tool", s.invoke)
		v1.GET("/invocations", s.invocations)
	}
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "toolgate.http")
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.logger.InfoContext(ctx, "http shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.DebugContext(c.Request.Context(), "request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func fail(c *gin.Context, err error) {
	errmodel.WriteHTTP(c.Writer, c.Request, err)
	c.Abort()
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version, "interfaces": len(s.gw.Interfaces())})
}

func (s *Server) listInterfaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"interfaces": s.gw.Interfaces()})
}

func (s *Server) operations(c *gin.Context) {
	name := c.Param("name")
	ops, err := s.gw.Operations(name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interface": name, "operations": ops})
}

func (s *Server) health(c *gin.Context) {
	name := c.Param("name")
	h, err := s.gw.Health(c.Request.Context(), name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interface": name, "health": h})
}

func (s *Server) invoke(c *gin.Context) {
	args := map[string]any{}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxArgsBytes))
	if err != nil {
		fail(c, errmodel.InvalidArguments("read request body", nil, err))
		return
	}
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			fail(c, errmodel.InvalidArguments("arguments must be a JSON object", map[string]any{"tool": c.Param("tool")}, err))
			return
		}
		args = normalizeNumbers(args).(map[string]any)
	}
	res, err := s.gw.Route(c.Request.Context(), c.Param("name"), c.Param("tool"), args)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) invocations(c *gin.Context) {
	j := s.gw.Journal()
	if j == nil {
		fail(c, errmodel.New(errmodel.CategoryValidation, "not_found", "journal is not configured", nil))
		return
	}
	f := journal.Filter{Interface: c.Query("interface"), Tool: c.Query("tool")}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, errmodel.InvalidArguments("limit must be a non-negative integer", map[string]any{"value": v}))
			return
		}
		f.Limit = n
	}
	list, err := j.List(c.Request.Context(), f)
	if err != nil {
		fail(c, errmodel.New(errmodel.CategorySystem, "internal", "list invocations", nil, err))
		return
	}
	if list == nil {
		list = []journal.Invocation{}
	}
	c.JSON(http.StatusOK, gin.H{"invocations": list})
}
