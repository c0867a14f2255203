// Package mcp exposes the coordination store over the Model Context
// Protocol, so LLM workers can register, lock, and report through tool
// calls instead of raw HTTP.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/domain/worker"
	"github.com/hivetown/swarmd/internal/service"
)

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// StatusAPI reads the swarm snapshot.
type StatusAPI interface {
	Snapshot(ctx context.Context) (*service.Snapshot, error)
}

// TaskAPI covers the task card operations exposed as tools.
type TaskAPI interface {
	List(ctx context.Context, lane task.Lane) ([]task.Task, error)
	Get(ctx context.Context, lane task.Lane, id string) (*task.Task, error)
	Create(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateStatus(ctx context.Context, lane task.Lane, id string, next task.Status, notes string) (*task.Task, error)
}

// WorkerAPI covers worker registration.
type WorkerAPI interface {
	Register(ctx context.Context, req worker.RegisterRequest) (*service.WorkerStatus, error)
	Unregister(ctx context.Context, name string) error
	List(ctx context.Context) ([]service.WorkerStatus, error)
}

// LockAPI covers file reservations.
type LockAPI interface {
	Acquire(ctx context.Context, req lock.AcquireRequest) (*service.Grant, error)
	Release(ctx context.Context, req lock.ReleaseRequest) ([]string, error)
	Check(ctx context.Context, path string) (*lock.Lock, bool, error)
	List(ctx context.Context) ([]lock.Lock, error)
}

// WaveAPI covers wave control.
type WaveAPI interface {
	Status(ctx context.Context) (*wave.Wave, error)
	Compose(ctx context.Context, candidates []task.CreateRequest) (*wave.ValidationResult, error)
	Activate(ctx context.Context) (*wave.Wave, error)
	Increment(ctx context.Context) (*wave.Wave, error)
	Collect(ctx context.Context) (*result.CollectionSummary, error)
	Decompose(ctx context.Context, req service.DecomposeRequest) ([]task.CreateRequest, error)
}

// ResultAPI accepts completion records.
type ResultAPI interface {
	Submit(ctx context.Context, r *result.Result) error
}

// ServerDeps are the service interfaces the tools call. Nil fields make the
// corresponding tools report "not configured" instead of panicking.
type ServerDeps struct {
	Status  StatusAPI
	Tasks   TaskAPI
	Workers WorkerAPI
	Locks   LockAPI
	Waves   WaveAPI
	Results ResultAPI
}

// Server wraps an MCP server with the swarm tool set.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *mcpserver.StreamableHTTPServer
}

// NewServer creates an MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(true, true),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves MCP over streamable HTTP on the configured address. It does
// not block.
func (s *Server) Start() error {
	s.httpSrv = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the MCP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
