package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/atelier/pkg/observability"
	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/spaces"
	"github.com/rhuss/atelier/pkg/transport"
)

// Config holds configuration for the HTTP server.
type Config struct {
	Addr string

	// StorageDir is the artifact directory. It is served under
	// /<base name>/ and receives uploads.
	StorageDir string

	// PublicURL is the base URL clients reach this server at, without the
	// storage directory and without a trailing slash.
	PublicURL string

	FrontendDir    string
	MaxUploadBytes int64

	// MetricsPath enables the Prometheus endpoint when non-empty.
	MetricsPath string

	// MCPPath and MCPHandler mount the MCP endpoint when both are set.
	MCPPath    string
	MCPHandler http.Handler

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// maxJSONBody bounds the spaces API request bodies.
const maxJSONBody = 32 << 20

// Server serves uploads, the spaces API, static files and the operational
// endpoints.
type Server struct {
	cfg        Config
	httpServer *http.Server
	storage    *pathguard.Guard
	dirName    string
	spaces     spaces.Store
	images     *spaces.Images
	now        func() time.Time
}

// NewServer creates a Server. The storage directory must exist.
func NewServer(cfg Config, store spaces.Store) (*Server, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	guard, err := pathguard.New(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("guarding storage dir: %w", err)
	}
	images, err := spaces.NewImages(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		storage: guard,
		dirName: filepath.Base(guard.Root()),
		spaces:  store,
		images:  images,
		now:     time.Now,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/spaces", s.handleListSpaces)
	mux.HandleFunc("GET /api/spaces/load/{id}", s.handleLoadSpace)
	mux.HandleFunc("POST /api/spaces/save", s.handleSaveSpace)
	mux.HandleFunc("POST /api/spaces/delete", s.handleDeleteSpace)
	mux.HandleFunc("POST /api/spaces/delete-image", s.handleDeleteImage)
	mux.HandleFunc("POST /api/spaces/move-image", s.handleMoveImage)

	mux.HandleFunc("GET /"+s.dirName+"/", s.handleStorage)
	mux.Handle("GET /frontend/", http.StripPrefix("/frontend/", http.FileServer(http.Dir(s.cfg.FrontendDir))))
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	if s.cfg.MetricsPath != "" {
		mux.Handle("GET "+s.cfg.MetricsPath, promhttp.Handler())
	}
	if s.cfg.MCPPath != "" && s.cfg.MCPHandler != nil {
		mux.Handle(s.cfg.MCPPath, s.cfg.MCPHandler)
	}

	return transport.Chain(
		transport.CORS(),
		transport.RequestID(),
		transport.Logging(s.cfg.Logger),
		transport.Recovery(),
		observability.MetricsMiddleware,
	)(mux)
}

// Run serves on cfg.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return transport.Serve(ctx, s.httpServer, nil, s.cfg.ShutdownTimeout)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	return transport.Serve(ctx, s.httpServer, ln, s.cfg.ShutdownTimeout)
}

// storageURL returns the public URL of a path relative to the storage
// directory's parent, such as "data/foo.png".
func (s *Server) storageURL(rel string) string {
	return s.cfg.PublicURL + "/" + rel
}
