package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcplite/caphost/internal/capability"
	"github.com/mcplite/caphost/internal/infrastructure/config"
	"github.com/mcplite/caphost/internal/infrastructure/logging"
)

// shutdownTimeout is the maximum wait for in-flight requests during
// Close.
const shutdownTimeout = 5 * time.Second

// ConfigStore is the slice of the persistent store the local server
// needs for factory reset.
type ConfigStore interface {
	Clear() error
}

// ServerDeps holds the dependencies of the local status server.
type ServerDeps struct {
	Config   config.HTTPConfig
	Logger   *logging.Logger
	Bridge   *Bridge
	Registry *capability.Registry
	Store    ConfigStore

	// Restart requests a process restart after factory reset. The
	// composition root decides how (exit code for the supervisor).
	Restart func()

	Version string
}

// Server is the device-resident HTTP surface: a handful of management
// endpoints plus whatever the registered tools mount. Unauthenticated,
// local network only.
type Server struct {
	cfg      config.HTTPConfig
	logger   *logging.Logger
	bridge   *Bridge
	registry *capability.Registry
	store    ConfigStore
	restart  func()
	version  string

	server *http.Server
}

// NewServer creates the local status server. Not listening until
// Start.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("capability registry is required")
	}
	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		bridge:   deps.Bridge,
		registry: deps.Registry,
		store:    deps.Store,
		restart:  deps.Restart,
		version:  deps.Version,
	}, nil
}

// Start launches the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("status server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts the listener down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// buildRouter assembles the routes plus any tool-registered endpoints.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleHelp)

	// Session-dependent endpoints answer 503 while the broker session
	// is down.
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/status_now", s.handleStatusNow)
		r.Get("/reannounce", s.handleReannounce)
		r.Get("/clear_retained", s.handleClearRetained)
	})

	// Factory reset must work even with the broker unreachable.
	r.Get("/factory_reset", s.handleFactoryReset)

	for _, tool := range s.registry.Tools() {
		if reg, ok := tool.(capability.HTTPRegistrar); ok {
			reg.RegisterHTTP(r)
			s.logger.Debug("tool endpoints mounted", "tool", tool.Name())
		}
	}
	return r
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !s.bridge.Connected() {
			http.Error(w, "broker session down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) handleHelp(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "caphost %s\n\n", s.version)
	fmt.Fprintln(w, "GET /status_now      publish a status heartbeat now")
	fmt.Fprintln(w, "GET /reannounce      republish the retained announce documents")
	fmt.Fprintln(w, "GET /clear_retained  erase the broker-held retained payloads")
	fmt.Fprintln(w, "GET /factory_reset   erase configuration and restart")
}

func (s *Server) handleStatusNow(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.StatusNow(); err != nil {
		s.logger.Warn("forced status publish", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	fmt.Fprintln(w, "status published")
}

func (s *Server) handleReannounce(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.Reannounce(); err != nil {
		s.logger.Warn("forced reannounce", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	fmt.Fprintln(w, "announce republished")
}

func (s *Server) handleClearRetained(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.ClearRetainedState(); err != nil {
		s.logger.Warn("clearing retained state", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	fmt.Fprintln(w, "retained payloads cleared")
}

// handleFactoryReset erases the provisioned configuration, clears the
// broker-held snapshots when reachable, and requests a restart. The
// next boot lands in provisioning mode.
func (s *Server) handleFactoryReset(w http.ResponseWriter, _ *http.Request) {
	if s.store != nil {
		if err := s.store.Clear(); err != nil {
			s.logger.Error("clearing configuration store", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if s.bridge.Connected() {
		if err := s.bridge.ClearRetainedState(); err != nil {
			s.logger.Warn("clearing retained state during reset", "error", err)
		}
	}
	s.logger.Info("factory reset requested, restarting")
	fmt.Fprintln(w, "configuration erased, restarting")

	if s.restart != nil {
		go s.restart()
	}
}
