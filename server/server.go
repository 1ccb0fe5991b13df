package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/intune-bridge/auth"
	"github.com/jrsteele09/intune-bridge/commands"
	"github.com/jrsteele09/intune-bridge/internal/config"
	"github.com/jrsteele09/intune-bridge/sessions"
	"github.com/rs/zerolog"
)

// Deps are the components the HTTP surface drives
type Deps struct {
	Flow     *auth.Flow
	Sessions *sessions.Manager
	Executor *commands.Executor
	Metrics  *Metrics
	Logger   zerolog.Logger
}

type Server struct {
	env         string // Environment (e.g., "DEV", "PROD")
	mux         *http.ServeMux
	routes      []string
	config      config.Config
	frontendURL string

	flow     *auth.Flow
	sessions *sessions.Manager
	executor *commands.Executor
	metrics  *Metrics
	limiter  *rateLimiter
	log      zerolog.Logger
}

func New(c config.Config, deps Deps) (*Server, error) {
	if deps.Flow == nil || deps.Sessions == nil || deps.Executor == nil {
		return nil, errors.New("[Server New] flow, sessions and executor are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	s := &Server{
		env:         c.GetEnv(),
		mux:         http.NewServeMux(),
		config:      c,
		frontendURL: strings.TrimRight(c.GetFrontendURL(), "/"),
		flow:        deps.Flow,
		sessions:    deps.Sessions,
		executor:    deps.Executor,
		metrics:     deps.Metrics,
		limiter:     newRateLimiter(c.GetRateLimitRequests(), c.GetRateLimitWindow(), c.GetRateLimitBurst()),
		log:         deps.Logger,
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	s.log.Info().Msgf("[%-19s] %s", displayMethod, path)
}
