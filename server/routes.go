package server

import "net/http"

func (s *Server) initRoutes() {
	// AUTH
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.LimitedMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.CallbackHandler(), s.LimitedMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.LimitedMiddleware()...))

	// INTUNE
	s.RegisterRouteHandler("GET "+RouteIntuneStatus, ChainMiddleware(s.StatusHandler(), s.LimitedMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteExecuteScript, ChainMiddleware(s.ExecuteScriptHandler(), s.LimitedMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteIntuneCommands, ChainMiddleware(s.CommandsHandler(), s.APIMiddleware()...))

	// CORS preflight for every route
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.APIMiddleware()...))

	// OPS
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
}
