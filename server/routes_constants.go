package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Microsoft identity platform round trip
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthLogout   = "/auth/logout"

	// Intune Routes
	RouteIntuneStatus   = "/intune/status"
	RouteIntuneCommands = "/intune/commands"
	RouteExecuteScript  = "/execute-script"

	// Operational Routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
