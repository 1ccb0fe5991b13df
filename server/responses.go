package server

import (
	"encoding/json"
	"net/http"
	"net/url"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an OAuth2 style error body
func writeJSONError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// redirectToFrontend sends the browser back to the SPA, carrying an auth error when present
func (s *Server) redirectToFrontend(w http.ResponseWriter, r *http.Request, authError string) {
	target := s.frontendURL + "/"
	if authError != "" {
		target += "?" + url.Values{"auth_error": {authError}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}
