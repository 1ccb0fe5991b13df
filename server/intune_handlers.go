package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/intune-bridge/commands"
	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/rs/zerolog"
)

const maxRequestBodyBytes = 1 << 20

type executeRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
	ParseJSON  bool           `json:"parse_json"`
}

// StatusHandler reports whether the caller's cookie carries a usable session
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sessions.ForRequest(w, r).Status())
	}
}

func (s *Server) ExecuteScriptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())

		req, err := decodeExecuteRequest(w, r)
		if err != nil {
			log.Debug().Err(err).Msg("rejected execute request")
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		inv := commands.Invocation{
			CommandID:  req.Command,
			Parameters: req.Parameters,
			ParseJSON:  req.ParseJSON,
		}
		// Rejected invocations never touch the session, so they cannot trigger a refresh
		if res, ok := s.executor.Validate(inv); !ok {
			s.metrics.ObserveCommand(s.commandLabel(req.Command), res, 0)
			writeJSON(w, http.StatusOK, res)
			return
		}

		accessToken, err := s.sessions.ForRequest(w, r).GetValidAccessToken(r.Context())
		if err != nil {
			if !apperrors.IsSessionError(err) {
				log.Error().Err(err).Msg("unable to load session")
				writeJSONError(w, "server_error", "Unable to load session", http.StatusInternalServerError)
				return
			}
			res := commands.Result{Success: false, Error: "Not connected to Intune", ExitCode: -1, Err: err}
			s.metrics.ObserveCommand(s.commandLabel(req.Command), res, 0)
			writeJSON(w, http.StatusOK, res)
			return
		}

		started := time.Now()
		res := s.executor.Execute(r.Context(), inv, accessToken)
		elapsed := time.Since(started)
		s.metrics.ObserveCommand(s.commandLabel(req.Command), res, elapsed)

		event := log.Info()
		if !res.Success {
			event = log.Warn().AnErr("cause", res.Err)
		}
		event.Str("command", req.Command).Bool("success", res.Success).Dur("elapsed", elapsed).Msg("command executed")

		writeJSON(w, http.StatusOK, res)
	}
}

// commandLabel bounds metric cardinality to the registered ids
func (s *Server) commandLabel(commandID string) string {
	if _, ok := s.executor.Registry().Lookup(commandID); ok {
		return commandID
	}
	return unknownCommandLabel
}

func decodeExecuteRequest(w http.ResponseWriter, r *http.Request) (executeRequest, error) {
	var req executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, errors.New("request body must be a JSON object with known fields: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return req, errors.New("request body must contain a single JSON object")
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return req, errors.New("command is required")
	}
	return req, nil
}

type commandsResponse struct {
	Commands []commands.Command `json:"commands"`
}

// CommandsHandler lists the whitelisted commands and their parameter schemas
func (s *Server) CommandsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, commandsResponse{Commands: s.executor.Registry().List()})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
