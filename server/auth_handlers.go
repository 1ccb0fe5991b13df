package server

import (
	"net/http"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/rs/zerolog"
)

const (
	authStageLogin    = "login"
	authStageCallback = "callback"
	authStageLogout   = "logout"
)

// LoginHandler starts the PKCE round trip, optionally pinned to ?tenant=<hint>
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.flow.BeginAuthorization(w, r, r.URL.Query().Get("tenant"))
		s.metrics.ObserveAuth(authStageLogin, err)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("unable to start authorization")
			if apperrors.Is(err, apperrors.ErrInvalidRequest) {
				s.redirectToFrontend(w, r, "Invalid tenant")
				return
			}
			s.redirectToFrontend(w, r, "Unable to start sign-in")
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())
		query := r.URL.Query()

		if providerErr := query.Get("error"); providerErr != "" {
			s.flow.AbortAuthorization(w, r)
			description := query.Get("error_description")
			if description == "" {
				description = providerErr
			}
			log.Warn().Str("error", providerErr).Str("error_description", description).Msg("provider rejected authorization")
			s.metrics.ObserveAuth(authStageCallback, apperrors.ErrTokenExchangeFailed)
			s.redirectToFrontend(w, r, description)
			return
		}

		session, err := s.flow.CompleteAuthorization(w, r, query.Get("code"), query.Get("state"))
		if err == nil {
			err = s.sessions.ForRequest(w, r).Establish(session)
		}
		s.metrics.ObserveAuth(authStageCallback, err)
		if err != nil {
			log.Warn().Err(err).Msg("authorization callback failed")
			s.redirectToFrontend(w, r, callbackErrorMessage(err))
			return
		}

		log.Info().Str("tenant_id", session.TenantID).Msg("intune session established")
		s.redirectToFrontend(w, r, "")
	}
}

func callbackErrorMessage(err error) string {
	switch {
	case apperrors.Is(err, apperrors.ErrStateMismatch):
		return "Sign-in request expired or was invalid. Please try again."
	case apperrors.Is(err, apperrors.ErrTokenExchangeFailed):
		return err.Error()
	default:
		return "Unable to complete sign-in"
	}
}

// LogoutHandler drops the local session. The provider session is left alone.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sessions.ForRequest(w, r).Invalidate()
		s.metrics.ObserveAuth(authStageLogout, nil)
		s.redirectToFrontend(w, r, "")
	}
}
