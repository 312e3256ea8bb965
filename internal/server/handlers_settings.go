package server

import (
	"net/http"

	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/printer"
)

func (s *Server) handleGetUserSettings(w http.ResponseWriter, r *http.Request) {
	svc, err := s.newSettingsService(r.Context())
	if err != nil {
		s.writeError(w, r, "get user settings", err)
		return
	}

	us, err := svc.Get(r.Context())
	if err != nil {
		s.writeError(w, r, "get user settings", err)
		return
	}

	writeJSON(w, http.StatusOK, printer.NewUserSettingsOutput(us))
}

func (s *Server) handleUpdateUserSettings(w http.ResponseWriter, r *http.Request) {
	var patch model.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, "update user settings", err)
		return
	}

	svc, err := s.newSettingsService(r.Context())
	if err != nil {
		s.writeError(w, r, "update user settings", err)
		return
	}

	us, err := svc.Update(r.Context(), patch)
	if err != nil {
		s.writeError(w, r, "update user settings", err)
		return
	}

	writeJSON(w, http.StatusOK, printer.NewUserSettingsOutput(us))
}

func (s *Server) handleGetAppSettings(w http.ResponseWriter, r *http.Request) {
	svc, err := s.newSettingsService(r.Context())
	if err != nil {
		s.writeError(w, r, "get app settings", err)
		return
	}

	as, err := svc.GetAppSettings(r.Context())
	if err != nil {
		s.writeError(w, r, "get app settings", err)
		return
	}

	writeJSON(w, http.StatusOK, as)
}

func (s *Server) handleSaveAppSettings(w http.ResponseWriter, r *http.Request) {
	var as model.AppSettings
	if err := decodeJSON(r, &as); err != nil {
		s.writeError(w, r, "save app settings", err)
		return
	}

	svc, err := s.newSettingsService(r.Context())
	if err != nil {
		s.writeError(w, r, "save app settings", err)
		return
	}

	if err := svc.SaveAppSettings(r.Context(), as); err != nil {
		s.writeError(w, r, "save app settings", err)
		return
	}

	writeJSON(w, http.StatusOK, as)
}
