package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/printer"
	"github.com/slok/taskdash/internal/session"
	"github.com/slok/taskdash/internal/settings"
	"github.com/slok/taskdash/internal/tasksync"
)

// requestIdentity is the identity source of a single request, resolved once by
// the identity middleware.
type requestIdentity struct{ id model.Identity }

func (r requestIdentity) Loading() bool            { return false }
func (r requestIdentity) Identity() model.Identity { return r.id }

func (s *Server) newSyncer(ctx context.Context) (*tasksync.Syncer, error) {
	return tasksync.NewSyncer(tasksync.SyncerConfig{
		Factory:  s.tasks,
		Identity: requestIdentity{id: identityFrom(ctx)},
		Clock:    s.clock,
		Logger:   s.logger,
	})
}

func (s *Server) newSettingsService(ctx context.Context) (*settings.Service, error) {
	return settings.NewService(settings.ServiceConfig{
		Repository: s.settings,
		Flags:      s.flags,
		Identity:   requestIdentity{id: identityFrom(ctx)},
		Logger:     s.logger,
	})
}

type commandRequest struct {
	Command       string              `json:"command"`
	SecurityLevel model.SecurityLevel `json:"securityLevel"`
}

type pageResponse struct {
	Page string `json:"page"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, session.PathDashboard, http.StatusFound)
}

func (s *Server) handlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pageResponse{Page: name})
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	syncer, err := s.newSyncer(r.Context())
	if err != nil {
		s.writeError(w, r, "list tasks", err)
		return
	}

	view, err := syncer.Refresh(r.Context())
	if err != nil {
		s.writeError(w, r, "list tasks", err)
		return
	}

	writeJSON(w, http.StatusOK, printer.NewTaskListOutput(view.Tasks))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in model.TaskInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, "create task", err)
		return
	}

	syncer, err := s.newSyncer(r.Context())
	if err != nil {
		s.writeError(w, r, "create task", err)
		return
	}

	task, err := syncer.CreateTask(r.Context(), in)
	if err != nil {
		s.writeError(w, r, "create task", err)
		return
	}

	writeJSON(w, http.StatusCreated, printer.NewTaskOutput(*task))
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "submit command", err)
		return
	}

	syncer, err := s.newSyncer(r.Context())
	if err != nil {
		s.writeError(w, r, "submit command", err)
		return
	}

	res, err := syncer.SubmitCommand(r.Context(), model.CommandInput{
		TaskID:        chi.URLParam(r, "taskID"),
		Command:       req.Command,
		SecurityLevel: req.SecurityLevel,
	})
	if err != nil {
		s.writeError(w, r, "submit command", err)
		return
	}

	writeJSON(w, http.StatusAccepted, printer.CommandResultOutput{
		Success:   true,
		StepID:    res.StepID,
		Timestamp: res.Timestamp,
	})
}
