package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/taskdash/internal/model"
)

// JSONPrinter prints dashboard information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// TaskOutput is the JSON representation of a task, shared with the HTTP API.
type TaskOutput struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Status        string       `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	Preview       *string      `json:"preview"`
	SecurityLevel string       `json:"securityLevel"`
	Steps         []StepOutput `json:"steps"`
}

// StepOutput is the JSON representation of a step.
type StepOutput struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	ActionType string  `json:"actionType"`
	Status     string  `json:"status"`
	Log        *string `json:"log"`
}

// NewTaskOutput maps a task to its JSON representation.
func NewTaskOutput(t model.Task) TaskOutput {
	out := TaskOutput{
		ID:            t.ID,
		Name:          t.Name,
		Status:        string(t.Status),
		Timestamp:     t.Timestamp.UTC(),
		Preview:       t.Preview,
		SecurityLevel: string(t.SecurityLevel),
		Steps:         make([]StepOutput, 0, len(t.Steps)),
	}
	for _, s := range t.Steps {
		out.Steps = append(out.Steps, StepOutput{
			ID:         s.ID,
			Name:       s.Name,
			ActionType: s.ActionType,
			Status:     string(s.Status),
			Log:        s.Log,
		})
	}
	return out
}

// NewTaskListOutput maps a task list, never returns nil.
func NewTaskListOutput(tasks []model.Task) []TaskOutput {
	out := make([]TaskOutput, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, NewTaskOutput(t))
	}
	return out
}

// CommandResultOutput is the JSON representation of a command result.
type CommandResultOutput struct {
	Success   bool      `json:"success"`
	StepID    string    `json:"stepId"`
	Timestamp time.Time `json:"timestamp"`
}

// UserSettingsOutput is the JSON representation of the user settings.
type UserSettingsOutput struct {
	ID                   string `json:"id"`
	UserID               string `json:"userId"`
	Theme                string `json:"theme"`
	SecurityLevel        string `json:"securityLevel"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	DefaultMode          string `json:"defaultMode"`
}

// NewUserSettingsOutput maps the user settings.
func NewUserSettingsOutput(s model.UserSettings) UserSettingsOutput {
	return UserSettingsOutput{
		ID:                   s.ID,
		UserID:               s.UserID,
		Theme:                string(s.Theme),
		SecurityLevel:        string(s.SecurityLevel),
		NotificationsEnabled: s.NotificationsEnabled,
		DefaultMode:          string(s.DefaultMode),
	}
}

// IdentityOutput is the JSON representation of the current identity.
type IdentityOutput struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"userId,omitempty"`
	Email         string     `json:"email,omitempty"`
	Admin         bool       `json:"admin"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// NewIdentityOutput maps an identity, tokens are never part of the output.
func NewIdentityOutput(id model.Identity) IdentityOutput {
	out := IdentityOutput{Authenticated: id.Authenticated(), Admin: id.Admin}
	if id.User != nil {
		out.UserID = id.User.ID
		out.Email = id.User.Email
	}
	if id.Session != nil {
		exp := id.Session.ExpiresAt.UTC()
		out.ExpiresAt = &exp
	}
	return out
}

type schemaReportOutput struct {
	Version uint                `json:"version"`
	Dirty   bool                `json:"dirty"`
	OK      bool                `json:"ok"`
	Missing map[string][]string `json:"missing"`
}

type messageOutput struct {
	Message string `json:"message"`
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTasks prints the task list.
func (j *JSONPrinter) PrintTasks(tasks []model.Task) error {
	return j.encode(NewTaskListOutput(tasks))
}

// PrintTask prints a single task.
func (j *JSONPrinter) PrintTask(task model.Task) error {
	return j.encode(NewTaskOutput(task))
}

// PrintCommandResult prints a submitted command result.
func (j *JSONPrinter) PrintCommandResult(res model.CommandResult) error {
	return j.encode(CommandResultOutput{Success: true, StepID: res.StepID, Timestamp: res.Timestamp.UTC()})
}

// PrintUserSettings prints the user settings.
func (j *JSONPrinter) PrintUserSettings(s model.UserSettings) error {
	return j.encode(NewUserSettingsOutput(s))
}

// PrintAppSettings prints the application settings, API keys are masked.
func (j *JSONPrinter) PrintAppSettings(s model.AppSettings) error {
	s.APIKeys.OpenAI = MaskSecret(s.APIKeys.OpenAI)
	s.APIKeys.Anthropic = MaskSecret(s.APIKeys.Anthropic)
	s.APIKeys.GoogleAI = MaskSecret(s.APIKeys.GoogleAI)
	return j.encode(s)
}

// PrintIdentity prints the current identity.
func (j *JSONPrinter) PrintIdentity(id model.Identity) error {
	return j.encode(NewIdentityOutput(id))
}

// PrintSchemaReport prints the schema check result.
func (j *JSONPrinter) PrintSchemaReport(r SchemaReport) error {
	missing := r.Missing
	if missing == nil {
		missing = map[string][]string{}
	}
	return j.encode(schemaReportOutput{Version: r.Version, Dirty: r.Dirty, OK: r.OK(), Missing: missing})
}

// PrintMessage prints a simple message.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}
