package printer

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/slok/taskdash/internal/model"
)

// TablePrinter prints dashboard information in a human friendly table format.
type TablePrinter struct {
	writer   io.Writer
	renderer *lipgloss.Renderer
	now      func() time.Time
}

// NewTablePrinter creates a new table printer. Colors are only used if the
// writer is a terminal that supports them and color is true.
func NewTablePrinter(w io.Writer, color bool) *TablePrinter {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}

	return &TablePrinter{
		writer:   w,
		renderer: r,
		now:      time.Now,
	}
}

var statusColors = map[string]lipgloss.Color{
	string(model.TaskStatusCompleted):        "2",
	string(model.TaskStatusRunning):          "4",
	string(model.TaskStatusAwaitingApproval): "3",
	string(model.StepStatusAwaiting):         "3",
	string(model.TaskStatusError):            "1",
	string(model.TaskStatusQueued):           "8",
	string(model.StepStatusPending):          "8",
	string(model.StepStatusLocked):           "8",
}

func (t *TablePrinter) status(s string) string {
	c, ok := statusColors[s]
	if !ok {
		return s
	}
	return t.renderer.NewStyle().Foreground(c).Render(s)
}

func (t *TablePrinter) bold(s string) string {
	return t.renderer.NewStyle().Bold(true).Render(s)
}

// PrintTasks prints the task list. The colored status goes last so it doesn't
// break the column alignment.
func (t *TablePrinter) PrintTasks(tasks []model.Task) error {
	if len(tasks) == 0 {
		fmt.Fprintln(t.writer, "No tasks")
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tNAME\tSECURITY\tSTEPS\tCREATED\tSTATUS")

	now := t.now()
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			task.ID,
			task.Name,
			task.SecurityLevel,
			len(task.Steps),
			TimeAgo(now, task.Timestamp),
			t.status(string(task.Status)),
		)
	}

	return nil
}

// PrintTask prints a task with its steps and logs.
func (t *TablePrinter) PrintTask(task model.Task) error {
	fmt.Fprintf(t.writer, "ID:        %s\n", task.ID)
	fmt.Fprintf(t.writer, "Name:      %s\n", t.bold(task.Name))
	fmt.Fprintf(t.writer, "Status:    %s\n", t.status(string(task.Status)))
	fmt.Fprintf(t.writer, "Security:  %s\n", task.SecurityLevel)
	fmt.Fprintf(t.writer, "Created:   %s\n", FormatTimestamp(task.Timestamp))
	if task.Preview != nil {
		fmt.Fprintf(t.writer, "Preview:   %s\n", *task.Preview)
	}

	if len(task.Steps) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer, "\nSteps:")
	for i, s := range task.Steps {
		fmt.Fprintf(t.writer, "  %d. %s [%s] %s\n", i+1, s.Name, s.ActionType, t.status(string(s.Status)))
		if s.Log == nil {
			continue
		}
		for _, line := range strings.Split(*s.Log, "\n") {
			fmt.Fprintf(t.writer, "     | %s\n", line)
		}
	}

	return nil
}

// PrintCommandResult prints a submitted command result.
func (t *TablePrinter) PrintCommandResult(res model.CommandResult) error {
	fmt.Fprintf(t.writer, "Command submitted (step %s at %s)\n", res.StepID, FormatTimestamp(res.Timestamp))
	return nil
}

// PrintUserSettings prints the user settings.
func (t *TablePrinter) PrintUserSettings(s model.UserSettings) error {
	fmt.Fprintf(t.writer, "Theme:          %s\n", s.Theme)
	fmt.Fprintf(t.writer, "Security level: %s\n", s.SecurityLevel)
	fmt.Fprintf(t.writer, "Notifications:  %s\n", onOff(s.NotificationsEnabled))
	fmt.Fprintf(t.writer, "Default mode:   %s\n", s.DefaultMode)
	return nil
}

// PrintAppSettings prints the application settings, API keys are masked.
func (t *TablePrinter) PrintAppSettings(s model.AppSettings) error {
	fmt.Fprintln(t.writer, t.bold("API keys"))
	fmt.Fprintf(t.writer, "  OpenAI:     %s\n", MaskSecret(s.APIKeys.OpenAI))
	fmt.Fprintf(t.writer, "  Anthropic:  %s\n", MaskSecret(s.APIKeys.Anthropic))
	fmt.Fprintf(t.writer, "  Google AI:  %s\n", MaskSecret(s.APIKeys.GoogleAI))
	fmt.Fprintln(t.writer, t.bold("Security"))
	fmt.Fprintf(t.writer, "  Strong passwords:  %s\n", onOff(s.Security.EnforceStrongPasswords))
	fmt.Fprintf(t.writer, "  Two factor auth:   %s\n", onOff(s.Security.TwoFactorAuth))
	fmt.Fprintf(t.writer, "  Session timeout:   %d minutes\n", s.Security.SessionTimeoutMinutes)
	fmt.Fprintln(t.writer, t.bold("Notifications"))
	fmt.Fprintf(t.writer, "  Email alerts:      %s\n", onOff(s.Notifications.EmailAlerts))
	fmt.Fprintf(t.writer, "  Task completion:   %s\n", onOff(s.Notifications.TaskCompletionNotifications))
	fmt.Fprintf(t.writer, "  Errors:            %s\n", onOff(s.Notifications.ErrorNotifications))
	return nil
}

// PrintIdentity prints the current identity.
func (t *TablePrinter) PrintIdentity(id model.Identity) error {
	if !id.Authenticated() {
		fmt.Fprintln(t.writer, "Not signed in")
		return nil
	}

	fmt.Fprintf(t.writer, "User:   %s\n", id.User.ID)
	fmt.Fprintf(t.writer, "Email:  %s\n", id.User.Email)
	fmt.Fprintf(t.writer, "Admin:  %t\n", id.Admin)
	if id.Session != nil {
		fmt.Fprintf(t.writer, "Expires: %s\n", FormatTimestamp(id.Session.ExpiresAt))
	}
	return nil
}

// PrintSchemaReport prints the schema check result.
func (t *TablePrinter) PrintSchemaReport(r SchemaReport) error {
	fmt.Fprintf(t.writer, "Schema version: %d", r.Version)
	if r.Dirty {
		fmt.Fprint(t.writer, " (dirty)")
	}
	fmt.Fprintln(t.writer)

	if r.OK() {
		fmt.Fprintln(t.writer, t.status(string(model.TaskStatusCompleted))+": all required tables and columns are present")
		return nil
	}

	tables := make([]string, 0, len(r.Missing))
	for table := range r.Missing {
		tables = append(tables, table)
	}
	slices.Sort(tables)

	for _, table := range tables {
		cols := r.Missing[table]
		if len(cols) == 0 {
			fmt.Fprintf(t.writer, "%s: table %s is missing\n", t.status(string(model.TaskStatusError)), table)
			continue
		}
		fmt.Fprintf(t.writer, "%s: table %s is missing columns: %s\n", t.status(string(model.TaskStatusError)), table, strings.Join(cols, ", "))
	}
	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// MaskSecret hides all but the last 4 characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
