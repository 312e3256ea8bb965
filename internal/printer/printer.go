package printer

import "github.com/slok/taskdash/internal/model"

// Printer knows how to print dashboard information in different formats.
type Printer interface {
	PrintTasks(tasks []model.Task) error
	PrintTask(task model.Task) error
	PrintCommandResult(res model.CommandResult) error
	PrintUserSettings(s model.UserSettings) error
	PrintAppSettings(s model.AppSettings) error
	PrintIdentity(id model.Identity) error
	PrintSchemaReport(r SchemaReport) error
	PrintMessage(msg string) error
}

// SchemaReport is the result of checking the backend schema.
type SchemaReport struct {
	Version uint
	Dirty   bool
	// Missing has the missing columns by table, a table without columns is missing entirely.
	Missing map[string][]string
}

// OK returns true if nothing is missing.
func (r SchemaReport) OK() bool { return len(r.Missing) == 0 }
