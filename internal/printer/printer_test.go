package printer_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/printer"
)

func strPtr(s string) *string { return &s }

func taskFixture() model.Task {
	return model.Task{
		ID:            "task-2",
		Name:          "Generate quarterly report",
		Status:        model.TaskStatusRunning,
		Timestamp:     time.Date(2023, 5, 2, 14, 30, 0, 0, time.UTC),
		Preview:       strPtr("https://example.com/preview/report"),
		SecurityLevel: model.SecurityLevelClass2,
		Steps: []model.Step{
			{ID: "step-2-1", TaskID: "task-2", Name: "Collect department metrics", ActionType: "data", Status: model.StepStatusCompleted, Log: strPtr("line 1\nline 2")},
			{ID: "step-2-3", TaskID: "task-2", Name: "Review by leadership", ActionType: "review", Status: model.StepStatusPending},
		},
	}
}

func TestTablePrinterPrintTasks(t *testing.T) {
	tests := map[string]struct {
		tasks       []model.Task
		expContains []string
	}{
		"An empty list should print a message.": {
			expContains: []string{"No tasks"},
		},
		"Tasks should be printed as rows.": {
			tasks:       []model.Task{taskFixture()},
			expContains: []string{"ID", "STATUS", "task-2", "Generate quarterly report", "class2", "running"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.NewTablePrinter(&buf, false)

			require.NoError(t, p.PrintTasks(test.tasks))
			for _, exp := range test.expContains {
				assert.Contains(t, buf.String(), exp)
			}
		})
	}
}

func TestTablePrinterPrintTask(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf, false)

	require.NoError(t, p.PrintTask(taskFixture()))

	out := buf.String()
	assert.Contains(t, out, "Preview:   https://example.com/preview/report")
	assert.Contains(t, out, "Created:   2023-05-02 14:30:00 UTC")
	assert.Contains(t, out, "  1. Collect department metrics [data] completed")
	assert.Contains(t, out, "     | line 1\n     | line 2\n")
	assert.Contains(t, out, "  2. Review by leadership [review] pending")
	assert.NotContains(t, out, "\x1b[")
}

func TestTablePrinterPrintAppSettingsMasksKeys(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf, false)

	s := model.DefaultAppSettings()
	s.APIKeys.OpenAI = "sk-1234567890"
	require.NoError(t, p.PrintAppSettings(s))

	out := buf.String()
	assert.Contains(t, out, "*********7890")
	assert.NotContains(t, out, "sk-1234567890")
	assert.Contains(t, out, "Session timeout:   30 minutes")
}

func TestTablePrinterPrintSchemaReport(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf, false)

	require.NoError(t, p.PrintSchemaReport(printer.SchemaReport{
		Version: 1,
		Missing: map[string][]string{
			"steps": {"log"},
			"tasks": nil,
		},
	}))

	assert.Equal(t, "Schema version: 1\nerror: table steps is missing columns: log\nerror: table tasks is missing\n", buf.String())
}

func TestJSONPrinterPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintTasks([]model.Task{taskFixture()}))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "task-2", got[0]["id"])
	assert.Equal(t, "class2", got[0]["securityLevel"])
	assert.Equal(t, "2023-05-02T14:30:00Z", got[0]["timestamp"])
	steps := got[0]["steps"].([]any)
	assert.Len(t, steps, 2)
	assert.Nil(t, steps[1].(map[string]any)["log"])
}

func TestJSONPrinterPrintEmptyTasks(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintTasks(nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestJSONPrinterPrintIdentity(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	id := model.Identity{
		User:    &model.User{ID: "u1", Email: "admin@example.com"},
		Session: &model.Session{AccessToken: "secret-token", ExpiresAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		Admin:   true,
	}
	require.NoError(t, p.PrintIdentity(id))

	out := buf.String()
	assert.Contains(t, out, `"admin": true`)
	assert.Contains(t, out, `"expiresAt": "2026-05-01T00:00:00Z"`)
	assert.NotContains(t, out, "secret-token")
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf, false)

	require.NoError(t, p.PrintMessage("ok"))
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]struct {
		in  string
		exp string
	}{
		"Empty":  {in: "", exp: "-"},
		"Short":  {in: "abc", exp: "***"},
		"Normal": {in: "sk-abcdef", exp: "*****cdef"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, printer.MaskSecret(test.in))
		})
	}
}
