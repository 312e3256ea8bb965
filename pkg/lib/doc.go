// Package lib provides a Go SDK to embed the taskdash task dashboard in other
// applications without shelling out to the taskdash CLI binary.
//
// # Quick Start
//
// Create a client, sign in and work with the tasks of the signed in user:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if _, err := client.SignIn(ctx, "user@example.com", "secret"); err != nil {
//	    log.Fatal(err)
//	}
//
//	task, err := client.CreateTask(ctx, lib.CreateTaskOpts{Name: "Quarterly report"})
//	res, err := client.SubmitCommand(ctx, task.ID, "summarize the feedback", nil)
//	tasks, err := client.ListTasks(ctx)
//
// # Backends
//
// The SDK supports the same backends as the CLI:
//
//   - [BackendSQLite]: local SQLite database (default, ~/.taskdash/taskdash.db).
//   - [BackendPostgres]: Postgres database, requires [Config].PostgresDSN.
//   - [BackendMemory]: in-memory backend, nothing is persisted. Useful for tests.
//
// Setting [Config].UseMockData serves the fixture tasks and settings of a fixed
// admin identity without touching any backend.
//
// # Errors
//
// Errors can be checked with [errors.Is]:
//
//   - [ErrNotFound]: Resource does not exist.
//   - [ErrNotValid]: Invalid input.
//   - [ErrUnauthenticated]: There is no signed in user or the credentials are wrong.
//   - [ErrForbidden]: The signed in user is not allowed to do the operation.
package lib
