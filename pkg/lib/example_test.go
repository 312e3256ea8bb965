package lib_test

import (
	"context"
	"fmt"
	"log"

	"github.com/slok/taskdash/pkg/lib"
)

func Example() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{Backend: lib.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	if _, err := client.SignUp(ctx, "user@example.com", "secret123"); err != nil {
		log.Fatal(err)
	}

	task, err := client.CreateTask(ctx, lib.CreateTaskOpts{Name: "Review the deploy"})
	if err != nil {
		log.Fatal(err)
	}

	res, err := client.SubmitCommand(ctx, task.ID, "check the logs", nil)
	if err != nil {
		log.Fatal(err)
	}
	<-res.Completed

	tasks, err := client.ListTasks(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, t := range tasks {
		fmt.Printf("%s (%s): %d steps\n", t.Name, t.Status, len(t.Steps))
	}
}

func Example_fixtureMode() {
	ctx := context.Background()

	client, err := lib.New(ctx, lib.Config{Backend: lib.BackendMemory, UseMockData: true})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	tasks, err := client.ListTasks(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(tasks))
	// Output: 3
}
