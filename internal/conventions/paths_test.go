package conventions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskdash/internal/conventions"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, "/home/user/.taskdash/taskdash.db", conventions.DBPath("/home/user/.taskdash"))
	assert.Equal(t, "/home/user/.taskdash/session.json", conventions.SessionPath("/home/user/.taskdash"))
}
