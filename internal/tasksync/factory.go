package tasksync

import (
	"fmt"

	"github.com/slok/taskdash/internal/config"
)

// Factory resolves the provider to use. Flags are read on every call so a
// flag change is picked up without rebuilding the syncer.
type Factory struct {
	flags   config.Flags
	fixture Provider
	live    Provider
}

// NewFactory returns a new factory. The live provider can be nil when there is
// no backend, in that case the fixture provider is always selected.
func NewFactory(flags config.Flags, fixture, live Provider) (*Factory, error) {
	if flags == nil {
		return nil, fmt.Errorf("flags are required")
	}
	if fixture == nil {
		return nil, fmt.Errorf("fixture provider is required")
	}

	return &Factory{flags: flags, fixture: fixture, live: live}, nil
}

// Live returns true if the user data comes from the backend.
func (f *Factory) Live(userID string) bool {
	return f.live != nil &&
		userID != "" &&
		f.flags.BackendConfigured() &&
		!f.flags.UseMockData()
}

// Select returns the provider for the user.
func (f *Factory) Select(userID string) Provider {
	if f.Live(userID) {
		return f.live
	}
	return f.fixture
}
