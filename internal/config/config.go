// Package config has the environment sourced feature flags. Flags are read on
// every call so toggling the environment changes the behaviour of running
// services without rebuilding them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/slok/taskdash/internal/model"
)

// Environment variable names.
const (
	EnvUseMockData = "TASKDASH_USE_MOCK_DATA"
	EnvBackend     = "TASKDASH_BACKEND"
	EnvDBPath      = "TASKDASH_DB_PATH"
	EnvPostgresDSN = "TASKDASH_POSTGRES_DSN"
	EnvAdminEmails = "TASKDASH_ADMIN_EMAILS"
)

// Backend is the live backend kind.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// Flags are the feature flags the services read at call time.
type Flags interface {
	// UseMockData returns true when the fixture mode is enabled.
	UseMockData() bool
	// BackendConfigured returns true when the values required to build a live backend are present.
	BackendConfigured() bool
}

// EnvFlags are Flags read from the process environment.
type EnvFlags struct {
	lookup func(string) (string, bool)
}

// NewEnvFlags returns flags backed by the process environment.
func NewEnvFlags() EnvFlags { return EnvFlags{lookup: os.LookupEnv} }

// NewMapFlags returns flags backed by a fixed set of variables.
func NewMapFlags(env map[string]string) EnvFlags {
	return EnvFlags{lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}
}

func (f EnvFlags) get(key string) string {
	v, _ := f.lookup(key)
	return strings.TrimSpace(v)
}

// UseMockData only accepts boolean true values, anything else means live data.
func (f EnvFlags) UseMockData() bool {
	v, err := strconv.ParseBool(f.get(EnvUseMockData))
	return err == nil && v
}

// Backend returns the configured backend, SQLite by default.
func (f EnvFlags) Backend() Backend {
	switch b := Backend(strings.ToLower(f.get(EnvBackend))); b {
	case "":
		return BackendSQLite
	default:
		return b
	}
}

// DBPath returns the SQLite database path, empty if not set.
func (f EnvFlags) DBPath() string { return f.get(EnvDBPath) }

// PostgresDSN returns the Postgres connection string, empty if not set.
func (f EnvFlags) PostgresDSN() string { return f.get(EnvPostgresDSN) }

// BackendConfigured checks the selected backend has its connection values.
func (f EnvFlags) BackendConfigured() bool {
	switch f.Backend() {
	case BackendSQLite:
		return f.DBPath() != ""
	case BackendPostgres:
		return f.PostgresDSN() != ""
	case BackendMemory:
		return true
	}
	return false
}

// AdminAllowList returns the comma separated admin emails, the default list if not set.
func (f EnvFlags) AdminAllowList() model.AdminAllowList {
	raw := f.get(EnvAdminEmails)
	if raw == "" {
		return model.DefaultAdminAllowList
	}

	var list model.AdminAllowList
	for _, e := range strings.Split(raw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			list = append(list, e)
		}
	}
	return list
}

// StaticFlags are fixed flags, used by tests and embedders.
type StaticFlags struct {
	Mock       bool
	Configured bool
}

func (s StaticFlags) UseMockData() bool       { return s.Mock }
func (s StaticFlags) BackendConfigured() bool { return s.Configured }

// LoadDotEnv loads `.env.local` and `.env` from dir into the process
// environment. Already set variables win, and `.env.local` wins over `.env`.
// Missing files are ignored.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("could not load %s: %w", path, err)
		}
	}
	return nil
}
