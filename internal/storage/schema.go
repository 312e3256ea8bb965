package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/slok/taskdash/internal/model"
)

// MissingColumns checks the backend has every table and column in Schema. It
// returns the missing columns by table, a missing table has all its columns.
func MissingColumns(ctx context.Context, inspector SchemaInspector) (map[string][]string, error) {
	tables := make([]string, 0, len(Schema))
	for table := range Schema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	missing := map[string][]string{}
	for _, table := range tables {
		required := Schema[table]

		cols, err := inspector.TableColumns(ctx, table)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				missing[table] = slices.Clone(required)
				continue
			}
			return nil, fmt.Errorf("could not inspect table %s: %w", table, err)
		}

		for _, c := range required {
			if !slices.Contains(cols, c) {
				missing[table] = append(missing[table], c)
			}
		}
	}

	return missing, nil
}
