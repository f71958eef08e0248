package storage

import (
	"context"
	"fmt"
	"io"

	"trainer-bot/internal/core/ports"
)

// Open returns the backend named by driver. The closer releases pooled
// connections and is a no-op for the JSON file store.
func Open(ctx context.Context, driver, path, databaseURL string) (ports.Storage, io.Closer, error) {
	switch driver {
	case "", "json":
		s, err := NewJSONStorage(path)
		if err != nil {
			return nil, nil, err
		}
		return s, io.NopCloser(nil), nil
	case "sqlite":
		s, err := NewSQLiteStorage(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := NewPostgresStorage(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
