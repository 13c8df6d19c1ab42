package main

import (
	"context"
	"fmt"

	"github.com/FranksOps/gbpsnap/internal/config"
	"github.com/FranksOps/gbpsnap/internal/storage"
	"github.com/FranksOps/gbpsnap/internal/storage/csvbackend"
	"github.com/FranksOps/gbpsnap/internal/storage/jsonbackend"
	"github.com/FranksOps/gbpsnap/internal/storage/postgres"
	"github.com/FranksOps/gbpsnap/internal/storage/sqlite"
)

// openHistory returns the configured history backend, or nil for "none".
func openHistory(ctx context.Context, sc config.StorageConfig) (storage.Backend, error) {
	switch sc.Backend {
	case "", "none":
		return nil, nil
	case "csv":
		return csvbackend.New(sc.DSN)
	case "json":
		return jsonbackend.New(sc.DSN)
	case "sqlite":
		return sqlite.New(sc.DSN)
	case "postgres":
		return postgres.New(ctx, sc.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}
