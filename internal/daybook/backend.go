package daybook

import (
	"context"
	"fmt"
	"net/http"

	"github.com/colonyops/daybook/internal/core/config"
	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/data/db"
	"github.com/colonyops/daybook/internal/data/stores"
	"github.com/colonyops/daybook/internal/store/jsonfile"
	"github.com/colonyops/daybook/internal/store/memstore"
	"github.com/colonyops/daybook/internal/store/redisstore"
	"github.com/colonyops/daybook/internal/store/remote"
	"github.com/rs/zerolog"
)

// OpenBackend connects the document backend selected by cfg.Backend.Type.
// Closing the returned backend releases everything it opened.
func OpenBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (docstore.Backend, error) {
	bc := cfg.Backend
	log = log.With().Str("component", "backend").Str("type", string(bc.Type)).Logger()

	switch bc.Type {
	case config.BackendMemory:
		return memstore.New(), nil

	case config.BackendJSONFile:
		s, err := jsonfile.New(bc.Dir)
		if err != nil {
			return nil, fmt.Errorf("open jsonfile backend: %w", err)
		}
		return s, nil

	case config.BackendSQLite:
		database, err := openDatabase(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &sqliteBackend{
			DocumentStore: stores.NewDocumentStore(database, bc.SQLite.PollInterval),
			db:            database,
		}, nil

	case config.BackendRedis:
		s, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     bc.Redis.Addr,
			Password: bc.Redis.Password,
			DB:       bc.Redis.DB,
			Prefix:   bc.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis backend: %w", err)
		}
		return s, nil

	case config.BackendRemote:
		return remote.New(remote.Options{
			BaseURL:    bc.Remote.URL,
			Token:      bc.Remote.Token,
			HTTPClient: &http.Client{Timeout: bc.Remote.Timeout},
			MaxRetries: bc.Remote.MaxRetries,
		}), nil
	}

	return nil, fmt.Errorf("unknown backend type %q", bc.Type)
}

func openDatabase(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*db.DB, error) {
	database, err := openOrRecover(cfg, log)
	if err != nil {
		return nil, err
	}
	if v, err := database.SchemaVersion(ctx); err == nil {
		log.Debug().Int("schema_version", v).Str("path", database.Path()).Msg("database ready")
	}
	return database, nil
}

func openOrRecover(cfg *config.Config, log zerolog.Logger) (*db.DB, error) {
	opts := db.OpenOptions{
		MaxOpenConns: cfg.Backend.SQLite.MaxOpenConns,
		MaxIdleConns: cfg.Backend.SQLite.MaxIdleConns,
		BusyTimeout:  cfg.Backend.SQLite.BusyTimeout,
	}

	database, err := db.Open(cfg.DataDir, opts)
	if err == nil {
		return database, nil
	}
	if !stores.IsCorruptionError(err) {
		return nil, fmt.Errorf("open database: %w", err)
	}

	log.Warn().Err(err).Msg("database is corrupted, moving it aside")
	if err := stores.RecoverFromCorruption(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("recover database: %w", err)
	}

	database, err = db.Open(cfg.DataDir, opts)
	if err != nil {
		return nil, fmt.Errorf("open database after recovery: %w", err)
	}
	return database, nil
}

// sqliteBackend closes the database together with the document store.
type sqliteBackend struct {
	*stores.DocumentStore
	db *db.DB
}

func (b *sqliteBackend) Close() error {
	if err := b.DocumentStore.Close(); err != nil {
		return err
	}
	return b.db.Close()
}
