package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fin-groups/internal/groups"
	"github.com/sells-group/fin-groups/internal/ingest"
	"github.com/sells-group/fin-groups/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "ownership.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func groupPolicy() groups.Policy {
	return groups.Policy{
		FounderRoles:     cfg.Groups.FounderRoles,
		FounderThreshold: cfg.Groups.FounderThreshold,
	}
}

func ingestConfig() ingest.Config {
	return ingest.Config{
		Country:           cfg.Ingest.Country,
		Source:            cfg.Ingest.Source,
		CompanyURL:        cfg.Ingest.CompanyURL,
		DomesticCountries: cfg.Ingest.DomesticCountries,
	}
}
