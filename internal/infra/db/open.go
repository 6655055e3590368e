package db

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/bryanwahyu/healthdash/internal/config"
	domain "github.com/bryanwahyu/healthdash/internal/domain/analysis"
	mysqlp "github.com/bryanwahyu/healthdash/internal/infra/db/mysql"
	"github.com/bryanwahyu/healthdash/internal/infra/db/postgres"
)

type migrator interface {
	domain.RunRepository
	Migrate(ctx context.Context) error
}

// OpenRunRepository connects to the configured database, creates the run
// table and returns the repository with its pool. Driver "" yields nils.
func OpenRunRepository(ctx context.Context, cfg *config.Config) (domain.RunRepository, *sql.DB, error) {
	var (
		pool *sql.DB
		repo migrator
		err  error
	)
	switch cfg.Database.Driver {
	case "":
		return nil, nil, nil
	case "mysql":
		pool, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err == nil {
			repo = mysqlp.NewRunRepository(pool)
		}
	case "postgres":
		pool, err = postgres.Connect(ctx, cfg.PostgresDSN())
		if err == nil {
			repo = postgres.NewRunRepository(pool)
		}
	default:
		return nil, nil, errors.Newf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, errors.Wrapf(err, "migrate %s", cfg.Database.Driver)
	}
	return repo, pool, nil
}
