package di

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	domainrepos "github.com/cap5/settlement_service/internal/domain/repositories"
	"github.com/cap5/settlement_service/internal/infrastructure/config"
	"github.com/cap5/settlement_service/internal/infrastructure/database"
	"github.com/cap5/settlement_service/internal/infrastructure/repositories"
)

// StoreBuilder builds the settlement store selected by store.driver
type StoreBuilder struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreBuilder creates a new store builder
func NewStoreBuilder(cfg *config.Config, logger *zap.Logger) *StoreBuilder {
	return &StoreBuilder{cfg: cfg, logger: logger}
}

// Store holds the repository and, for postgres, the underlying connection
type Store struct {
	Repo domainrepos.SettlementRepository
	DB   *sqlx.DB
}

// Build opens the configured store. Postgres migrations run before the
// repository is handed out.
func (b *StoreBuilder) Build() (*Store, error) {
	switch b.cfg.Store.Driver {
	case "", "memory":
		b.logger.Warn("Using in-memory settlement store; records are lost on restart")
		return &Store{Repo: repositories.NewMemorySettlementRepository()}, nil

	case "badger":
		repo, err := repositories.NewBadgerSettlementRepository(b.cfg.Store.BadgerDir, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return &Store{Repo: repo}, nil

	case "postgres":
		if b.cfg.Database.MigrationsPath != "" {
			if err := database.RunMigrations(b.cfg.Database.URL, b.cfg.Database.MigrationsPath); err != nil {
				return nil, err
			}
		}
		db, err := database.NewConnection(b.cfg.Database)
		if err != nil {
			return nil, err
		}
		return &Store{Repo: repositories.NewPostgresSettlementRepository(db), DB: db}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", b.cfg.Store.Driver)
	}
}
