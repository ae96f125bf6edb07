package core

import (
	"context"
	"errors"
	"fmt"

	"offsetcore/internal/config"
	"offsetcore/internal/infra/persistence/memory"
	"offsetcore/internal/infra/persistence/postgres"
	"offsetcore/internal/infra/persistence/sqlite"
	"offsetcore/pkg/domain"
)

// StorageDriver identifies where applied offsets are persisted.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageRobot    StorageDriver = "robot"    // the robot's own offset API
)

// ErrRobotRepositoryRequired is returned when the robot driver is selected
// without a robot client.
var ErrRobotRepositoryRequired = errors.New("robot storage driver needs a robot client")

// OpenOffsetRepository selects the offset repository named by cfg.Driver.
// An empty driver selects sqlite. robot serves the robot driver and may be
// nil otherwise. The returned close function is never nil.
func OpenOffsetRepository(ctx context.Context, cfg config.StorageConfig, robot domain.OffsetRepository) (domain.OffsetRepository, func() error, error) {
	nop := func() error { return nil }
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nop, nil
	case StorageSQLite:
		s, err := sqlite.NewStore(cfg.DBPath)
		if err != nil {
			return nil, nop, err
		}
		return s, s.Close, nil
	case StoragePostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nop, err
		}
		return s, s.Close, nil
	case StorageRobot:
		if robot == nil {
			return nil, nop, ErrRobotRepositoryRequired
		}
		return robot, nop, nil
	default:
		return nil, nop, fmt.Errorf("unknown storage driver %s", driver)
	}
}
