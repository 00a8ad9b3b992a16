package chat

import (
	"database/sql"

	"github.com/google/wire"

	"whisker/infrastructure"
	"whisker/internal/notify"
	"whisker/internal/user"
)

func ProvideStorage(db *sql.DB) *PostgresStorage {
	return NewPostgresStorage(db)
}

func ProvideRepository(tx infrastructure.Transactor, storage *PostgresStorage) Repository {
	return NewRepository(tx, storage)
}

func ProvideService(repo Repository, users user.UseCase, notifier notify.Notifier) *Service {
	return NewService(repo, users, notifier)
}

func ProvideHandler(service *Service) *Handler {
	return NewHandler(service)
}

var Set = wire.NewSet(
	ProvideStorage,
	ProvideRepository,
	ProvideService,
	ProvideHandler,
	wire.Bind(new(UseCase), new(*Service)),
)
