package user

import (
	"database/sql"

	"github.com/google/wire"

	"whisker/infrastructure"
	"whisker/pkg/jwt"
)

func ProvideStorage(db *sql.DB) *PostgresStorage {
	return NewPostgresStorage(db)
}

func ProvideRepository(tx infrastructure.Transactor, storage *PostgresStorage) Repository {
	return NewRepository(tx, storage)
}

func ProvideService(repo Repository, tokens *jwt.JWT) *Service {
	return NewService(repo, tokens)
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
