//go:build wireinject
// +build wireinject

package main

import (
	"database/sql"

	"github.com/google/wire"

	"whisker/config"
	"whisker/infrastructure"
	"whisker/internal/api"
	"whisker/internal/chat"
	"whisker/internal/notify"
	"whisker/internal/user"
)

func InitializeServer(cfg *config.Config, db *sql.DB) *api.Server {
	wire.Build(
		infrastructure.NewSQLTransactor,
		ProvideJWT,
		notify.Set,
		user.Set,
		chat.Set,
		api.NewServer,
	)
	return nil
}
