package main

import (
	"whisker/config"
	"whisker/pkg/jwt"
)

func ProvideJWT(cfg *config.Config) *jwt.JWT {
	return jwt.NewJWT(cfg.JWTSecret, cfg.TokenExpiry)
}
