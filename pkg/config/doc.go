// Package config loads typed configuration from the process environment.
//
// It combines github.com/joho/godotenv (optional .env files) with
// github.com/caarlos0/env/v11 (struct tag parsing). Every package in keytier
// declares its own Config struct with env tags; cmd/keytier loads them with
// Load or MustLoad:
//
//	var pgCfg pg.Config
//	if err := config.Load(&pgCfg); err != nil {
//	    return err
//	}
//
// Parsed values are cached per type. Structs that implement Validator are
// checked after parsing and fail with ErrInvalidConfig. ResetCache and
// ForceReload exist for tests that change the environment between loads.
package config
