package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var postgresDefaults = map[string]string{
	"sslmode":  "disable",
	"TimeZone": "UTC",
}

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: cfg.Options["prefer_simple_protocol"] == "true"}), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	host, port := hostPort(cfg, "localhost", 5432)
	params := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"user=" + cfg.User,
		"dbname=" + cfg.Name,
	}
	if cfg.Password != "" {
		params = append(params, "password="+cfg.Password)
	}

	options := make(map[string]string, len(cfg.Options))
	for key, value := range cfg.Options {
		if key != "prefer_simple_protocol" {
			options[key] = value
		}
	}
	params = append(params, mergeOptions(postgresDefaults, options)...)

	return strings.Join(params, " "), nil
}
