package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Delivery timestamps are compared across pollers, so sessions read and
// write UTC regardless of the server's zone.
var mysqlDefaults = map[string]string{
	"charset":   "utf8mb4",
	"parseTime": "True",
	"loc":       "UTC",
}

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	credentials := cfg.User
	if cfg.Password != "" {
		credentials += ":" + cfg.Password
	}
	host, port := hostPort(cfg, "127.0.0.1", 3306)
	params := mergeOptions(mysqlDefaults, cfg.Options)

	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", credentials, host, port, cfg.Name, strings.Join(params, "&")), nil
}
