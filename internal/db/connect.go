// Package db opens and migrates the shared Trunkline store.
package db

import (
	"fmt"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Options selects the store backend. SQLite is the default: a single file
// shared by every local process. MySQL serves multi-host fleets.
type Options struct {
	Driver   string
	Path     string // sqlite file path (":memory:" for tests)
	Host     string // mysql
	Port     int    // mysql
	Database string // mysql
	User     string // mysql
	Password string // mysql
}

// DSN builds a MySQL DSN from the options.
func DSN(opts Options) string {
	cfg := mysqldrv.NewConfig()
	cfg.User = opts.User
	if cfg.User == "" {
		cfg.User = "root"
	}
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Connect opens a GORM connection to the shared store.
func Connect(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch opts.Driver {
	case DriverSQLite, "":
		path := opts.Path
		if path == "" {
			return nil, fmt.Errorf("db: sqlite path is required")
		}
		conn, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
		}
		// A shared file needs a write-ahead log and a patient busy handler
		// so concurrent processes serialize instead of erroring.
		if path != ":memory:" {
			conn.Exec("PRAGMA journal_mode=WAL")
			conn.Exec("PRAGMA busy_timeout=5000")
		}
		return conn, nil
	case DriverMySQL:
		dsn := DSN(opts)
		conn, err := gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", opts.Host, opts.Port, opts.Database, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("db: unknown driver %q", opts.Driver)
	}
}
