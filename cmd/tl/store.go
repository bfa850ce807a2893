package main

import (
	"fmt"

	"github.com/zulandar/trunkline/internal/config"
	"github.com/zulandar/trunkline/internal/db"
	"gorm.io/gorm"
)

const defaultConfigPath = "trunkline.yaml"

// openStore loads the config and opens the shared store without touching
// the chat platform. Read-side commands go through here.
func openStore(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Connect(db.Options{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		Database: cfg.Store.Database,
		User:     cfg.Store.User,
		Password: cfg.Store.Password,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect store: %w", err)
	}
	return cfg, conn, nil
}
