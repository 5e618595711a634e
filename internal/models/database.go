package models

import (
	"fmt"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return DB.AutoMigrate(
		&User{},
		&RefreshToken{},
		&UsageEvent{},
		&ModelPrice{},
		&SystemConfig{},
		&SystemLog{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates default data if not exists
func SeedDefaultData() error {
	// Runtime-tunable settings; yaml config supplies the initial values on
	// first boot, thereafter the database rows win.
	syncEnabled := "true"
	if config.GlobalConfig != nil && !config.GlobalConfig.Sync.Enabled {
		syncEnabled = "false"
	}
	intervalMinutes := "5"
	lookbackDays := "2"
	if config.GlobalConfig != nil {
		intervalMinutes = fmt.Sprintf("%d", config.GlobalConfig.Sync.IntervalMinutes)
		lookbackDays = fmt.Sprintf("%d", config.GlobalConfig.Sync.LookbackDays)
	}

	defaultConfigs := []SystemConfig{
		{Key: "sync_enabled", Value: syncEnabled, Type: "bool", Group: "sync", Label: "Enable Scheduled Sync"},
		{Key: "sync_interval_minutes", Value: intervalMinutes, Type: "int", Group: "sync", Label: "Sync Interval (minutes)"},
		{Key: "sync_lookback_days", Value: lookbackDays, Type: "int", Group: "sync", Label: "Sync Lookback Window (days)"},
		{Key: "log_retention_days", Value: "30", Type: "int", Group: "system", Label: "System Log Retention Days"},
	}

	for _, cfg := range defaultConfigs {
		var count int64
		DB.Model(&SystemConfig{}).Where("`key` = ?", cfg.Key).Count(&count)
		if count == 0 {
			if err := DB.Create(&cfg).Error; err != nil {
				return err
			}
		}
	}

	// Starter price catalogue so fresh installs show meaningful cost
	// estimates. Only applied when the table is empty; operators own the
	// table afterwards.
	var priceCount int64
	DB.Model(&ModelPrice{}).Count(&priceCount)
	if priceCount == 0 {
		defaultPrices := []ModelPrice{
			{Model: "gpt-4o", InputPricePer1M: 2.5, CachedInputPricePer1M: 1.25, OutputPricePer1M: 10},
			{Model: "gpt-4o-mini", InputPricePer1M: 0.15, CachedInputPricePer1M: 0.075, OutputPricePer1M: 0.6},
			{Model: "claude-sonnet-4*", InputPricePer1M: 3, CachedInputPricePer1M: 0.3, OutputPricePer1M: 15},
			{Model: "claude-opus-4*", InputPricePer1M: 15, CachedInputPricePer1M: 1.5, OutputPricePer1M: 75},
			{Model: "gemini-2*", InputPricePer1M: 1.25, CachedInputPricePer1M: 0.31, OutputPricePer1M: 10},
			{Model: "gemini-2.5-flash*", InputPricePer1M: 0.3, CachedInputPricePer1M: 0.075, OutputPricePer1M: 2.5},
		}
		for _, p := range defaultPrices {
			if err := DB.Create(&p).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
