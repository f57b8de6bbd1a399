package cli

import (
	"fmt"

	"trackwise/internal/config"
	"trackwise/internal/services"
	"trackwise/internal/smartvalue"
	"trackwise/internal/store"
	"trackwise/internal/tracker"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// buildStores opens the configured store backend. The postgres driver
// migrates the schema on startup; memory keeps everything in-process.
func buildStores(cfg *config.Config, logger *logrus.Logger) (store.RuleStore, store.ExecutionStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
		)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if cfg.Monitoring.Tracing.Enabled {
			_ = db.Use(gormtracing.NewPlugin())
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
			sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
		if err := store.Migrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate schema: %w", err)
		}
		return store.NewGormRuleStore(db), store.NewGormExecutionStore(db, cfg.Automation.HistoryLimit), nil
	case "", "memory":
		logger.Info("Using in-process stores; rules are lost on restart")
		return store.NewMemoryRuleStore(), store.NewMemoryExecutionStore(cfg.Automation.HistoryLimit), nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// buildEngine wires the full automation engine from config.
func buildEngine(cfg *config.Config, logger *logrus.Logger) (*services.AutomationEngine, tracker.API, error) {
	rules, history, err := buildStores(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	client := tracker.NewClient(&tracker.Config{
		BaseURL:  cfg.Tracker.BaseURL,
		Email:    cfg.Tracker.Email,
		APIToken: cfg.Tracker.APIToken,
		Timeout:  cfg.Tracker.Timeout,
		Traced:   cfg.Monitoring.Tracing.Enabled,
	}, logger)

	evaluator := smartvalue.New(logger)
	executor := services.NewActionExecutor(client, evaluator, logger, &services.ExecutorConfig{
		BulkBatchSize: cfg.Automation.BulkBatchSize,
		BulkMaxIssues: cfg.Automation.BulkMaxIssues,
	})
	validator := services.NewRuleValidator(logger)
	engine := services.NewAutomationEngine(rules, history, executor, validator, evaluator, logger)
	return engine, client, nil
}
