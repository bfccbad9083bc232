// migrate runs the schema migrations and exits. Deploys run this before
// starting gaffer so the main process never races a half-migrated schema.
package main

import (
	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/config"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
	"github.com/jolyonbrown/ron-clanker-sub001/pkg/database"
	applogger "github.com/jolyonbrown/ron-clanker-sub001/pkg/logger"
)

func main() {
	bootLog := logrus.New()
	bootLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.WithError(err).Fatal("Failed to load configuration")
	}

	logger := applogger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())

	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	repo := storage.NewRepository(db, logger)
	if err := repo.Migrate(); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}

	logger.Info("Migrations complete")
}
