package main

import (
	"fmt"
	"os"

	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/pkg/config"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg := config.MustLoad()
	if _, err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Named("migrate")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// gen_random_uuid() needs pgcrypto on older postgres versions.
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto").Error; err != nil {
		log.Fatal("failed to enable pgcrypto", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&models.Template{},
		&models.Deployment{},
		&models.Operation{},
		&models.DriftResult{},
	); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	// At most one non-terminal operation per deployment, enforced at the
	// database so racing inserts cannot both land.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_one_active
		 ON operations (deployment_id)
		 WHERE status IN ('pending', 'running')`,
	).Error; err != nil {
		log.Fatal("failed to create active-operation index", zap.Error(err))
	}

	fmt.Fprintln(os.Stdout, "migrations completed")
}
