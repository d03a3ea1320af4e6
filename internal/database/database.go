package database

import (
	"fmt"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/config"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func Connect(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxOpenConns / 2)

	logger.Info("database connected", zap.String("host", cfg.Host), zap.String("name", cfg.Name))
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Tag{},
		&models.Project{},
		&models.VolunteerProject{},
		&models.Task{},
		&models.TaskAssignment{},
		&models.Photo{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// SeedStaff flags already registered users with the given telegram ids as
// staff. Users registering later are flagged by the user service.
func SeedStaff(db *gorm.DB, telegramIDs []int64) (int64, error) {
	if len(telegramIDs) == 0 {
		return 0, nil
	}
	res := db.Model(&models.User{}).
		Where("telegram_id IN ? AND is_staff = ?", telegramIDs, false).
		Update("is_staff", true)
	return res.RowsAffected, res.Error
}
