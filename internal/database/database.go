package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourusername/medinterp/internal/logger"
	"github.com/yourusername/medinterp/internal/models"
)

// Connect establishes a connection to the PostgreSQL database
func Connect(databaseURL string) (*gorm.DB, error) {
	log := logger.WithComponent("database")

	config := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	db, err := gorm.Open(postgres.Open(databaseURL), config)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}

	// Get underlying SQL DB for connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get database connection")
		return nil, err
	}

	// Set connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	log.Info().Msg("Database connected successfully")
	return db, nil
}

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	log := logger.WithComponent("database")
	log.Info().Msg("Running database migrations")

	// Enable UUID extension
	db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"")

	// Auto migrate models
	err := db.AutoMigrate(
		&models.User{},
		&models.Patient{},
		&models.Conversation{},
		&models.Message{},
		&models.Note{},
		&models.FollowUp{},
		&models.Prescription{},
		&models.Summary{},
		&models.MedicalHistory{},
	)
	if err != nil {
		log.Error().Err(err).Msg("Migration failed")
		return err
	}

	log.Info().Msg("Database migrations completed")
	return nil
}
