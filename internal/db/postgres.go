package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/types"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

type PostgresService struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	log     *logger.Logger
	maxOpen int
	maxIdle int
}

func NewPostgresService(logg *logger.Logger) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", logg)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", logg)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", logg)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", logg)
	postgresName := utils.GetEnv("POSTGRES_NAME", "clipsight", logg)

	// Conservative by default: the hosted tier enforces a hard global
	// connection ceiling shared across all processes.
	maxOpen := utils.GetEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 3, logg)
	maxIdle := utils.GetEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 1, logg)
	maxLifetime := utils.GetEnvAsInt("POSTGRES_CONN_MAX_LIFETIME_SECONDS", 300, logg)
	maxIdleTime := utils.GetEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 60, logg)

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser,
		postgresPassword,
		postgresHost,
		postgresPort,
		postgresName,
	)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(maxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(maxIdleTime) * time.Second)

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable vector extension: %w", err)
	}

	serviceLog.Info("Postgres pool configured", "max_open", maxOpen, "max_idle", maxIdle)

	return &PostgresService{
		db:      db,
		sqlDB:   sqlDB,
		log:     serviceLog,
		maxOpen: maxOpen,
		maxIdle: maxIdle,
	}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Video{},
		&types.Segment{},
	)
	if err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	if err := s.db.Exec(`
		ALTER TABLE "segment"
		DROP CONSTRAINT IF EXISTS "fk_segment_video_id";
	`).Error; err != nil {
		return fmt.Errorf("failed to reset fk_segment_video_id: %w", err)
	}
	if err := s.db.Exec(`
		ALTER TABLE "segment"
		ADD CONSTRAINT "fk_segment_video_id"
		FOREIGN KEY ("video_id")
		REFERENCES "video"("id")
		ON DELETE CASCADE
	`).Error; err != nil {
		return fmt.Errorf("failed to add fk_segment_video_id: %w", err)
	}
	if err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_segment_emb
		ON "segment" USING hnsw (emb vector_cosine_ops)
	`).Error; err != nil {
		return fmt.Errorf("failed to create segment embedding index: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

// Stats exposes the underlying pool counters for the health surface.
func (s *PostgresService) Stats() sql.DBStats { return s.sqlDB.Stats() }

func (s *PostgresService) MaxOpenConns() int { return s.maxOpen }
func (s *PostgresService) MaxIdleConns() int { return s.maxIdle }
