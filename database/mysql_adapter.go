package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"chunk-upload-service/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// MySQLDatabase MySQL database implementation
type MySQLDatabase struct {
	db *gorm.DB
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// terminalStatuses are excluded from the stalled-upload sweep
var terminalStatuses = []model.UploadStatus{model.StatusCompleted, model.StatusFailed}

// NewMySQLDatabase create MySQL database instance
func NewMySQLDatabase(config interface{}) (Database, error) {
	cfg, ok := config.(*MySQLConfig)
	if !ok {
		return nil, fmt.Errorf("invalid MySQL config type")
	}

	// Connect database
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect MySQL: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Set connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.UploadStateRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate upload state table: %w", err)
	}

	log.Println("MySQL database connected successfully")

	return &MySQLDatabase{db: db}, nil
}

// UploadState operations

func (m *MySQLDatabase) GetUploadState(trackingId string) (*model.UploadStateRecord, error) {
	var rec model.UploadStateRecord
	err := m.db.Where("tracking_id = ?", trackingId).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// SaveUploadState writes the full record, inserting on first save and replacing
// every mutable column on subsequent saves of the same tracking ID.
func (m *MySQLDatabase) SaveUploadState(rec *model.UploadStateRecord) error {
	return m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tracking_id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

func (m *MySQLDatabase) UpdateUploadState(trackingId string, patch map[string]interface{}) error {
	result := m.db.Model(&model.UploadStateRecord{}).
		Where("tracking_id = ?", trackingId).
		Updates(patch)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStalledUploads returns non-terminal uploads untouched since before.
func (m *MySQLDatabase) ListStalledUploads(before time.Time, limit int) ([]*model.UploadStateRecord, error) {
	var recs []*model.UploadStateRecord
	err := m.db.Where("status NOT IN ? AND updated_at < ?", terminalStatuses, before).
		Order("updated_at ASC").Limit(limit).
		Find(&recs).Error
	return recs, err
}

// ListTerminalBefore returns terminal uploads untouched since before.
func (m *MySQLDatabase) ListTerminalBefore(before time.Time, limit int) ([]*model.UploadStateRecord, error) {
	var recs []*model.UploadStateRecord
	err := m.db.Where("status IN ? AND updated_at < ?", terminalStatuses, before).
		Order("updated_at ASC").Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (m *MySQLDatabase) DeleteUploadState(trackingId string) error {
	return m.db.Where("tracking_id = ?", trackingId).
		Delete(&model.UploadStateRecord{}).Error
}

// Close close database connection
func (m *MySQLDatabase) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetGormDB get underlying GORM database instance
func (m *MySQLDatabase) GetGormDB() *gorm.DB {
	return m.db
}
