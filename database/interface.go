package database

import (
	"time"

	"chunk-upload-service/model"
)

// Database interface for different durable store implementations
type Database interface {
	// UploadState operations
	GetUploadState(trackingId string) (*model.UploadStateRecord, error)
	SaveUploadState(rec *model.UploadStateRecord) error
	UpdateUploadState(trackingId string, patch map[string]interface{}) error
	ListStalledUploads(before time.Time, limit int) ([]*model.UploadStateRecord, error)
	ListTerminalBefore(before time.Time, limit int) ([]*model.UploadStateRecord, error)
	DeleteUploadState(trackingId string) error

	// General operations
	Close() error
}

// DBType database type
type DBType string

const (
	DBTypeMySQL  DBType = "mysql"
	DBTypePebble DBType = "pebble"
)

// Global database instance
var DB Database

// currentDBType stores the current database type
var currentDBType DBType

// InitDatabase initialize database with specified type
func InitDatabase(dbType DBType, config interface{}) error {
	var err error

	switch dbType {
	case DBTypeMySQL:
		DB, err = NewMySQLDatabase(config)
		currentDBType = DBTypeMySQL
	case DBTypePebble:
		DB, err = NewPebbleDatabase(config)
		currentDBType = DBTypePebble
	default:
		return ErrUnsupportedDBType
	}

	return err
}

// GetDBType get current database type
func GetDBType() DBType {
	return currentDBType
}
