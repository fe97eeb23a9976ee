package conf

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	// Network configuration
	Port string // Uploader service port

	// Database configuration
	Database DatabaseConfig

	// Storage configuration
	Storage StorageConfig

	// Uploader configuration
	Uploader UploaderConfig

	// Redis configuration
	Redis RedisConfig

	// Auth configuration
	Auth AuthConfig
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Type         string // Database type: mysql, pebble
	Dsn          string // MySQL DSN
	MaxOpenConns int    // MySQL max open connections
	MaxIdleConns int    // MySQL max idle connections
	DataDir      string // PebbleDB data directory
}

// StorageConfig storage configuration
type StorageConfig struct {
	Type  string
	Local LocalStorageConfig
	OSS   OSSStorageConfig
	S3    S3StorageConfig
	MinIO MinIOStorageConfig
}

// LocalStorageConfig local storage configuration
type LocalStorageConfig struct {
	BasePath string
}

// OSSStorageConfig OSS storage configuration
type OSSStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Domain    string
}

// S3StorageConfig AWS S3 storage configuration
type S3StorageConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Domain    string
	Endpoint  string // Optional custom endpoint (MinIO etc)
}

// MinIOStorageConfig MinIO storage configuration
type MinIOStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Domain    string
}

// RedisConfig redis configuration
type RedisConfig struct {
	Enabled  bool   // Enable Redis cache
	Host     string // Redis host
	Port     int    // Redis port
	Password string // Redis password (optional)
	DB       int    // Redis database number
	CacheTTL int    // Cache TTL in seconds (default: 3600)
}

// UploaderConfig uploader configuration
type UploaderConfig struct {
	ChunkSize           int64  // Chunk size in bytes
	MaxChunks           int    // Upper bound on chunks per upload
	MaxRetries          int    // Whole-upload retry ceiling
	ChunkRetryLimit     int    // Per-chunk attempt ceiling before the upload fails
	TempDir             string // Staging directory for incoming files
	CleanupInterval     int    // Cleanup loop interval in seconds
	StalledAfter        int    // Seconds of inactivity before an in-flight upload is failed
	TerminalRetention   int    // Seconds a terminal record is kept before deletion
	LeaseDuration       int    // Blob lease duration in seconds
}

// AuthConfig auth configuration
type AuthConfig struct {
	JwtSecret string // HMAC secret for bearer token verification
}

// Cfg global configuration instance
var Cfg *Config

// InitConfig initialize configuration
func InitConfig() error {
	viper.SetConfigFile(GetYaml())
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("Fatal error config file: %s", err)
	}

	// Create configuration instance
	Cfg = &Config{
		Port: viper.GetString("port"),

		Database: DatabaseConfig{
			Type:         viper.GetString("database.type"),
			Dsn:          viper.GetString("database.dsn"),
			MaxOpenConns: viper.GetInt("database.max_open_conns"),
			MaxIdleConns: viper.GetInt("database.max_idle_conns"),
			DataDir:      viper.GetString("database.data_dir"),
		},

		Storage: StorageConfig{
			Type: viper.GetString("storage.type"),
			Local: LocalStorageConfig{
				BasePath: viper.GetString("storage.local.base_path"),
			},
			OSS: OSSStorageConfig{
				Endpoint:  viper.GetString("storage.oss.endpoint"),
				AccessKey: viper.GetString("storage.oss.access_key"),
				SecretKey: viper.GetString("storage.oss.secret_key"),
				Bucket:    viper.GetString("storage.oss.bucket"),
				Domain:    viper.GetString("storage.oss.domain"),
			},
			S3: S3StorageConfig{
				Region:    viper.GetString("storage.s3.region"),
				AccessKey: viper.GetString("storage.s3.access_key"),
				SecretKey: viper.GetString("storage.s3.secret_key"),
				Bucket:    viper.GetString("storage.s3.bucket"),
				Domain:    viper.GetString("storage.s3.domain"),
				Endpoint:  viper.GetString("storage.s3.endpoint"),
			},
			MinIO: MinIOStorageConfig{
				Endpoint:  viper.GetString("storage.minio.endpoint"),
				AccessKey: viper.GetString("storage.minio.access_key"),
				SecretKey: viper.GetString("storage.minio.secret_key"),
				Bucket:    viper.GetString("storage.minio.bucket"),
				UseSSL:    viper.GetBool("storage.minio.use_ssl"),
				Domain:    viper.GetString("storage.minio.domain"),
			},
		},

		Uploader: UploaderConfig{
			ChunkSize:         viper.GetInt64("uploader.chunk_size") * 1024 * 1024, // MB to bytes
			MaxChunks:         viper.GetInt("uploader.max_chunks"),
			MaxRetries:        viper.GetInt("uploader.max_retries"),
			ChunkRetryLimit:   viper.GetInt("uploader.chunk_retry_limit"),
			TempDir:           viper.GetString("uploader.temp_dir"),
			CleanupInterval:   viper.GetInt("uploader.cleanup_interval"),
			StalledAfter:      viper.GetInt("uploader.stalled_after"),
			TerminalRetention: viper.GetInt("uploader.terminal_retention"),
			LeaseDuration:     viper.GetInt("uploader.lease_duration"),
		},

		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			CacheTTL: viper.GetInt("redis.cache_ttl"),
		},

		Auth: AuthConfig{
			JwtSecret: viper.GetString("auth.jwt_secret"),
		},
	}

	// Set default values
	if Cfg.Port == "" {
		Cfg.Port = "7290"
	}
	if Cfg.Database.Type == "" {
		Cfg.Database.Type = "mysql"
	}
	if Cfg.Database.MaxOpenConns == 0 {
		Cfg.Database.MaxOpenConns = 100
	}
	if Cfg.Database.MaxIdleConns == 0 {
		Cfg.Database.MaxIdleConns = 10
	}
	if Cfg.Database.DataDir == "" {
		Cfg.Database.DataDir = "./data/db"
	}
	if Cfg.Storage.Type == "" {
		Cfg.Storage.Type = "local"
	}
	if Cfg.Storage.Local.BasePath == "" {
		Cfg.Storage.Local.BasePath = "./data/files"
	}
	if Cfg.Uploader.ChunkSize == 0 {
		Cfg.Uploader.ChunkSize = 4 * 1024 * 1024 // 4MB
	}
	if Cfg.Uploader.MaxChunks == 0 {
		Cfg.Uploader.MaxChunks = 50000
	}
	if Cfg.Uploader.MaxRetries == 0 {
		Cfg.Uploader.MaxRetries = 3
	}
	if Cfg.Uploader.ChunkRetryLimit == 0 {
		Cfg.Uploader.ChunkRetryLimit = 3
	}
	if Cfg.Uploader.TempDir == "" {
		Cfg.Uploader.TempDir = "./data/tmp"
	}
	if Cfg.Uploader.CleanupInterval == 0 {
		Cfg.Uploader.CleanupInterval = 300 // 5 minutes
	}
	if Cfg.Uploader.StalledAfter == 0 {
		Cfg.Uploader.StalledAfter = 3600 // 1 hour
	}
	if Cfg.Uploader.TerminalRetention == 0 {
		Cfg.Uploader.TerminalRetention = 7 * 24 * 3600 // 7 days
	}
	if Cfg.Uploader.LeaseDuration == 0 {
		Cfg.Uploader.LeaseDuration = 60
	}
	if Cfg.Redis.CacheTTL == 0 {
		Cfg.Redis.CacheTTL = 3600
	}

	return nil
}
