package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Live Environment = "live"
	Beta             = "beta"
	Dev              = "dev"
)

type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

type ImghostConfig struct {
	Env      Environment
	Addr     string
	BaseUrl  string
	LogLevel zerolog.Level
	// Directory for the JSON log file. Empty disables file logging.
	LogDir   string
	Postgres PostgresConfig
	Upload   UploadConfig
	Storage  StorageConfig

	// How often the background job compares rows against stored files. Zero disables it.
	ConsistencyInterval time.Duration
}

type PostgresConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
	LogLevel tracelog.LogLevel
	MinConn  int32
	MaxConn  int32

	ConnectAttempts int
	ConnectDelay    time.Duration
	AutoMigrate     bool
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type UploadConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	MaxConcurrent     int
}

type StorageConfig struct {
	Backend StorageBackend
	Dir     string
	S3      S3Config
}

type S3Config struct {
	Endpoint string
	Region   string
	Bucket   string
	Key      string
	Secret   string
}
