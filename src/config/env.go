package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/oops"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const DefaultMaxFileSize = 5 * 1024 * 1024

var DefaultAllowedExtensions = []string{"jpg", "jpeg", "png", "gif"}

var Config ImghostConfig

func init() {
	// A missing .env is normal; anything already in the environment wins.
	_ = godotenv.Load()

	cfg, err := FromEnv(os.LookupEnv, inDocker())
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	Config = cfg
}

func inDocker() bool {
	if os.Getenv("IN_DOCKER") == "1" {
		return true
	}
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

type LookupFunc func(key string) (string, bool)

// FromEnv builds a config from environment-style lookups. Inside Docker the
// database defaults to the compose service "db" on the standard port.
func FromEnv(lookup LookupFunc, docker bool) (ImghostConfig, error) {
	e := envReader{lookup: lookup}

	defaultHost, defaultPort := "localhost", 5433
	if docker {
		defaultHost, defaultPort = "db", 5432
	}

	cfg := ImghostConfig{
		Env:      Environment(e.str("ENV", string(Dev))),
		Addr:     e.str("ADDR", ":8000"),
		BaseUrl:  strings.TrimSuffix(e.str("BASE_URL", ""), "/"),
		LogLevel: e.logLevel("LOG_LEVEL", zerolog.InfoLevel),
		LogDir:   e.str("LOG_DIR", "logs"),
		Postgres: PostgresConfig{
			User:            e.str("DB_USER", "postgres"),
			Password:        e.str("DB_PASSWORD", "password"),
			Hostname:        e.str("DB_HOST", defaultHost),
			Port:            e.int("DB_PORT", defaultPort),
			DbName:          e.str("DB_NAME", "images_db"),
			LogLevel:        e.dbLogLevel("DB_LOG_LEVEL", tracelog.LogLevelWarn),
			MinConn:         int32(e.int("DB_MIN_CONN", 2)),
			MaxConn:         int32(e.int("DB_MAX_CONN", 10)),
			ConnectAttempts: e.int("DB_CONNECT_ATTEMPTS", 30),
			ConnectDelay:    e.duration("DB_CONNECT_DELAY", time.Second),
			AutoMigrate:     e.bool("DB_AUTO_MIGRATE", true),
		},
		Upload: UploadConfig{
			MaxFileSize:       int64(e.int("MAX_FILE_SIZE", DefaultMaxFileSize)),
			AllowedExtensions: e.list("ALLOWED_EXTENSIONS", DefaultAllowedExtensions),
			MaxConcurrent:     e.int("MAX_CONCURRENT_UPLOADS", 8),
		},
		Storage: StorageConfig{
			Backend: StorageBackend(strings.ToLower(e.str("STORAGE_BACKEND", string(StorageLocal)))),
			Dir:     e.str("UPLOAD_DIR", "images"),
			S3: S3Config{
				Endpoint: e.str("S3_ENDPOINT", ""),
				Region:   e.str("S3_REGION", "us-east-1"),
				Bucket:   e.str("S3_BUCKET", "imghost"),
				Key:      e.str("S3_ACCESS_KEY", ""),
				Secret:   e.str("S3_SECRET_KEY", ""),
			},
		},
		ConsistencyInterval: e.duration("CONSISTENCY_CHECK_INTERVAL", 0),
	}

	if e.err != nil {
		return ImghostConfig{}, e.err
	}
	if cfg.Upload.MaxFileSize <= 0 {
		return ImghostConfig{}, oops.New(nil, "MAX_FILE_SIZE must be positive, got %d", cfg.Upload.MaxFileSize)
	}
	if cfg.Upload.MaxConcurrent <= 0 {
		return ImghostConfig{}, oops.New(nil, "MAX_CONCURRENT_UPLOADS must be positive, got %d", cfg.Upload.MaxConcurrent)
	}
	if len(cfg.Upload.AllowedExtensions) == 0 {
		return ImghostConfig{}, oops.New(nil, "ALLOWED_EXTENSIONS must list at least one extension")
	}
	switch cfg.Storage.Backend {
	case StorageLocal, StorageS3:
	default:
		return ImghostConfig{}, oops.New(nil, "unknown STORAGE_BACKEND %q", cfg.Storage.Backend)
	}

	return cfg, nil
}

// envReader keeps the first parse error so FromEnv can read everything in one pass.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = oops.New(err, "bad value %q for %s", value, key)
	}
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

// Normalizes to lower case without leading dots, so ".PNG" and "png" are the same entry.
func (e *envReader) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return append([]string(nil), def...)
	}
	var result []string
	for _, item := range strings.Split(v, ",") {
		item = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(item), "."))
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func (e *envReader) logLevel(key string, def zerolog.Level) zerolog.Level {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return lvl
}

func (e *envReader) dbLogLevel(key string, def tracelog.LogLevel) tracelog.LogLevel {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	lvl, err := tracelog.LogLevelFromString(strings.ToLower(v))
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return lvl
}
