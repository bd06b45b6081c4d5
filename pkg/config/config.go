package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Mirror providers supported by the cloud mirror store.
const (
	MirrorProviderNone  = "none"
	MirrorProviderDrive = "drive"
	MirrorProviderS3    = "s3"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Storage  StorageConfig
	Mirror   MirrorConfig
	Scan     ScanConfig
	Cache    CacheConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	AutoMigrate   bool
	MigrationsDir string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig configures the identity resolver and token issuance.
type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
	Audience   []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig controls the local filesystem store and upload validation.
type StorageConfig struct {
	Root              string
	DefaultBackend    string
	MaxUploadSize     int64
	AllowedExtensions []string
	ViewableExts      []string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
}

// MirrorConfig controls the cloud mirror store.
type MirrorConfig struct {
	Provider        string
	CredentialsFile string
	FolderID        string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	UsePathStyle    bool
	Timeout         time.Duration
	LinkRetries     int
	LinkTTL         time.Duration
	MaxUploadSize   int64
	StreamThreshold int64
	Workers         int
}

// ScanConfig schedules the storage consistency scan.
type ScanConfig struct {
	Enabled     bool
	Schedule    string
	Concurrency int
}

// CacheConfig governs reference data caching.
type CacheConfig struct {
	Enabled     bool
	CategoryTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:          v.GetString("DB_HOST"),
		Port:          v.GetInt("DB_PORT"),
		User:          v.GetString("DB_USER"),
		Password:      v.GetString("DB_PASSWORD"),
		Name:          v.GetString("DB_NAME"),
		SSLMode:       v.GetString("DB_SSL_MODE"),
		MaxOpenConns:  v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:  v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:   v.GetBool("DB_AUTO_MIGRATE"),
		MigrationsDir: v.GetString("DB_MIGRATIONS_DIR"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 8*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
		Audience:   splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxUpload := v.GetInt64("MAX_UPLOAD_SIZE")
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Root:              v.GetString("STORAGE_ROOT"),
		DefaultBackend:    strings.ToLower(v.GetString("STORAGE_DEFAULT_BACKEND")),
		MaxUploadSize:     maxUpload,
		AllowedExtensions: lowerAll(splitAndTrim(v.GetString("ALLOWED_EXTENSIONS"))),
		ViewableExts:      lowerAll(splitAndTrim(v.GetString("VIEWABLE_EXTENSIONS"))),
		SignedURLSecret:   v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 15*time.Minute),
	}

	mirrorMax := v.GetInt64("MIRROR_MAX_UPLOAD_SIZE")
	if mirrorMax <= 0 {
		mirrorMax = 100 * 1024 * 1024
	}
	cfg.Mirror = MirrorConfig{
		Provider:        strings.ToLower(v.GetString("MIRROR_PROVIDER")),
		CredentialsFile: v.GetString("MIRROR_CREDENTIALS_FILE"),
		FolderID:        v.GetString("MIRROR_FOLDER_ID"),
		Bucket:          v.GetString("MIRROR_BUCKET"),
		Region:          v.GetString("MIRROR_REGION"),
		Endpoint:        v.GetString("MIRROR_ENDPOINT"),
		AccessKey:       v.GetString("MIRROR_ACCESS_KEY"),
		SecretKey:       v.GetString("MIRROR_SECRET_KEY"),
		UsePathStyle:    v.GetBool("MIRROR_USE_PATH_STYLE"),
		Timeout:         parseDuration(v.GetString("MIRROR_TIMEOUT"), 30*time.Second),
		LinkRetries:     v.GetInt("MIRROR_LINK_RETRIES"),
		LinkTTL:         parseDuration(v.GetString("MIRROR_LINK_TTL"), time.Hour),
		MaxUploadSize:   mirrorMax,
		StreamThreshold: v.GetInt64("MIRROR_STREAM_THRESHOLD"),
		Workers:         v.GetInt("MIRROR_WORKERS"),
	}

	cfg.Scan = ScanConfig{
		Enabled:     v.GetBool("ENABLE_STORAGE_SCAN"),
		Schedule:    v.GetString("STORAGE_SCAN_SCHEDULE"),
		Concurrency: v.GetInt("STORAGE_SCAN_CONCURRENCY"),
	}

	cfg.Cache = CacheConfig{
		Enabled:     v.GetBool("ENABLE_CACHE"),
		CategoryTTL: parseDuration(v.GetString("CATEGORY_CACHE_TTL"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "filevault")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("DB_MIGRATIONS_DIR", "")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "8h")
	v.SetDefault("JWT_ISSUER", "filevault-api")
	v.SetDefault("JWT_AUDIENCE", "filevault-clients")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_ROOT", "./uploads")
	v.SetDefault("STORAGE_DEFAULT_BACKEND", "local")
	v.SetDefault("MAX_UPLOAD_SIZE", 10*1024*1024)
	v.SetDefault("ALLOWED_EXTENSIONS", ".pdf,.doc,.docx,.xls,.xlsx,.ppt,.pptx,.txt,.csv,.md,.png,.jpg,.jpeg,.gif,.zip")
	v.SetDefault("VIEWABLE_EXTENSIONS", ".pdf,.txt,.png,.jpg,.jpeg,.gif")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "15m")

	v.SetDefault("MIRROR_PROVIDER", MirrorProviderNone)
	v.SetDefault("MIRROR_CREDENTIALS_FILE", "./secrets/drive-service-account.json")
	v.SetDefault("MIRROR_FOLDER_ID", "")
	v.SetDefault("MIRROR_BUCKET", "filevault")
	v.SetDefault("MIRROR_REGION", "us-east-1")
	v.SetDefault("MIRROR_ENDPOINT", "")
	v.SetDefault("MIRROR_ACCESS_KEY", "")
	v.SetDefault("MIRROR_SECRET_KEY", "")
	v.SetDefault("MIRROR_USE_PATH_STYLE", false)
	v.SetDefault("MIRROR_TIMEOUT", "30s")
	v.SetDefault("MIRROR_LINK_RETRIES", 3)
	v.SetDefault("MIRROR_LINK_TTL", "1h")
	v.SetDefault("MIRROR_MAX_UPLOAD_SIZE", 100*1024*1024)
	v.SetDefault("MIRROR_STREAM_THRESHOLD", 5*1024*1024)
	v.SetDefault("MIRROR_WORKERS", 2)

	v.SetDefault("ENABLE_STORAGE_SCAN", false)
	v.SetDefault("STORAGE_SCAN_SCHEDULE", "@every 6h")
	v.SetDefault("STORAGE_SCAN_CONCURRENCY", 4)

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CATEGORY_CACHE_TTL", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

func lowerAll(values []string) []string {
	for i, value := range values {
		values[i] = strings.ToLower(value)
	}
	return values
}
