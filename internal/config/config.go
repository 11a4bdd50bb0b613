package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Stream   StreamConfig
	Pipeline PipelineConfig
	Redis    RedisConfig
	R2       R2Config
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type StorageConfig struct {
	ScratchDir       string
	RetentionMinutes int // how long unretrieved terminal sessions are kept
	SweepMinutes     int // janitor sweep interval
}

type StreamConfig struct {
	PollIntervalMS int // progress stream poll interval
}

type PipelineConfig struct {
	Python             string
	SeparatorScript    string
	Stems              int
	SeparatorTimeout   int // seconds
	Transcriber        string
	TranscriberTimeout int // seconds
	Engraver           string
	EngraverTimeout    int // seconds
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("storage.scratch_dir", "SCRATCH_DIR")
	_ = viper.BindEnv("storage.retention_minutes", "SESSION_RETENTION_MINUTES")
	_ = viper.BindEnv("storage.sweep_minutes", "SESSION_SWEEP_MINUTES")
	_ = viper.BindEnv("stream.poll_interval_ms", "PROGRESS_POLL_INTERVAL_MS")
	_ = viper.BindEnv("pipeline.python", "PIPELINE_PYTHON")
	_ = viper.BindEnv("pipeline.separator_script", "PIPELINE_SEPARATOR_SCRIPT")
	_ = viper.BindEnv("pipeline.stems", "PIPELINE_STEMS")
	_ = viper.BindEnv("pipeline.separator_timeout", "PIPELINE_SEPARATOR_TIMEOUT")
	_ = viper.BindEnv("pipeline.transcriber", "PIPELINE_TRANSCRIBER")
	_ = viper.BindEnv("pipeline.transcriber_timeout", "PIPELINE_TRANSCRIBER_TIMEOUT")
	_ = viper.BindEnv("pipeline.engraver", "PIPELINE_ENGRAVER")
	_ = viper.BindEnv("pipeline.engraver_timeout", "PIPELINE_ENGRAVER_TIMEOUT")
	_ = viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("storage.scratch_dir", os.TempDir())
	viper.SetDefault("storage.retention_minutes", 30)
	viper.SetDefault("storage.sweep_minutes", 5)
	viper.SetDefault("stream.poll_interval_ms", 1000)

	// Pipeline defaults
	viper.SetDefault("pipeline.python", "python3")
	viper.SetDefault("pipeline.separator_script", "scripts/split.py")
	viper.SetDefault("pipeline.stems", 5)
	viper.SetDefault("pipeline.separator_timeout", 600)
	viper.SetDefault("pipeline.transcriber", "basic-pitch")
	viper.SetDefault("pipeline.transcriber_timeout", 300)
	viper.SetDefault("pipeline.engraver", "mscore3")
	viper.SetDefault("pipeline.engraver_timeout", 120)

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Storage: StorageConfig{
			ScratchDir:       viper.GetString("storage.scratch_dir"),
			RetentionMinutes: viper.GetInt("storage.retention_minutes"),
			SweepMinutes:     viper.GetInt("storage.sweep_minutes"),
		},
		Stream: StreamConfig{
			PollIntervalMS: viper.GetInt("stream.poll_interval_ms"),
		},
		Pipeline: PipelineConfig{
			Python:             viper.GetString("pipeline.python"),
			SeparatorScript:    viper.GetString("pipeline.separator_script"),
			Stems:              viper.GetInt("pipeline.stems"),
			SeparatorTimeout:   viper.GetInt("pipeline.separator_timeout"),
			Transcriber:        viper.GetString("pipeline.transcriber"),
			TranscriberTimeout: viper.GetInt("pipeline.transcriber_timeout"),
			Engraver:           viper.GetString("pipeline.engraver"),
			EngraverTimeout:    viper.GetInt("pipeline.engraver_timeout"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
