package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/italolelis/ftpmirror/internal/transfer"
)

// ByteSize is a size read from a human readable value such as "5GB" or "512MiB".
type ByteSize uint64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	if strings.TrimSpace(value) == "" {
		*b = 0

		return nil
	}

	n, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}

	*b = ByteSize(n)

	return nil
}

// Config struct for environment variables.
type Config struct {
	// Keys are FTP_<FIELD>. Untagged on purpose: a tagged field also reads the
	// bare name, e.g. USER.
	FTP struct {
		Host        string
		Port        int `default:"21"`
		User        string
		Pass        string
		Dir         string
		TLS         string        `default:"none"`
		DialTimeout time.Duration `split_words:"true" default:"30s"`
	}

	BucketName  string `envconfig:"BUCKET_NAME"`
	Destination string `envconfig:"DESTINATION" default:"s3"`

	S3 struct {
		Region    string `default:"us-east-1"`
		Endpoint  string
		Prefix    string
		AccessKey string `split_words:"true"`
		SecretKey string `split_words:"true"`
		UseSSL    bool   `split_words:"true" default:"true"`
	}

	UploadRateLimit ByteSize `envconfig:"UPLOAD_RATE_LIMIT"`

	MaxParallel int           `envconfig:"MAX_PARALLEL" default:"1"`
	FileTimeout time.Duration `envconfig:"FILE_TIMEOUT" default:"30m"`
	MaxFileSize ByteSize      `envconfig:"MAX_FILE_SIZE"`
	SpoolDir    string        `envconfig:"SPOOL_DIR"`
	SpoolMaxAge time.Duration `envconfig:"SPOOL_MAX_AGE" default:"24h"`

	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"10m"`
	RunOnce      bool          `envconfig:"RUN_ONCE"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `default:"true"`
		OTLPEndpoint string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"60m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
// A .env file in the working directory is loaded first when present; it never
// overrides variables that are already set.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// SourceAddr returns the FTP address to dial, or "" when no host is configured.
func (c *Config) SourceAddr() string {
	host := strings.TrimSpace(c.FTP.Host)
	if host == "" {
		return ""
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}

	return net.JoinHostPort(host, strconv.Itoa(c.FTP.Port))
}

// Job builds the per-invocation job value. Validation happens on the job so a
// missing option is reported before any connection is opened.
func (c *Config) Job(triggeredAt time.Time) transfer.Job {
	return transfer.Job{
		Host:        c.SourceAddr(),
		User:        c.FTP.User,
		Credential:  c.FTP.Pass,
		Bucket:      c.BucketName,
		TriggeredAt: triggeredAt,
	}
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
