package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"strategykit/internal/errors"
	"strategykit/pkg/exception"
)

const (
	// EnvConfigName names the file under ConfigDir to load, without extension.
	EnvConfigName = "CONFIG_NAME"
	// ConfigDir holds the named config files.
	ConfigDir = "config"

	defaultLogDir           = "logs"
	defaultLogRetentionDays = 3
)

// FileConfig mirrors the TOML config layout.
type FileConfig struct {
	Database DatabaseConfig `toml:"DATABASE"`
	Alarm    AlarmConfig    `toml:"ALARM"`
	Log      LogConfig      `toml:"LOG"`
}

// DatabaseConfig holds the store connection urls.
type DatabaseConfig struct {
	SQLURL   string `toml:"SQL_URL"`
	RedisURL string `toml:"REDIS_URL"`
}

// AlarmConfig groups the alerting channels.
type AlarmConfig struct {
	Email *EmailConfig `toml:"EMAIL"`
}

// EmailConfig describes the SMTP relay and the alert recipients.
type EmailConfig struct {
	SMTPServer   string   `toml:"SMTP_SERVER" validate:"required,hostname|ip"`
	SMTPPort     int      `toml:"SMTP_PORT" validate:"required,min=1,max=65535"`
	SMTPAccount  string   `toml:"SMTP_ACCOUNT"`
	SMTPPassword string   `toml:"SMTP_PASSWORD"`
	Sender       string   `toml:"SENDER" validate:"required,email"`
	Recipients   []string `toml:"RECIPIENTS" validate:"required,min=1,dive,email"`
}

// LogConfig places the file sinks.
type LogConfig struct {
	Dir           string `toml:"DIR"`
	RetentionDays int    `toml:"RETENTION_DAYS" validate:"gte=0"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	// Path is empty when no config file was loaded.
	Path     string
	Database DatabaseConfig
	Email    *EmailConfig
	Log      LogConfig
}

// ResolvePath returns the config file to load: override when set, otherwise
// ConfigDir/$CONFIG_NAME.toml. It returns "" when neither is set.
func ResolvePath(override string) string {
	if override != "" {
		return override
	}
	name := strings.TrimSpace(os.Getenv(EnvConfigName))
	if name == "" {
		return ""
	}
	return filepath.Join(ConfigDir, name+".toml")
}

// Load reads a TOML config file and validates it. An empty path yields the
// defaults.
func Load(path string) (Loaded, error) {
	if path == "" {
		return resolve("", FileConfig{}), nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Loaded{}, fmt.Errorf("%w: %s", exception.ErrConfigNotFound, path)
		}
		return Loaded{}, errors.Wrap(err, "stat config "+path)
	}

	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config "+path)
	}
	if err := validate(cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "validate config "+path)
	}
	return resolve(path, cfg), nil
}

func validate(cfg FileConfig) error {
	v := validator.New()
	if err := v.Struct(cfg.Log); err != nil {
		return fmt.Errorf("%w: LOG: %w", exception.ErrConfigInvalid, err)
	}
	if cfg.Alarm.Email != nil {
		if err := v.Struct(cfg.Alarm.Email); err != nil {
			return fmt.Errorf("%w: ALARM.EMAIL: %w", exception.ErrConfigInvalid, err)
		}
	}
	return nil
}

func resolve(path string, cfg FileConfig) Loaded {
	log := cfg.Log
	if log.Dir == "" {
		log.Dir = defaultLogDir
	}
	if log.RetentionDays == 0 {
		log.RetentionDays = defaultLogRetentionDays
	}
	return Loaded{
		Path:     path,
		Database: cfg.Database,
		Email:    cfg.Alarm.Email,
		Log:      log,
	}
}
