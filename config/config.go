package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const DefaultTablePrefix = "mediavault"

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterValidation("abspath", ValidateAbsPath)
	validate.RegisterValidation("localpath", ValidateLocalpath)
	validate.RegisterValidation("identifier", ValidateIdentifier)
	validate.RegisterValidation("pathpattern", ValidatePathPattern)
	validate.RegisterValidation("contenttype", ValidateContentType)
	validate.RegisterValidation("cronspec", ValidateCronSpec)

	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Upload.RetryMaxInterval > 0 && c.Upload.RetryMaxInterval < c.Upload.RetryInitialInterval {
		return fmt.Errorf("upload.retry_max_interval must not be shorter than upload.retry_initial_interval")
	}

	return nil
}

// Prefix returns the configured records table prefix, falling back to
// DefaultTablePrefix when unset.
func (r Records) Prefix() string {
	if r.TablePrefix == nil {
		return DefaultTablePrefix
	}

	return *r.TablePrefix
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.limits.max_payload_size", 2<<20)
	v.SetDefault("server.limits.max_multipart_mem", 32<<20)

	v.SetDefault("upload.max_file_size", 10<<20)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/webp", "image/gif"})
	v.SetDefault("upload.strip_sensitive_metadata", true)
	v.SetDefault("upload.folder", "uploads")
	v.SetDefault("upload.max_retries", 3)
	v.SetDefault("upload.retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("upload.retry_max_interval", 5*time.Second)
	v.SetDefault("upload.max_concurrent", 4)
	v.SetDefault("upload.progress_ttl", 10*time.Minute)

	v.SetDefault("cleanup.grace_period", time.Hour)
	v.SetDefault("cleanup.concurrency", 1)
	v.SetDefault("cleanup.history_limit", 20)

	v.SetDefault("records.driver", "memory")
	v.SetDefault("media.strategy", "memory")
	v.SetDefault("scan.strategy", "none")
	v.SetDefault("lock.strategy", "local")
	v.SetDefault("metrics.namespace", "mediavault")
}

func LoadConfig(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", file, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if v.IsSet("records.table_prefix") {
		prefix := v.GetString("records.table_prefix")
		cfg.Records.TablePrefix = &prefix
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
