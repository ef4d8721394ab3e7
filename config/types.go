package config

import "time"

type Config struct {
	Debug   bool    `mapstructure:"debug"`
	Server  Server  `mapstructure:"server"`
	Auth    Auth    `mapstructure:"auth"`
	Upload  Upload  `mapstructure:"upload"`
	Cleanup Cleanup `mapstructure:"cleanup"`
	Records Records `mapstructure:"records"`
	Media   Media   `mapstructure:"media"`
	Scan    Scan    `mapstructure:"scan"`
	Lock    Lock    `mapstructure:"lock"`
	Metrics Metrics `mapstructure:"metrics"`
}

type Server struct {
	Address   string       `mapstructure:"address" validate:"required,hostname|ip"`
	Port      int          `mapstructure:"port" validate:"required,min=1,max=65535"`
	PublicUrl string       `mapstructure:"public_url" validate:"required,url"`
	Limits    ServerLimits `mapstructure:"limits"`
}

type ServerLimits struct {
	MaxPayloadSize  uint `mapstructure:"max_payload_size" validate:"required"`
	MaxMultipartMem uint `mapstructure:"max_multipart_mem" validate:"required"`
}

type Auth struct {
	MeUrl         string `mapstructure:"me_url" validate:"required,url"`
	TokenEndpoint string `mapstructure:"token_endpoint" validate:"required,url"`
}

type Upload struct {
	MaxFileSize            int64         `mapstructure:"max_file_size" validate:"min=0"`
	AllowedTypes           []string      `mapstructure:"allowed_types" validate:"dive,required"`
	StripSensitiveMetadata bool          `mapstructure:"strip_sensitive_metadata"`
	Folder                 string        `mapstructure:"folder" validate:"omitempty,localpath"`
	MaxRetries             int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryInitialInterval   time.Duration `mapstructure:"retry_initial_interval" validate:"min=0"`
	RetryMaxInterval       time.Duration `mapstructure:"retry_max_interval" validate:"min=0"`
	MaxConcurrent          int           `mapstructure:"max_concurrent" validate:"min=0"`
	ProgressTTL            time.Duration `mapstructure:"progress_ttl" validate:"min=0"`
	RateLimit              RateLimit     `mapstructure:"rate_limit"`
}

type RateLimit struct {
	PerMinute int `mapstructure:"per_minute" validate:"min=0"`
	Burst     int `mapstructure:"burst" validate:"min=0"`
}

type Cleanup struct {
	GracePeriod     time.Duration `mapstructure:"grace_period" validate:"min=0"`
	Concurrency     int           `mapstructure:"concurrency" validate:"min=0"`
	Schedule        string        `mapstructure:"schedule" validate:"omitempty,cronspec"`
	ScheduledDryRun bool          `mapstructure:"scheduled_dry_run"`
	HistoryLimit    int           `mapstructure:"history_limit" validate:"min=0"`
}

type Records struct {
	Driver      string  `mapstructure:"driver" validate:"required,oneof=memory postgres pgx mysql sqlite"`
	DSN         string  `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	TablePrefix *string `mapstructure:"table_prefix" validate:"omitempty,identifier"`
}

type Media struct {
	Strategy    string                   `mapstructure:"strategy" validate:"required,oneof=memory s3 filesystem"`
	PathPattern string                   `mapstructure:"path_pattern" validate:"omitempty,pathpattern"`
	PublicUrl   string                   `mapstructure:"public_url" validate:"omitempty,url"`
	S3          *S3MediaStrategy         `mapstructure:"s3" validate:"required_if=Strategy s3"`
	Filesystem  *FilesystemMediaStrategy `mapstructure:"filesystem" validate:"required_if=Strategy filesystem"`
}

type S3MediaStrategy struct {
	AccessKeyId    string `mapstructure:"access_key_id" validate:"required"`
	SecretKeyId    string `mapstructure:"secret_key_id" validate:"required"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket" validate:"required"`
	Endpoint       string `mapstructure:"endpoint" validate:"omitempty,url|hostname_port|hostname"`
	PublicUrl      string `mapstructure:"public_url" validate:"omitempty,url"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	DisableSSL     bool   `mapstructure:"disable_ssl"`
}

type FilesystemMediaStrategy struct {
	Path      string `mapstructure:"path" validate:"required,abspath"`
	PublicUrl string `mapstructure:"public_url" validate:"required,url"`
}

// Scan configures where raw content bodies live for the best-effort
// mention scan run during orphan verification. Source keys are content types.
type Scan struct {
	Strategy   string                  `mapstructure:"strategy" validate:"required,oneof=none sql d1 git filesystem"`
	SQL        *SQLScanStrategy        `mapstructure:"sql" validate:"required_if=Strategy sql"`
	D1         *D1ScanStrategy         `mapstructure:"d1" validate:"required_if=Strategy d1"`
	Git        *GitScanStrategy        `mapstructure:"git" validate:"required_if=Strategy git"`
	Filesystem *FilesystemScanStrategy `mapstructure:"filesystem" validate:"required_if=Strategy filesystem"`
}

type ScanSource struct {
	Table  string `mapstructure:"table" validate:"required,identifier"`
	Column string `mapstructure:"column" validate:"required,identifier"`
}

type SQLScanStrategy struct {
	Driver  string                `mapstructure:"driver" validate:"required,oneof=postgres pgx mysql sqlite"`
	DSN     string                `mapstructure:"dsn" validate:"required"`
	Sources map[string]ScanSource `mapstructure:"sources" validate:"required,min=1,dive,keys,contenttype,endkeys"`
}

type D1ScanStrategy struct {
	AccountID  string                `mapstructure:"account_id" validate:"required"`
	DatabaseID string                `mapstructure:"database_id" validate:"required"`
	APIToken   string                `mapstructure:"api_token" validate:"required"`
	Endpoint   string                `mapstructure:"endpoint" validate:"omitempty,url"`
	Sources    map[string]ScanSource `mapstructure:"sources" validate:"required,min=1,dive,keys,contenttype,endkeys"`
}

type GitScanStrategy struct {
	Repository string               `mapstructure:"repository" validate:"required,url"`
	LocalPath  string               `mapstructure:"local_path" validate:"required,abspath"`
	Auth       *GitScanStrategyAuth `mapstructure:"auth"`
	Sources    map[string]string    `mapstructure:"sources" validate:"required,min=1,dive,keys,contenttype,endkeys,required,localpath"`
}

type GitScanStrategyAuth struct {
	Method string                `mapstructure:"method" validate:"required,oneof=plain ssh"`
	Plain  *UsernamePasswordAuth `mapstructure:"plain" validate:"required_if=Method plain"`
	Ssh    *SshKeyAuth           `mapstructure:"ssh" validate:"required_if=Method ssh"`
}

type UsernamePasswordAuth struct {
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

type SshKeyAuth struct {
	Username           string `mapstructure:"username"`
	PrivateKeyFilePath string `mapstructure:"private_key_file_path" validate:"required,file"`
	Passphrase         string `mapstructure:"passphrase"`
}

type FilesystemScanStrategy struct {
	Sources map[string]string `mapstructure:"sources" validate:"required,min=1,dive,keys,contenttype,endkeys,required,abspath"`
}

type Lock struct {
	Strategy string     `mapstructure:"strategy" validate:"required,oneof=local redis"`
	Redis    *RedisLock `mapstructure:"redis" validate:"required_if=Strategy redis"`
}

type RedisLock struct {
	URL    string        `mapstructure:"url" validate:"required,url"`
	TTL    time.Duration `mapstructure:"ttl" validate:"min=0"`
	Prefix string        `mapstructure:"prefix"`
}

type Metrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace" validate:"omitempty,identifier"`
}
