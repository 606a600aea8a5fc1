package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/portfolio-deploy/pkg/health"
)

var validate = validator.New()

var appNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

func init() {
	validate.RegisterValidation("appname", func(fl validator.FieldLevel) bool {
		return appNameRegex.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("argv", func(fl validator.FieldLevel) bool {
		argv, ok := fl.Field().Interface().([]string)
		return ok && len(argv) > 0 && argv[0] != ""
	})
}

// Config is the complete runtime configuration shared by both binaries
type Config struct {
	App     AppConfig     `yaml:"app"`
	Paths   PathsConfig   `yaml:"paths"`
	Build   BuildConfig   `yaml:"build"`
	Process ProcessConfig `yaml:"process"`
	Edge    EdgeConfig    `yaml:"edge"`
	Health  HealthConfig  `yaml:"health"`
	Backup  BackupConfig  `yaml:"backup"`
	Deploy  DeployConfig  `yaml:"deploy"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig identifies the supervised service
type AppConfig struct {
	Name        string `yaml:"name" validate:"required,appname"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"required"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`
}

// PathsConfig holds the directories the deployment works with
type PathsConfig struct {
	SourceDir   string `yaml:"source_dir" validate:"required"`
	LiveDir     string `yaml:"live_dir" validate:"required"`
	ReleasesDir string `yaml:"releases_dir" validate:"required"`
	BackupDir   string `yaml:"backup_dir" validate:"required"`
	StateDir    string `yaml:"state_dir" validate:"required"`
	EnvFile     string `yaml:"env_file"`
}

// BuildConfig describes how a release is produced from the source tree
type BuildConfig struct {
	InstallCommand []string `yaml:"install_command" validate:"argv"`
	BuildCommand   []string `yaml:"build_command" validate:"argv"`
	OutputDir      string   `yaml:"output_dir" validate:"required"`
	EntryFile      string   `yaml:"entry_file" validate:"required"`
	ManifestFiles  []string `yaml:"manifest_files"`
	Lockfile       string   `yaml:"lockfile" validate:"required"`
	RequiredTools  []string `yaml:"required_tools"`
	KeepReleases   int      `yaml:"keep_releases" validate:"min=0"`
}

// ProcessConfig configures the process manager and the process table
type ProcessConfig struct {
	PM2Binary     string            `yaml:"pm2_binary" validate:"required"`
	Instances     int               `yaml:"instances" validate:"min=0"`
	ExecMode      string            `yaml:"exec_mode" validate:"oneof=cluster fork"`
	HealthBinary  string            `yaml:"health_binary" validate:"required"`
	HealthArgs    []string          `yaml:"health_args"`
	Env           map[string]string `yaml:"env"`
	OnlineTimeout time.Duration     `yaml:"online_timeout" validate:"gt=0"`
	PollInterval  time.Duration     `yaml:"poll_interval" validate:"gt=0"`
}

// EdgeConfig configures the reverse proxy in front of the service
type EdgeConfig struct {
	Enabled          bool     `yaml:"enabled"`
	SiteConfigSource string   `yaml:"site_config_source"`
	SiteConfigPath   string   `yaml:"site_config_path"`
	ValidateCommand  []string `yaml:"validate_command" validate:"omitempty,argv"`
	ReloadCommand    []string `yaml:"reload_command" validate:"omitempty,argv"`
}

// HealthConfig configures the health daemon and the post-deploy probe
type HealthConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Interval        time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	URL             string        `yaml:"url" validate:"required,url"`
	Attempts        int           `yaml:"attempts" validate:"min=1"`
	Backoff         time.Duration `yaml:"backoff" validate:"min=0"`
	MemoryThreshold float64       `yaml:"memory_threshold" validate:"gt=0,lte=100"`
	CPUThreshold    float64       `yaml:"cpu_threshold" validate:"gt=0,lte=100"`
	CPUSample       time.Duration `yaml:"cpu_sample" validate:"min=0"`
}

// BackupConfig configures backup retention and integrity
type BackupConfig struct {
	Keep            int      `yaml:"keep" validate:"min=1"`
	Exclude         []string `yaml:"exclude"`
	Checksums       bool     `yaml:"checksums"`
	VerifyOnRestore bool     `yaml:"verify_on_restore"`
	S3              S3Config `yaml:"s3"`
}

// S3Config configures the optional off-host backup mirror
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Enabled reports whether a mirror bucket is configured
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// DeployConfig configures the pipeline itself
type DeployConfig struct {
	Rollback     bool   `yaml:"rollback"`
	PreHook      string `yaml:"pre_hook"`
	PostHook     string `yaml:"post_hook"`
	HistoryLimit int    `yaml:"history_limit" validate:"min=1"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// MetricsConfig configures Prometheus exposition
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Textfile string `yaml:"textfile"`
}

// Default returns the compiled-in configuration
func Default() *Config {
	probe := health.DefaultConfig()
	return &Config{
		App: AppConfig{
			Name:        "portfolio",
			Version:     "dev",
			Environment: "production",
			Port:        3000,
		},
		Paths: PathsConfig{
			SourceDir:   "/var/www/portfolio",
			LiveDir:     "/var/www/portfolio/current",
			ReleasesDir: "/var/www/portfolio/releases",
			BackupDir:   "/var/backups/portfolio",
			StateDir:    "/var/lib/portfolio",
		},
		Build: BuildConfig{
			InstallCommand: []string{"npm", "ci", "--include=dev"},
			BuildCommand:   []string{"npm", "run", "build"},
			OutputDir:      "dist",
			EntryFile:      "server.js",
			ManifestFiles:  []string{"package.json", "package-lock.json"},
			Lockfile:       "package-lock.json",
			RequiredTools:  []string{"node", "npm", "pm2", "nginx"},
			KeepReleases:   2,
		},
		Process: ProcessConfig{
			PM2Binary:     "pm2",
			ExecMode:      "cluster",
			HealthBinary:  "/usr/local/bin/portfolio-health",
			OnlineTimeout: 30 * time.Second,
			PollInterval:  500 * time.Millisecond,
		},
		Edge: EdgeConfig{
			Enabled:         true,
			SiteConfigPath:  "/etc/nginx/sites-available/portfolio",
			ValidateCommand: []string{"nginx", "-t"},
			ReloadCommand:   []string{"systemctl", "reload", "nginx"},
		},
		Health: HealthConfig{
			Port:            3001,
			Interval:        30 * time.Second,
			Timeout:         probe.Timeout,
			URL:             "http://localhost:3001/health",
			Attempts:        probe.Attempts,
			Backoff:         probe.Backoff,
			MemoryThreshold: 90,
			CPUThreshold:    90,
			CPUSample:       200 * time.Millisecond,
		},
		Backup: BackupConfig{
			Keep:    5,
			Exclude: []string{"node_modules/**"},
		},
		Deploy: DeployConfig{
			Rollback:     true,
			HistoryLimit: 50,
		},
		Log: LogConfig{
			Level: "info",
			File:  "/var/log/portfolio/deploy.log",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, the optional env file and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	envFile := cfg.Paths.EnvFile
	if v := os.Getenv("DEPLOY_ENV_FILE"); v != "" {
		envFile = v
	}
	if envFile != "" {
		if err := LoadEnvFile(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg.Paths.EnvFile = envFile
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// EntryPath is the entry file relative to a release root
func (c *Config) EntryPath() string {
	return filepath.Join(c.Build.OutputDir, c.Build.EntryFile)
}

// StatePath returns a path under the state directory
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.Paths.StateDir, name)
}

// ProbeConfig is the timing of the post-deploy health probe
func (c *Config) ProbeConfig() health.Config {
	return health.Config{
		Attempts: c.Health.Attempts,
		Timeout:  c.Health.Timeout,
		Backoff:  c.Health.Backoff,
	}
}
