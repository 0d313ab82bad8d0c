package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polarfoxDev/wharf/internal/helpers"
)

// Config represents the complete configuration file
type Config struct {
	Database   string          `yaml:"database"`             // sqlite file
	LogLevel   string          `yaml:"logLevel,omitempty"`   // debug, info, warn, error
	WorkDir    string          `yaml:"workDir,omitempty"`    // compose descriptors live in <workDir>/<token>
	StagingDir string          `yaml:"stagingDir,omitempty"` // host scratch space for artifacts on their way to the archive store
	PublicHost string          `yaml:"publicHost,omitempty"` // host name used for the site URL
	Ports      PortRange       `yaml:"ports,omitempty"`
	Runtime    RuntimeConfig   `yaml:"runtime,omitempty"`
	Exec       ExecConfig      `yaml:"exec,omitempty"`
	WordPress  WordPressConfig `yaml:"wordpress,omitempty"`
	Archive    ArchiveConfig   `yaml:"archive,omitempty"`
	Retention  RetentionConfig `yaml:"retention,omitempty"`
	Schedule   ScheduleConfig  `yaml:"schedule,omitempty"`
	API        APIConfig       `yaml:"api,omitempty"`
	Metrics    ListenConfig    `yaml:"metrics,omitempty"`
}

type PortRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// RuntimeConfig selects how commands reach the instance containers
type RuntimeConfig struct {
	Executor   string `yaml:"executor,omitempty"`   // "docker" (default) or "kubernetes"
	Kubeconfig string `yaml:"kubeconfig,omitempty"` // empty = in-cluster config
	Namespace  string `yaml:"namespace,omitempty"`  // kubernetes namespace for instance pods
	ComposeBin string `yaml:"composeBin,omitempty"` // default "docker compose"
}

type ExecConfig struct {
	Timeout     Duration `yaml:"timeout,omitempty"`     // per remote command
	Concurrency int      `yaml:"concurrency,omitempty"` // parallel commands across all flows
}

type WordPressConfig struct {
	Image           string   `yaml:"image,omitempty"`
	DBImage         string   `yaml:"dbImage,omitempty"`
	WebRoot         string   `yaml:"webRoot,omitempty"`
	BackupDir       string   `yaml:"backupDir,omitempty"`
	CLIURL          string   `yaml:"cliUrl,omitempty"`
	StabilizeDelay  Duration `yaml:"stabilizeDelay,omitempty"`
	DiscoveryDelay  Duration `yaml:"discoveryDelay,omitempty"`
	DiscoveryTries  int      `yaml:"discoveryTries,omitempty"`
	BaselinePlugins []string `yaml:"baselinePlugins,omitempty"`
	AdminEmail      string   `yaml:"adminEmail,omitempty"`
}

type ArchiveConfig struct {
	Endpoint       string   `yaml:"endpoint,omitempty"` // empty = AWS default endpoint resolution
	Region         string   `yaml:"region,omitempty"`
	Bucket         string   `yaml:"bucket,omitempty"`
	Prefix         string   `yaml:"prefix,omitempty"`
	AccessKey      string   `yaml:"accessKey,omitempty"`
	SecretKey      string   `yaml:"secretKey,omitempty"`
	UsePathStyle   bool     `yaml:"usePathStyle,omitempty"`
	URLExpiry      Duration `yaml:"urlExpiry,omitempty"`
	DeleteOnRemove bool     `yaml:"deleteOnRemove,omitempty"`
}

// RetentionConfig holds the implicit expiry of each ephemeral backup type
type RetentionConfig struct {
	LimitedCap    int      `yaml:"limitedCap,omitempty"`
	LimitedKeep   Duration `yaml:"limitedKeep,omitempty"`
	HourlyKeep    Duration `yaml:"hourlyKeep,omitempty"`
	SixHourlyKeep Duration `yaml:"sixHourlyKeep,omitempty"`
	DailyKeep     Duration `yaml:"dailyKeep,omitempty"`
}

type ScheduleConfig struct {
	DailyEvery  Duration `yaml:"dailyEvery,omitempty"`
	PollEvery   Duration `yaml:"pollEvery,omitempty"`
	MaxAttempts int      `yaml:"maxAttempts,omitempty"`
}

type ListenConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

type APIConfig struct {
	Listen      string   `yaml:"listen,omitempty"`
	Token       string   `yaml:"token,omitempty"`       // bearer token; empty disables auth
	CORSOrigins []string `yaml:"corsOrigins,omitempty"` // added to the localhost development origins
}

// Duration accepts Go duration syntax plus a day suffix ("14d")
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got %v", value.Tag)
	}
	parsed, err := helpers.ParseDuration(expandEnv(value.Value))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file, expanding environment variables
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Database = expandEnv(cfg.Database)
	cfg.WorkDir = expandEnv(cfg.WorkDir)
	cfg.StagingDir = expandEnv(cfg.StagingDir)
	cfg.PublicHost = expandEnv(cfg.PublicHost)
	cfg.Runtime.Kubeconfig = expandEnv(cfg.Runtime.Kubeconfig)
	cfg.Runtime.Namespace = expandEnv(cfg.Runtime.Namespace)
	cfg.WordPress.AdminEmail = expandEnv(cfg.WordPress.AdminEmail)

	// Credentials usually come from the environment
	cfg.Archive.Endpoint = expandEnv(cfg.Archive.Endpoint)
	cfg.Archive.Region = expandEnv(cfg.Archive.Region)
	cfg.Archive.Bucket = expandEnv(cfg.Archive.Bucket)
	cfg.Archive.AccessKey = expandEnv(cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = expandEnv(cfg.Archive.SecretKey)
	cfg.API.Token = expandEnv(cfg.API.Token)

	// Comma-separated, e.g. WHARF_CORS_ORIGINS=https://admin.example.com,https://ops.example.com
	cfg.API.CORSOrigins = append(cfg.API.CORSOrigins, helpers.SplitCSV(os.Getenv("WHARF_CORS_ORIGINS"))...)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "/var/lib/wharf/wharf.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WorkDir == "" {
		c.WorkDir = "/var/lib/wharf/instances"
	}
	if c.StagingDir == "" {
		c.StagingDir = "/var/lib/wharf/staging"
	}
	if c.PublicHost == "" {
		c.PublicHost = "localhost"
	}
	if c.Ports.Min == 0 && c.Ports.Max == 0 {
		c.Ports = PortRange{Min: 4000, Max: 8000}
	}
	if c.Runtime.Executor == "" {
		c.Runtime.Executor = "docker"
	}
	if c.Runtime.ComposeBin == "" {
		c.Runtime.ComposeBin = "docker compose"
	}
	if c.Exec.Timeout.Duration == 0 {
		c.Exec.Timeout.Duration = 10 * time.Minute
	}
	if c.Exec.Concurrency == 0 {
		c.Exec.Concurrency = 8
	}

	wp := &c.WordPress
	if wp.Image == "" {
		wp.Image = "wordpress:6-php8.2-apache"
	}
	if wp.DBImage == "" {
		wp.DBImage = "mariadb:11"
	}
	if wp.WebRoot == "" {
		wp.WebRoot = "/var/www/html"
	}
	if wp.BackupDir == "" {
		wp.BackupDir = "/var/backups/wharf"
	}
	if wp.CLIURL == "" {
		wp.CLIURL = "https://raw.githubusercontent.com/wp-cli/builds/gh-pages/phar/wp-cli.phar"
	}
	if wp.StabilizeDelay.Duration == 0 {
		wp.StabilizeDelay.Duration = 20 * time.Second
	}
	if wp.DiscoveryDelay.Duration == 0 {
		wp.DiscoveryDelay.Duration = 2 * time.Second
	}
	if wp.DiscoveryTries == 0 {
		wp.DiscoveryTries = 15
	}
	if wp.BaselinePlugins == nil {
		wp.BaselinePlugins = []string{"akismet"}
	}
	if wp.AdminEmail == "" {
		wp.AdminEmail = "admin@example.com"
	}

	if c.Archive.Region == "" {
		c.Archive.Region = "us-east-1"
	}
	if c.Archive.URLExpiry.Duration == 0 {
		c.Archive.URLExpiry.Duration = 24 * time.Hour
	}

	r := &c.Retention
	if r.LimitedCap == 0 {
		r.LimitedCap = 5
	}
	if r.LimitedKeep.Duration == 0 {
		r.LimitedKeep.Duration = 14 * 24 * time.Hour
	}
	if r.HourlyKeep.Duration == 0 {
		r.HourlyKeep.Duration = 24 * time.Hour
	}
	if r.SixHourlyKeep.Duration == 0 {
		r.SixHourlyKeep.Duration = 24 * time.Hour
	}
	if r.DailyKeep.Duration == 0 {
		r.DailyKeep.Duration = 7 * 24 * time.Hour
	}

	if c.Schedule.DailyEvery.Duration == 0 {
		c.Schedule.DailyEvery.Duration = 24 * time.Hour
	}
	if c.Schedule.PollEvery.Duration == 0 {
		c.Schedule.PollEvery.Duration = time.Minute
	}
	if c.Schedule.MaxAttempts == 0 {
		c.Schedule.MaxAttempts = 5
	}

	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
}

// Validate rejects configurations the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Ports.Min <= 0 || c.Ports.Max > 65535 || c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("invalid port range %d-%d", c.Ports.Min, c.Ports.Max)
	}
	switch c.Runtime.Executor {
	case "docker", "kubernetes":
	default:
		return fmt.Errorf("unknown runtime executor %q: must be 'docker' or 'kubernetes'", c.Runtime.Executor)
	}
	if c.Runtime.Executor == "kubernetes" && c.Runtime.Namespace == "" {
		return fmt.Errorf("runtime.namespace is required for the kubernetes executor")
	}
	if c.Exec.Concurrency < 0 {
		return fmt.Errorf("exec.concurrency must not be negative")
	}
	if c.Retention.LimitedCap < 0 {
		return fmt.Errorf("retention.limitedCap must not be negative")
	}
	if !strings.HasPrefix(c.WordPress.WebRoot, "/") || !strings.HasPrefix(c.WordPress.BackupDir, "/") {
		return fmt.Errorf("wordpress.webRoot and wordpress.backupDir must be absolute paths")
	}
	if strings.HasPrefix(c.WordPress.BackupDir+"/", c.WordPress.WebRoot+"/") {
		// the archive would end up containing itself
		return fmt.Errorf("wordpress.backupDir %q must not be inside webRoot %q", c.WordPress.BackupDir, c.WordPress.WebRoot)
	}
	return nil
}

// ArchiveEnabled reports whether an archive store bucket is configured
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Bucket != ""
}

// expandEnv expands environment variable references in the format ${VAR} or $VAR
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if match[1] == '{' {
			varName = match[2 : len(match)-1] // ${VAR}
		} else {
			varName = match[1:] // $VAR
		}
		return os.Getenv(varName)
	})
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)
