package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"github.com/rescale/csvup/internal/constants"
)

// Config is the complete csvup configuration.
//
// INI format:
//
//	[endpoints]
//	exists_url = http://localhost:3000/file-exists
//	upload_url = http://localhost:3000/uploads/
//	access_key = <key>
//
//	[uploader]
//	max_file_size = 1073741824
//	parse_chunk_size = 10485760
//	upload_chunk_size = 8388608
//	completion_grace = 300ms
//	show_parsing_progress = true
//	show_upload_progress = true
//	show_reset = true
//	show_toast_notifications = true
//
//	[grid]
//	page_size = 1000
//
//	[notifications]
//	enabled = true
//	desktop = false
//	sound = false
//
//	[network]
//	proxy_mode = no-proxy
//	proxy_host =
//	proxy_port = 8080
//	proxy_user =
//	no_proxy =
//	proxy_warmup = false
//
//	[state]
//	resume_dir = ~/.cache/csvup/resume
//
//	[logging]
//	level = info
//	file =
type Config struct {
	// Endpoints
	ExistsURL string
	UploadURL string
	AccessKey string

	// Uploader behaviour
	MaxFileSize            int64
	ParseChunkSize         int64
	UploadChunkSize        int64
	CompletionGrace        time.Duration
	ShowParsingProgress    bool
	ShowUploadProgress     bool
	ShowReset              bool
	ShowToastNotifications bool

	// Grid
	PageSize int

	// Notifications
	NotificationsEnabled bool
	DesktopNotifications bool
	NotificationSound    bool

	// Proxy settings
	ProxyMode     string // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // never persisted
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// State
	ResumeDir string

	// Logging
	LogLevel string
	LogFile  string
}

// Environment variables recognised by ApplyEnv.
const (
	EnvAccessKey     = "CSVUP_ACCESS_KEY"
	EnvUploadURL     = "CSVUP_UPLOAD_URL"
	EnvExistsURL     = "CSVUP_EXISTS_URL"
	EnvLogLevel      = "CSVUP_LOG_LEVEL"
	EnvProxyPassword = "CSVUP_PROXY_PASSWORD"
)

// Validation errors
var (
	ErrMissingExistsURL     = errors.New("exists_url is required")
	ErrMissingUploadURL     = errors.New("upload_url is required")
	ErrInvalidURL           = errors.New("endpoint URL must be absolute http(s)")
	ErrInvalidMaxFileSize   = errors.New("max_file_size must be positive")
	ErrInvalidParseChunk    = errors.New("parse_chunk_size is below the minimum")
	ErrInvalidUploadChunk   = errors.New("upload_chunk_size is below the minimum")
	ErrInvalidPageSize      = errors.New("page_size must be positive")
	ErrInvalidGrace         = errors.New("completion_grace must not be negative")
	ErrUnsupportedProxyMode = errors.New("unsupported proxy_mode")
	ErrMissingProxyHost     = errors.New("proxy_host is required for basic and ntlm proxy modes")
)

// NewConfig returns a config with default values.
func NewConfig() *Config {
	return &Config{
		ExistsURL:              "http://localhost:3000/file-exists",
		UploadURL:              "http://localhost:3000/uploads/",
		MaxFileSize:            constants.DefaultMaxFileSize,
		ParseChunkSize:         constants.DefaultParseChunkSize,
		UploadChunkSize:        constants.DefaultUploadChunkSize,
		CompletionGrace:        constants.ParseCompletionGrace,
		ShowParsingProgress:    true,
		ShowUploadProgress:     true,
		ShowReset:              true,
		ShowToastNotifications: true,
		PageSize:               constants.DefaultPageSize,
		NotificationsEnabled:   true,
		ProxyMode:              "no-proxy",
		ProxyPort:              8080,
		ResumeDir:              DefaultResumeDirectory(),
		LogLevel:               "info",
	}
}

// Load reads the INI file at path on top of the defaults. A missing file
// yields the defaults without error; an empty path means DefaultConfigPath.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	endpoints := iniFile.Section("endpoints")
	cfg.ExistsURL = endpoints.Key("exists_url").MustString(cfg.ExistsURL)
	cfg.UploadURL = endpoints.Key("upload_url").MustString(cfg.UploadURL)
	cfg.AccessKey = endpoints.Key("access_key").String()

	uploader := iniFile.Section("uploader")
	cfg.MaxFileSize = uploader.Key("max_file_size").MustInt64(cfg.MaxFileSize)
	cfg.ParseChunkSize = uploader.Key("parse_chunk_size").MustInt64(cfg.ParseChunkSize)
	cfg.UploadChunkSize = uploader.Key("upload_chunk_size").MustInt64(cfg.UploadChunkSize)
	cfg.CompletionGrace = uploader.Key("completion_grace").MustDuration(cfg.CompletionGrace)
	cfg.ShowParsingProgress = uploader.Key("show_parsing_progress").MustBool(cfg.ShowParsingProgress)
	cfg.ShowUploadProgress = uploader.Key("show_upload_progress").MustBool(cfg.ShowUploadProgress)
	cfg.ShowReset = uploader.Key("show_reset").MustBool(cfg.ShowReset)
	cfg.ShowToastNotifications = uploader.Key("show_toast_notifications").MustBool(cfg.ShowToastNotifications)

	cfg.PageSize = iniFile.Section("grid").Key("page_size").MustInt(cfg.PageSize)

	notifications := iniFile.Section("notifications")
	cfg.NotificationsEnabled = notifications.Key("enabled").MustBool(cfg.NotificationsEnabled)
	cfg.DesktopNotifications = notifications.Key("desktop").MustBool(cfg.DesktopNotifications)
	cfg.NotificationSound = notifications.Key("sound").MustBool(cfg.NotificationSound)

	network := iniFile.Section("network")
	cfg.ProxyMode = network.Key("proxy_mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = network.Key("proxy_host").String()
	cfg.ProxyPort = network.Key("proxy_port").MustInt(cfg.ProxyPort)
	cfg.ProxyUser = network.Key("proxy_user").String()
	cfg.NoProxy = network.Key("no_proxy").String()
	cfg.ProxyWarmup = network.Key("proxy_warmup").MustBool(false)

	cfg.ResumeDir = expandHome(iniFile.Section("state").Key("resume_dir").MustString(cfg.ResumeDir))

	logging := iniFile.Section("logging")
	cfg.LogLevel = logging.Key("level").MustString(cfg.LogLevel)
	cfg.LogFile = expandHome(logging.Key("file").String())

	return cfg, nil
}

// Save writes cfg to path atomically with owner-only permissions.
// The proxy password is never written.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := EnsureDirectory(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	sections := []struct {
		name string
		keys [][2]string
	}{
		{"endpoints", [][2]string{
			{"exists_url", cfg.ExistsURL},
			{"upload_url", cfg.UploadURL},
			{"access_key", cfg.AccessKey},
		}},
		{"uploader", [][2]string{
			{"max_file_size", strconv.FormatInt(cfg.MaxFileSize, 10)},
			{"parse_chunk_size", strconv.FormatInt(cfg.ParseChunkSize, 10)},
			{"upload_chunk_size", strconv.FormatInt(cfg.UploadChunkSize, 10)},
			{"completion_grace", cfg.CompletionGrace.String()},
			{"show_parsing_progress", strconv.FormatBool(cfg.ShowParsingProgress)},
			{"show_upload_progress", strconv.FormatBool(cfg.ShowUploadProgress)},
			{"show_reset", strconv.FormatBool(cfg.ShowReset)},
			{"show_toast_notifications", strconv.FormatBool(cfg.ShowToastNotifications)},
		}},
		{"grid", [][2]string{
			{"page_size", strconv.Itoa(cfg.PageSize)},
		}},
		{"notifications", [][2]string{
			{"enabled", strconv.FormatBool(cfg.NotificationsEnabled)},
			{"desktop", strconv.FormatBool(cfg.DesktopNotifications)},
			{"sound", strconv.FormatBool(cfg.NotificationSound)},
		}},
		{"network", [][2]string{
			{"proxy_mode", cfg.ProxyMode},
			{"proxy_host", cfg.ProxyHost},
			{"proxy_port", strconv.Itoa(cfg.ProxyPort)},
			{"proxy_user", cfg.ProxyUser},
			{"no_proxy", cfg.NoProxy},
			{"proxy_warmup", strconv.FormatBool(cfg.ProxyWarmup)},
		}},
		{"state", [][2]string{
			{"resume_dir", cfg.ResumeDir},
		}},
		{"logging", [][2]string{
			{"level", cfg.LogLevel},
			{"file", cfg.LogFile},
		}},
	}

	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.keys {
			section.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Access key is sensitive
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides endpoint, credential and log settings from CSVUP_*
// environment variables.
func (cfg *Config) ApplyEnv() {
	if v := os.Getenv(EnvAccessKey); v != "" {
		cfg.AccessKey = v
	}
	if v := os.Getenv(EnvUploadURL); v != "" {
		cfg.UploadURL = v
	}
	if v := os.Getenv(EnvExistsURL); v != "" {
		cfg.ExistsURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvProxyPassword); v != "" {
		cfg.ProxyPassword = v
	}
}

// Validate checks that the configuration can drive an upload.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.ExistsURL) == "" {
		return ErrMissingExistsURL
	}
	if strings.TrimSpace(cfg.UploadURL) == "" {
		return ErrMissingUploadURL
	}
	for _, raw := range []string{cfg.ExistsURL, cfg.UploadURL} {
		if err := validateURL(raw); err != nil {
			return err
		}
	}
	if cfg.MaxFileSize <= 0 {
		return ErrInvalidMaxFileSize
	}
	if cfg.ParseChunkSize < constants.MinParseChunkSize {
		return ErrInvalidParseChunk
	}
	if cfg.UploadChunkSize < constants.MinUploadChunkSize {
		return ErrInvalidUploadChunk
	}
	if cfg.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	if cfg.CompletionGrace < 0 {
		return ErrInvalidGrace
	}

	switch strings.ToLower(cfg.ProxyMode) {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if strings.TrimSpace(cfg.ProxyHost) == "" {
			return ErrMissingProxyHost
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedProxyMode, cfg.ProxyMode)
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
