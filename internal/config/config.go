// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/upbrr/internal/domain"
)

var envPrefix = "UPBRR__"

const sessionSecretSize = 32

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string
}

// New loads config.toml from configDirOrPath. A missing file is a ConfigError;
// run `upbrr generate-config` to create one.
func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, &domain.ConfigError{Msg: "failed to unmarshal config", Err: err}
	}
	c.Config.Version = c.version

	if err := c.validate(); err != nil {
		return nil, err
	}

	c.resolveDataDir()

	return c, nil
}

func (c *AppConfig) defaults() {
	sessionSecret, err := generateSecureToken(sessionSecretSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate secure session secret, using fallback")
		sessionSecret = "change-me-" + fmt.Sprintf("%d", os.Getpid())
	}

	c.viper.SetDefault("sessionSecret", sessionSecret)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("defaultTrackers", []string{})
	c.viper.SetDefault("trackerPassChecks", 1)
	c.viper.SetDefault("screens", 6)
	c.viper.SetDefault("cutoffScreens", 1)
	c.viper.SetDefault("unattended", false)
	c.viper.SetDefault("workers", 1)
	c.viper.SetDefault("searchTimeoutSeconds", 10)
	c.viper.SetDefault("submitTimeoutSeconds", 120)
	c.viper.SetDefault("reconcileAttempts", 3)
	c.viper.SetDefault("metricsTextfile", "")
	c.viper.SetDefault("postUploadCommand", "")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath == "" {
		configDirOrPath = GetDefaultConfigDir()
	}

	configPath := c.resolveConfigPath(configDirOrPath)
	c.viper.SetConfigFile(configPath)

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return &domain.ConfigError{
				Key: configPath,
				Msg: "config file not found, run `upbrr generate-config` first",
				Err: err,
			}
		}
		return &domain.ConfigError{Key: configPath, Msg: "failed to read config", Err: err}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// Bind explicitly instead of AutomaticEnv so unrelated variables are never picked up
	c.bindOrReadFromFile("sessionSecret", envPrefix+"SESSION_SECRET")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("trackerPassChecks", envPrefix+"TRACKER_PASS_CHECKS")
	c.viper.BindEnv("cutoffScreens", envPrefix+"CUTOFF_SCREENS")
	c.viper.BindEnv("unattended", envPrefix+"UNATTENDED")
	c.viper.BindEnv("workers", envPrefix+"WORKERS")
	c.viper.BindEnv("searchTimeoutSeconds", envPrefix+"SEARCH_TIMEOUT_SECONDS")
	c.viper.BindEnv("submitTimeoutSeconds", envPrefix+"SUBMIT_TIMEOUT_SECONDS")
	c.viper.BindEnv("metricsTextfile", envPrefix+"METRICS_TEXTFILE")
	c.viper.BindEnv("postUploadCommand", envPrefix+"POST_UPLOAD_COMMAND")

	c.viper.BindEnv("qbittorrent.host", envPrefix+"QBITTORRENT_HOST")
	c.viper.BindEnv("qbittorrent.username", envPrefix+"QBITTORRENT_USERNAME")
	c.bindOrReadFromFile("qbittorrent.password", envPrefix+"QBITTORRENT_PASSWORD")
}

func (c *AppConfig) validate() error {
	if c.Config.TrackerPassChecks < 0 {
		return &domain.ConfigError{Key: "trackerPassChecks", Msg: "must not be negative"}
	}
	if c.Config.Workers < 1 {
		c.Config.Workers = 1
	}
	if c.Config.CutoffScreens < 0 {
		return &domain.ConfigError{Key: "cutoffScreens", Msg: "must not be negative"}
	}
	return nil
}

// Snapshot returns an immutable copy of the loaded configuration for constructors.
func (c *AppConfig) Snapshot() *domain.Config {
	snap := c.Config.Clone()
	snap.DataDir = c.dataDir
	return snap
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - generated by upbrr generate-config

# Session secret
# Used to encrypt persisted tracker cookies.
# WARNING: changing this value invalidates every saved tracker session.
sessionSecret = "{{ .sessionSecret }}"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Log file path
# If not defined, logs to stderr
#logPath = "log/upbrr.log"

# Log rotation
# Default: {{ .logMaxSize }} MiB, {{ .logMaxBackups }} backups
#logMaxSize = {{ .logMaxSize }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Item state (tmp/<uuid>/meta.json), queue logs, cookies and history.db live here.
#dataDir = "/var/lib/upbrr"

# Trackers used when --trackers is not given
defaultTrackers = []

# Minimum number of trackers that must pass duplicate and login checks
# before anything is uploaded.
# Default: {{ .trackerPassChecks }}
#trackerPassChecks = {{ .trackerPassChecks }}

# Screenshots
#screens = {{ .screens }}
#cutoffScreens = {{ .cutoffScreens }}

# Never prompt. Prompts that need an answer fail the tracker instead.
#unattended = false

# Items processed concurrently. Trackers are always serialized per tracker.
#workers = 1

# Network timeouts in seconds
#searchTimeoutSeconds = {{ .searchTimeoutSeconds }}
#submitTimeoutSeconds = {{ .submitTimeoutSeconds }}

# Searches run after a submission timed out to check whether the tracker accepted it
#reconcileAttempts = {{ .reconcileAttempts }}

# Prometheus textfile collector output
#metricsTextfile = "/var/lib/node_exporter/upbrr.prom"

# Command run after each successful upload.
# Placeholders: {name} {path} {tracker} {url}
#postUploadCommand = "/usr/local/bin/notify --title {name} {url}"

#[qbittorrent]
#host = "http://localhost:8080"
#username = "admin"
#password = ""
#category = "upbrr"
#tag = "upbrr"
#savePath = ""

#[trackers.PTP]
#announceURL = "https://please.passthepopcorn.me/<passkey>/announce"
#username = ""
#password = ""
#apiUser = ""
#apiKey = ""
#skipIf = []

#[trackers.NBL]
#announceURL = "https://tracker.nebulance.io/<passkey>/announce"
#apiKey = ""
`

	data := map[string]any{
		"sessionSecret":        c.viper.GetString("sessionSecret"),
		"logLevel":             c.viper.GetString("logLevel"),
		"logMaxSize":           c.viper.GetInt("logMaxSize"),
		"logMaxBackups":        c.viper.GetInt("logMaxBackups"),
		"trackerPassChecks":    c.viper.GetInt("trackerPassChecks"),
		"screens":              c.viper.GetInt("screens"),
		"cutoffScreens":        c.viper.GetInt("cutoffScreens"),
		"searchTimeoutSeconds": c.viper.GetInt("searchTimeoutSeconds"),
		"submitTimeoutSeconds": c.viper.GetInt("submitTimeoutSeconds"),
		"reconcileAttempts":    c.viper.GetInt("reconcileAttempts"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "upbrr")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "upbrr")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "upbrr")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "upbrr")
	}
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := baseLogWriter(c.version)

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

// SetLogLevel overrides the configured level, used by --debug.
func (c *AppConfig) SetLogLevel(level string) {
	c.Config.LogLevel = level
	setLogLevel(level)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the submission history database
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "history.db")
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// WriteDefaultConfig renders the commented default config to path unless it already exists.
func WriteDefaultConfig(configDirOrPath string) (string, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	path := c.resolveConfigPath(configDirOrPath)
	return path, c.writeDefaultConfig(path)
}

// Sets viper variable if environment variable with _FILE suffix is present
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVar + "_FILE")
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
