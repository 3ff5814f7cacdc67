// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"slices"
	"strings"
	"time"
)

type Config struct {
	Version           string
	LogLevel          string   `toml:"logLevel" mapstructure:"logLevel"`
	LogPath           string   `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize        int      `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups     int      `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir           string   `toml:"dataDir" mapstructure:"dataDir"`
	SessionSecret     string   `toml:"sessionSecret" mapstructure:"sessionSecret"`
	DefaultTrackers   []string `toml:"defaultTrackers" mapstructure:"defaultTrackers"`
	TrackerPassChecks int      `toml:"trackerPassChecks" mapstructure:"trackerPassChecks"`
	Screens           int      `toml:"screens" mapstructure:"screens"`
	CutoffScreens     int      `toml:"cutoffScreens" mapstructure:"cutoffScreens"`
	Unattended        bool     `toml:"unattended" mapstructure:"unattended"`
	Workers           int      `toml:"workers" mapstructure:"workers"`

	SearchTimeoutSeconds int `toml:"searchTimeoutSeconds" mapstructure:"searchTimeoutSeconds"`
	SubmitTimeoutSeconds int `toml:"submitTimeoutSeconds" mapstructure:"submitTimeoutSeconds"`
	ReconcileAttempts    int `toml:"reconcileAttempts" mapstructure:"reconcileAttempts"`

	MetricsTextfile   string `toml:"metricsTextfile" mapstructure:"metricsTextfile"`
	PostUploadCommand string `toml:"postUploadCommand" mapstructure:"postUploadCommand"`

	Qbittorrent QbittorrentConfig        `toml:"qbittorrent" mapstructure:"qbittorrent"`
	Trackers    map[string]TrackerConfig `toml:"trackers" mapstructure:"trackers"`
}

// TrackerConfig holds credentials and per-site knobs for one tracker id.
type TrackerConfig struct {
	AnnounceURL    string   `toml:"announceURL" mapstructure:"announceURL"`
	Username       string   `toml:"username" mapstructure:"username"`
	Password       string   `toml:"password" mapstructure:"password"`
	APIUser        string   `toml:"apiUser" mapstructure:"apiUser"`
	APIKey         string   `toml:"apiKey" mapstructure:"apiKey"`
	BaseURL        string   `toml:"baseURL" mapstructure:"baseURL"`
	Anon           bool     `toml:"anon" mapstructure:"anon"`
	MaxPieceLength int64    `toml:"maxPieceLength" mapstructure:"maxPieceLength"`
	SkipIf         []string `toml:"skipIf" mapstructure:"skipIf"`
}

type QbittorrentConfig struct {
	Host       string `toml:"host" mapstructure:"host"`
	Username   string `toml:"username" mapstructure:"username"`
	Password   string `toml:"password" mapstructure:"password"`
	Category   string `toml:"category" mapstructure:"category"`
	Tag        string `toml:"tag" mapstructure:"tag"`
	SavePath   string `toml:"savePath" mapstructure:"savePath"`
	SkipVerify bool   `toml:"skipVerify" mapstructure:"skipVerify"`
}

func (q QbittorrentConfig) Enabled() bool {
	return strings.TrimSpace(q.Host) != ""
}

// Tracker returns the configuration for a tracker id, matched case-insensitively.
func (c *Config) Tracker(id string) (TrackerConfig, bool) {
	if c == nil {
		return TrackerConfig{}, false
	}
	if tc, ok := c.Trackers[id]; ok {
		return tc, true
	}
	for key, tc := range c.Trackers {
		if strings.EqualFold(key, id) {
			return tc, true
		}
	}
	return TrackerConfig{}, false
}

func (c *Config) SearchTimeout() time.Duration {
	if c == nil || c.SearchTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}

func (c *Config) SubmitTimeout() time.Duration {
	if c == nil || c.SubmitTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

// Clone returns a deep copy so callers can hold an immutable snapshot.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.DefaultTrackers = slices.Clone(c.DefaultTrackers)
	if c.Trackers != nil {
		out.Trackers = make(map[string]TrackerConfig, len(c.Trackers))
		for id, tc := range c.Trackers {
			tc.SkipIf = slices.Clone(tc.SkipIf)
			out.Trackers[strings.ToUpper(id)] = tc
		}
	}
	return &out
}
