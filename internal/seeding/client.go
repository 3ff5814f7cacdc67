// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package seeding

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/domain"
)

var (
	// qBittorrent 5 renamed the add option "paused" to "stopped".
	stoppedOptionMinVersion = semver.MustParse("2.11.0")
	tagsOnAddMinVersion     = semver.MustParse("2.6.2")
)

// Client is a logged-in qBittorrent Web API client with capability flags.
type Client struct {
	*qbt.Client
	host string

	mu                sync.RWMutex
	webAPIVersion     string
	supportsStopped   bool
	supportsTagsOnAdd bool
}

func NewClient(ctx context.Context, cfg domain.QbittorrentConfig, timeout time.Duration) (*Client, error) {
	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.SkipVerify,
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to connect to qBittorrent")
	}

	client := &Client{Client: qbtClient, host: cfg.Host}
	if err := client.RefreshCapabilities(ctx); err != nil {
		log.Warn().Err(err).Str("host", cfg.Host).Msg("Failed to read qBittorrent capabilities, assuming an older Web API")
	}

	log.Debug().
		Str("host", cfg.Host).
		Str("webAPIVersion", client.WebAPIVersion()).
		Bool("supportsStopped", client.SupportsStopped()).
		Bool("tlsSkipVerify", cfg.SkipVerify).
		Msg("qBittorrent client created successfully")

	return client, nil
}

// RefreshCapabilities fetches the Web API version and recalculates feature flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.Client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return errors.New("web API version is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyCapabilitiesLocked(version)
	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("host", c.host).
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsStopped = !v.LessThan(stoppedOptionMinVersion)
	c.supportsTagsOnAdd = !v.LessThan(tagsOnAddMinVersion)
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsStopped
}

func (c *Client) SupportsTagsOnAdd() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsTagsOnAdd
}
