// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package seeding adds freshly uploaded torrents to qBittorrent so the content
// starts seeding right away.
package seeding

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/models"
)

type Seeder struct {
	cfg     domain.QbittorrentConfig
	timeout time.Duration

	attempts uint
	delay    time.Duration

	mu     sync.Mutex
	client *Client
}

func New(cfg domain.QbittorrentConfig) *Seeder {
	return &Seeder{
		cfg:      cfg,
		timeout:  30 * time.Second,
		attempts: 3,
		delay:    2 * time.Second,
	}
}

// connect logs in once and reuses the client for later uploads.
func (s *Seeder) connect(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	client, err := NewClient(ctx, s.cfg, s.timeout)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

// AfterUpload adds the tracker torrent of u, pointed at the existing content.
func (s *Seeder) AfterUpload(ctx context.Context, u models.Upload) error {
	data, err := os.ReadFile(u.TorrentPath)
	if err != nil {
		return errors.Wrap(err, "read torrent")
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}

	options := s.addOptions(client, u)

	err = retry.Do(
		func() error {
			return client.AddTorrentFromMemoryCtx(ctx, data, options)
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("tracker", u.Tracker).Msg("Retrying qBittorrent add")
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "add %s torrent to qBittorrent", u.Tracker)
	}

	log.Info().Str("tracker", u.Tracker).Str("name", u.Name).Msg("Torrent added to qBittorrent")
	return nil
}

func (s *Seeder) addOptions(client *Client, u models.Upload) map[string]string {
	savePath := s.cfg.SavePath
	if savePath == "" {
		savePath = filepath.Dir(u.ContentPath)
	}

	options := map[string]string{
		"savepath":      savePath,
		"autoTMM":       "false",
		"skip_checking": "true",
	}
	if client.SupportsStopped() {
		options["stopped"] = "false"
	} else {
		options["paused"] = "false"
	}
	if s.cfg.Category != "" {
		options["category"] = s.cfg.Category
	}

	if client.SupportsTagsOnAdd() {
		var tags []string
		if s.cfg.Tag != "" {
			tags = append(tags, s.cfg.Tag)
		}
		tags = append(tags, u.Tracker)
		options["tags"] = strings.Join(tags, ",")
	}
	return options
}
