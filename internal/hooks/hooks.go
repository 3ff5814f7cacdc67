// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hooks runs the operator's post-upload command.
package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	shellquote "github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/models"
)

// Runner executes a command template once per confirmed upload. The template is
// split like a shell would before placeholders are substituted, so values with
// spaces stay single arguments. Placeholders: {name} {path} {tracker} {url} {torrent}.
type Runner struct {
	args    []string
	timeout time.Duration
}

func New(command string) (*Runner, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse post-upload command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("post-upload command is empty")
	}
	return &Runner{args: args, timeout: 5 * time.Minute}, nil
}

func (r *Runner) expand(u models.Upload) []string {
	replacer := strings.NewReplacer(
		"{name}", u.Name,
		"{path}", u.ContentPath,
		"{tracker}", u.Tracker,
		"{url}", u.URL,
		"{torrent}", u.TorrentPath,
	)
	out := make([]string, len(r.args))
	for i, a := range r.args {
		out[i] = replacer.Replace(a)
	}
	return out
}

func (r *Runner) AfterUpload(ctx context.Context, u models.Upload) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := r.expand(u)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("post-upload command %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}

	log.Debug().Str("tracker", u.Tracker).Str("command", args[0]).Str("output", strings.TrimSpace(string(out))).Msg("Post-upload command finished")
	return nil
}
