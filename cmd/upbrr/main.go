// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/upbrr/internal/buildinfo"
	"github.com/autobrr/upbrr/internal/config"
	"github.com/autobrr/upbrr/internal/database"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/metacache"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/queue"
	"github.com/autobrr/upbrr/internal/session"
)

var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	buildinfo.New(version, commit, date)
	config.InitDefaultLogger(buildinfo.Version)

	var configDir string

	var rootCmd = &cobra.Command{
		Use:   "upbrr",
		Short: "Upload media releases to private trackers",
		Long: `upbrr - prepares a release, checks every selected tracker for duplicates,
logs in and submits, resuming safely where an interrupted run left off.`,
		SilenceUsage: true,
	}

	rootCmd.Version = buildinfo.Version
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	rootCmd.PersistentFlags().StringVar(&dataDirOverride, "data-dir", "",
		"directory for item state and history (overrides dataDir)")

	rootCmd.AddCommand(RunUploadCommand(&configDir))
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand(&configDir))
	rootCmd.AddCommand(RunHistoryCommand(&configDir))
	rootCmd.AddCommand(RunCleanCommand(&configDir))
	rootCmd.AddCommand(RunSessionsCommand(&configDir))
	rootCmd.AddCommand(RunQueueCommand(&configDir))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, &domain.ConfigError{}) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies log settings.
var dataDirOverride string

func loadConfig(configDir string) (*config.AppConfig, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, err
	}
	if dataDirOverride != "" {
		cfg.SetDataDir(dataDirOverride)
	}
	cfg.ApplyLogConfig()
	return cfg, nil
}

// workDir holds item state directories and queue logs.
func workDir(cfg *config.AppConfig) string {
	return filepath.Join(cfg.GetDataDir(), "tmp")
}

func cookieDir(cfg *config.AppConfig) string {
	return filepath.Join(cfg.GetDataDir(), "cookies")
}

func RunVersionCommand() *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of upbrr",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(buildinfo.Version)
			if buildinfo.Commit != "" {
				cmd.Printf("commit: %s\n", buildinfo.Commit)
			}
			if buildinfo.Date != "" {
				cmd.Printf("built: %s\n", buildinfo.Date)
			}
		},
	}

	return command
}

func RunGenerateConfigCommand(configDir *string) *cobra.Command {
	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a commented default configuration file with a random session secret.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/upbrr/config.toml
- Windows: %APPDATA%\upbrr\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := *configDir
			if dir == "" {
				dir = config.GetDefaultConfigDir()
			}

			path, err := config.WriteDefaultConfig(dir)
			if err != nil {
				return errors.Wrap(err, "failed to create configuration file")
			}

			cmd.Printf("Configuration file at: %s\n", path)
			return nil
		},
	}

	return command
}

func RunHistoryCommand(configDir *string) *cobra.Command {
	var limit int

	command := &cobra.Command{
		Use:   "history",
		Short: "List recent submission outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}

			ctx := context.Background()
			db, err := database.Open(ctx, cfg.GetDatabasePath())
			if err != nil {
				return errors.Wrap(err, "failed to open history database")
			}
			defer db.Close()

			entries, err := models.NewHistoryStore(db).List(ctx, limit)
			if err != nil {
				return errors.Wrap(err, "failed to list history")
			}

			tw := table.NewWriter()
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"When", "Name", "Tracker", "Outcome", "Status", "Detail"})
			for _, e := range entries {
				status := ""
				if e.StatusCode != 0 {
					status = strconv.Itoa(e.StatusCode)
				}
				detail := e.URL
				if detail == "" {
					detail = e.Reason
				}
				outcome := string(e.Kind)
				if e.Debug {
					outcome += " (debug)"
				}
				tw.AppendRow(table.Row{e.At.Local().Format("2006-01-02 15:04"), e.Name, e.Tracker, outcome, status, detail})
			}
			cmd.Println(tw.Render())
			return nil
		},
	}

	command.Flags().IntVar(&limit, "limit", 50, "number of entries to show")

	return command
}

func RunCleanCommand(configDir *string) *cobra.Command {
	command := &cobra.Command{
		Use:   "clean <path>...",
		Short: "Delete the persisted state of items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}

			cache := metacache.New(workDir(cfg))
			for _, p := range args {
				id := models.ItemID(p)
				if err := cache.Delete(id); err != nil {
					return errors.Wrapf(err, "failed to clean %s", p)
				}
				cmd.Printf("Cleaned %s (%s)\n", p, id)
			}
			return nil
		},
	}

	return command
}

func RunSessionsCommand(configDir *string) *cobra.Command {
	command := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persisted tracker sessions",
	}

	command.AddCommand(&cobra.Command{
		Use:   "invalidate <tracker>...",
		Short: "Mark tracker sessions stale so the next run logs in again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}

			store, err := session.NewStore(cookieDir(cfg), cfg.Snapshot().SessionSecret)
			if err != nil {
				return errors.Wrap(err, "failed to open session store")
			}
			for _, id := range args {
				id = strings.ToUpper(id)
				if err := store.Invalidate(id); err != nil {
					return errors.Wrapf(err, "failed to invalidate %s", id)
				}
				cmd.Printf("Session for %s marked stale\n", id)
			}
			return nil
		},
	})

	return command
}

func RunQueueCommand(configDir *string) *cobra.Command {
	command := &cobra.Command{
		Use:   "queue",
		Short: "Manage named queues",
	}

	command.AddCommand(&cobra.Command{
		Use:   "reset <name>",
		Short: "Forget which items of a queue were processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configDir)
			if err != nil {
				return err
			}
			if err := queue.Reset(workDir(cfg), args[0]); err != nil {
				return errors.Wrapf(err, "failed to reset queue %s", args[0])
			}
			cmd.Printf("Queue %s reset\n", args[0])
			return nil
		},
	})

	return command
}
