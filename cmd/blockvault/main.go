package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/blockvault/internal/app"
	"github.com/vonshlovens/blockvault/internal/config"
	"github.com/vonshlovens/blockvault/internal/sync"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "blockvault",
		Short:   "Local-first block workspace with PostgreSQL replication",
		Long:    `A local-first workspace of pages made of blocks, with version history, structured databases and share links. Content is replicated to a PostgreSQL content store when one is configured.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		initCmd(),
		statusCmd(),
		migrateCmd(),
		syncCmd(),
		daemonCmd(),
		queueCmd(),
		pageCmd(),
		historyCmd(),
		exportCmd(),
		importCmd(),
		shareCmd(),
		dbCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp loads the configuration and opens the workspace
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a, err := app.Open(ctx, cfg, app.Options{Logger: slog.Default()})
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	return a, nil
}

// withApp runs fn against an opened workspace and closes it afterwards
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

func initCmd() *cobra.Command {
	var dataDir string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  `Creates a configuration file in the config directory, or at --config when given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = filepath.Join(config.ConfigDir(), "config.yaml")
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
			}

			if dataDir == "" {
				dataDir = config.DefaultConfig().DataDir
			}
			if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(configPath, []byte(config.RenderTemplate(dataDir)), 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("Config file written to: %s\n", configPath)
			fmt.Println("\nTo replicate to PostgreSQL, set remote.enabled and the connection settings,")
			fmt.Println("export BLOCKVAULT_DB_PASSWORD, then run: blockvault migrate")
			fmt.Println("To start the background process, run: blockvault daemon")
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "local data directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace, queue and remote store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				r, err := a.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get status: %w", err)
				}

				fmt.Println("=== Blockvault Status ===")
				fmt.Printf("Data Dir: %s\n", a.Config.DataDir)
				fmt.Printf("Pages: %d (%d in trash)\n", r.Pages, r.Trashed)
				fmt.Printf("Stored Notes: %d (%d unsynced)\n", r.Notes, r.Unsynced)
				fmt.Println()

				switch {
				case !r.RemoteEnabled:
					fmt.Println("Remote Store: Disabled")
				case r.Online:
					fmt.Println("Remote Store: Connected")
				default:
					fmt.Println("Remote Store: Offline")
				}
				if r.RemoteEnabled {
					fmt.Printf("  Host: %s\n", a.Config.Remote.Host)
					fmt.Printf("  Database: %s\n", a.Config.Remote.Database)
					fmt.Printf("  Schema: %s\n", a.Config.Remote.Schema)
				}
				if r.Remote != nil {
					fmt.Printf("  Blobs: %d (%d bytes)\n", r.Remote.Blobs, r.Remote.Bytes)
					if r.Remote.LastWrite != nil {
						fmt.Printf("  Last Write: %s\n", r.Remote.LastWrite.Format(time.RFC3339))
					}
				}
				fmt.Println()

				fmt.Printf("Sync Queue: %d operations (%d failed)\n", r.Queued, r.Failed)
				if r.LastProcessed != nil {
					fmt.Printf("  Last Processed: %s\n", r.LastProcessed.Format(time.RFC3339))
				}
				for _, n := range r.Notifications {
					fmt.Printf("  ! %s\n", n.Message)
				}
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	var showStatus bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run remote store migrations",
		Long:  `Applies the embedded migrations to the configured PostgreSQL schema.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if a.Remote == nil {
					return sync.ErrRemoteDisabled
				}
				if showStatus {
					return a.Remote.MigrationStatus(ctx)
				}
				if err := a.Migrate(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Println("Migrations completed successfully.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showStatus, "status", false, "print migration status instead of migrating")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue and push unsynced notes, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				if !a.Hybrid.RemoteEnabled() {
					return sync.ErrRemoteDisabled
				}
				if !a.Sync.Probe(ctx) {
					return sync.ErrOffline
				}

				processed, err := a.Queue.Process(ctx, a.Sync)
				if err != nil {
					return fmt.Errorf("queue processing failed: %w", err)
				}

				var bar *progressbar.ProgressBar
				res, err := a.Hybrid.SyncUnsyncedNotes(ctx, func(done, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetDescription("Syncing notes"),
							progressbar.OptionShowCount(),
							progressbar.OptionSetWidth(40),
							progressbar.OptionClearOnFinish(),
						)
					}
					bar.Set(done)
				})
				if bar != nil {
					bar.Finish()
				}
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}

				fmt.Printf("Queue: %d succeeded, %d retrying, %d failed\n", processed.Succeeded, processed.Retrying, processed.Failed)
				fmt.Printf("Notes: %d synced, %d failed\n", res.Synced, res.Failed)
				for id, err := range res.Errors {
					fmt.Printf("  %s: %v\n", id, err)
				}
				return nil
			})
		},
	}
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run sync, snapshots, trash cleanup and the import watcher",
		Long:  `Starts the background process: drains the sync queue whenever the remote store is reachable, records periodic version snapshots, empties expired trash and imports markdown from the configured directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				fmt.Println("Daemon running. Press Ctrl+C to stop.")
				return a.Run(ctx)
			})
		},
	}
}
