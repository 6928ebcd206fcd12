package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ardrive-sync/internal/app"
	"ardrive-sync/internal/config"
	"ardrive-sync/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a SyncApp. The caller must defer
// a.Close().
func newApp(ctx context.Context) (*app.SyncApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewSyncApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "ardrive-sync",
	Short: "Bidirectional folder sync for permanent storage drives",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		profile, _ := cmd.Flags().GetString("profile")
		cfg := config.NewConfig(profile, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Profile:  %s\n", profile)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Profile:  %s\n", cfg.Profile)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Gateway:  %s\n", cfg.Gateway.Type)
		fmt.Printf("Database: %s\n", cfg.Database.Type)
		return nil
	},
}

// drive command
var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Manage drive mappings",
}

var driveAddCmd = &cobra.Command{
	Use:   "add REMOTE_DRIVE_ID LOCAL_PATH",
	Short: "Map a remote drive to a local folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		privacy, _ := cmd.Flags().GetString("privacy")
		direction, _ := cmd.Flags().GetString("direction")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		localPath, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if name == "" {
			name = filepath.Base(localPath)
		}

		m, err := a.AddDrive(args[0], name, localPath,
			model.Privacy(privacy), model.SyncDirection(direction))
		if err != nil {
			return fmt.Errorf("adding drive: %w", err)
		}

		fmt.Printf("Mapped drive %s (%s) to %s\n", m.DriveName, m.ID, m.LocalFolderPath)
		return nil
	},
}

var driveRemoveCmd = &cobra.Command{
	Use:   "remove MAPPING_ID",
	Short: "Remove a drive mapping and its sync state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveDrive(args[0]); err != nil {
			return fmt.Errorf("removing drive: %w", err)
		}
		fmt.Printf("Removed drive mapping %s\n", args[0])
		return nil
	},
}

var driveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drive mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mappings, err := a.ListDrives()
		if err != nil {
			return err
		}

		if len(mappings) == 0 {
			fmt.Println("No drive mappings.")
			return nil
		}

		for _, m := range mappings {
			state := "active"
			if !m.IsActive {
				state = "paused"
			}
			lastSync := "never"
			if m.LastSyncTime != nil {
				lastSync = m.LastSyncTime.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-20s  %-7s  %-13s  last sync: %s\n  %s\n",
				m.ID, m.DriveName, state, m.Settings.Direction, lastSync, m.LocalFolderPath)
		}
		return nil
	},
}

var drivePauseCmd = &cobra.Command{
	Use:   "pause MAPPING_ID",
	Short: "Pause syncing for a drive without losing history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDriveActive(cmd.Context(), args[0], false)
	},
}

var driveResumeCmd = &cobra.Command{
	Use:   "resume MAPPING_ID",
	Short: "Resume syncing for a paused drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDriveActive(cmd.Context(), args[0], true)
	},
}

func setDriveActive(ctx context.Context, id string, active bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.SetDriveActive(id, active); err != nil {
		return err
	}
	if active {
		fmt.Printf("Resumed drive mapping %s\n", id)
	} else {
		fmt.Printf("Paused drive mapping %s\n", id)
	}
	return nil
}

var driveOpsCmd = &cobra.Command{
	Use:   "ops MAPPING_ID",
	Short: "View detected folder operations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.FolderOperations(args[0], limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No folder operations recorded.")
			return nil
		}

		for _, op := range ops {
			fmt.Printf("%s  %-15s  %s", op.DetectedAt.Format("2006-01-02 15:04:05"), op.Operation, op.OldPath)
			if op.NewPath != "" {
				fmt.Printf(" -> %s", op.NewPath)
			}
			fmt.Println()
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Sync engine running. Press Ctrl+C to stop.")
		return a.Run(ctx)
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View sync status per drive",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.Status()
		if err != nil {
			return err
		}

		if len(statuses) == 0 {
			fmt.Println("No drive mappings.")
			return nil
		}

		for _, ds := range statuses {
			fmt.Printf("%s (%s)\n", ds.Mapping.DriveName, ds.Mapping.ID)
			fmt.Printf("  synced: %d  queued: %d  downloading: %d  cloud-only: %d  pending: %d  error: %d\n",
				ds.Counts[model.StatusSynced], ds.Counts[model.StatusQueued],
				ds.Counts[model.StatusDownloading], ds.Counts[model.StatusCloudOnly],
				ds.Counts[model.StatusPending], ds.Counts[model.StatusError])
		}
		return nil
	},
}

// queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the upload queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued uploads",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		items := a.QueueItems()
		if len(items) == 0 {
			fmt.Println("Upload queue is empty.")
			return nil
		}

		for _, item := range items {
			fmt.Printf("%s  %-10s  attempts:%d  %s\n", item.ID, item.Status, item.Attempts, item.LocalPath)
			if item.Error != "" {
				fmt.Printf("  error: %s\n", item.Error)
			}
		}
		return nil
	},
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel UPLOAD_ID",
	Short: "Cancel a pending upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CancelUpload(args[0]); err != nil {
			return err
		}
		fmt.Printf("Cancelled upload %s\n", args[0])
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry UPLOAD_ID",
	Short: "Retry a failed upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RetryUpload(args[0]); err != nil {
			return err
		}
		fmt.Printf("Requeued upload %s\n", args[0])
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear completed uploads from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.ClearCompleted()
		fmt.Printf("Cleared %d completed upload(s)\n", n)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history MAPPING_ID",
	Short: "View upload history for a drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		uploads, err := a.UploadHistory(args[0], limit)
		if err != nil {
			return err
		}

		if len(uploads) == 0 {
			fmt.Println("No uploads recorded.")
			return nil
		}

		for _, u := range uploads {
			completed := ""
			if u.CompletedAt != nil {
				completed = u.CompletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s  %-10s  %s  %s\n", u.ID, u.Status, u.FileName, completed)
			if u.Error != "" {
				fmt.Printf("  error: %s\n", u.Error)
			}
		}
		return nil
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download FILE_ID",
	Short: "Download remote content for a cached file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Download(cmd.Context(), args[0], priority); err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		fmt.Printf("Downloaded file %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("profile", "default", "Profile name for this configuration")
	configCmd.AddCommand(configListCmd)

	// drive subcommands
	driveCmd.AddCommand(driveAddCmd)
	driveAddCmd.Flags().String("name", "", "Display name for the drive (defaults to folder name)")
	driveAddCmd.Flags().String("privacy", "public", "Drive privacy: public or private")
	driveAddCmd.Flags().String("direction", "bidirectional", "Sync direction: upload, download or bidirectional")
	driveCmd.AddCommand(driveRemoveCmd)
	driveCmd.AddCommand(driveListCmd)
	driveCmd.AddCommand(drivePauseCmd)
	driveCmd.AddCommand(driveResumeCmd)
	driveCmd.AddCommand(driveOpsCmd)
	driveOpsCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	// queue subcommands
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCancelCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueClearCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(driveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of uploads to show")
	rootCmd.AddCommand(downloadCmd)
}
