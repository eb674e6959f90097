package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telemind/core/internal/application/services"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/database"
	"github.com/telemind/core/internal/infrastructure/logger"
)

// Set at build time with -ldflags
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "development"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Telemind HTTP server",
		Long:  "Start the webhook receiver, the scan trigger API and the health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// NewScanCommand runs one scanner pass, for cron-style scheduling
func NewScanCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Deliver due reminders once",
		Long:  "Run the due-task scanner once for every owner, or only for --owner, and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), owner)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only scan this owner's tasks")
	return cmd
}

// NewMigrateCommand creates the migrate command with subcommands
func NewMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long:  "Manage Postgres schema migrations (up, down, version)",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Run all up migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration("up")
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Run all down migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration("down")
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showMigrationVersion()
		},
	})

	return migrateCmd
}

// NewTokenCommand issues trigger API tokens without going through the HTTP login
func NewTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Trigger API token commands",
	}

	var subject string
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the scan trigger API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			auth := services.NewAuthService(cfg.JWT, cfg.Auth, logger.NewNop())
			token, err := auth.IssueToken(subject)
			if err != nil {
				return err
			}
			return printJSON(cmd, token)
		},
	}
	issueCmd.Flags().StringVar(&subject, "subject", "scheduler", "Token subject")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

// NewHashPasswordCommand prints a bcrypt hash for ADMIN_PASSWORD_HASH
func NewHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash the admin password for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := services.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print Telemind version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Telemind %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Date: %s\n", BuildDate)
			fmt.Fprintf(cmd.OutOrStdout(), "Git Commit: %s\n", GitCommit)
		},
	}
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, appLogger, nil
}

func runServer(ctx context.Context) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Close()

	a, err := buildApp(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer a.backend.Close()

	srv := a.server(cfg, appLogger)

	errCh := make(chan error, 1)
	go func() {
		appLogger.Infow("Starting Telemind server",
			"port", cfg.Server.Port,
			"environment", cfg.App.Environment,
			"driver", cfg.Database.Driver,
			"dedup", cfg.Dedup.Backend,
			"llm", cfg.LLM.Provider,
		)
		errCh <- srv.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	appLogger.Info("Server exited gracefully")
	return nil
}

func runScan(ctx context.Context, owner string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Close()

	a, err := buildApp(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer a.backend.Close()

	var report *services.ScanReport
	if owner != "" {
		report, err = a.scanner.ScanOwner(ctx, owner)
	} else {
		report, err = a.scanner.ScanAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func openDatabase() (*config.Config, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return nil, nil, fmt.Errorf("migrations only apply to the postgres driver, got %q", cfg.Database.Driver)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, db, nil
}

func runMigration(direction string) error {
	cfg, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	changed, err := db.Migrate(cfg.Database.MigrationsPath, direction)
	if err != nil {
		return err
	}

	if !changed {
		fmt.Println("No migrations to run")
	} else {
		fmt.Printf("Migration %s completed successfully\n", direction)
	}
	return nil
}

func showMigrationVersion() error {
	cfg, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := db.MigrationVersion(cfg.Database.MigrationsPath)
	if err != nil {
		return err
	}

	fmt.Printf("Current migration version: %d\n", version)
	fmt.Printf("Dirty: %t\n", dirty)
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
