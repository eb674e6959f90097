package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/telemind/core/cmd/api/commands"
)

// @title Telemind API
// @version 1.0
// @description Task and reminder engine behind the Telemind chat assistant

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	rootCmd := &cobra.Command{
		Use:           "telemind",
		Short:         "Telemind task and reminder engine",
		Long:          `Telemind turns chat messages into tasks, notes and reminders and delivers reminders when they fall due.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add commands
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewTokenCommand())
	rootCmd.AddCommand(commands.NewHashPasswordCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	// Execute root command
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("Command execution failed: %v", err)
		os.Exit(1)
	}
}
