package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"situation-room/internal/bootstrap"
)

var rootCmd = &cobra.Command{
	Use:   "situation-room",
	Short: "Situation room compatibility service",
	Long: `Situation room lets a small group answer the same scenario independently
and produces a compatibility report once everyone has submitted.

Running without a subcommand is the same as 'serve'.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, websocket feed and analysis workers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}

	app.Start()

	// 设置优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.Log.Info("Shutdown signal received...")

	app.Shutdown()
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if err := bootstrap.Migrate(cfg); err != nil {
		return err
	}
	logrus.WithField("driver", cfg.DBDriver).Info("Database migrated")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("situation-room: %v", err)
		os.Exit(1)
	}
}
