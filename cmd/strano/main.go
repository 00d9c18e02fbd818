package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var (
	deployConfigDir string
	configFileName  string
	verbose         bool
	dryRun          bool
	sshKeyPath      string
)

var rootCmd = &cobra.Command{
	Use:   "strano",
	Short: "Capistrano-style deployment automation",
	Long: `Strano provisions servers and deploys releases to them over SSH.

Deployments use timestamped release directories with atomic symlink
switching, shared resources that persist across releases, and pruning
of old releases.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&deployConfigDir, "deploy-config-dir",
		getEnvOrDefault("STRANO_DEPLOY_CONFIG_DIR", "./deploy"),
		"Path to the deploy configuration directory")
	rootCmd.PersistentFlags().StringVar(&configFileName, "config-file-name",
		getEnvOrDefault("STRANO_CONFIG_FILE_NAME", "deployment.yml"),
		"Name of the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Log remote commands without executing them")
	rootCmd.PersistentFlags().StringVar(&sshKeyPath, "ssh-key",
		os.Getenv("STRANO_SSH_KEY"), "Private key used in addition to the SSH agent")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger; --verbose lowers the level to debug.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
