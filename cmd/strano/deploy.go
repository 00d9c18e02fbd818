package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"strano/internal/config"
	"strano/internal/history"
	"strano/internal/remote"
	"strano/internal/workflow"
	"strano/pkg/fileutil"
)

var historyDB string

var deployCmd = &cobra.Command{
	Use:   "deploy <environment> <app>",
	Short: "Deploy a new release to every configured server",
	Long: `Deploy clones a fresh release on each server, links shared resources,
installs dependencies, atomically promotes the release and restarts the
service. Servers are deployed sequentially; one server's failure is
cleaned up and does not stop the rollout to the remaining servers.`,
	Args: cobra.ExactArgs(2),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&historyDB, "history-db",
		getEnvOrDefault("STRANO_HISTORY_DB", "./deployments.db"),
		"Path to the SQLite deployment journal")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	environment, app := args[0], args[1]
	logger := newLogger()

	servers, err := loadServers(logger, environment, app)
	if err != nil {
		return err
	}

	var journal workflow.Recorder
	if !dryRun && historyDB != "" {
		j, err := history.Open(historyDB)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
	}

	return workflow.Deploy(cmd.Context(), logger, servers, newDialer(logger), journal)
}

// loadServers resolves and loads the deployment file for one
// environment of one app.
func loadServers(logger *slog.Logger, environment, app string) ([]*config.Server, error) {
	path := fileutil.DeploymentConfigPath(deployConfigDir, app, environment, configFileName)
	if _, err := fileutil.SearchPaths([]string{path}); err != nil {
		return nil, fmt.Errorf("no deployment config for app %q environment %q: expected %s", app, environment, path)
	}

	logger.Info("loading deployment config", "path", path)
	servers, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("deployment config loaded", "servers", len(servers))
	return servers, nil
}

// newDialer picks the transport implementation: real SSH, or the
// logging no-op under --dry-run.
func newDialer(logger *slog.Logger) remote.Dialer {
	if dryRun {
		return &remote.DryRunDialer{Logger: logger}
	}
	return &remote.SSHDialer{Logger: logger, KeyPath: sshKeyPath}
}
