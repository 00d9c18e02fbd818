package main

import (
	"os"

	"github.com/google/go-github/v57/github"
	"github.com/spf13/cobra"

	"strano/internal/ops"
	"strano/internal/workflow"
)

var setupCmd = &cobra.Command{
	Use:   "setup <environment> <app>",
	Short: "Provision every configured server",
	Long: `Setup provisions each server for deployments: project user, directory
skeleton, system packages, virtual environment, known hosts, and the
optional service unit and secrets.

When STRANO_GITHUB_TOKEN is set and the source repository lives on
GitHub, setup also registers each server's SSH key as a read-only
deploy key on the repository.`,
	Args: cobra.ExactArgs(2),
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	environment, app := args[0], args[1]
	logger := newLogger()

	servers, err := loadServers(logger, environment, app)
	if err != nil {
		return err
	}

	var gh *github.Client
	if token := os.Getenv("STRANO_GITHUB_TOKEN"); token != "" && !dryRun {
		gh = ops.NewGitHubClient(cmd.Context(), token)
	}

	return workflow.Setup(cmd.Context(), logger, servers, newDialer(logger), gh)
}
