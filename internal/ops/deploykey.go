package ops

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/kballard/go-shellquote"
	"golang.org/x/oauth2"

	"strano/internal/config"
	"strano/internal/remote"
)

var githubRepoPattern = regexp.MustCompile(
	`^(?:git@github\.com:|https://github\.com/|ssh://git@github\.com/)([\w.-]+)/([\w.-]+?)(?:\.git)?$`)

// NewGitHubClient returns an authenticated GitHub API client.
func NewGitHubClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// ParseGitHubRepo extracts owner and repository from a GitHub clone URL
// in SSH or HTTPS form. ok is false for anything else.
func ParseGitHubRepo(url string) (owner, repo string, ok bool) {
	m := githubRepoPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// RegisterDeployKey makes sure the project user has an ed25519 key pair
// on the remote host and that its public half is registered as a
// read-only deploy key on the source repository. Both halves are
// idempotent: the key pair is only generated when missing, and an
// already-registered key is left alone. Non-GitHub sources are a no-op.
func RegisterDeployKey(ctx context.Context, t remote.Transport, cfg *config.Server, client *github.Client) error {
	owner, repo, ok := ParseGitHubRepo(cfg.SourceCodeURL)
	if !ok {
		return nil
	}

	keyPath := fmt.Sprintf("/home/%s/.ssh/id_ed25519", cfg.ProjectUser)
	pubPath := keyPath + ".pub"

	probe, err := t.Run(ctx, "test -f "+shellquote.Join(pubPath), &remote.RunOpts{Warn: true, Hide: true})
	if err != nil {
		return err
	}
	if probe.Failed {
		comment := cfg.ProjectUser + "@" + cfg.Host
		gen := shellquote.Join("ssh-keygen", "-t", "ed25519", "-N", "", "-f", keyPath, "-C", comment)
		if _, err := t.Run(ctx, gen, nil); err != nil {
			return err
		}
		ownership := cfg.ProjectUser + ":" + cfg.ProjectUser
		if _, err := t.Run(ctx, shellquote.Join("chown", ownership, keyPath, pubPath), nil); err != nil {
			return err
		}
	}

	res, err := t.Run(ctx, "cat "+shellquote.Join(pubPath), &remote.RunOpts{Hide: true})
	if err != nil {
		return err
	}
	pub := strings.TrimSpace(res.Stdout)

	keys, _, err := client.Repositories.ListKeys(ctx, owner, repo, nil)
	if err != nil {
		return fmt.Errorf("list deploy keys for %s/%s: %w", owner, repo, err)
	}
	for _, k := range keys {
		// The API strips the key comment, so compare on the key material.
		if k.GetKey() != "" && strings.HasPrefix(pub, k.GetKey()) {
			return nil
		}
	}

	title := fmt.Sprintf("strano deploy key (%s)", cfg.Host)
	readOnly := true
	_, _, err = client.Repositories.CreateKey(ctx, owner, repo, &github.Key{
		Title:    &title,
		Key:      &pub,
		ReadOnly: &readOnly,
	})
	if err != nil {
		return fmt.Errorf("create deploy key for %s/%s: %w", owner, repo, err)
	}
	return nil
}
