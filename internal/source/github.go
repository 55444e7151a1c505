package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// NewGitHubClient creates a GitHub client with optional authentication and rate limiting.
// If GITHUB_TOKEN environment variable is set, the client will be authenticated.
func NewGitHubClient() (*github.Client, error) {
	// Handles primary and secondary rate limits with automatic waiting.
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(rateLimiter)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		client = client.WithAuthToken(token)
	}
	return client, nil
}

// GitHubSource reads notes stored as .md and .txt files in a repository directory.
type GitHubSource struct {
	client   *github.Client
	owner    string
	repo     string
	basePath string
}

// NewGitHubSource creates a source for owner/repo under basePath.
func NewGitHubSource(client *github.Client, owner, repo, basePath string) *GitHubSource {
	return &GitHubSource{
		client:   client,
		owner:    owner,
		repo:     repo,
		basePath: basePath,
	}
}

func isNoteFile(name string) bool {
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".txt")
}

// List recursively lists note files relative to the base path.
func (g *GitHubSource) List(ctx context.Context) ([]string, error) {
	return g.listRecursive(ctx, g.basePath, "")
}

func (g *GitHubSource) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	_, dirContents, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, fullPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	var files []string
	for _, item := range dirContents {
		itemRelPath := path.Join(relativePath, item.GetName())

		switch item.GetType() {
		case "file":
			if isNoteFile(item.GetName()) {
				files = append(files, itemRelPath)
			}
		case "dir":
			sub, err := g.listRecursive(ctx, path.Join(fullPath, item.GetName()), itemRelPath)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// Fetch downloads one file and converts it to a document named by its relative path.
func (g *GitHubSource) Fetch(ctx context.Context, relativePath string) (Document, error) {
	fullPath := path.Join(g.basePath, relativePath)

	fileContent, _, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, fullPath, nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return Document{}, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	if strings.HasSuffix(relativePath, ".md") {
		return FromMarkdown(relativePath, []byte(content))
	}
	return FromText(relativePath, content), nil
}
