package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/bryanwahyu/cloudsense/internal/domain/analyzer"
)

const (
	// maxFiles caps how many changed files one review inspects.
	maxFiles = 20
	// maxFileBytes caps the content size we pull per file.
	maxFileBytes = 200_000
)

// Fetcher resolves changed files for a commit range via the GitHub compare
// and contents APIs.
type Fetcher struct {
	defaultToken string
}

func NewFetcher(defaultToken string) *Fetcher {
	return &Fetcher{defaultToken: defaultToken}
}

func (f *Fetcher) client(ctx context.Context, token string) *gh.Client {
	if token == "" {
		token = f.defaultToken
	}
	if token == "" {
		// Public repositories work unauthenticated, just rate-limited harder.
		return gh.NewClient(nil)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return gh.NewClient(oauth2.NewClient(ctx, src))
}

func (f *Fetcher) ChangedFiles(ctx context.Context, repoFullName, base, head, token string) ([]analyzer.ChangedFile, error) {
	owner, name, err := splitFullName(repoFullName)
	if err != nil {
		return nil, err
	}
	cli := f.client(ctx, token)

	cmp, _, err := cli.Repositories.CompareCommits(ctx, owner, name, base, head, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("comparing %s...%s: %w", base, head, err)
	}

	files := cmp.Files
	if len(files) > maxFiles {
		files = files[:maxFiles]
	}

	out := make([]analyzer.ChangedFile, 0, len(files))
	for _, cf := range files {
		path := cf.GetFilename()
		if path == "" {
			continue
		}
		changed := analyzer.ChangedFile{
			Path:   path,
			Status: cf.GetStatus(),
			Patch:  cf.GetPatch(),
		}
		if cf.GetStatus() != "removed" {
			changed.Content = f.contentAt(ctx, cli, owner, name, path, head)
		}
		out = append(out, changed)
	}
	return out, nil
}

// contentAt fetches the file body at the head SHA; failures degrade to the
// patch-only view instead of failing the review.
func (f *Fetcher) contentAt(ctx context.Context, cli *gh.Client, owner, name, path, ref string) string {
	fc, _, _, err := cli.Repositories.GetContents(ctx, owner, name, path,
		&gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil || fc == nil {
		return ""
	}
	content, err := fc.GetContent()
	if err != nil || len(content) > maxFileBytes {
		return ""
	}
	return content
}

func splitFullName(fullName string) (owner, name string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository full name: %q", fullName)
	}
	return parts[0], parts[1], nil
}
