package analyzer

import (
	"context"

	"github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

// ChangedFile is one file touched by the commit range under review.
type ChangedFile struct {
	Path    string
	Status  string
	Patch   string
	Content string
}

// Input is everything an analyzer gets to work with for one review.
type Input struct {
	RepoFullName string
	HeadSHA      string
	Files        []ChangedFile
}

// Analyzer port: consumes code content, produces findings. One analyzer's
// failure must not abort the others.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, in Input) ([]reviews.Finding, error)
}

// ContentFetcher port: resolves the changed files for a commit range and
// their contents at the head SHA.
type ContentFetcher interface {
	ChangedFiles(ctx context.Context, repoFullName, base, head, token string) ([]ChangedFile, error)
}
