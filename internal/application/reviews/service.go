package reviews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryanwahyu/cloudsense/internal/application"
	"github.com/bryanwahyu/cloudsense/internal/domain/analyzer"
	"github.com/bryanwahyu/cloudsense/internal/domain/events"
	"github.com/bryanwahyu/cloudsense/internal/domain/repos"
	domain "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

// Service implements review execution (worker side) and the tenant-scoped
// review reads (gateway side).
type Service struct {
	Reviews   domain.Store
	Events    events.Store
	Repos     repos.Store
	Fetcher   analyzer.ContentFetcher
	Analyzers []analyzer.Analyzer
	Artifacts domain.ArtifactStore // optional; nil skips report upload
	Clock     application.Clock
	Log       *slog.Logger
}

// Execute runs one review job to completion. It is idempotent per review id:
// a redelivered terminal review acks as a no-op, and a lost claim race acks
// without touching the row. Returning nil acknowledges the job.
func (s *Service) Execute(ctx context.Context, id domain.ReviewID) error {
	rv, err := s.Reviews.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.Log.Warn("job references unknown review", "review_id", id)
			return nil
		}
		return err
	}
	if rv.Status.Terminal() {
		return nil
	}

	now := s.Clock.Now()
	if err := s.Reviews.Claim(ctx, id, now); err != nil {
		if errors.Is(err, domain.ErrNotClaimed) {
			// Another worker owns it, or a reclaim already failed it.
			return nil
		}
		return err
	}
	s.Log.Info("review claimed", "review_id", id, "event_id", rv.EventID)

	ev, err := s.Events.GetAny(ctx, rv.EventID)
	if err != nil {
		return s.finalizeFailed(ctx, id, fmt.Sprintf("loading event: %v", err))
	}

	findings, analyzerErrs, fatal := s.analyze(ctx, ev)
	if fatal != "" {
		return s.finalizeFailed(ctx, id, fatal)
	}

	findings = domain.Dedupe(findings)
	if err := s.Reviews.InsertFindings(ctx, id, findings); err != nil {
		// Leave the row running; the stale sweep reaps it if retries keep
		// failing.
		return fmt.Errorf("persisting findings: %w", err)
	}

	summary := domain.Summarize(findings, analyzerErrs)
	artifactURL := s.uploadReport(ctx, ev, id, findings, summary)

	if err := s.Reviews.Finalize(ctx, id, domain.StatusDone, s.Clock.Now(), summary, artifactURL); err != nil {
		return fmt.Errorf("finalizing review: %w", err)
	}
	s.Log.Info("review done", "review_id", id, "findings", summary.Total, "analyzer_errors", len(analyzerErrs))
	return nil
}

// analyze fetches the changed content and fans the analyzer set out over it.
// Analyzer failures are isolated; fatal is non-empty only when nothing could
// run at all (content fetch failure, every analyzer erroring).
func (s *Service) analyze(ctx context.Context, ev *events.Event) (findings []domain.Finding, analyzerErrs []string, fatal string) {
	var p struct {
		Before string `json:"before"`
	}
	_ = json.Unmarshal(ev.Payload, &p)

	// Refs missing on this delivery kind: persist an empty successful review
	// for continuity rather than failing it.
	if ev.RepoName == "" || ev.HeadSHA == "" || p.Before == "" {
		return nil, nil, ""
	}

	token := s.githubToken(ctx, ev)
	files, err := s.Fetcher.ChangedFiles(ctx, ev.RepoName, p.Before, ev.HeadSHA, token)
	if err != nil {
		return nil, nil, fmt.Sprintf("content fetch: %v", err)
	}

	in := analyzer.Input{
		RepoFullName: ev.RepoName,
		HeadSHA:      ev.HeadSHA,
		Files:        files,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, a := range s.Analyzers {
		wg.Add(1)
		go func(a analyzer.Analyzer) {
			defer wg.Done()
			fs, err := a.Analyze(ctx, in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Partial findings from a failing analyzer are still kept; the
				// error lands in the summary next to them.
				analyzerErrs = append(analyzerErrs, fmt.Sprintf("%s: %v", a.Name(), err))
			}
			for i := range fs {
				if fs[i].Tool == "" {
					fs[i].Tool = a.Name()
				}
			}
			findings = append(findings, fs...)
		}(a)
	}
	wg.Wait()

	if len(s.Analyzers) > 0 && len(analyzerErrs) == len(s.Analyzers) && len(findings) == 0 {
		return nil, nil, fmt.Sprintf("all analyzers failed: %v", analyzerErrs)
	}
	return findings, analyzerErrs, ""
}

// githubToken returns the per-repository token when one was registered.
func (s *Service) githubToken(ctx context.Context, ev *events.Event) string {
	if ev.RepoID == "" {
		return ""
	}
	r, err := s.Repos.GetByID(ctx, ev.TenantID, ev.RepoID)
	if err != nil {
		return ""
	}
	return r.GitHubToken
}

// uploadReport stores the review report as an artifact, best-effort.
func (s *Service) uploadReport(ctx context.Context, ev *events.Event, id domain.ReviewID, findings []domain.Finding, summary domain.Summary) string {
	if s.Artifacts == nil {
		return ""
	}
	report, err := json.Marshal(map[string]any{
		"review_id": id,
		"event_id":  ev.ID,
		"repo":      ev.RepoName,
		"head_sha":  ev.HeadSHA,
		"summary":   summary,
		"findings":  findings,
	})
	if err != nil {
		return ""
	}
	key := fmt.Sprintf("%s/reviews/%d/report.json", ev.TenantID, id)
	url, err := s.Artifacts.UploadReport(ctx, key, report)
	if err != nil {
		s.Log.Warn("report upload failed", "review_id", id, "err", err)
		return ""
	}
	return url
}

func (s *Service) finalizeFailed(ctx context.Context, id domain.ReviewID, cause string) error {
	summary := domain.Summary{Errors: []string{cause}}
	if err := s.Reviews.Finalize(ctx, id, domain.StatusFailed, s.Clock.Now(), summary, ""); err != nil {
		return fmt.Errorf("finalizing failed review: %w", err)
	}
	s.Log.Error("review failed", "review_id", id, "cause", cause)
	return nil
}

// ReclaimStale fails reviews stuck in running past the deadline so a crashed
// worker cannot wedge them forever. Called from the worker's sweep ticker.
func (s *Service) ReclaimStale(ctx context.Context, cutoff time.Time) error {
	ids, err := s.Reviews.FailStale(ctx, cutoff, s.Clock.Now())
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.Log.Warn("stale running review reclaimed", "review_id", id)
	}
	return nil
}

// Detail is the gateway view of one review.
type Detail struct {
	Review         *domain.Review              `json:"review"`
	Event          *events.Event               `json:"event"`
	Findings       []domain.Finding            `json:"findings"`
	FindingsByFile map[string][]domain.Finding `json:"findings_by_file"`
}

// Get returns the review with its event and findings grouped by file. Reviews
// whose event belongs to another tenant are indistinguishable from unknown
// ids.
func (s *Service) Get(ctx context.Context, tenant string, id domain.ReviewID) (*Detail, error) {
	rv, ev, err := s.authorize(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	findings, err := s.Reviews.FindingsByReview(ctx, id)
	if err != nil {
		return nil, err
	}

	byFile := make(map[string][]domain.Finding)
	for _, f := range findings {
		file := f.File
		if file == "" {
			file = "repository"
		}
		byFile[file] = append(byFile[file], f)
	}
	return &Detail{Review: rv, Event: ev, Findings: findings, FindingsByFile: byFile}, nil
}

// ListFindings returns the findings of a review the tenant owns.
func (s *Service) ListFindings(ctx context.Context, tenant string, id domain.ReviewID) ([]domain.Finding, error) {
	if _, _, err := s.authorize(ctx, tenant, id); err != nil {
		return nil, err
	}
	return s.Reviews.FindingsByReview(ctx, id)
}

// authorize loads the review and proves ownership through its event. Any
// failure surfaces as ErrNotFound to avoid existence leakage.
func (s *Service) authorize(ctx context.Context, tenant string, id domain.ReviewID) (*domain.Review, *events.Event, error) {
	rv, err := s.Reviews.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ev, err := s.Events.Get(ctx, tenant, rv.EventID)
	if err != nil {
		if errors.Is(err, events.ErrNotFound) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, err
	}
	return rv, ev, nil
}
