package static

import (
	"context"
	"regexp"
	"strings"

	"github.com/bryanwahyu/cloudsense/internal/domain/analyzer"
	"github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

// Analyzer runs in-process heuristic checks over the changed files: secret
// detectors plus a few configuration smells. No external tool required.
type Analyzer struct{}

func New() *Analyzer { return &Analyzer{} }

func (*Analyzer) Name() string { return reviews.ToolStatic }

type detector struct {
	re        *regexp.Regexp
	severity  reviews.Severity
	title     string
	rationale string
}

var detectors = []detector{
	{regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), reviews.SeverityHigh,
		"Private key material committed",
		"Remove private keys from the repository, store them in a secrets manager, and rotate affected keys."},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), reviews.SeverityHigh,
		"AWS access key exposed",
		"Revoke the access key and switch to IAM roles or a secrets manager."},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{20,}`), reviews.SeverityHigh,
		"GitHub token exposed",
		"Revoke the token and inject it through CI/CD secrets instead."},
	{regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`), reviews.SeverityHigh,
		"GitHub PAT exposed",
		"Revoke the PAT and rotate; use repository or org secrets at runtime."},
	{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), reviews.SeverityHigh,
		"Google API key exposed",
		"Restrict the key by referrer/service, rotate it, and move it out of source."},
	{regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`), reviews.SeverityHigh,
		"Slack token exposed",
		"Revoke the token in Slack admin and scope the replacement minimally."},
	{regexp.MustCompile(`sk_(?:live|test)_[0-9A-Za-z]{10,}`), reviews.SeverityHigh,
		"Stripe secret key exposed",
		"Rotate the key in the Stripe dashboard; keep it server-side only."},
	{regexp.MustCompile(`(?i)authorization\s*[:=]\s*["']?bearer\s+[A-Za-z0-9\-\._~\+\/]+=*`), reviews.SeverityMedium,
		"Bearer token exposed",
		"Remove bearer tokens from code; rotate credentials and load them from config."},
	{regexp.MustCompile(`(?i)(api[_-]?key|client[_-]?secret|password)\s*[:=]\s*["'][^\s"']{12,}["']`), reviews.SeverityMedium,
		"Hardcoded credential literal",
		"Do not hardcode secrets; use environment variables or a secrets manager."},
	{regexp.MustCompile(`://[^\s/:@]+:[^\s/@]+@`), reviews.SeverityMedium,
		"Credentials embedded in URL",
		"Strip credentials from URLs; pass them via configuration or a secret store."},
	{regexp.MustCompile(`(?i)\bTODO\b.*\b(security|auth|validate|sanitize)\b`), reviews.SeverityLow,
		"Deferred security work",
		"A TODO defers security-relevant work; track it or resolve before merging."},
}

// Analyze scans line by line so findings carry accurate line ranges. One
// finding per (detector, file): the first hit wins.
func (a *Analyzer) Analyze(ctx context.Context, in analyzer.Input) ([]reviews.Finding, error) {
	var out []reviews.Finding
	for _, f := range in.Files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		content := f.Content
		if content == "" {
			content = f.Patch
		}
		if content == "" {
			continue
		}
		out = append(out, scanFile(f.Path, content)...)
	}
	return out, nil
}

func scanFile(path, content string) []reviews.Finding {
	var out []reviews.Finding
	hit := make(map[string]bool, len(detectors))
	for i, line := range strings.Split(content, "\n") {
		for _, d := range detectors {
			if hit[d.title] {
				continue
			}
			if d.re.MatchString(line) {
				hit[d.title] = true
				out = append(out, reviews.Finding{
					File:      path,
					Severity:  d.severity,
					Title:     d.title,
					Rationale: d.rationale,
					StartLine: i + 1,
					EndLine:   i + 1,
					Tool:      reviews.ToolStatic,
				})
			}
		}
	}

	if strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".json") {
		lower := strings.ToLower(content)
		if strings.Contains(lower, "use_ssl: false") || strings.Contains(lower, "usessl: false") {
			out = append(out, reviews.Finding{
				File:      path,
				Severity:  reviews.SeverityMedium,
				Title:     "TLS disabled in config",
				Rationale: "Configuration suggests TLS is turned off; enable it in all environments.",
				StartLine: 1,
				EndLine:   1,
				Tool:      reviews.ToolStatic,
			})
		}
	}
	return out
}
