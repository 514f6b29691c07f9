package engine

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// DefaultConflictWindow is the sliding window for conflict detection when the
// caller does not supply one.
const DefaultConflictWindow = 30 * time.Minute

// sharedBasenames are dependency/config filenames reduced to basename-only
// during normalization, so that the same manifest edited in two different
// project roots still correlates.
var sharedBasenames = map[string]struct{}{
	"package.json":      {},
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"go.mod":            {},
	"go.sum":            {},
	"cargo.toml":        {},
	"cargo.lock":        {},
	"requirements.txt":  {},
	"pyproject.toml":    {},
	"poetry.lock":       {},
	"gemfile":           {},
	"gemfile.lock":      {},
	"composer.json":     {},
	"composer.lock":     {},
	"tsconfig.json":     {},
	".env":              {},
}

// NormalizePath canonicalizes a file path for cross-project comparison.
// Shared manifest/lockfile names collapse to their basename; everything else
// is cleaned with the trailing slash stripped.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.TrimSuffix(path.Clean(p), "/")
	base := path.Base(p)
	if _, ok := sharedBasenames[strings.ToLower(base)]; ok {
		return base
	}
	return p
}

// ConflictID builds the deterministic conflict identifier:
// filePath + ":" + sorted unique project names joined with ",".
// Stability across recomputation is what lets a stored dismissal keep
// suppressing the same conflict.
func ConflictID(filePath string, projects []string) string {
	uniq := make([]string, 0, len(projects))
	seen := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	sort.Strings(uniq)
	return filePath + ":" + strings.Join(uniq, ",")
}

// trackFileAccess records the file touch implied by a tool event, if any.
func (e *Engine) trackFileAccess(ev *models.Event, payload models.EventPayload) error {
	mode := ""
	switch {
	case models.IsWriteTool(payload.ToolName):
		mode = "write"
	case models.IsReadTool(payload.ToolName):
		mode = "read"
	default:
		return nil
	}
	// PreToolUse and PostToolUse both fire for one tool call; recording the
	// post event only avoids double-counting and skips tools that errored
	// before touching the file.
	if ev.Type == models.HookPreToolUse {
		return nil
	}

	target := NormalizePath(payload.ToolInput().TargetPath())
	if target == "" {
		return nil
	}
	return store.RecordFileAccess(e.db, &models.FileAccess{
		FilePath:  target,
		Project:   ev.SourceApp,
		SessionID: ev.SessionID,
		SourceApp: ev.SourceApp,
		Mode:      mode,
		CreatedAt: ev.Timestamp,
	})
}

// DetectConflicts scans the access log over the window and returns every
// cross-project collision not currently dismissed. A conflict requires ≥2
// distinct projects on the same normalized path. Severity: high when two or
// more projects wrote, medium when exactly one wrote, low when all access
// was read-only.
func DetectConflicts(e *Engine, window time.Duration) ([]*models.FileConflict, error) {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	now := e.now().UTC()

	accesses, err := store.FileAccessesSince(e.db, now.Add(-window))
	if err != nil {
		return nil, err
	}
	dismissed, err := store.ActiveDismissals(e.db, now.Add(-dismissalTTL(e)))
	if err != nil {
		return nil, err
	}

	type group struct {
		projects map[string]struct{}
		writers  map[string]struct{}
		first    time.Time
		last     time.Time
	}
	groups := make(map[string]*group)
	for _, fa := range accesses {
		g, ok := groups[fa.FilePath]
		if !ok {
			g = &group{
				projects: make(map[string]struct{}),
				writers:  make(map[string]struct{}),
				first:    fa.CreatedAt,
				last:     fa.CreatedAt,
			}
			groups[fa.FilePath] = g
		}
		g.projects[fa.Project] = struct{}{}
		if fa.Mode == "write" {
			g.writers[fa.Project] = struct{}{}
		}
		if fa.CreatedAt.Before(g.first) {
			g.first = fa.CreatedAt
		}
		if fa.CreatedAt.After(g.last) {
			g.last = fa.CreatedAt
		}
	}

	var out []*models.FileConflict
	for filePath, g := range groups {
		if len(g.projects) < 2 {
			continue
		}
		projects := setToSorted(g.projects)
		id := ConflictID(filePath, projects)
		if _, ok := dismissed[id]; ok {
			continue
		}

		severity := models.SeverityLow
		switch {
		case len(g.writers) >= 2:
			severity = models.SeverityHigh
		case len(g.writers) == 1:
			severity = models.SeverityMedium
		}

		out = append(out, &models.FileConflict{
			ID:       id,
			FilePath: filePath,
			Projects: projects,
			Severity: severity,
			Writers:  setToSorted(g.writers),
			FirstAt:  g.first,
			LastAt:   g.last,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return severityRank(out[i].Severity) > severityRank(out[j].Severity)
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out, nil
}

// Dismiss suppresses a conflict id until its dismissal expires.
func Dismiss(e *Engine, conflictID string) error {
	return store.DismissConflict(e.db, conflictID, e.now().UTC())
}

func dismissalTTL(e *Engine) time.Duration {
	return time.Duration(e.Retention().DismissalHrs) * time.Hour
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func severityRank(s models.ConflictSeverity) int {
	switch s {
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	default:
		return 1
	}
}
