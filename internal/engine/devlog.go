package engine

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// commitMsgQuotedRe captures the message of `git commit -m "..."` (double or
// single quoted). Tried before the heredoc form.
var commitMsgQuotedRe = regexp.MustCompile(`git commit[^|;&]*?-m\s+(?:"((?:[^"\\]|\\.)*)"|'([^']*)')`)

// SynthesizeDevLog walks every event of a terminated session and compresses
// the history into one immutable summary record. Called on SessionEnd and by
// the stale sweep; the dev_logs unique constraint keeps the result single.
func (e *Engine) SynthesizeDevLog(sessionID, sourceApp string) error {
	events, err := store.SessionEvents(e.db, sessionID, sourceApp)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	sess, err := store.GetSession(e.db, sessionID, sourceApp)
	if err != nil {
		return err
	}

	toolCounts := make(map[string]int64)
	fileSet := make(map[string]struct{})
	var files []string
	var commits []string
	commitSeen := make(map[string]struct{})
	var aiSummary string

	for _, ev := range events {
		if ev.Summary != "" {
			aiSummary = ev.Summary
		}
		if !ev.Type.IsToolEvent() {
			continue
		}
		payload, perr := models.DecodePayload(ev.Payload)
		if perr != nil || payload.ToolName == "" {
			continue
		}
		// Count each tool call once, on its post event.
		if ev.Type == models.HookPreToolUse {
			continue
		}
		toolCounts[payload.ToolName]++

		in := payload.ToolInput()
		switch {
		case models.IsWriteTool(payload.ToolName) || payload.ToolName == "Read":
			if p := in.TargetPath(); p != "" {
				if _, ok := fileSet[p]; !ok {
					fileSet[p] = struct{}{}
					files = append(files, p)
				}
			}
		case payload.ToolName == "Bash":
			if msg := ExtractCommitMessage(in.Command); msg != "" {
				if _, ok := commitSeen[msg]; !ok {
					commitSeen[msg] = struct{}{}
					commits = append(commits, msg)
				}
			}
		}
	}

	first, last := events[0], events[len(events)-1]
	summary := buildSummary(aiSummary, commits, files)

	return store.InsertDevLog(e.db, &models.DevLog{
		SessionID:    sessionID,
		SourceApp:    sourceApp,
		Branch:       sess.Branch,
		Summary:      summary,
		FilesChanged: files,
		Commits:      commits,
		ToolCounts:   toolCounts,
		StartedAt:    first.Timestamp,
		EndedAt:      last.Timestamp,
		DurationSecs: int64(last.Timestamp.Sub(first.Timestamp).Seconds()),
		EventCount:   int64(len(events)),
	})
}

// buildSummary picks the strongest available signal of what the session did.
// Explicit commit messages state intent directly and always win over
// file-name heuristics; an agent-provided summary beats both.
func buildSummary(aiSummary string, commits, files []string) string {
	if aiSummary != "" {
		return aiSummary
	}
	if len(commits) > 0 {
		return strings.Join(commits, "; ")
	}
	return summarizeFiles(files)
}

// summarizeFiles produces a human-readable fallback like
// "Worked on api.go, main.go and 3 more files".
func summarizeFiles(files []string) string {
	if len(files) == 0 {
		return "Session activity (no files changed)"
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, path.Base(f))
	}
	sort.Strings(names)
	switch {
	case len(names) == 1:
		return "Worked on " + names[0]
	case len(names) == 2:
		return fmt.Sprintf("Worked on %s and %s", names[0], names[1])
	default:
		return fmt.Sprintf("Worked on %s, %s and %d more files", names[0], names[1], len(names)-2)
	}
}

// ExtractCommitMessage pulls the commit message out of a git commit command
// line. The quoted -m form is tried first, then the heredoc form; the result
// is the first non-empty line that is not a co-author trailer.
func ExtractCommitMessage(command string) string {
	if command == "" || !strings.Contains(command, "git commit") {
		return ""
	}

	if m := commitMsgQuotedRe.FindStringSubmatch(command); m != nil {
		body := m[1]
		if body == "" {
			body = m[2]
		}
		// -m "$(cat <<'EOF' ...)" is really the heredoc form; fall through.
		if !strings.Contains(body, "<<") {
			return firstMeaningfulLine(body)
		}
	}

	if idx := strings.Index(command, "<<"); idx >= 0 {
		return firstMeaningfulLine(heredocBody(command[idx:]))
	}

	return ""
}

// heredocBody extracts the body between a heredoc marker and its terminator.
func heredocBody(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return ""
	}
	marker := strings.Trim(strings.TrimLeft(lines[0], "<-~ "), "'\"")
	marker = strings.TrimSpace(marker)
	// Strip anything after the marker word on the opening line, e.g. `EOF)"`.
	if i := strings.IndexAny(marker, " )\""); i > 0 {
		marker = marker[:i]
	}
	var body []string
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == marker {
			break
		}
		body = append(body, line)
	}
	return strings.Join(body, "\n")
}

// firstMeaningfulLine returns the first non-empty line that is not a
// co-author or generated-by trailer.
func firstMeaningfulLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		if strings.HasPrefix(lower, "co-authored-by:") || strings.HasPrefix(lower, "signed-off-by:") {
			continue
		}
		return t
	}
	return ""
}
