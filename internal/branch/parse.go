// Package branch parses git branch names into structured task descriptors.
package branch

import (
	"regexp"
	"strings"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

// Recognized branch-type prefixes, checked against the segment before the
// first slash.
var knownPrefixes = map[string]struct{}{
	"feature":  {},
	"feat":     {},
	"fix":      {},
	"bugfix":   {},
	"hotfix":   {},
	"chore":    {},
	"refactor": {},
	"release":  {},
	"test":     {},
	"docs":     {},
}

// ticketRe matches a leading ticket id like "AUTH-123" or "JIRA-9".
var ticketRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]+-\d+)[-_]?`)

// Parse converts a branch name into a task context.
//
// "feature/AUTH-123-login-flow" yields prefix "feature", ticket "AUTH-123",
// description "Login Flow" and display "AUTH-123: Login Flow". Branches with
// no recognized prefix pass through unchanged as description and display.
// An empty or whitespace-only branch yields the zero value.
func Parse(name string) models.TaskContext {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.TaskContext{}
	}

	prefix, rest := splitPrefix(name)
	if prefix == "" {
		return models.TaskContext{Description: name, Display: name}
	}

	tc := models.TaskContext{Prefix: prefix}
	if m := ticketRe.FindStringSubmatch(rest); m != nil {
		tc.TicketID = strings.ToUpper(m[1])
		rest = rest[len(m[0]):]
	}

	tc.Description = humanize(rest)
	switch {
	case tc.TicketID != "" && tc.Description != "":
		tc.Display = tc.TicketID + ": " + tc.Description
	case tc.TicketID != "":
		tc.Display = tc.TicketID
	case tc.Description != "":
		tc.Display = tc.Description
	default:
		// Prefix-only branch like "release/"; fall back to the raw name.
		tc.Description = name
		tc.Display = name
	}
	return tc
}

func splitPrefix(name string) (prefix, rest string) {
	idx := strings.IndexByte(name, '/')
	if idx <= 0 {
		return "", name
	}
	candidate := strings.ToLower(name[:idx])
	if _, ok := knownPrefixes[candidate]; !ok {
		return "", name
	}
	return candidate, name[idx+1:]
}

// humanize converts "login-flow_v2" to "Login Flow V2".
func humanize(s string) string {
	s = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(s))
	if s == "" {
		return ""
	}
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
