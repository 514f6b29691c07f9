package engine

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// testCommandRe matches common test-runner invocations in Bash tool calls.
var testCommandRe = regexp.MustCompile(`(?i)\b(go test|npm (?:run )?test|pnpm (?:run )?test|yarn (?:run )?test|pytest|jest|vitest|cargo test|rspec|phpunit)\b`)

// devServerCommands maps a command fragment to a server type and its
// conventional default port, used when the command line names no port.
var devServerCommands = []struct {
	fragment    string
	serverType  string
	defaultPort int
}{
	{"next dev", "next", 3000},
	{"vite", "vite", 5173},
	{"npm run dev", "node", 3000},
	{"pnpm dev", "node", 3000},
	{"yarn dev", "node", 3000},
	{"rails server", "rails", 3000},
	{"rails s", "rails", 3000},
	{"flask run", "flask", 5000},
	{"uvicorn", "uvicorn", 8000},
	{"php -S", "php", 8000},
}

var portFlagRe = regexp.MustCompile(`(?:--port[= ]|-p )(\d{2,5})`)

// detectProjectSignals inspects a tool event for test outcomes and dev-server
// launches. Both are best-effort heuristics: failures are logged, never
// propagated to the ingestion path.
func (e *Engine) detectProjectSignals(ev *models.Event, payload models.EventPayload) {
	if payload.ToolName != "Bash" {
		return
	}
	command := payload.ToolInput().Command
	if command == "" {
		return
	}

	if testCommandRe.MatchString(command) && ev.Type != models.HookPreToolUse {
		status, summary := classifyTestOutcome(ev, payload)
		if status != models.TestStatusUnknown {
			if err := store.SetProjectTestStatus(e.db, ev.SourceApp, status, summary); err != nil {
				slog.Default().Warn("test status update failed", "project", ev.SourceApp, "error", err)
			}
		}
	}

	if server, ok := detectDevServer(command); ok {
		if err := e.mergeDevServer(ev.SourceApp, server); err != nil {
			slog.Default().Warn("dev server update failed", "project", ev.SourceApp, "error", err)
		}
	}
}

// classifyTestOutcome reads the tool result of a test command. A failure
// event is an unambiguous fail; otherwise the response text decides.
func classifyTestOutcome(ev *models.Event, payload models.EventPayload) (models.TestStatus, string) {
	if ev.Type == models.HookPostToolUseFailure {
		return models.TestStatusFailing, "test command exited non-zero"
	}

	text := payload.ToolResponseText()
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "fail"):
		return models.TestStatusFailing, firstLineContaining(text, "fail")
	case strings.Contains(lower, "pass") || strings.Contains(lower, "ok  "):
		return models.TestStatusPassing, firstLineContaining(text, "pass")
	}
	return models.TestStatusUnknown, ""
}

func firstLineContaining(text, needle string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// detectDevServer matches a command against known dev-server launchers.
func detectDevServer(command string) (models.DevServer, bool) {
	lower := strings.ToLower(command)
	for _, c := range devServerCommands {
		if !strings.Contains(lower, c.fragment) {
			continue
		}
		port := c.defaultPort
		if m := portFlagRe.FindStringSubmatch(command); m != nil {
			if p, err := strconv.Atoi(m[1]); err == nil {
				port = p
			}
		}
		return models.DevServer{Port: port, Type: c.serverType}, true
	}
	return models.DevServer{}, false
}

// mergeDevServer adds or refreshes one detected server in the project record.
func (e *Engine) mergeDevServer(project string, server models.DevServer) error {
	p, err := store.GetProject(e.db, project)
	if err != nil {
		return err
	}
	servers := p.DevServers
	found := false
	for i, s := range servers {
		if s.Port == server.Port {
			servers[i] = server
			found = true
			break
		}
	}
	if !found {
		servers = append(servers, server)
	}
	return store.SetProjectDevServers(e.db, project, servers)
}
