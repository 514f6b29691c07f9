package server

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/engine"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// reportData is everything the export template renders. All string fields
// pass through html/template's contextual escaping, so branch names, topics
// and commit messages from untrusted payloads cannot inject markup.
type reportData struct {
	GeneratedAt time.Time
	Projects    []*models.Project
	Sessions    []*models.Session
	Conflicts   []*models.FileConflict
	Alerts      []*models.Alert
	Costs       []store.ProjectCost
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>devpulse status report</title>
<style>
body { font-family: -apple-system, system-ui, sans-serif; margin: 2rem; color: #1a1a2e; }
h1 { font-size: 1.4rem; }
h2 { font-size: 1.1rem; margin-top: 2rem; border-bottom: 1px solid #ddd; padding-bottom: .3rem; }
table { border-collapse: collapse; width: 100%; margin-top: .5rem; }
th, td { text-align: left; padding: .35rem .6rem; border-bottom: 1px solid #eee; font-size: .85rem; }
th { background: #f7f7fa; }
.sev-high, .sev-critical { color: #c0392b; font-weight: 600; }
.sev-medium, .sev-warning { color: #d68910; }
.sev-low { color: #7f8c8d; }
.muted { color: #888; font-size: .8rem; }
</style>
</head>
<body>
<h1>devpulse status report</h1>
<p class="muted">generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>

<h2>Projects</h2>
<table>
<tr><th>Name</th><th>Branch</th><th>Health</th><th>Trend</th><th>Tests</th><th>Active sessions</th><th>Last activity</th></tr>
{{range .Projects}}
<tr>
<td>{{.Name}}</td>
<td>{{.Branch}}</td>
<td>{{.HealthScore}}</td>
<td>{{.HealthTrend}}</td>
<td>{{.TestStatus}}</td>
<td>{{.ActiveSessions}}</td>
<td>{{.LastActivityAt.Format "2006-01-02 15:04"}}</td>
</tr>
{{else}}
<tr><td colspan="7" class="muted">no projects</td></tr>
{{end}}
</table>

<h2>Live sessions</h2>
<table>
<tr><th>Project</th><th>Session</th><th>Status</th><th>Branch</th><th>Topic</th><th>Events</th><th>Last event</th></tr>
{{range .Sessions}}
<tr>
<td>{{.SourceApp}}</td>
<td>{{.SessionID}}</td>
<td>{{.Status}}</td>
<td>{{.Branch}}</td>
<td>{{.Topic}}</td>
<td>{{.EventCount}}</td>
<td>{{.LastEventAt.Format "15:04:05"}}</td>
</tr>
{{else}}
<tr><td colspan="7" class="muted">no live sessions</td></tr>
{{end}}
</table>

<h2>Conflicts</h2>
<table>
<tr><th>File</th><th>Projects</th><th>Severity</th><th>Last touch</th></tr>
{{range .Conflicts}}
<tr>
<td>{{.FilePath}}</td>
<td>{{range $i, $p := .Projects}}{{if $i}}, {{end}}{{$p}}{{end}}</td>
<td class="sev-{{.Severity}}">{{.Severity}}</td>
<td>{{.LastAt.Format "15:04:05"}}</td>
</tr>
{{else}}
<tr><td colspan="4" class="muted">no conflicts</td></tr>
{{end}}
</table>

<h2>Alerts</h2>
<table>
<tr><th>Type</th><th>Severity</th><th>Project</th><th>Session</th><th>Message</th></tr>
{{range .Alerts}}
<tr>
<td>{{.Type}}</td>
<td class="sev-{{.Severity}}">{{.Severity}}</td>
<td>{{.SourceApp}}</td>
<td>{{.SessionID}}</td>
<td>{{.Message}}</td>
</tr>
{{else}}
<tr><td colspan="5" class="muted">no alerts</td></tr>
{{end}}
</table>

<h2>Costs</h2>
<table>
<tr><th>Project</th><th>Sessions</th><th>Input tokens</th><th>Output tokens</th><th>USD</th></tr>
{{range .Costs}}
<tr>
<td>{{.Project}}</td>
<td>{{.Sessions}}</td>
<td>{{.InputTokens}}</td>
<td>{{.OutputTokens}}</td>
<td>{{printf "%.4f" .CostUSD}}</td>
</tr>
{{else}}
<tr><td colspan="5" class="muted">no cost data</td></tr>
{{end}}
</table>
</body>
</html>
`))

// handleReport renders the whole fleet as a standalone HTML page for export.
func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	db := s.engine.DB()
	now := time.Now().UTC()
	data := reportData{GeneratedAt: now}

	var err error
	if data.Projects, err = store.ListProjects(db); err != nil {
		writeError(w, err)
		return
	}
	if data.Sessions, err = store.ActiveSessions(db, now); err != nil {
		writeError(w, err)
		return
	}
	if data.Conflicts, err = engine.DetectConflicts(s.engine, engine.DefaultConflictWindow); err != nil {
		writeError(w, err)
		return
	}
	if data.Alerts, err = engine.ScanAlerts(s.engine); err != nil {
		writeError(w, err)
		return
	}
	if data.Costs, err = store.CostsByProject(db); err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
