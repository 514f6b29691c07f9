package server

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/engine"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

var (
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	isoWeekRe = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
)

// queryDateRange parses the optional from/to ISO-date parameters into a
// half-open [from, to) window. Both dates are inclusive on the wire, so the
// upper bound extends one day past "to". Zero times mean unbounded.
func queryDateRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	parse := func(key string) (time.Time, error) {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			return time.Time{}, nil
		}
		if !isoDateRe.MatchString(raw) {
			return time.Time{}, models.NewValidationError(key, "must be an ISO date (YYYY-MM-DD)")
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, models.NewValidationError(key, "is not a valid calendar date")
		}
		return t, nil
	}

	from, err := parse("from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err = parse("to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
		if !from.IsZero() && to.Before(from) {
			return time.Time{}, time.Time{}, models.NewValidationError("to", "must not precede from")
		}
	}
	return from, to, nil
}

// handleRecentEvents returns the newest events, optionally scoped to one
// project via the project parameter.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit > 500 {
		writeError(w, models.NewValidationError("limit", "must be at most 500"))
		return
	}
	events, err := store.RecentEvents(s.engine.DB(), r.URL.Query().Get("project"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := store.ListProjects(s.engine.DB())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// projectDetail bundles a project with its recent sessions and dev logs.
type projectDetail struct {
	Project  *models.Project   `json:"project"`
	Sessions []*models.Session `json:"sessions,omitempty"`
	DevLogs  []*models.DevLog  `json:"dev_logs,omitempty"`
}

func (s *Server) handleProjectDetail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	project, err := store.GetProject(s.engine.DB(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	sessions, err := store.SessionsForProject(s.engine.DB(), name, 20)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := store.ListDevLogs(s.engine.DB(), name, 10)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectDetail{Project: project, Sessions: sessions, DevLogs: logs})
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	nodes, err := engine.Topology(s.engine, r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleProjectMetrics(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "sessions", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	from, to, err := queryDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := engine.ComputeProjectMetricsRange(s.engine, r.PathValue("name"), limit, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleProjectCosts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	costs, err := store.SessionCosts(s.engine.DB(), r.PathValue("name"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

// handleActiveSessions lists non-stopped sessions, optionally including
// sessions stopped within the trailing stopped_minutes window.
func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	stoppedMins := 0
	if raw := r.URL.Query().Get("stopped_minutes"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, models.NewValidationError("stopped_minutes", "must be a non-negative integer"))
			return
		}
		stoppedMins = v
	}
	since := time.Now().UTC().Add(-time.Duration(stoppedMins) * time.Minute)
	sessions, err := store.ActiveSessions(s.engine.DB(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := engine.ComputeSessionMetricsRange(s.engine, r.PathValue("id"), r.PathValue("app"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleSessionCost(w http.ResponseWriter, r *http.Request) {
	cost, err := store.GetCostEstimate(s.engine.DB(), r.PathValue("id"), r.PathValue("app"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cost)
}

func (s *Server) handleDevLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := store.ListDevLogs(s.engine.DB(), r.URL.Query().Get("project"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts, err := engine.ScanAlerts(s.engine)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	mins, err := queryInt(r, "window_minutes", int(engine.DefaultConflictWindow.Minutes()))
	if err != nil {
		writeError(w, err)
		return
	}
	conflicts, err := engine.DetectConflicts(s.engine, time.Duration(mins)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (s *Server) handleCostsByProject(w http.ResponseWriter, _ *http.Request) {
	costs, err := store.CostsByProject(s.engine.DB())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

func (s *Server) handleCostsByDay(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		writeError(w, err)
		return
	}
	costs, err := store.CostsByDay(s.engine.DB(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if !isoDateRe.MatchString(date) {
		writeError(w, models.NewValidationError("date", "must be an ISO date (YYYY-MM-DD)"))
		return
	}
	from, err := time.Parse("2006-01-02", date)
	if err != nil {
		writeError(w, models.NewValidationError("date", "is not a valid calendar date"))
		return
	}
	summary, err := store.SummarizeRange(s.engine.DB(), from, from.AddDate(0, 0, 1))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleWeeklySummary(w http.ResponseWriter, r *http.Request) {
	m := isoWeekRe.FindStringSubmatch(r.PathValue("week"))
	if m == nil {
		writeError(w, models.NewValidationError("week", "must be an ISO week (YYYY-Www)"))
		return
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	if week < 1 || week > 53 {
		writeError(w, models.NewValidationError("week", "week number must be 01-53"))
		return
	}
	from := isoWeekStart(year, week)
	summary, err := store.SummarizeRange(s.engine.DB(), from, from.AddDate(0, 0, 7))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// isoWeekStart returns the Monday starting the given ISO week. January 4th
// is always inside week 1.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	week1Monday := jan4.AddDate(0, 0, -(weekday - 1))
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

// searchResults groups matches across the three searchable entity kinds.
type searchResults struct {
	Events   []*models.Event   `json:"events,omitempty"`
	Sessions []*models.Session `json:"sessions,omitempty"`
	DevLogs  []*models.DevLog  `json:"dev_logs,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, models.NewValidationError("q", "is required"))
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit > 500 {
		writeError(w, models.NewValidationError("limit", "must be at most 500"))
		return
	}

	kind := r.URL.Query().Get("type")
	var results searchResults
	switch kind {
	case "", "all":
		if results.Events, err = store.SearchEvents(s.engine.DB(), term, limit); err == nil {
			if results.Sessions, err = store.SearchSessions(s.engine.DB(), term, limit); err == nil {
				results.DevLogs, err = store.SearchDevLogs(s.engine.DB(), term, limit)
			}
		}
	case "events":
		results.Events, err = store.SearchEvents(s.engine.DB(), term, limit)
	case "sessions":
		results.Sessions, err = store.SearchSessions(s.engine.DB(), term, limit)
	case "devlogs":
		results.DevLogs, err = store.SearchDevLogs(s.engine.DB(), term, limit)
	default:
		writeError(w, models.NewValidationError("type", "must be one of events, sessions, devlogs, all"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 7)
	if err != nil {
		writeError(w, err)
		return
	}
	if days > 365 {
		writeError(w, models.NewValidationError("days", "must be at most 365"))
		return
	}
	buckets, err := store.ActivityHeatmap(s.engine.DB(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}
