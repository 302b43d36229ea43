// Package dashboard serves the emission statistics: the global dashboard,
// CO2 trends, and per-project and per-user breakdowns.
package dashboard

import (
	"context"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/httputil"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/nadmax/ecotask/internal/task"
	"github.com/nadmax/ecotask/internal/user"
	"golang.org/x/sync/errgroup"
)

const topProjects = 10

// Directory resolves the users and projects statistics are requested for.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*user.User, error)
	GetProject(ctx context.Context, projectID string) (*project.Project, error)
}

type Dashboard struct {
	stats repository.StatsRepository
	dir   Directory
	now   func() time.Time
}

type Option func(*Dashboard)

func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) { d.now = now }
}

func NewDashboard(stats repository.StatsRepository, dir Directory, opts ...Option) *Dashboard {
	d := &Dashboard{stats: stats, dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

type CO2Stats struct {
	TotalCO2      float64              `json:"totalCO2"`
	Level         co2.Tier             `json:"co2Level"`
	CO2ByProject  []models.ProjectCO2  `json:"co2ByProject"`
	CO2ByTaskType []models.CategoryCO2 `json:"co2ByTaskType"`
	CO2ByMonth    []models.PeriodCO2   `json:"co2ByMonth"`
}

type Stats struct {
	models.Totals
	CO2Stats    CO2Stats  `json:"co2Stats"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Group is one roll-up line of a task breakdown.
type Group struct {
	Key            string  `json:"key"`
	Count          int     `json:"count"`
	CO2Amount      float64 `json:"co2Amount"`
	EstimatedHours float64 `json:"estimatedHours"`
	ActualHours    float64 `json:"actualHours"`
}

type TaskStats struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	CompletionRate int     `json:"completionRate"`
	TotalCO2       float64 `json:"totalCO2"`
	ByStatus       []Group `json:"byStatus"`
	ByType         []Group `json:"byType"`
	ByPriority     []Group `json:"byPriority,omitempty"`
}

type ProjectSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	TotalCO2    float64  `json:"totalCO2"`
	Level       co2.Tier `json:"co2Level"`
	TaskCount   int      `json:"taskCount"`
	MemberCount int      `json:"memberCount"`
}

type ProjectStats struct {
	Project      ProjectSummary     `json:"project"`
	TaskStats    TaskStats          `json:"taskStats"`
	CO2Evolution []models.PeriodCO2 `json:"co2Evolution"`
	MemberStats  []models.MemberCO2 `json:"memberStats"`
}

type UserProjects struct {
	Total    int                 `json:"total"`
	Projects []models.ProjectCO2 `json:"projects"`
}

type UserStats struct {
	User         user.Summary       `json:"user"`
	Role         user.Role          `json:"role"`
	TaskStats    TaskStats          `json:"taskStats"`
	ProjectStats UserProjects       `json:"projectStats"`
	CO2Evolution []models.PeriodCO2 `json:"co2Evolution"`
}

func (d *Dashboard) GetDashboard(w http.ResponseWriter, r *http.Request) {
	now := d.now()
	var stats Stats

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		stats.Totals, err = d.stats.Totals(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats.CO2Stats.CO2ByProject, err = d.stats.TopProjectsByCO2(ctx, topProjects)
		return err
	})
	g.Go(func() error {
		var err error
		stats.CO2Stats.CO2ByTaskType, err = d.stats.CO2ByCategory(ctx, models.Scope{})
		return err
	})
	g.Go(func() error {
		var err error
		stats.CO2Stats.CO2ByMonth, err = d.stats.CO2ByPeriod(ctx, models.Scope{}, models.BucketMonth, now.AddDate(0, -6, 0))
		return err
	})
	if err := g.Wait(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	amounts := make([]float64, 0, len(stats.CO2Stats.CO2ByTaskType))
	for _, c := range stats.CO2Stats.CO2ByTaskType {
		amounts = append(amounts, c.CO2Amount)
	}
	stats.CO2Stats.TotalCO2 = co2.Aggregate(amounts)
	stats.CO2Stats.Level = co2.Classify(stats.CO2Stats.TotalCO2)
	stats.LastUpdated = now

	httputil.WriteJSON(w, http.StatusOK, stats)
}

// trendWindows maps the accepted period values to their look-back and bucket.
var trendWindows = map[string]struct {
	months int
	bucket string
}{
	"3months": {3, models.BucketWeek},
	"6months": {6, models.BucketMonth},
	"1year":   {12, models.BucketMonth},
}

func (d *Dashboard) GetCO2Trends(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "6months"
	}

	window, ok := trendWindows[period]
	if !ok {
		var v httputil.ValidationError
		v.Add("period", "must be 3months, 6months or 1year")
		httputil.WriteError(w, &v)
		return
	}

	since := d.now().AddDate(0, -window.months, 0)
	trends, err := d.stats.CO2ByPeriod(r.Context(), models.Scope{}, window.bucket, since)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"period": period,
		"bucket": window.bucket,
		"trends": trends,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := httputil.ValidateVar("id", id, "required,uuid"); err != nil {
		httputil.WriteError(w, err)
		return "", false
	}

	return id, true
}

func (d *Dashboard) GetProjectStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		p         *project.Project
		breakdown []models.TaskGroupStats
		out       ProjectStats
	)
	scope := models.Scope{ProjectID: id}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		p, err = d.dir.GetProject(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		breakdown, err = d.stats.TaskBreakdown(ctx, scope)
		return err
	})
	g.Go(func() error {
		var err error
		out.CO2Evolution, err = d.stats.CO2ByPeriod(ctx, scope, models.BucketWeek, d.now().AddDate(0, -3, 0))
		return err
	})
	g.Go(func() error {
		var err error
		out.MemberStats, err = d.stats.MemberCO2(ctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	out.Project = ProjectSummary{
		ID:          p.ID,
		Name:        p.Name,
		TotalCO2:    co2.Round2(p.TotalEmissions()),
		Level:       p.Tier(),
		TaskCount:   p.TaskCount,
		MemberCount: len(p.MemberIDs),
	}
	out.TaskStats = summarize(breakdown, true)

	httputil.WriteJSON(w, http.StatusOK, out)
}

func (d *Dashboard) GetUserStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		u         *user.User
		breakdown []models.TaskGroupStats
		out       UserStats
	)
	scope := models.Scope{AssigneeID: id}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		u, err = d.dir.GetUser(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		breakdown, err = d.stats.TaskBreakdown(ctx, scope)
		return err
	})
	g.Go(func() error {
		var err error
		out.ProjectStats.Projects, err = d.stats.ProjectsForUser(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		out.CO2Evolution, err = d.stats.CO2ByPeriod(ctx, scope, models.BucketMonth, d.now().AddDate(0, -6, 0))
		return err
	})
	if err := g.Wait(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	out.User = u.Summary()
	out.Role = u.Role
	out.TaskStats = summarize(breakdown, false)
	out.ProjectStats.Total = len(out.ProjectStats.Projects)

	httputil.WriteJSON(w, http.StatusOK, out)
}

// summarize rolls the status/type/priority breakdown up along each dimension.
func summarize(breakdown []models.TaskGroupStats, withPriority bool) TaskStats {
	var stats TaskStats
	byStatus := map[string]*Group{}
	byType := map[string]*Group{}
	byPriority := map[string]*Group{}
	amounts := make([]float64, 0, len(breakdown))

	for _, row := range breakdown {
		stats.Total += row.Count
		if row.Status == task.DoneStatus {
			stats.Completed += row.Count
		}
		amounts = append(amounts, row.CO2Amount)

		add(byStatus, string(row.Status), row)
		add(byType, string(row.Category), row)
		add(byPriority, string(row.Priority), row)
	}

	stats.TotalCO2 = co2.Aggregate(amounts)
	if stats.Total > 0 {
		stats.CompletionRate = int(math.Round(float64(stats.Completed) / float64(stats.Total) * 100))
	}
	stats.ByStatus = flatten(byStatus)
	stats.ByType = flatten(byType)
	if withPriority {
		stats.ByPriority = flatten(byPriority)
	}

	return stats
}

func add(groups map[string]*Group, key string, row models.TaskGroupStats) {
	g, ok := groups[key]
	if !ok {
		g = &Group{Key: key}
		groups[key] = g
	}
	g.Count += row.Count
	g.CO2Amount = co2.Aggregate([]float64{g.CO2Amount, row.CO2Amount})
	g.EstimatedHours += row.EstimatedHours
	g.ActualHours += row.ActualHours
}

func flatten(groups map[string]*Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}
