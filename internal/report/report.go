package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/internal/reconcile"
	"globalpass/esimworker/pkg/errors"
)

// Exit codes of a run
const (
	ExitOK     = 0
	ExitFailed = 1
)

// FailedTarget is a (source, country) pair that produced no plans
type FailedTarget struct {
	Source  string `json:"source"`
	Country string `json:"country"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SourceStats counts targets and plans of one source
type SourceStats struct {
	TargetsSucceeded int `json:"targets_succeeded"`
	TargetsFailed    int `json:"targets_failed"`
	Plans            int `json:"plans"`
}

// Report summarizes one run
type Report struct {
	RunID      string                  `json:"run_id"`
	StartedAt  time.Time               `json:"started_at"`
	Elapsed    time.Duration           `json:"elapsed_ns"`
	Mode       string                  `json:"mode"`
	DryRun     bool                    `json:"dry_run"`
	RateSource string                  `json:"rate_source"`
	TotalPlans int                     `json:"total_plans"`
	Sources    map[string]*SourceStats `json:"sources"`
	// Countries counts plans written per country
	Countries     map[string]int `json:"countries"`
	Collisions    int            `json:"collisions"`
	Duplicates    int            `json:"duplicates"`
	Rejections    int            `json:"rejections"`
	Inserted      int            `json:"inserted"`
	Updated       int            `json:"updated"`
	Unchanged     int            `json:"unchanged"`
	PersistFailed int            `json:"persist_failed"`
	FailedTargets []FailedTarget `json:"failed_targets"`
}

// New starts a report for a run in mode
func New(mode string, startedAt time.Time) *Report {
	return &Report{
		RunID:         uuid.NewString(),
		StartedAt:     startedAt.UTC(),
		Mode:          mode,
		Sources:       make(map[string]*SourceStats),
		Countries:     make(map[string]int),
		FailedTargets: []FailedTarget{},
	}
}

func (r *Report) source(id string) *SourceStats {
	s, ok := r.Sources[id]
	if !ok {
		s = &SourceStats{}
		r.Sources[id] = s
	}
	return s
}

// TargetSucceeded records a target that assembled plans
func (r *Report) TargetSucceeded(source string, plans int) {
	s := r.source(source)
	s.TargetsSucceeded++
	s.Plans += plans
	r.TotalPlans += plans
}

// TargetFailed records a target that produced nothing
func (r *Report) TargetFailed(source, country string, err error) {
	r.source(source).TargetsFailed++

	kind := string(errors.TypeOf(err))
	if kind == "" {
		kind = "unknown"
	}
	r.FailedTargets = append(r.FailedTargets, FailedTarget{
		Source:  source,
		Country: country,
		Kind:    kind,
		Message: err.Error(),
	})
}

// AddAssembly adds the assembler counters of one target
func (r *Report) AddAssembly(collisions, duplicates, rejections int) {
	r.Collisions += collisions
	r.Duplicates += duplicates
	r.Rejections += rejections
}

// AddPersistence adds the outcome of persisting batch
func (r *Report) AddPersistence(batch []model.Plan, res reconcile.Result) {
	r.Inserted += res.Inserted
	r.Updated += res.Updated
	r.Unchanged += res.Unchanged
	r.PersistFailed += res.Failed

	failed := make(map[model.NaturalKey]bool, len(res.FailedKeys))
	for _, key := range res.FailedKeys {
		failed[key] = true
	}
	for _, plan := range batch {
		if !failed[plan.Key] {
			r.Countries[plan.Key.Country]++
		}
	}
}

// Finish stamps the elapsed time
func (r *Report) Finish(now time.Time) {
	r.Elapsed = now.Sub(r.StartedAt)
}

// Targets returns the number of targets attempted
func (r *Report) Targets() int {
	n := 0
	for _, s := range r.Sources {
		n += s.TargetsSucceeded + s.TargetsFailed
	}
	return n
}

// AllTargetsFailed reports whether no target produced plans
func (r *Report) AllTargetsFailed() bool {
	for _, s := range r.Sources {
		if s.TargetsSucceeded > 0 {
			return false
		}
	}
	return true
}

// HasFailures reports whether any target failed
func (r *Report) HasFailures() bool {
	return len(r.FailedTargets) > 0
}

// ExitCode is non-zero only when every target failed. Failed plans in an
// otherwise successful run do not change it.
func (r *Report) ExitCode() int {
	if r.AllTargetsFailed() {
		return ExitFailed
	}
	return ExitOK
}

// JSON encodes the report
func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	t.SetTitle(title)
	return t
}

// Render writes the report as tables
func (r *Report) Render(w io.Writer) {
	summary := newTable(w, "Run "+r.RunID)
	summary.AppendRows([]table.Row{
		{"started", r.StartedAt.Format(time.RFC3339)},
		{"elapsed", r.Elapsed.Round(time.Millisecond)},
		{"mode", r.modeLabel()},
		{"rates", r.RateSource},
		{"plans", r.TotalPlans},
		{"collisions", r.Collisions},
		{"rejections", r.Rejections},
		{"inserted", r.Inserted},
		{"updated", r.Updated},
		{"unchanged", r.Unchanged},
		{"persist failed", r.PersistFailed},
	})
	summary.Render()

	sources := newTable(w, "Sources")
	sources.AppendHeader(table.Row{"source", "succeeded", "failed", "plans"})
	for _, id := range sortedKeys(r.Sources) {
		s := r.Sources[id]
		sources.AppendRow(table.Row{id, s.TargetsSucceeded, s.TargetsFailed, s.Plans})
	}
	sources.Render()

	if len(r.Countries) > 0 {
		countries := newTable(w, "Plans written")
		countries.AppendHeader(table.Row{"country", "plans"})
		for _, name := range sortedKeys(r.Countries) {
			countries.AppendRow(table.Row{name, r.Countries[name]})
		}
		countries.Render()
	}

	if r.HasFailures() {
		failed := newTable(w, "Failed targets")
		failed.AppendHeader(table.Row{"source", "country", "kind", "message"})
		for _, f := range r.FailedTargets {
			failed.AppendRow(table.Row{f.Source, f.Country, f.Kind, f.Message})
		}
		failed.Render()
	}
}

func (r *Report) modeLabel() string {
	if r.DryRun {
		return r.Mode + " (dry run)"
	}
	return r.Mode
}

// AlertSubject is the subject line of the failure alert
func (r *Report) AlertSubject() string {
	return fmt.Sprintf("eSIM price scraper: %d of %d targets failed", len(r.FailedTargets), r.Targets())
}

// AlertBody lists the failed targets in plain text
func (r *Report) AlertBody() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s started %s\n\n", r.RunID, r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Failed countries:\n")
	for _, f := range r.FailedTargets {
		fmt.Fprintf(&b, "- %s / %s (%s): %s\n", f.Source, f.Country, f.Kind, f.Message)
	}
	fmt.Fprintf(&b, "\nPlans: %d, inserted %d, updated %d, unchanged %d, failed %d\n",
		r.TotalPlans, r.Inserted, r.Updated, r.Unchanged, r.PersistFailed)
	return b.String()
}
