// Package export writes the category-grouped report and records which
// articles went out under which report tag.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/globaltime"
	"horse.fit/curation/internal/metrics"
)

type Mode string

const (
	ModeSimple Mode = "simple"
	ModeReview Mode = "review"
)

const defaultActor = "export"

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeSimple:
		return ModeSimple, nil
	case ModeReview:
		return ModeReview, nil
	default:
		return "", fmt.Errorf("unsupported export mode %q (expected simple or review)", raw)
	}
}

type Options struct {
	Mode          Mode
	MinScore      float64
	ReportTag     string
	OutputPath    string
	SkipExported  bool
	RecordHistory bool
	DryRun        bool
	Actor         string
}

type Entry struct {
	ArticleID string
	Title     string
	Body      string
	Source    string
	Score     float64
	Category  string
}

type Group struct {
	Category string
	Entries  []Entry
}

type Summary struct {
	RunID      string
	Mode       Mode
	DryRun     bool
	Exported   int
	Skipped    int
	Recorded   int
	OutputPath string
	Groups     []Group
}

// String renders the console summary line.
func (s Summary) String() string {
	counts := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		counts = append(counts, fmt.Sprintf("%s:%d", g.Category, len(g.Entries)))
	}
	return fmt.Sprintf("exported=%d, skipped=%d, category counts: %s", s.Exported, s.Skipped, strings.Join(counts, "; "))
}

func (s Summary) CategoryCounts() map[string]int {
	out := make(map[string]int, len(s.Groups))
	for _, g := range s.Groups {
		out[g.Category] = len(g.Entries)
	}
	return out
}

type Recorder struct {
	pool    *db.Pool
	rules   Rules
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(pool *db.Pool, rules Rules, logger zerolog.Logger, m *metrics.Metrics) *Recorder {
	if len(rules.Rules) == 0 {
		rules = DefaultRules()
	}
	return &Recorder{pool: pool, rules: rules, logger: logger, metrics: m}
}

func (r *Recorder) Rules() Rules {
	return r.rules
}

// Export selects candidates, drops those already exported, groups the rest
// by category and, unless dry-running, writes the report and the history.
func (r *Recorder) Export(ctx context.Context, opts Options) (Summary, error) {
	if r == nil || r.pool == nil {
		return Summary{}, fmt.Errorf("export recorder is not initialized")
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return Summary{}, err
	}
	tag := strings.TrimSpace(opts.ReportTag)
	if tag == "" {
		return Summary{}, fmt.Errorf("report tag is required")
	}
	if !opts.DryRun && strings.TrimSpace(opts.OutputPath) == "" {
		return Summary{}, fmt.Errorf("output path is required")
	}
	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = defaultActor
	}

	var candidates []db.ExportCandidate
	switch mode {
	case ModeReview:
		candidates, err = r.pool.ListSelectedForExport(ctx, opts.MinScore, tag)
	default:
		candidates, err = r.pool.ListExportCandidates(ctx, opts.MinScore)
	}
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		RunID:  uuid.NewString(),
		Mode:   mode,
		DryRun: opts.DryRun,
	}

	if opts.SkipExported {
		// Simple mode skips anything ever exported; review mode only this tag.
		scope := ""
		if mode == ModeReview {
			scope = tag
		}
		exported, err := r.pool.ExportedArticleIDs(ctx, scope)
		if err != nil {
			return Summary{}, err
		}
		kept := candidates[:0]
		for _, c := range candidates {
			if _, done := exported[c.ArticleID]; done {
				summary.Skipped++
				continue
			}
			kept = append(kept, c)
		}
		candidates = kept
	}

	summary.Groups = r.group(candidates)
	summary.Exported = len(candidates)

	if opts.DryRun {
		r.logger.Info().
			Str("mode", string(mode)).
			Str("report_tag", tag).
			Int("would_export", summary.Exported).
			Int("skipped", summary.Skipped).
			Msg("export dry run")
		return summary, nil
	}

	// A run with nothing new keeps the report an earlier run wrote under
	// this tag.
	if summary.Exported > 0 {
		summary.OutputPath = TaggedPath(opts.OutputPath, tag)
		if err := writeReport(summary.OutputPath, Render(summary.Groups)); err != nil {
			return Summary{}, err
		}
	}

	if opts.RecordHistory {
		now := globaltime.UTC()
		records := make([]db.ExportRecord, 0, summary.Exported)
		for _, g := range summary.Groups {
			for _, e := range g.Entries {
				score := e.Score
				records = append(records, db.ExportRecord{
					ArticleID:   e.ArticleID,
					ReportTag:   tag,
					ExportRunID: summary.RunID,
					Category:    g.Category,
					Score:       &score,
					ExportedAt:  now,
				})
			}
		}
		summary.Recorded, err = r.pool.RecordExports(ctx, records, mode == ModeReview, actor, now)
		if err != nil {
			return Summary{}, err
		}
	}

	r.metrics.ObserveExport(string(mode), summary.CategoryCounts(), summary.Skipped)
	r.logger.Info().
		Str("run_id", summary.RunID).
		Str("mode", string(mode)).
		Str("report_tag", tag).
		Str("output", summary.OutputPath).
		Int("exported", summary.Exported).
		Int("skipped", summary.Skipped).
		Int("recorded", summary.Recorded).
		Msg("export completed")
	return summary, nil
}

func (r *Recorder) group(candidates []db.ExportCandidate) []Group {
	categories := r.rules.Categories()
	groups := make([]Group, len(categories))
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		groups[i] = Group{Category: c}
		index[c] = i
	}

	for _, c := range candidates {
		body := c.Content
		if c.Summary != nil && strings.TrimSpace(*c.Summary) != "" {
			body = *c.Summary
		}
		category := r.rules.Classify(c.Title, body, c.Content)
		i := index[category]
		groups[i].Entries = append(groups[i].Entries, Entry{
			ArticleID: c.ArticleID,
			Title:     strings.TrimSpace(c.Title),
			Body:      strings.TrimSpace(body),
			Source:    strings.TrimSpace(c.Source),
			Score:     c.Score,
			Category:  category,
		})
	}
	return groups
}

// Render concatenates the per-category blocks in group order. Empty groups
// are left out of the text.
func Render(groups []Group) string {
	var b strings.Builder
	for _, g := range groups {
		if len(g.Entries) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "【%s】\n", g.Category)
		for i, e := range g.Entries {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e.Title)
			if e.Body != "" {
				b.WriteString(e.Body)
				b.WriteString("\n")
			}
			if e.Source != "" {
				fmt.Fprintf(&b, "来源：%s\n", e.Source)
			}
		}
	}
	return b.String()
}

// TaggedPath inserts the tag before the extension: report.txt + T gives
// report_T.txt.
func TaggedPath(path, tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return path
	}
	tag = strings.NewReplacer("/", "-", "\\", "-").Replace(tag)
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + tag + ext
}

func writeReport(path, body string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write export %s: %w", path, err)
	}
	return nil
}
