package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/fingerprint"
	"horse.fit/curation/internal/lifecycle"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func openTestPool(t *testing.T) *db.Pool {
	t.Helper()

	pool, err := db.Open(context.Background(), db.Options{
		DatabaseURL: filepath.Join(t.TempDir(), "curation.db"),
		LogLevel:    "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

// seedScored inserts a fingerprinted cluster root with the given score.
func seedScored(t *testing.T, pool *db.Pool, id, content string, score float64, offset time.Duration) {
	t.Helper()
	ctx := context.Background()

	inserted, err := pool.InsertCurationRecord(ctx, db.NewCurationRecord(db.Article{
		ArticleID: id,
		Title:     "每日简报",
		Content:   content,
		Source:    "北京日报",
		CreatedAt: testNow.Add(offset),
	}, testNow))
	require.NoError(t, err)
	require.True(t, inserted)

	fp, err := fingerprint.Compute(content)
	require.NoError(t, err)
	ok, err := pool.SaveFingerprint(ctx, id, fp, testNow)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, pool.GORM().Model(&db.CurationRecord{}).
		Where("article_id = ?", id).
		Update("status", string(lifecycle.StatusPrimary)).Error)
	require.NoError(t, pool.SaveScore(ctx, db.ScoreUpdate{ArticleID: id, Score: score}, testNow))
}

func seedScenario(t *testing.T, pool *db.Pool) {
	t.Helper()
	seedScored(t, pool, "a95", "市委教委召开全市教育工作会议，部署新学期重点任务。", 95, 0)
	seedScored(t, pool, "b90", "市委教委通报高校毕业生就业工作进展。", 90, time.Minute)
	seedScored(t, pool, "c85", "多所高校联合举办科技创新大赛。", 85, 2*time.Minute)
	seedScored(t, pool, "d80", "城市公园新增健身步道，方便市民锻炼。", 80, 3*time.Minute)
	seedScored(t, pool, "e10", "市委教委发布低分通知。", 10, 4*time.Minute)
}

func TestExportScenarioIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedScenario(t, pool)
	ctx := context.Background()
	output := filepath.Join(t.TempDir(), "report.txt")

	recorder := NewRecorder(pool, DefaultRules(), zerolog.Nop(), nil)
	opts := Options{
		MinScore:      60,
		ReportTag:     "T",
		OutputPath:    output,
		SkipExported:  true,
		RecordHistory: true,
	}

	first, err := recorder.Export(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, "exported=4, skipped=0, category counts: 市委教委:2; 中小学:0; 高校:1; 其他社会新闻:1", first.String())
	require.Equal(t, 4, first.Recorded)
	require.Equal(t, filepath.Join(filepath.Dir(output), "report_T.txt"), first.OutputPath)
	require.Equal(t, []string{"a95", "b90"}, entryIDs(first.Groups[0]))

	n, err := pool.CountExportRecords(ctx, "T")
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	body, err := os.ReadFile(first.OutputPath)
	require.NoError(t, err)
	text := string(body)
	require.NotContains(t, text, "【中小学】")
	edu := strings.Index(text, "【市委教委】")
	uni := strings.Index(text, "【高校】")
	other := strings.Index(text, "【其他社会新闻】")
	require.True(t, edu >= 0 && edu < uni && uni < other, "unexpected group order:\n%s", text)
	require.Contains(t, text, "来源：北京日报")

	second, err := recorder.Export(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 0, second.Exported)
	require.Equal(t, 4, second.Skipped)
	require.Equal(t, "exported=0, skipped=4, category counts: 市委教委:0; 中小学:0; 高校:0; 其他社会新闻:0", second.String())
	require.Empty(t, second.OutputPath)

	kept, err := os.ReadFile(first.OutputPath)
	require.NoError(t, err)
	require.Equal(t, text, string(kept))

	// Simple mode skips across tags.
	opts.ReportTag = "U"
	third, err := recorder.Export(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 0, third.Exported)
	require.Equal(t, 4, third.Skipped)
}

func TestExportDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedScenario(t, pool)
	ctx := context.Background()
	output := filepath.Join(t.TempDir(), "report.txt")

	summary, err := NewRecorder(pool, Rules{}, zerolog.Nop(), nil).Export(ctx, Options{
		MinScore:      60,
		ReportTag:     "T",
		OutputPath:    output,
		SkipExported:  true,
		RecordHistory: true,
		DryRun:        true,
	})
	require.NoError(t, err)
	require.Equal(t, 4, summary.Exported)
	require.Empty(t, summary.OutputPath)

	_, err = os.Stat(TaggedPath(output, "T"))
	require.True(t, os.IsNotExist(err))
	n, err := pool.CountExportRecords(ctx, "")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestExportWithoutSkipOrHistory(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedScenario(t, pool)
	ctx := context.Background()
	recorder := NewRecorder(pool, DefaultRules(), zerolog.Nop(), nil)
	opts := Options{MinScore: 60, ReportTag: "T", OutputPath: filepath.Join(t.TempDir(), "r.txt")}

	for i := 0; i < 2; i++ {
		summary, err := recorder.Export(ctx, opts)
		require.NoError(t, err)
		require.Equal(t, 4, summary.Exported)
		require.Zero(t, summary.Recorded)
	}
}

func TestExportReviewMode(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedScenario(t, pool)
	ctx := context.Background()

	promoted, err := pool.PromoteScored(ctx, "general", 0, testNow)
	require.NoError(t, err)
	require.Equal(t, 5, promoted.Promoted)

	_, err = pool.UpdateReviewStatuses(ctx, []db.ReviewDecision{
		{ArticleID: "c85", Status: db.ReviewStatusSelected},
		{ArticleID: "a95", Status: db.ReviewStatusSelected},
		{ArticleID: "d80", Status: db.ReviewStatusDiscarded},
	}, "alice", testNow)
	require.NoError(t, err)

	recorder := NewRecorder(pool, DefaultRules(), zerolog.Nop(), nil)
	opts := Options{
		Mode:          ModeReview,
		MinScore:      60,
		ReportTag:     "T",
		OutputPath:    filepath.Join(t.TempDir(), "review.txt"),
		SkipExported:  true,
		RecordHistory: true,
	}
	summary, err := recorder.Export(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Exported)
	require.Equal(t, "exported=2, skipped=0, category counts: 市委教委:1; 中小学:0; 高校:1; 其他社会新闻:0", summary.String())

	review, found, err := pool.GetReview(ctx, "a95")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, db.ReviewStatusExported, review.Status)

	events, err := pool.ListReviewEvents(ctx, "a95")
	require.NoError(t, err)
	require.Equal(t, db.ReviewStatusExported, events[len(events)-1].ToStatus)

	rerun, err := recorder.Export(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, "exported=0, skipped=2, category counts: 市委教委:0; 中小学:0; 高校:0; 其他社会新闻:0", rerun.String())
	require.Zero(t, rerun.Recorded)

	// Another tag has no history for these reviews, and they are no longer
	// selected.
	opts.ReportTag = "U"
	other, err := recorder.Export(ctx, opts)
	require.NoError(t, err)
	require.Zero(t, other.Exported)
	require.Zero(t, other.Skipped)
}

func TestExportValidatesOptions(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(openTestPool(t), DefaultRules(), zerolog.Nop(), nil)
	_, err := recorder.Export(context.Background(), Options{OutputPath: "x.txt"})
	require.Error(t, err)
	_, err = recorder.Export(context.Background(), Options{ReportTag: "T"})
	require.Error(t, err)
	_, err = recorder.Export(context.Background(), Options{ReportTag: "T", DryRun: true, Mode: "weekly"})
	require.Error(t, err)
}

func entryIDs(g Group) []string {
	out := make([]string, 0, len(g.Entries))
	for _, e := range g.Entries {
		out = append(out, e.ArticleID)
	}
	return out
}
