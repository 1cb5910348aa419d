package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"horse.fit/curation/internal/lifecycle"
)

func TestListExportCandidatesOnlyRoots(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seedCuration(t, pool, "first", storyEducation, lifecycle.StatusPrimary, 0)
	require.NoError(t, pool.SaveScore(ctx, ScoreUpdate{ArticleID: "first", Score: 80}, testNow))
	seedCuration(t, pool, "second", storyPrices, lifecycle.StatusPrimary, time.Minute)
	require.NoError(t, pool.SaveScore(ctx, ScoreUpdate{ArticleID: "second", Score: 80}, testNow))
	seedCuration(t, pool, "low", "低分文章", lifecycle.StatusPrimary, 2*time.Minute)
	require.NoError(t, pool.SaveScore(ctx, ScoreUpdate{ArticleID: "low", Score: 20}, testNow))
	seedCuration(t, pool, "dup", storyEducation, lifecycle.StatusDuplicate, 3*time.Minute)
	require.NoError(t, pool.GORM().Model(&CurationRecord{}).Where("article_id = ?", "dup").
		Updates(map[string]any{"primary_article_id": "first", "score": 99.0}).Error)

	candidates, err := pool.ListExportCandidates(ctx, 60)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, "first", candidates[0].ArticleID)
	require.Equal(t, "second", candidates[1].ArticleID)
	require.Equal(t, storyEducation, candidates[0].Content)
}

func TestRecordExportsIsInsertOrIgnore(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()
	seedReady(t, pool, "x", storyEducation, 90, 0, ScoreUpdate{})

	records := []ExportRecord{{ArticleID: "x", ReportTag: "T", ExportRunID: "run-1", Category: "中小学", ExportedAt: testNow}}
	n, err := pool.RecordExports(ctx, records, true, "export", testNow)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	records[0].ExportRunID = "run-2"
	n, err = pool.RecordExports(ctx, records, true, "export", testNow)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	records[0].ReportTag = "U"
	n, err = pool.RecordExports(ctx, records, false, "export", testNow)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tagged, err := pool.ExportedArticleIDs(ctx, "T")
	require.NoError(t, err)
	require.Contains(t, tagged, "x")
	none, err := pool.ExportedArticleIDs(ctx, "V")
	require.NoError(t, err)
	require.Empty(t, none)

	total, err := pool.CountExportRecords(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	review, _, err := pool.GetReview(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, ReviewStatusExported, review.Status)
	events, err := pool.ListReviewEvents(ctx, "x")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestListSelectedForExportUsesOverrides(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()
	seedReady(t, pool, "a", storyEducation, 50, 0, ScoreUpdate{})
	seedReady(t, pool, "b", storyPrices, 90, time.Minute, ScoreUpdate{})
	seedReady(t, pool, "c", "第三篇", 95, 2*time.Minute, ScoreUpdate{})

	_, err := pool.EditReview(ctx, "a", ReviewOverrides{Summary: ptr("编辑摘要"), Score: ptr(70.0)}, testNow)
	require.NoError(t, err)
	_, err = pool.UpdateReviewStatuses(ctx, []ReviewDecision{
		{ArticleID: "b", Status: ReviewStatusSelected},
		{ArticleID: "a", Status: ReviewStatusSelected},
	}, "alice", testNow)
	require.NoError(t, err)

	selected, err := pool.ListSelectedForExport(ctx, 60, "T")
	require.NoError(t, err)
	require.Len(t, selected, 2)
	require.Equal(t, "b", selected[0].ArticleID)
	require.Equal(t, "a", selected[1].ArticleID)
	require.Equal(t, "编辑摘要", *selected[1].Summary)
	require.InDelta(t, 70, selected[1].Score, 1e-9)
}
