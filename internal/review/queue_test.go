package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/lifecycle"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *db.Pool) {
	t.Helper()
	pool, err := db.Open(context.Background(), db.Options{
		DatabaseURL: filepath.Join(t.TempDir(), "review.db"),
		LogLevel:    "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return NewQueue(pool, zerolog.Nop(), ""), pool
}

func seedRecord(t *testing.T, pool *db.Pool, id string, status lifecycle.Status) {
	t.Helper()
	_, err := pool.InsertCurationRecord(context.Background(), db.NewCurationRecord(db.Article{
		ArticleID: id,
		Title:     id,
		Content:   "内容 " + id,
		CreatedAt: testNow,
	}, testNow))
	require.NoError(t, err)
	require.NoError(t, pool.GORM().Model(&db.CurationRecord{}).Where("article_id = ?", id).Update("status", string(status)).Error)
}

func TestEnqueueRequiresReadyForExport(t *testing.T) {
	t.Parallel()

	queue, pool := newTestQueue(t)
	ctx := context.Background()
	seedRecord(t, pool, "ready", lifecycle.StatusReadyForExport)
	seedRecord(t, pool, "dup", lifecycle.StatusDuplicate)

	created, err := queue.Enqueue(ctx, "ready", "")
	require.NoError(t, err)
	require.True(t, created)

	created, err = queue.Enqueue(ctx, "ready", "daily")
	require.NoError(t, err)
	require.False(t, created)

	review, _, err := pool.GetReview(ctx, "ready")
	require.NoError(t, err)
	require.Equal(t, "general", review.ReportType)

	_, err = queue.Enqueue(ctx, "dup", "")
	require.ErrorIs(t, err, ErrNotEligible)
	_, err = queue.Enqueue(ctx, "missing", "")
	require.ErrorIs(t, err, ErrNotEligible)
	_, err = queue.Enqueue(ctx, "bad id", "")
	require.ErrorIs(t, err, lifecycle.ErrMalformedArticleID)
}

func TestUpdateStatusesValidatesBatch(t *testing.T) {
	t.Parallel()

	queue, pool := newTestQueue(t)
	ctx := context.Background()
	seedRecord(t, pool, "a", lifecycle.StatusReadyForExport)
	seedRecord(t, pool, "b", lifecycle.StatusReadyForExport)
	_, err := queue.Enqueue(ctx, "a", "")
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, "b", "")
	require.NoError(t, err)

	_, err = queue.UpdateStatuses(ctx, []db.ReviewDecision{{ArticleID: "a", Status: "exported"}}, "alice")
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = queue.UpdateStatuses(ctx, []db.ReviewDecision{{ArticleID: "a", Status: "selected"}}, " ")
	require.Error(t, err)

	// One bad row rejects the whole batch.
	_, err = queue.UpdateStatuses(ctx, []db.ReviewDecision{
		{ArticleID: "a", Status: "selected"},
		{ArticleID: "ghost", Status: "selected"},
	}, "alice")
	require.ErrorIs(t, err, db.ErrReviewNotFound)
	a, _, err := pool.GetReview(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, db.ReviewStatusPending, a.Status)

	updated, err := queue.UpdateStatuses(ctx, []db.ReviewDecision{
		{ArticleID: "a", Status: " Selected "},
		{ArticleID: "b", Status: "discarded"},
	}, "alice")
	require.NoError(t, err)
	require.Len(t, updated, 2)
	require.Equal(t, db.ReviewStatusSelected, updated[0].Status)
	require.InDelta(t, 1, *updated[0].Rank, 1e-9)
	require.Nil(t, updated[1].Rank)

	items, err := queue.List(ctx, db.ReviewFilter{Status: "selected"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "a", items[0].ArticleID)

	_, err = queue.List(ctx, db.ReviewFilter{Status: "archived"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestResetAndEdit(t *testing.T) {
	t.Parallel()

	queue, pool := newTestQueue(t)
	ctx := context.Background()
	seedRecord(t, pool, "a", lifecycle.StatusReadyForExport)
	_, err := queue.Enqueue(ctx, "a", "")
	require.NoError(t, err)
	_, err = queue.UpdateStatuses(ctx, []db.ReviewDecision{{ArticleID: "a", Status: "backup"}}, "alice")
	require.NoError(t, err)

	n, err := queue.ResetToPending(ctx, []string{"a", " "}, "bob")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	summary := "摘要"
	review, err := queue.EditSummary(ctx, "a", db.ReviewOverrides{Summary: &summary})
	require.NoError(t, err)
	require.Equal(t, db.ReviewStatusPending, review.Status)
	require.Equal(t, "摘要", *review.Summary)

	_, err = queue.EditSummary(ctx, "a", db.ReviewOverrides{})
	require.Error(t, err)
}
