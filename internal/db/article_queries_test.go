package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"horse.fit/curation/internal/lifecycle"
)

func TestUpsertArticleMergePolicy(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	outcome, err := pool.UpsertArticle(ctx, ArticleInput{ArticleID: " a1 ", Title: "First", Source: "rss"}, testNow)
	require.NoError(t, err)
	require.Equal(t, UpsertInserted, outcome)

	// Empty content is filled on a later delivery.
	outcome, err = pool.UpsertArticle(ctx, ArticleInput{ArticleID: "a1", Content: "正文内容"}, testNow.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, UpsertUpdated, outcome)

	// Non-empty content is immutable; title takes the new value.
	published := time.Date(2026, 5, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
	outcome, err = pool.UpsertArticle(ctx, ArticleInput{ArticleID: "a1", Title: "Second", Content: "replacement", PublishTime: &published}, testNow.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, UpsertUpdated, outcome)

	got, found, err := pool.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "正文内容", got.Content)
	require.Equal(t, "Second", got.Title)
	require.Equal(t, "rss", got.Source)
	require.NotNil(t, got.PublishTime)
	require.True(t, got.PublishTime.Equal(published))

	outcome, err = pool.UpsertArticle(ctx, ArticleInput{ArticleID: "a1", Title: "Second"}, testNow.Add(3*time.Minute))
	require.NoError(t, err)
	require.Equal(t, UpsertUnchanged, outcome)
}

func TestUpsertArticleRequiresID(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	_, err := pool.UpsertArticle(context.Background(), ArticleInput{ArticleID: "   "}, testNow)
	require.ErrorIs(t, err, lifecycle.ErrMissingArticleID)
}

func TestListFilterCandidatesSkipsCopiedRows(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	for i, id := range []string{"new", "copied", "waiting"} {
		_, err := pool.UpsertArticle(ctx, ArticleInput{ArticleID: id, Title: id, Content: "body " + id}, testNow.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	copied, _, err := pool.GetArticle(ctx, "copied")
	require.NoError(t, err)
	_, err = pool.InsertCurationRecord(ctx, NewCurationRecord(copied, testNow))
	require.NoError(t, err)

	waiting, _, err := pool.GetArticle(ctx, "waiting")
	require.NoError(t, err)
	waiting.Content = ""
	_, err = pool.InsertCurationRecord(ctx, NewCurationRecord(waiting, testNow))
	require.NoError(t, err)

	items, err := pool.ListFilterCandidates(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ArticleID)
	}
	require.Equal(t, []string{"new", "waiting"}, ids)

	filled, err := pool.BackfillCurationContent(ctx, "waiting", "body waiting", testNow)
	require.NoError(t, err)
	require.True(t, filled)

	filled, err = pool.BackfillCurationContent(ctx, "copied", "other body", testNow)
	require.NoError(t, err)
	require.False(t, filled)
}

func TestNewCurationRecordKeepsIngestionOrder(t *testing.T) {
	t.Parallel()

	ingested := testNow.Add(-time.Hour)
	rec := NewCurationRecord(Article{ArticleID: "x", Title: "t", Content: "c", CreatedAt: ingested}, testNow)
	require.Equal(t, string(lifecycle.StatusPending), rec.Status)
	require.True(t, rec.CreatedAt.Equal(ingested))
	require.Nil(t, rec.Simhash)

	rec = NewCurationRecord(Article{ArticleID: "y"}, testNow)
	require.True(t, rec.CreatedAt.Equal(testNow))
}
