package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"horse.fit/curation/internal/lifecycle"
)

func ptr[T any](v T) *T { return &v }

func TestSaveScoreMergesSignals(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()
	seedCuration(t, pool, "p", storyEducation, lifecycle.StatusPrimary, 0)

	require.NoError(t, pool.SaveScore(ctx, ScoreUpdate{
		ArticleID:      "p",
		Score:          72,
		Importance:     ptr(0.9),
		Sentiment:      ptr(" Positive "),
		BeijingRelated: ptr(true),
	}, testNow))

	// A later partial update keeps what it does not carry.
	require.NoError(t, pool.SaveScore(ctx, ScoreUpdate{ArticleID: "p", Score: 75, Importance: ptr(0.4)}, testNow.Add(time.Minute)))

	rec, _, err := pool.GetCurationRecord(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusScored), rec.Status)
	require.InDelta(t, 75, *rec.Score, 1e-9)

	var signal ArticleSignal
	require.NoError(t, pool.GORM().Where("article_id = ?", "p").Take(&signal).Error)
	require.InDelta(t, 0.4, *signal.ImportanceScore, 1e-9)
	require.Equal(t, "positive", *signal.Sentiment)
	require.True(t, *signal.BeijingRelated)
}

func TestSaveScoreRejectsDuplicates(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedCuration(t, pool, "d", storyEducation, lifecycle.StatusDuplicate, 0)

	err := pool.SaveScore(context.Background(), ScoreUpdate{ArticleID: "d", Score: 50}, testNow)
	require.ErrorIs(t, err, ErrNotScorable)

	err = pool.SaveScore(context.Background(), ScoreUpdate{ArticleID: "missing", Score: 50}, testNow)
	require.ErrorIs(t, err, ErrNoRows)
}

func TestPromoteScoredEnqueuesOnce(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seedCuration(t, pool, "s1", storyEducation, lifecycle.StatusPrimary, 0)
	require.NoError(t, pool.SaveScore(ctx, ScoreUpdate{ArticleID: "s1", Score: 90}, testNow))
	seedCuration(t, pool, "s2", storyPrices, lifecycle.StatusPrimary, time.Minute)
	require.NoError(t, pool.SaveScore(ctx, ScoreUpdate{ArticleID: "s2", Score: 40}, testNow))

	// s2 lost its fingerprint; it must not be promoted.
	require.NoError(t, pool.GORM().Model(&CurationRecord{}).Where("article_id = ?", "s2").Update("simhash_band2", nil).Error)

	result, err := pool.PromoteScored(ctx, "general", 0, testNow)
	require.NoError(t, err)
	require.Equal(t, PromoteResult{Promoted: 1, Enqueued: 1}, result)

	review, found, err := pool.GetReview(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ReviewStatusPending, review.Status)
	require.Equal(t, "general", review.ReportType)
	require.NotEmpty(t, review.ReviewUUID)

	created, err := pool.InsertReview(ctx, "s1", "other", testNow)
	require.NoError(t, err)
	require.False(t, created)

	result, err = pool.PromoteScored(ctx, "general", 0, testNow)
	require.NoError(t, err)
	require.Equal(t, PromoteResult{}, result)
}

func TestPromoteScoredAdvancesScoredPrimaries(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	// A requeued row comes back from dedup as primary but keeps its score.
	seedCuration(t, pool, "kept", storyEducation, lifecycle.StatusPrimary, 0)
	require.NoError(t, pool.GORM().Model(&CurationRecord{}).Where("article_id = ?", "kept").Update("score", 90.0).Error)
	seedCuration(t, pool, "fresh", storyPrices, lifecycle.StatusPrimary, time.Minute)

	result, err := pool.PromoteScored(ctx, "general", 0, testNow)
	require.NoError(t, err)
	require.Equal(t, PromoteResult{Promoted: 1, Enqueued: 1, Rescored: 1}, result)

	kept, _, err := pool.GetCurationRecord(ctx, "kept")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusReadyForExport), kept.Status)

	fresh, _, err := pool.GetCurationRecord(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusPrimary), fresh.Status)
}

func TestSweepRequeuesMismatchesWithMembers(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seedCuration(t, pool, "root", storyEducation, lifecycle.StatusReadyForExport, 0)
	seedCuration(t, pool, "dup", storyEducation, lifecycle.StatusDuplicate, time.Minute)
	require.NoError(t, pool.GORM().Model(&CurationRecord{}).Where("article_id = ?", "dup").Update("primary_article_id", "root").Error)
	require.NoError(t, pool.GORM().Model(&CurationRecord{}).Where("article_id = ?", "root").Update("simhash", nil).Error)
	seedCuration(t, pool, "healthy", storyPrices, lifecycle.StatusReadyForExport, 2*time.Minute)

	ids, err := pool.RequeueIntegrityMismatches(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, []string{"root"}, ids)

	root, _, err := pool.GetCurationRecord(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusPending), root.Status)
	_, complete := root.Fingerprint()
	require.False(t, complete)

	dup, _, err := pool.GetCurationRecord(ctx, "dup")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusPending), dup.Status)
	require.Nil(t, dup.PrimaryArticleID)
	_, complete = dup.Fingerprint()
	require.True(t, complete, "members keep their fingerprint")

	healthy, _, err := pool.GetCurationRecord(ctx, "healthy")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusReadyForExport), healthy.Status)
}

func TestResetFailedAndForceRehash(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seedCuration(t, pool, "f", storyEducation, lifecycle.StatusPending, 0)
	require.NoError(t, pool.MarkFailed(ctx, "f", "malformed", testNow))
	seedCuration(t, pool, "h", storyPrices, lifecycle.StatusHashed, time.Minute)

	n, err := pool.ResetFailed(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	f, _, err := pool.GetCurationRecord(ctx, "f")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusPending), f.Status)
	require.Nil(t, f.FailureReason)

	n, err = pool.ForceRehash(ctx, nil, testNow)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	h, _, err := pool.GetCurationRecord(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusPending), h.Status)
	require.Nil(t, h.Simhash)

	counts, err := pool.CurationStatusCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, []StatusCount{{Status: "pending", Count: 2}}, counts)
}
