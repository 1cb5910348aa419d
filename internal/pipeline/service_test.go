package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/lifecycle"
	"horse.fit/curation/internal/scoring"
)

const (
	storyEducation = "市教委发布通知，要求全市中小学在新学期开展校园安全大检查，重点排查消防设施和食品安全隐患。"
	storyPrices    = "国家统计局今日公布数据显示，上月居民消费价格指数同比上涨百分之零点三，食品价格有所回落。"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeScorer struct {
	scores map[string]float64
	fail   map[string]bool
	calls  atomic.Int64
}

func (f *fakeScorer) Score(_ context.Context, req scoring.Request) (scoring.Result, error) {
	f.calls.Add(1)
	if f.fail[req.ArticleID] {
		return scoring.Result{}, fmt.Errorf("%w: upstream unavailable", scoring.ErrTransient)
	}
	sentiment := "Positive"
	return scoring.Result{Score: f.scores[req.ArticleID], Sentiment: &sentiment}, nil
}

func newTestService(t *testing.T, opts Options) (*Service, *db.Pool) {
	t.Helper()

	pool, err := db.Open(context.Background(), db.Options{
		DatabaseURL: filepath.Join(t.TempDir(), "curation.db"),
		LogLevel:    "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	if opts.MaxDistance == 0 {
		opts.MaxDistance = 3
	}
	return NewService(pool, zerolog.Nop(), opts), pool
}

func upsert(t *testing.T, pool *db.Pool, id, title, content string, offset time.Duration) {
	t.Helper()
	_, err := pool.UpsertArticle(context.Background(), db.ArticleInput{
		ArticleID: id,
		Title:     title,
		Content:   content,
		Source:    "test",
	}, testNow.Add(offset))
	require.NoError(t, err)
}

func status(t *testing.T, pool *db.Pool, id string) db.CurationRecord {
	t.Helper()
	rec, found, err := pool.GetCurationRecord(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found, "missing curation row %s", id)
	return rec
}

func TestServiceEndToEnd(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t, Options{Workers: 2})
	ctx := context.Background()

	upsert(t, pool, "a", "安全检查", storyEducation, 0)
	upsert(t, pool, "b", "安全检查", storyEducation+"！", time.Minute)
	upsert(t, pool, "c", "物价", storyPrices, 2*time.Minute)
	upsert(t, pool, "d", "空白", "", 3*time.Minute)
	upsert(t, pool, "bad\tid", "坏", storyPrices, 4*time.Minute)

	filtered, err := svc.FilterPending(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 5, filtered.Inserted)
	require.Equal(t, 1, filtered.Failed)
	require.Equal(t, string(lifecycle.StatusFailed), status(t, pool, "bad\tid").Status)

	hashed, err := svc.FingerprintPending(ctx, 100, false)
	require.NoError(t, err)
	require.Equal(t, 3, hashed.Hashed)
	require.Equal(t, 1, hashed.SkippedEmpty)
	require.Equal(t, string(lifecycle.StatusPending), status(t, pool, "d").Status)

	resolved, err := svc.ResolvePending(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 3, resolved.Processed)
	require.Equal(t, 2, resolved.NewClusters)
	require.Equal(t, 1, resolved.Joined)

	dup := status(t, pool, "b")
	require.Equal(t, string(lifecycle.StatusDuplicate), dup.Status)
	require.NotNil(t, dup.PrimaryArticleID)
	require.Equal(t, "a", *dup.PrimaryArticleID)

	scorer := &fakeScorer{
		scores: map[string]float64{"a": 91, "c": 40},
		fail:   map[string]bool{"c": true},
	}
	scored, err := svc.ScorePending(ctx, scorer, 100)
	require.NoError(t, err)
	require.Equal(t, 2, scored.Processed)
	require.Equal(t, 1, scored.Scored)
	require.Equal(t, 1, scored.Failed)
	require.Equal(t, string(lifecycle.StatusScored), status(t, pool, "a").Status)

	failed := status(t, pool, "c")
	require.Equal(t, string(lifecycle.StatusPrimary), failed.Status)
	require.Nil(t, failed.Score)

	promoted, err := svc.PromoteScored(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, promoted.Promoted)
	require.Equal(t, 1, promoted.Enqueued)
	require.Equal(t, string(lifecycle.StatusReadyForExport), status(t, pool, "a").Status)

	review, found, err := pool.GetReview(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "general", review.ReportType)

	scorer.fail = nil
	scored, err = svc.ScorePending(ctx, scorer, 100)
	require.NoError(t, err)
	require.Equal(t, 1, scored.Scored)
}

func TestFilterPendingKeywords(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t, Options{Keywords: []string{" 教委 ", "EXAM"}})
	ctx := context.Background()

	upsert(t, pool, "edu", "通知", storyEducation, 0)
	upsert(t, pool, "exam", "Final exam schedule", "", time.Minute)
	upsert(t, pool, "prices", "物价", storyPrices, 2*time.Minute)

	result, err := svc.FilterPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)
	require.Equal(t, 2, result.Inserted)
	require.Equal(t, 1, result.Skipped)

	_, found, err := pool.GetCurationRecord(ctx, "prices")
	require.NoError(t, err)
	require.False(t, found)

	// exam arrived without content; a later upsert fills it in.
	upsert(t, pool, "exam", "Final exam schedule", "The exam timetable was published.", time.Hour)
	result, err = svc.FilterPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.Backfilled)
	require.Equal(t, "The exam timetable was published.", status(t, pool, "exam").Content)
}

func TestFingerprintPendingReusesStoredFingerprint(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t, Options{})
	ctx := context.Background()

	upsert(t, pool, "a", "安全检查", storyEducation, 0)
	_, err := svc.FilterPending(ctx, 0)
	require.NoError(t, err)
	_, err = svc.FingerprintPending(ctx, 0, false)
	require.NoError(t, err)
	before := status(t, pool, "a")
	require.NotNil(t, before.ContentHash)

	_, err = pool.ResetToPending(ctx, []string{"a"}, false, testNow)
	require.NoError(t, err)

	result, err := svc.FingerprintPending(ctx, 0, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Reused)
	require.Equal(t, 1, result.Hashed)

	after := status(t, pool, "a")
	require.Equal(t, string(lifecycle.StatusHashed), after.Status)
	require.Equal(t, *before.ContentHash, *after.ContentHash)

	_, err = pool.ResetToPending(ctx, []string{"a"}, false, testNow)
	require.NoError(t, err)
	result, err = svc.FingerprintPending(ctx, 0, true)
	require.NoError(t, err)
	require.Zero(t, result.Reused)
	require.Equal(t, 1, result.Hashed)
}

func TestSweepRequeuesAndRehashes(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t, Options{})
	ctx := context.Background()

	upsert(t, pool, "a", "安全检查", storyEducation, 0)
	upsert(t, pool, "b", "安全检查", storyEducation+"！", time.Minute)
	_, err := svc.Process(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, svc.SetScore(ctx, "a", 88))
	_, err = svc.PromoteScored(ctx, 100)
	require.NoError(t, err)

	// Simulate a lost fingerprint on an exportable row.
	require.NoError(t, pool.GORM().Model(&db.CurationRecord{}).
		Where("article_id = ?", "a").
		Update("simhash_band2", nil).Error)

	result, err := svc.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, result.Requeued)
	require.Empty(t, result.Violations)
	require.Equal(t, string(lifecycle.StatusPending), status(t, pool, "a").Status)
	require.Equal(t, string(lifecycle.StatusPending), status(t, pool, "b").Status)

	processed, err := svc.Process(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 2, processed.Fingerprint.Hashed)
	require.Equal(t, 1, processed.Fingerprint.Reused)
	require.Equal(t, 1, processed.Dedup.NewClusters)

	result, err = svc.Sweep(ctx, SweepOptions{ForceRehash: true})
	require.NoError(t, err)
	require.Equal(t, 2, result.Rehashed)
	require.Nil(t, status(t, pool, "b").ContentHash)
}

func TestSweptRecordReturnsToReviewQueue(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t, Options{})
	ctx := context.Background()

	upsert(t, pool, "a", "安全检查", storyEducation, 0)
	_, err := svc.Process(ctx, 100)
	require.NoError(t, err)
	require.NoError(t, svc.SetScore(ctx, "a", 90))
	_, err = svc.PromoteScored(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusReadyForExport), status(t, pool, "a").Status)

	require.NoError(t, pool.GORM().Model(&db.CurationRecord{}).
		Where("article_id = ?", "a").
		Update("simhash_band2", nil).Error)

	swept, err := svc.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, swept.Requeued)

	processed, err := svc.Process(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, processed.Promote.Promoted)
	require.Equal(t, 1, processed.Promote.Rescored)
	require.Zero(t, processed.Promote.Enqueued)

	scorer := &fakeScorer{scores: map[string]float64{"a": 10}}
	scored, err := svc.ScorePending(ctx, scorer, 100)
	require.NoError(t, err)
	require.Zero(t, scored.Processed)
	require.Zero(t, scorer.calls.Load())

	promoted, err := svc.PromoteScored(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, promoted.Promoted)

	rec := status(t, pool, "a")
	require.Equal(t, string(lifecycle.StatusReadyForExport), rec.Status)
	require.NotNil(t, rec.Score)
	require.InDelta(t, 90, *rec.Score, 1e-9)
	require.NotNil(t, rec.SimhashBand2)

	_, found, err := pool.GetReview(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
}

func TestSweepResetsFailed(t *testing.T) {
	t.Parallel()

	svc, pool := newTestService(t, Options{})
	ctx := context.Background()

	upsert(t, pool, "a", "安全检查", storyEducation, 0)
	_, err := svc.FilterPending(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, pool.MarkFailed(ctx, "a", "scorer exploded", testNow))

	result, err := svc.Sweep(ctx, SweepOptions{ResetFailed: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.ResetFailed)
	require.Equal(t, string(lifecycle.StatusPending), status(t, pool, "a").Status)
}

func TestNilServiceReturnsError(t *testing.T) {
	t.Parallel()

	var svc *Service
	_, err := svc.FilterPending(context.Background(), 1)
	require.Error(t, err)
	_, err = svc.ScorePending(context.Background(), &fakeScorer{}, 1)
	require.Error(t, err)
}
