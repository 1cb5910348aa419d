package app

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/curation/internal/pipeline"
	"horse.fit/curation/internal/scoring"
)

func runFilter(args []string) int {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 2*time.Minute)
	limit := fs.Int("limit", pipeline.DefaultBatchLimit, "Maximum articles to examine")
	keywords := fs.String("keywords", "", "Comma-separated keywords (overrides FILTER_KEYWORDS)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	sess, err := openSession("filter", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	var override []string
	if strings.TrimSpace(*keywords) != "" {
		override = splitList(*keywords)
	}
	result, err := sess.pipeline(override).FilterPending(sess.ctx, *limit)
	if err != nil {
		sess.logger.Error().Err(err).Int("limit", *limit).Msg("filter failed")
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Int("processed", result.Processed).
		Int("inserted", result.Inserted).
		Int("backfilled", result.Backfilled).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("filter completed")
	fmt.Printf("filter processed=%d inserted=%d backfilled=%d skipped=%d failed=%d limit=%d\n",
		result.Processed, result.Inserted, result.Backfilled, result.Skipped, result.Failed, *limit)
	return 0
}

func runFingerprint(args []string) int {
	fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 2*time.Minute)
	limit := fs.Int("limit", pipeline.DefaultBatchLimit, "Maximum pending records to fingerprint")
	force := fs.Bool("force", false, "Recompute fingerprints that are already stored")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	sess, err := openSession("fingerprint", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	result, err := sess.pipeline(nil).FingerprintPending(sess.ctx, *limit, *force)
	if err != nil {
		sess.logger.Error().Err(err).Int("limit", *limit).Msg("fingerprint failed")
		fmt.Fprintf(os.Stderr, "Fingerprint failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Int("processed", result.Processed).
		Int("hashed", result.Hashed).
		Int("reused", result.Reused).
		Int("skipped_empty", result.SkippedEmpty).
		Int("failed", result.Failed).
		Msg("fingerprint completed")
	fmt.Printf("fingerprint processed=%d hashed=%d reused=%d skipped_empty=%d failed=%d limit=%d\n",
		result.Processed, result.Hashed, result.Reused, result.SkippedEmpty, result.Failed, *limit)
	return 0
}

func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 5*time.Minute)
	limit := fs.Int("limit", pipeline.DefaultBatchLimit, "Maximum hashed records to resolve")
	maxDistance := fs.Int("max-distance", -1, "Hamming distance threshold (default SIMHASH_MAX_DISTANCE)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}
	if *maxDistance > 64 {
		fmt.Fprintln(os.Stderr, "--max-distance must be between 0 and 64")
		return 2
	}

	sess, err := openSession("dedup", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	if *maxDistance >= 0 {
		sess.cfg.SimhashMaxDistance = *maxDistance
	}
	result, err := sess.pipeline(nil).ResolvePending(sess.ctx, *limit)
	if err != nil {
		sess.logger.Error().Err(err).Int("limit", *limit).Msg("dedup failed")
		fmt.Fprintf(os.Stderr, "Dedup failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Int("processed", result.Processed).
		Int("new_clusters", result.NewClusters).
		Int("joined", result.Joined).
		Int("takeovers", result.Takeovers).
		Int("duplicates", result.Duplicates).
		Int("skipped", result.Skipped).
		Int("max_distance", sess.cfg.SimhashMaxDistance).
		Msg("dedup completed")
	fmt.Printf("dedup processed=%d new_clusters=%d joined=%d takeovers=%d duplicates=%d skipped=%d max_distance=%d\n",
		result.Processed, result.NewClusters, result.Joined, result.Takeovers, result.Duplicates, result.Skipped, sess.cfg.SimhashMaxDistance)
	return 0
}

func runScore(args []string) int {
	if len(args) > 0 && strings.EqualFold(strings.TrimSpace(args[0]), "set") {
		return runScoreSet(args[1:])
	}

	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 30*time.Minute)
	limit := fs.Int("limit", pipeline.DefaultBatchLimit, "Maximum primary records to score")
	endpoint := fs.String("endpoint", "", "Scoring HTTP endpoint (overrides SCORE_ENDPOINT)")
	workers := fs.Int("workers", 0, "Concurrent scoring workers (overrides WORKER_COUNT)")
	requestTimeout := fs.Duration("request-timeout", 0, "Per-call timeout (overrides SCORE_TIMEOUT)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}
	if *workers < 0 {
		fmt.Fprintln(os.Stderr, "--workers must be >= 0")
		return 2
	}

	sess, err := openSession("score", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	if strings.TrimSpace(*endpoint) != "" {
		sess.cfg.ScoreEndpoint = strings.TrimSpace(*endpoint)
	}
	if *workers > 0 {
		sess.cfg.WorkerCount = *workers
	}
	if *requestTimeout > 0 {
		sess.cfg.ScoreTimeout = *requestTimeout
	}

	client, err := scoring.NewClient(scoring.Options{
		Endpoint:    sess.cfg.ScoreEndpoint,
		Timeout:     sess.cfg.ScoreTimeout,
		MaxAttempts: sess.cfg.ScoreMaxAttempts,
		Logger:      sess.logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid scoring configuration: %v\n", err)
		return 2
	}

	result, err := sess.pipeline(nil).ScorePending(sess.ctx, client, *limit)
	if err != nil {
		sess.logger.Error().Err(err).Int("limit", *limit).Msg("score failed")
		fmt.Fprintf(os.Stderr, "Score failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Int("processed", result.Processed).
		Int("scored", result.Scored).
		Int("failed", result.Failed).
		Int("workers", sess.cfg.WorkerCount).
		Msg("score completed")
	fmt.Printf("score processed=%d scored=%d failed=%d workers=%d limit=%d\n",
		result.Processed, result.Scored, result.Failed, sess.cfg.WorkerCount, *limit)
	return 0
}

func runScoreSet(args []string) int {
	fs := flag.NewFlagSet("score set", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 30*time.Second)
	articleID := fs.String("article-id", "", "Article to score (required)")
	score := fs.Float64("score", -1, "Score to record (required, >= 0)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*articleID) == "" {
		fmt.Fprintln(os.Stderr, "--article-id is required")
		return 2
	}
	if *score < 0 {
		fmt.Fprintln(os.Stderr, "--score must be >= 0")
		return 2
	}

	sess, err := openSession("score set", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	id := strings.TrimSpace(*articleID)
	if err := sess.pipeline(nil).SetScore(sess.ctx, id, *score); err != nil {
		sess.logger.Error().Err(err).Str("article_id", id).Msg("score set failed")
		fmt.Fprintf(os.Stderr, "Score set failed: %v\n", err)
		return 1
	}

	sess.logger.Info().Str("article_id", id).Float64("score", *score).Msg("score recorded")
	fmt.Printf("score set article_id=%s score=%g\n", id, *score)
	return 0
}

func runPromote(args []string) int {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 2*time.Minute)
	limit := fs.Int("limit", pipeline.DefaultBatchLimit, "Maximum scored records to promote")
	reportType := fs.String("report-type", "", "Report type for new reviews (overrides DEFAULT_REPORT_TYPE)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	sess, err := openSession("promote", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	if strings.TrimSpace(*reportType) != "" {
		sess.cfg.DefaultReportType = strings.TrimSpace(*reportType)
	}
	result, err := sess.pipeline(nil).PromoteScored(sess.ctx, *limit)
	if err != nil {
		sess.logger.Error().Err(err).Int("limit", *limit).Msg("promote failed")
		fmt.Fprintf(os.Stderr, "Promote failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Int("promoted", result.Promoted).
		Int("enqueued", result.Enqueued).
		Int("rescored", result.Rescored).
		Str("report_type", sess.cfg.DefaultReportType).
		Msg("promote completed")
	fmt.Printf("promote promoted=%d enqueued=%d rescored=%d report_type=%s\n", result.Promoted, result.Enqueued, result.Rescored, sess.cfg.DefaultReportType)
	return 0
}

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 10*time.Minute)
	limit := fs.Int("limit", pipeline.DefaultBatchLimit, "Maximum items per step")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	sess, err := openSession("process", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	result, err := sess.pipeline(nil).Process(sess.ctx, *limit)
	if err != nil {
		sess.logger.Error().Err(err).Int("limit", *limit).Msg("process failed")
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Int("filtered", result.Filter.Inserted).
		Int("hashed", result.Fingerprint.Hashed).
		Int("resolved", result.Dedup.Processed).
		Int("promoted", result.Promote.Promoted).
		Msg("process completed")
	fmt.Printf(
		"process filter_inserted=%d fingerprint_hashed=%d dedup_processed=%d dedup_duplicates=%d promoted=%d limit=%d\n",
		result.Filter.Inserted,
		result.Fingerprint.Hashed,
		result.Dedup.Processed,
		result.Dedup.Duplicates,
		result.Promote.Promoted,
		*limit,
	)
	return 0
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 5*time.Minute)
	resetFailed := fs.Bool("reset-failed", false, "Reset failed records to pending")
	forceRehash := fs.Bool("force-rehash", false, "Clear fingerprints so they are recomputed")
	ids := fs.String("ids", "", "Comma-separated article ids for --force-rehash (default all)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*ids) != "" && !*forceRehash {
		fmt.Fprintln(os.Stderr, "--ids requires --force-rehash")
		return 2
	}

	sess, err := openSession("sweep", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	result, err := sess.pipeline(nil).Sweep(sess.ctx, pipeline.SweepOptions{
		ResetFailed: *resetFailed,
		ForceRehash: *forceRehash,
		ArticleIDs:  splitList(*ids),
	})
	if err != nil {
		sess.logger.Error().Err(err).Msg("sweep failed")
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Int("requeued", len(result.Requeued)).
		Int("reset_failed", result.ResetFailed).
		Int("rehashed", result.Rehashed).
		Int("chain_violations", len(result.Violations)).
		Msg("sweep completed")
	fmt.Printf("sweep requeued=%d reset_failed=%d rehashed=%d chain_violations=%d\n",
		len(result.Requeued), result.ResetFailed, result.Rehashed, len(result.Violations))
	if len(result.Violations) > 0 {
		return 1
	}
	return 0
}
