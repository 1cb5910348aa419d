package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/lifecycle"
	"horse.fit/curation/internal/review"
)

func runReview(args []string) int {
	if len(args) == 0 {
		printReviewUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printReviewUsage()
		return 0
	case "list":
		return runReviewList(args[1:])
	case "enqueue":
		return runReviewEnqueue(args[1:])
	case "update":
		return runReviewUpdate(args[1:])
	case "reset":
		return runReviewReset(args[1:])
	case "edit":
		return runReviewEdit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown review subcommand: %s\n\n", args[0])
		printReviewUsage()
		return 2
	}
}

func printReviewUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  curation review <subcommand> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Subcommands:")
	fmt.Fprintln(os.Stderr, "  list     List reviews in queue order")
	fmt.Fprintln(os.Stderr, "  enqueue  Create a pending review for a ready_for_export article")
	fmt.Fprintln(os.Stderr, "  update   Record selected/backup/discarded decisions")
	fmt.Fprintln(os.Stderr, "  reset    Move reviews back to pending")
	fmt.Fprintln(os.Stderr, "  edit     Override summary, notes or score")
}

func openQueue(command string, flags commandFlags) (*session, *review.Queue, error) {
	sess, err := openSession(command, flags)
	if err != nil {
		return nil, nil, err
	}
	return sess, review.NewQueue(sess.pool, sess.logger, sess.cfg.DefaultReportType), nil
}

func runReviewList(args []string) int {
	fs := flag.NewFlagSet("review list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 30*time.Second)
	status := fs.String("status", "", "Filter by review status")
	reportType := fs.String("report-type", "", "Filter by report type")
	region := fs.String("region", "", "Filter by region (beijing|other)")
	sentiment := fs.String("sentiment", "", "Filter by sentiment")
	page := fs.Int("page", 1, "Page number")
	pageSize := fs.Int("page-size", 50, "Rows per page")
	format := fs.String("format", "table", "Output format (table|json)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	outFormat := strings.ToLower(strings.TrimSpace(*format))
	if outFormat != "table" && outFormat != "json" {
		fmt.Fprintln(os.Stderr, "--format must be table or json")
		return 2
	}
	if *page < 1 || *pageSize < 1 {
		fmt.Fprintln(os.Stderr, "--page and --page-size must be >= 1")
		return 2
	}

	sess, queue, err := openQueue("review list", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	items, err := queue.List(sess.ctx, db.ReviewFilter{
		Status:     *status,
		ReportType: strings.TrimSpace(*reportType),
		Region:     strings.ToLower(strings.TrimSpace(*region)),
		Sentiment:  strings.TrimSpace(*sentiment),
		Page:       *page,
		PageSize:   *pageSize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Review list failed: %v\n", err)
		return reviewExitCode(err)
	}

	if outFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			fmt.Fprintf(os.Stderr, "Encode reviews: %v\n", err)
			return 1
		}
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTICLE_ID\tSTATUS\tREPORT_TYPE\tRANK\tSCORE\tTITLE")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.ArticleID,
			item.Status,
			item.ReportType,
			formatOptionalFloat(item.Rank),
			formatOptionalFloat(item.Score),
			item.Title,
		)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func runReviewEnqueue(args []string) int {
	fs := flag.NewFlagSet("review enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 30*time.Second)
	articleID := fs.String("article-id", "", "Article to enqueue (required)")
	reportType := fs.String("report-type", "", "Report type (default DEFAULT_REPORT_TYPE)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*articleID) == "" {
		fmt.Fprintln(os.Stderr, "--article-id is required")
		return 2
	}

	sess, queue, err := openQueue("review enqueue", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	created, err := queue.Enqueue(sess.ctx, *articleID, *reportType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Review enqueue failed: %v\n", err)
		return reviewExitCode(err)
	}
	fmt.Printf("review enqueue article_id=%s created=%t\n", strings.TrimSpace(*articleID), created)
	return 0
}

func runReviewUpdate(args []string) int {
	fs := flag.NewFlagSet("review update", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 30*time.Second)
	actor := fs.String("actor", "", "Curator name (required)")
	status := fs.String("status", "", "selected, backup or discarded (required)")
	ids := fs.String("ids", "", "Comma-separated article ids (required)")
	rank := fs.Float64("rank", -1, "Explicit rank; applied to every id (default next in bucket)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	articleIDs := splitList(*ids)
	if strings.TrimSpace(*actor) == "" || strings.TrimSpace(*status) == "" || len(articleIDs) == 0 {
		fmt.Fprintln(os.Stderr, "--actor, --status and --ids are required")
		return 2
	}

	var rankPtr *float64
	if *rank >= 0 {
		rankPtr = rank
	}
	decisions := make([]db.ReviewDecision, 0, len(articleIDs))
	for _, id := range articleIDs {
		decisions = append(decisions, db.ReviewDecision{ArticleID: id, Status: *status, Rank: rankPtr})
	}

	sess, queue, err := openQueue("review update", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	updated, err := queue.UpdateStatuses(sess.ctx, decisions, *actor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Review update failed: %v\n", err)
		return reviewExitCode(err)
	}
	fmt.Printf("review update updated=%d status=%s\n", len(updated), strings.ToLower(strings.TrimSpace(*status)))
	return 0
}

func runReviewReset(args []string) int {
	fs := flag.NewFlagSet("review reset", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 30*time.Second)
	actor := fs.String("actor", "", "Curator name (required)")
	ids := fs.String("ids", "", "Comma-separated article ids (required)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	articleIDs := splitList(*ids)
	if strings.TrimSpace(*actor) == "" || len(articleIDs) == 0 {
		fmt.Fprintln(os.Stderr, "--actor and --ids are required")
		return 2
	}

	sess, queue, err := openQueue("review reset", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	n, err := queue.ResetToPending(sess.ctx, articleIDs, *actor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Review reset failed: %v\n", err)
		return reviewExitCode(err)
	}
	fmt.Printf("review reset reset=%d\n", n)
	return 0
}

func runReviewEdit(args []string) int {
	fs := flag.NewFlagSet("review edit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 30*time.Second)
	articleID := fs.String("article-id", "", "Review to edit (required)")
	summary := fs.String("summary", "", "Summary override")
	notes := fs.String("notes", "", "Curator notes")
	score := fs.Float64("score", 0, "Score override")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*articleID) == "" {
		fmt.Fprintln(os.Stderr, "--article-id is required")
		return 2
	}

	var overrides db.ReviewOverrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "summary":
			overrides.Summary = summary
		case "notes":
			overrides.Notes = notes
		case "score":
			overrides.Score = score
		}
	})
	if overrides.Summary == nil && overrides.Notes == nil && overrides.Score == nil {
		fmt.Fprintln(os.Stderr, "at least one of --summary, --notes or --score is required")
		return 2
	}

	sess, queue, err := openQueue("review edit", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	edited, err := queue.EditSummary(sess.ctx, *articleID, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Review edit failed: %v\n", err)
		return reviewExitCode(err)
	}
	fmt.Printf("review edit article_id=%s status=%s\n", edited.ArticleID, edited.Status)
	return 0
}

// reviewExitCode maps caller mistakes to 2 and storage failures to 1.
func reviewExitCode(err error) int {
	switch {
	case errors.Is(err, review.ErrInvalidStatus),
		errors.Is(err, review.ErrNotEligible),
		errors.Is(err, db.ErrReviewNotFound),
		errors.Is(err, lifecycle.ErrMissingArticleID),
		errors.Is(err, lifecycle.ErrMalformedArticleID):
		return 2
	default:
		return 1
	}
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}
