package app

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/curation/internal/export"
)

// boolPair is a --x/--no-x flag pair. Setting both is a usage error.
type boolPair struct {
	name    string
	value   bool
	on, off bool
}

func addBoolPair(fs *flag.FlagSet, name string, defaultValue bool, usage string) *boolPair {
	p := &boolPair{name: name, value: defaultValue}
	fs.BoolFunc(name, usage, func(string) error {
		p.on = true
		return nil
	})
	fs.BoolFunc("no-"+name, "Disable --"+name, func(string) error {
		p.off = true
		return nil
	})
	return p
}

func (p *boolPair) resolve() (bool, error) {
	switch {
	case p.on && p.off:
		return false, fmt.Errorf("--%s and --no-%s are mutually exclusive", p.name, p.name)
	case p.on:
		return true, nil
	case p.off:
		return false, nil
	default:
		return p.value, nil
	}
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 5*time.Minute)
	output := fs.String("output", "curation_export.txt", "Report path; the report tag is appended before the extension")
	minScore := fs.Float64("min-score", 0, "Minimum effective score")
	reportTag := fs.String("report-tag", "", "Report tag recorded in export history (required)")
	mode := fs.String("mode", string(export.ModeSimple), "Export mode (simple|review)")
	rulesPath := fs.String("rules", "", "Category rules YAML (overrides CATEGORY_RULES_PATH)")
	actor := fs.String("actor", "", "Actor recorded on review events in review mode")
	dryRun := fs.Bool("dry-run", false, "Group and count without writing the report or history")
	skipExported := addBoolPair(fs, "skip-exported", true, "Skip articles already exported")
	recordHistory := addBoolPair(fs, "record-history", true, "Record exported articles in export history")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	skip, err := skipExported.resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	record, err := recordHistory.resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	exportMode, err := export.ParseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if strings.TrimSpace(*reportTag) == "" {
		fmt.Fprintln(os.Stderr, "--report-tag is required")
		return 2
	}
	if *minScore < 0 {
		fmt.Fprintln(os.Stderr, "--min-score must be >= 0")
		return 2
	}

	sess, err := openSession("export", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	path := strings.TrimSpace(*rulesPath)
	if path == "" {
		path = sess.cfg.CategoryRulesPath
	}
	rules, err := export.LoadRules(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid category rules: %v\n", err)
		return 2
	}

	recorder := export.NewRecorder(sess.pool, rules, sess.logger, sess.metrics)
	summary, err := recorder.Export(sess.ctx, export.Options{
		Mode:          exportMode,
		MinScore:      *minScore,
		ReportTag:     *reportTag,
		OutputPath:    *output,
		SkipExported:  skip,
		RecordHistory: record,
		DryRun:        *dryRun,
		Actor:         *actor,
	})
	if err != nil {
		sess.logger.Error().Err(err).Str("report_tag", *reportTag).Msg("export failed")
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		return 1
	}

	fmt.Println(summary.String())
	if summary.OutputPath != "" {
		fmt.Printf("output=%s recorded=%d run_id=%s\n", summary.OutputPath, summary.Recorded, summary.RunID)
	}
	return 0
}
