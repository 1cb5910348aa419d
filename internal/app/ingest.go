package app

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/curation/internal/ingest"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 5*time.Second)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	sess, err := openSession("health", flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer sess.Close()

	if err := sess.pool.Ping(sess.ctx); err != nil {
		sess.logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Str("dialect", sess.pool.Dialect()).
		Dur("timeout", *flags.timeout).
		Msg("database health check passed")
	fmt.Printf("ok: database ping successful dialect=%s\n", sess.pool.Dialect())
	return 0
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flags := addCommandFlags(fs, 5*time.Minute)
	path := fs.String("path", "", "Article JSON file or directory (required)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "--path is required")
		return 2
	}

	sess, err := openSession("import", flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	svc := ingest.NewService(sess.pool, sess.logger)
	result, err := svc.ImportPath(sess.ctx, *path)
	if err != nil {
		sess.logger.Error().Err(err).Str("path", *path).Msg("import failed")
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}

	sess.logger.Info().
		Str("path", *path).
		Int("files", result.Files).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("rejected", result.Rejected).
		Msg("import completed")
	fmt.Printf(
		"import files=%d processed=%d inserted=%d updated=%d unchanged=%d rejected=%d\n",
		result.Files,
		result.Processed,
		result.Inserted,
		result.Updated,
		result.Unchanged,
		result.Rejected,
	)
	return 0
}
