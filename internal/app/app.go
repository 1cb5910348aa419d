package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "import":
		return runImport(args[1:])
	case "filter":
		return runFilter(args[1:])
	case "fingerprint":
		return runFingerprint(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "score":
		return runScore(args[1:])
	case "promote":
		return runPromote(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "sweep":
		return runSweep(args[1:])
	case "review":
		return runReview(args[1:])
	case "export":
		return runExport(args[1:])
	case "cluster":
		return runCluster(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "curation CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  curation <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health       Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  import       Load article JSON files into the articles table")
	fmt.Fprintln(os.Stderr, "  filter       Copy qualifying articles into curation records")
	fmt.Fprintln(os.Stderr, "  fingerprint  Compute content hash and simhash for pending records")
	fmt.Fprintln(os.Stderr, "  dedup        Resolve hashed records into primary/duplicate clusters")
	fmt.Fprintln(os.Stderr, "  score        Score unscored primaries (score set for a manual score)")
	fmt.Fprintln(os.Stderr, "  promote      Move scored records to ready_for_export and enqueue reviews")
	fmt.Fprintln(os.Stderr, "  process      Run filter + fingerprint + dedup + promote in sequence")
	fmt.Fprintln(os.Stderr, "  run-once     Alias for process")
	fmt.Fprintln(os.Stderr, "  sweep        Repair lifecycle state and check cluster pointers")
	fmt.Fprintln(os.Stderr, "  review       Manual review queue (list, enqueue, update, reset, edit)")
	fmt.Fprintln(os.Stderr, "  export       Write the category-grouped report and export history")
	fmt.Fprintln(os.Stderr, "  cluster      Group an embedded batch by cosine similarity")
	fmt.Fprintln(os.Stderr, "  serve        Start the review API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"curation <command> -h\" for command-specific flags.")
}
