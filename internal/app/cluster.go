package app

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/curation/internal/cli"
	"horse.fit/curation/internal/cluster"
)

const defaultClusterThreshold = 0.8

// runCluster groups a precomputed embedding batch. It does not touch the
// database.
func runCluster(args []string) int {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "", "JSON array of {id, text, embedding} items (required, - for stdin)")
	threshold := fs.Float64("threshold", defaultClusterThreshold, "Cosine similarity a member must exceed")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if strings.TrimSpace(*input) == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		return 2
	}
	if *threshold < -1 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be between -1 and 1")
		return 2
	}

	_, logger, err := loadConfig(commandFlags{envLoader: envLoader})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	src := os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Open input: %v\n", err)
			return 1
		}
		defer f.Close()
		src = f
	}

	items, err := cluster.DecodeItems(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid cluster input: %v\n", err)
		return 2
	}
	groups, err := cluster.Greedy(items, *threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cluster failed: %v\n", err)
		return 2
	}

	logger.Info().
		Int("items", len(items)).
		Int("groups", len(groups)).
		Float64("threshold", *threshold).
		Msg("cluster completed")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(groups); err != nil {
		fmt.Fprintf(os.Stderr, "Encode groups: %v\n", err)
		return 1
	}
	return 0
}
